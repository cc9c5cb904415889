package state

import (
	"context"
	"fmt"

	"github.com/uvfleet/uvfleet/pkg/formula"
	"github.com/uvfleet/uvfleet/pkg/uv"
)

// Change records one drifted attribute.
type Change struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// CurrentTool is the observed state of one installed tool: the list entry
// plus the interpreter and packages inside its virtual environment.
type CurrentTool struct {
	uv.InstalledTool

	// Python is the resolved interpreter path of the tool environment.
	Python string `json:"python,omitempty"`

	// Packages maps package names in the tool environment to versions.
	Packages map[string]string `json:"packages,omitempty"`
}

// ToolDiff is the outcome of comparing a desired tool spec against its
// observed state.
type ToolDiff struct {
	// Changes maps attribute names (python, version_spec, version,
	// installed) to their old and new values.
	Changes map[string]Change `json:"changes,omitempty"`

	// Extras maps drifted extra packages to their old and new versions.
	Extras map[string]Change `json:"extras,omitempty"`

	// RequiresInstall reports whether fixing the drift needs a reinstall
	// rather than an upgrade.
	RequiresInstall bool `json:"requires_install"`
}

// InSync reports whether no drift was found.
func (d ToolDiff) InSync() bool {
	return len(d.Changes) == 0 && len(d.Extras) == 0
}

// VersionLookup resolves the latest version of a package under a spec. The
// index client satisfies it; tests substitute a canned lookup.
type VersionLookup interface {
	LatestVersion(ctx context.Context, name, spec string) (string, error)
}

// CheckTool compares a desired tool against its observed state. A nil
// current means the tool is not installed.
func CheckTool(ctx context.Context, lookup VersionLookup, name string, spec formula.ToolSpec, current *CurrentTool) (ToolDiff, error) {
	diff := ToolDiff{Changes: map[string]Change{}, Extras: map[string]Change{}}

	if spec.Absent {
		if current != nil {
			diff.Changes["removed"] = Change{Old: current.Version, New: nil}
		}
		return diff, nil
	}

	if current == nil {
		diff.Changes["installed"] = Change{Old: nil, New: name}
		diff.RequiresInstall = true
		return diff, nil
	}

	if spec.Python != "" && current.Python != spec.Python {
		diff.Changes["python"] = Change{Old: current.Python, New: spec.Python}
		diff.RequiresInstall = true
	}

	if err := checkExtras(ctx, lookup, spec, current, &diff); err != nil {
		return ToolDiff{}, err
	}

	if current.InstallSpec != spec.VersionSpec {
		diff.Changes["version_spec"] = Change{Old: current.InstallSpec, New: spec.VersionSpec}
		diff.RequiresInstall = true
		latest, err := lookup.LatestVersion(ctx, name, spec.VersionSpec)
		if err != nil {
			return ToolDiff{}, err
		}
		if latest != current.Version {
			diff.Changes["version"] = Change{Old: current.Version, New: latest}
		}
	}

	// An installed version outside its own spec means the environment was
	// mutated behind our back.
	if spec.VersionSpec != "" {
		if _, tracked := diff.Changes["version_spec"]; !tracked {
			outside, err := versionOutsideSpec(current.Version, spec.VersionSpec)
			if err != nil {
				return ToolDiff{}, err
			}
			if outside {
				latest, err := lookup.LatestVersion(ctx, name, spec.VersionSpec)
				if err != nil {
					return ToolDiff{}, err
				}
				diff.Changes["version"] = Change{Old: current.Version, New: latest}
				diff.RequiresInstall = true
			}
		}
	}

	if spec.Upgrade {
		if _, tracked := diff.Changes["version"]; !tracked {
			latest, err := lookup.LatestVersion(ctx, name, spec.VersionSpec)
			if err != nil {
				return ToolDiff{}, err
			}
			outdated, err := versionLess(current.Version, latest)
			if err != nil {
				return ToolDiff{}, err
			}
			if outdated {
				diff.Changes["version"] = Change{Old: current.Version, New: latest}
			}
		}
	}

	return diff, nil
}

// checkExtras finds extra packages that are missing, outside their spec, or
// outdated when upgrades are requested.
func checkExtras(ctx context.Context, lookup VersionLookup, spec formula.ToolSpec, current *CurrentTool, diff *ToolDiff) error {
	for _, extra := range spec.Extras {
		installed, ok := current.Packages[extra.Name]
		if !ok {
			latest, err := lookup.LatestVersion(ctx, extra.Name, extra.Spec)
			if err != nil {
				return err
			}
			diff.Extras[extra.Name] = Change{Old: nil, New: latest}
			diff.RequiresInstall = true
			continue
		}
		if extra.Spec != "" {
			outside, err := versionOutsideSpec(installed, extra.Spec)
			if err != nil {
				return err
			}
			if outside {
				latest, err := lookup.LatestVersion(ctx, extra.Name, extra.Spec)
				if err != nil {
					return err
				}
				diff.Extras[extra.Name] = Change{Old: installed, New: latest}
				diff.RequiresInstall = true
				continue
			}
		}
		if spec.Upgrade {
			latest, err := lookup.LatestVersion(ctx, extra.Name, extra.Spec)
			if err != nil {
				return err
			}
			outdated, err := versionLess(installed, latest)
			if err != nil {
				return err
			}
			if outdated {
				diff.Extras[extra.Name] = Change{Old: installed, New: latest}
				diff.RequiresInstall = true
			}
		}
	}
	return nil
}

func versionOutsideSpec(version, spec string) (bool, error) {
	set, err := uv.ParseSpecifierSet(spec)
	if err != nil {
		return false, fmt.Errorf("invalid version spec %q: %w", spec, err)
	}
	v, err := uv.ParseVersion(version)
	if err != nil {
		return false, err
	}
	return !set.Matches(v), nil
}

func versionLess(a, b string) (bool, error) {
	av, err := uv.ParseVersion(a)
	if err != nil {
		return false, err
	}
	bv, err := uv.ParseVersion(b)
	if err != nil {
		return false, err
	}
	return av.Less(bv), nil
}
