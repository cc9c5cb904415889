package formula

import (
	"fmt"
	"path"

	"gopkg.in/yaml.v3"
)

// InstallMethod selects how uv itself is installed on a machine.
type InstallMethod string

const (
	// InstallMethodReleases downloads a release archive from the upstream
	// release channel, selected by architecture and platform tag.
	InstallMethodReleases InstallMethod = "releases"

	// InstallMethodPkg installs uv through the distribution's package
	// manager.
	InstallMethodPkg InstallMethod = "pkg"
)

// Config is the typed view of the resolved configuration tree. It is
// validated at load time; downstream consumers never see an invalid value.
type Config struct {
	// InstallMethod is the uv installation mechanism.
	InstallMethod InstallMethod `yaml:"install_method" json:"install_method" validate:"required,oneof=releases pkg"`

	// Version is the uv version to install ("latest" or a concrete version).
	Version string `yaml:"version" json:"version" validate:"required"`

	// Release holds the release-archive download parameters, used when
	// InstallMethod is "releases".
	Release ReleaseConfig `yaml:"release" json:"release"`

	// Pkg holds the distribution package parameters, used when
	// InstallMethod is "pkg".
	Pkg PkgConfig `yaml:"pkg" json:"pkg"`

	// UvConfig is the system-wide uv configuration mapping, serialized to
	// the global uv.toml.
	UvConfig map[string]any `yaml:"config" json:"config"`

	// Tools maps tool names to system-wide install parameters.
	Tools map[string]ToolSpec `yaml:"tools" json:"tools"`

	// Defaults are the per-user defaults applied to every managed user
	// before user-specific overrides.
	Defaults Tree `yaml:"defaults" json:"defaults"`
}

// ReleaseConfig holds the download-URL template parameters for
// release-archive installs.
type ReleaseConfig struct {
	// URLTemplate is the archive URL template. Placeholders: {version},
	// {arch}, {platform}.
	URLTemplate string `yaml:"url_template" json:"url_template"`

	// Platform overrides the detected OS kernel/libc tag
	// (e.g. "unknown-linux-gnu", "unknown-linux-musl").
	Platform string `yaml:"platform,omitempty" json:"platform,omitempty"`

	// Arch overrides the detected architecture (e.g. "x86_64", "aarch64").
	Arch string `yaml:"arch,omitempty" json:"arch,omitempty"`
}

// PkgConfig holds the distribution package parameters.
type PkgConfig struct {
	// Name is the distribution package name.
	Name string `yaml:"name" json:"name"`

	// Repo is an optional extra repository required for the package.
	Repo string `yaml:"repo,omitempty" json:"repo,omitempty"`
}

// ToolSpec describes one tool managed through `uv tool`.
type ToolSpec struct {
	// VersionSpec constrains the installed version (e.g. "==1.2.1",
	// ">=2.0,<3"). Empty means latest.
	VersionSpec string `yaml:"version_spec,omitempty" json:"version_spec,omitempty"`

	// Extras are additional packages injected into the tool's virtual
	// environment.
	Extras []Extra `yaml:"extras,omitempty" json:"extras,omitempty"`

	// WithRequirements injects packages read from requirements files.
	WithRequirements []string `yaml:"with_requirements,omitempty" json:"with_requirements,omitempty"`

	// Python pins the interpreter for the tool environment.
	Python string `yaml:"python,omitempty" json:"python,omitempty"`

	// Upgrade keeps the tool at the latest version the spec allows.
	Upgrade bool `yaml:"upgrade,omitempty" json:"upgrade,omitempty"`

	// Force overwrites existing executables on install.
	Force bool `yaml:"force,omitempty" json:"force,omitempty"`

	// Absent removes the tool instead of installing it.
	Absent bool `yaml:"absent,omitempty" json:"absent,omitempty"`
}

// Extra is one extra package injection: a bare name, or a name with a
// version specifier. In YAML it is either a string or a single-keyed
// mapping from name to spec.
type Extra struct {
	Name string `json:"name"`
	Spec string `json:"spec,omitempty"`
}

// UnmarshalYAML accepts the two document shapes for an extra.
func (e *Extra) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		return value.Decode(&e.Name)
	case yaml.MappingNode:
		var m map[string]string
		if err := value.Decode(&m); err != nil {
			return err
		}
		if len(m) != 1 {
			return fmt.Errorf("extra must be a package name or a single name-to-spec mapping, got %d keys", len(m))
		}
		for name, spec := range m {
			e.Name, e.Spec = name, spec
		}
		return nil
	default:
		return fmt.Errorf("extra must be a string or a mapping")
	}
}

// DotconfigPolicy controls per-user dotfile syncing. In documents it is
// either a bare boolean or a structured mapping.
type DotconfigPolicy struct {
	// Enabled turns dotfile syncing on for the user.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// FileMode overrides the permission bits applied to synced files.
	FileMode string `yaml:"file_mode,omitempty" json:"file_mode,omitempty"`

	// DirMode overrides the permission bits applied to synced directories.
	DirMode string `yaml:"dir_mode,omitempty" json:"dir_mode,omitempty"`

	// Clean removes files not present in the source before syncing.
	Clean bool `yaml:"clean,omitempty" json:"clean,omitempty"`
}

// UnmarshalYAML accepts a boolean or the structured form. A structured
// mapping implies Enabled unless it says otherwise.
func (d *DotconfigPolicy) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var enabled bool
		if err := value.Decode(&enabled); err != nil {
			return fmt.Errorf("dotconfig must be a boolean or a mapping: %w", err)
		}
		*d = DotconfigPolicy{Enabled: enabled}
		return nil
	}

	type plain DotconfigPolicy
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*d = DotconfigPolicy(p)
	// A structured policy without an explicit enabled key means "on".
	explicit := false
	for i := 0; i+1 < len(value.Content); i += 2 {
		if value.Content[i].Value == "enabled" {
			explicit = true
		}
	}
	if !explicit {
		d.Enabled = true
	}
	return nil
}

// UserUV is the uv-specific sub-configuration of one managed user.
type UserUV struct {
	// Config is the user's uv configuration mapping, serialized to the
	// user's uv.toml.
	Config map[string]any `yaml:"config,omitempty" json:"config,omitempty"`

	// Tools maps tool names to per-user install parameters.
	Tools map[string]ToolSpec `yaml:"tools,omitempty" json:"tools,omitempty"`
}

// UnmarshalYAML accepts `uv: true` ("manage with defaults") alongside the
// structured form. `uv: false` never reaches decoding; the resolver skips
// such users outright.
func (u *UserUV) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var enabled bool
		if err := value.Decode(&enabled); err != nil {
			return fmt.Errorf("uv must be a boolean or a mapping: %w", err)
		}
		*u = UserUV{}
		return nil
	}
	type plain UserUV
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*u = UserUV(p)
	return nil
}

// UvPaths are the derived per-user uv locations, computed once from the
// user's xdg flag and home directory.
type UvPaths struct {
	// ConfDir is the directory holding the user's uv configuration.
	ConfDir string `json:"confdir"`

	// ConfFile is the user's uv.toml path.
	ConfFile string `json:"conffile"`
}

// UserSpec is one fully resolved managed user. Users whose uv key is
// explicitly false never appear in the resolved collection.
type UserSpec struct {
	// Name is the username.
	Name string `yaml:"-" json:"name"`

	// Home is the user's home directory. Defaults to /home/<name>
	// (/root for root).
	Home string `yaml:"home,omitempty" json:"home"`

	// Group is the user's primary group. Defaults to the username.
	Group string `yaml:"group,omitempty" json:"group"`

	// Shell is the user's login shell, consulted by the completions logic.
	Shell string `yaml:"shell,omitempty" json:"shell,omitempty"`

	// XDG roots per-user paths under the XDG config directory.
	XDG bool `yaml:"xdg" json:"xdg"`

	// Completions is the directory shell completion scripts are written
	// to. Empty disables completions for the user.
	Completions string `yaml:"completions,omitempty" json:"completions,omitempty"`

	// Dotconfig is the user's dotfile-sync policy.
	Dotconfig DotconfigPolicy `yaml:"dotconfig,omitempty" json:"dotconfig"`

	// Persistenv is the file persistent environment variables are
	// written to, relative to the home directory.
	Persistenv string `yaml:"persistenv,omitempty" json:"persistenv,omitempty"`

	// Rchook is the runcom file hook invocations are appended to,
	// relative to the home directory.
	Rchook string `yaml:"rchook,omitempty" json:"rchook,omitempty"`

	// UV is the user's uv-specific sub-configuration.
	UV UserUV `yaml:"uv,omitempty" json:"uv"`

	// Paths are the derived uv locations for the user.
	Paths UvPaths `yaml:"-" json:"_uv"`
}

// computePaths derives the user's uv locations from the xdg flag.
func (u *UserSpec) computePaths() {
	confdir := path.Join(u.Home, ".uv")
	if u.XDG {
		confdir = path.Join(u.Home, ".config", "uv")
	}
	u.Paths = UvPaths{
		ConfDir:  confdir,
		ConfFile: path.Join(confdir, "uv.toml"),
	}
}

// Resolution is the output of one resolver pass: the merged tree, its typed
// view, and the ordered user collection. It is immutable once produced.
type Resolution struct {
	// Tree is the fully merged configuration tree.
	Tree Tree `json:"tree"`

	// Config is the validated typed view of Tree.
	Config Config `json:"config"`

	// Users are the resolved managed users, ordered by name.
	Users []UserSpec `json:"users"`
}
