// Package uv models the uv command-line surface: it builds argument vectors
// and environments for uv invocations, parses `uv tool list` output, and
// looks up latest package versions. It never executes processes itself;
// running commands is the reconciliation engine's job.
package uv

import (
	"fmt"
	"sort"
)

// PythonPreference selects between uv-managed and system Python
// installations.
type PythonPreference string

const (
	PythonPreferenceOnlyManaged PythonPreference = "only-managed"
	PythonPreferenceManaged     PythonPreference = "managed"
	PythonPreferenceSystem      PythonPreference = "system"
	PythonPreferenceOnlySystem  PythonPreference = "only-system"
)

// GlobalOptions are the options every uv invocation respects.
type GlobalOptions struct {
	// NativeTLS loads TLS certificates from the platform's native store
	// instead of the bundled roots.
	NativeTLS bool

	// Offline disables network access; only cached data is used.
	Offline bool

	// NoCache bypasses the cache for the duration of the operation.
	NoCache bool

	// NoConfig disables configuration file discovery.
	NoConfig bool

	// NoPythonDownloads disables automatic Python downloads.
	NoPythonDownloads bool

	// CacheDir overrides the cache directory.
	CacheDir string

	// Directory changes to the given directory before running.
	Directory string

	// Project runs the command within the given project directory.
	Project string

	// ConfigFile is the uv.toml to use.
	ConfigFile string

	// PythonPreference prioritizes managed or system interpreters.
	PythonPreference PythonPreference

	// Env is extra environment set for the invocation.
	Env map[string]string
}

// args renders the global options as command-line arguments.
func (o GlobalOptions) args() []string {
	var out []string
	for _, flag := range []struct {
		name string
		set  bool
	}{
		{"no-cache", o.NoCache},
		{"no-config", o.NoConfig},
		{"native-tls", o.NativeTLS},
		{"offline", o.Offline},
		{"no-python-downloads", o.NoPythonDownloads},
	} {
		if flag.set {
			out = append(out, "--"+flag.name)
		}
	}
	for _, opt := range []struct {
		name  string
		value string
	}{
		{"cache-dir", o.CacheDir},
		{"directory", o.Directory},
		{"project", o.Project},
		{"config-file", o.ConfigFile},
		{"python-preference", string(o.PythonPreference)},
	} {
		if opt.value != "" {
			out = append(out, "--"+opt.name, opt.value)
		}
	}
	return out
}

// Validate rejects unknown python-preference values.
func (o GlobalOptions) Validate() error {
	switch o.PythonPreference {
	case "", PythonPreferenceOnlyManaged, PythonPreferenceManaged,
		PythonPreferenceSystem, PythonPreferenceOnlySystem:
		return nil
	default:
		return fmt.Errorf("invalid python-preference %q", o.PythonPreference)
	}
}

// ToolScope decides where tool executables and virtual environments live.
type ToolScope struct {
	// System targets the machine-wide tool directories.
	System bool

	// User is the account the invocation runs as; empty means the
	// engine's own user.
	User string

	// BinDir overrides the directory installed executables land in.
	BinDir string

	// Dir overrides the directory holding tool virtual environments.
	Dir string
}

// System-wide tool directory defaults.
const (
	SystemToolBinDir = "/usr/local/bin"
	SystemToolDir    = "/opt/uv/tools"
)

// Environ returns the environment the scope implies (UV_TOOL_BIN_DIR,
// UV_TOOL_DIR).
func (s ToolScope) Environ() map[string]string {
	binDir, dir := s.BinDir, s.Dir
	if s.System {
		if binDir == "" {
			binDir = SystemToolBinDir
		}
		if dir == "" {
			dir = SystemToolDir
		}
	}
	env := map[string]string{}
	if binDir != "" {
		env["UV_TOOL_BIN_DIR"] = binDir
	}
	if dir != "" {
		env["UV_TOOL_DIR"] = dir
	}
	return env
}

// Command is one fully rendered uv invocation.
type Command struct {
	// Argv is the full argument vector, starting with "uv".
	Argv []string `json:"argv"`

	// Env is the environment the invocation needs on top of the
	// caller's.
	Env map[string]string `json:"env,omitempty"`

	// User is the account to run as; empty means the engine's own user.
	User string `json:"user,omitempty"`
}

// EnvList returns the environment as sorted KEY=VALUE pairs.
func (c Command) EnvList() []string {
	out := make([]string, 0, len(c.Env))
	for k, v := range c.Env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// newToolCommand assembles `uv tool <verb> ...` with scope environment and
// global options applied.
func newToolCommand(verb string, scope ToolScope, opts GlobalOptions, args ...string) Command {
	argv := append([]string{"uv", "tool", verb}, opts.args()...)
	argv = append(argv, args...)

	env := scope.Environ()
	for k, v := range opts.Env {
		env[k] = v
	}
	return Command{Argv: argv, Env: env, User: scope.User}
}

// InstallSpec are the parameters of a tool install.
type InstallSpec struct {
	// VersionSpec constrains the installed version; appended to the
	// package name (e.g. "ruff>=0.4").
	VersionSpec string

	// With injects extra packages into the tool environment.
	With []string

	// WithRequirements injects packages from requirements files.
	WithRequirements []string

	// Python pins the interpreter for the tool environment.
	Python string

	// Refresh refreshes all cached data.
	Refresh bool

	// RefreshPackages refreshes cached data for specific packages.
	RefreshPackages []string

	// Reinstall reinstalls all packages regardless of install state.
	Reinstall bool

	// ReinstallPackages reinstalls specific packages.
	ReinstallPackages []string

	// Upgrade allows upgrades past pinned versions.
	Upgrade bool

	// UpgradePackages allows upgrades for specific packages.
	UpgradePackages []string

	// Force overwrites existing executables.
	Force bool
}

// ToolInstall builds the `uv tool install` invocation for a package.
func ToolInstall(name string, spec InstallSpec, scope ToolScope, opts GlobalOptions) Command {
	var args []string
	for _, with := range spec.With {
		args = append(args, "--with", with)
	}
	for _, req := range spec.WithRequirements {
		args = append(args, "--with-requirements", req)
	}
	for _, pkg := range spec.RefreshPackages {
		args = append(args, "--refresh-package", pkg)
	}
	for _, pkg := range spec.ReinstallPackages {
		args = append(args, "--reinstall-package", pkg)
	}
	for _, pkg := range spec.UpgradePackages {
		args = append(args, "--upgrade-package", pkg)
	}
	if spec.Python != "" {
		args = append(args, "--python", spec.Python)
	}
	if spec.Refresh {
		args = append(args, "--refresh")
	}
	if spec.Reinstall {
		args = append(args, "--reinstall")
	}
	if spec.Upgrade {
		args = append(args, "--upgrade")
	}
	if spec.Force {
		args = append(args, "--force")
	}
	args = append(args, name+spec.VersionSpec)
	return newToolCommand("install", scope, opts, args...)
}

// ToolUpgrade builds the `uv tool upgrade` invocation for a package.
func ToolUpgrade(name string, spec InstallSpec, scope ToolScope, opts GlobalOptions) Command {
	var args []string
	if spec.Python != "" {
		args = append(args, "--python", spec.Python)
	}
	if spec.Upgrade {
		args = append(args, "--upgrade")
	}
	for _, pkg := range spec.UpgradePackages {
		args = append(args, "--upgrade-package", pkg)
	}
	args = append(args, name)
	return newToolCommand("upgrade", scope, opts, args...)
}

// ToolUpgradeAll builds the invocation upgrading every installed tool.
func ToolUpgradeAll(scope ToolScope, opts GlobalOptions) Command {
	return newToolCommand("upgrade", scope, opts, "--all")
}

// ToolRemove builds the `uv tool uninstall` invocation for a package.
func ToolRemove(name string, scope ToolScope, opts GlobalOptions) Command {
	return newToolCommand("uninstall", scope, opts, name)
}

// ToolRemoveAll builds the invocation uninstalling every installed tool.
func ToolRemoveAll(scope ToolScope, opts GlobalOptions) Command {
	return newToolCommand("uninstall", scope, opts, "--all")
}

// ToolList builds the `uv tool list` invocation whose output ParseToolList
// understands.
func ToolList(scope ToolScope, opts GlobalOptions) Command {
	return newToolCommand("list", scope, opts,
		"--show-paths", "--show-version-specifiers")
}
