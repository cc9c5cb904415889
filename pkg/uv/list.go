package uv

import (
	"regexp"
	"strings"
)

// InstalledTool is one entry from `uv tool list` output.
type InstalledTool struct {
	// Name is the tool's package name.
	Name string `json:"name"`

	// Version is the installed version, without a leading "v".
	Version string `json:"version"`

	// InstallSpec is the version specifier the tool was installed with,
	// from the [required: ...] annotation; empty when unconstrained.
	InstallSpec string `json:"install_spec,omitempty"`

	// VenvPath is the tool's virtual environment directory.
	VenvPath string `json:"venv_path"`

	// Executables are the installed entry points listed under the tool.
	Executables []string `json:"executables,omitempty"`
}

var listLine = regexp.MustCompile(
	`^(?P<tool>\S+)\s+v?(?P<version>\S+)(?:\s+\[required: (?P<req>[^\]]*)\])?\s+\((?P<venv>.*)\)$`)

// ParseToolList parses the output of `uv tool list --show-paths
// --show-version-specifiers`. Executable lines start with "-" and attach
// to the preceding tool; unparseable lines are skipped.
func ParseToolList(out string) []InstalledTool {
	if strings.Contains(out, "No tools installed") {
		return nil
	}

	var tools []InstalledTool
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if trimmed := strings.TrimSpace(line); strings.HasPrefix(trimmed, "-") {
			if len(tools) == 0 {
				continue
			}
			exe := strings.TrimSpace(strings.TrimPrefix(trimmed, "-"))
			// Paths in parentheses accompany executables under --show-paths.
			if i := strings.LastIndex(exe, " ("); i > 0 {
				exe = exe[:i]
			}
			last := &tools[len(tools)-1]
			last.Executables = append(last.Executables, exe)
			continue
		}

		m := listLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		tools = append(tools, InstalledTool{
			Name:        m[1],
			Version:     m[2],
			InstallSpec: m[3],
			VenvPath:    m[4],
		})
	}
	return tools
}

// FindTool returns the named entry from a parsed tool list.
func FindTool(tools []InstalledTool, name string) (InstalledTool, bool) {
	for _, t := range tools {
		if t.Name == name {
			return t, true
		}
	}
	return InstalledTool{}, false
}
