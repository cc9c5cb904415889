// Package grains collects the facts about a managed machine that drive
// configuration selection: minion id, OS family, architecture, kernel and
// libc tag. Grains are collected once per run into an immutable value and
// passed explicitly to every consumer.
package grains

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/uvfleet/uvfleet/pkg/tofs"
)

// Grains is the execution context of one managed machine.
type Grains struct {
	// MinionID is the machine's unique identifier (the hostname by
	// default).
	MinionID string `json:"minion_id" yaml:"minion_id"`

	// OS is the distribution id from os-release (e.g. "ubuntu").
	OS string `json:"os" yaml:"os"`

	// OSFamily is the normalized distribution family (e.g. "Debian",
	// "RedHat").
	OSFamily string `json:"os_family" yaml:"os_family"`

	// Kernel is the kernel release string.
	Kernel string `json:"kernel" yaml:"kernel"`

	// Arch is the machine architecture in release-archive notation
	// (x86_64, aarch64).
	Arch string `json:"arch" yaml:"arch"`

	// Libc is the platform libc tag ("gnu" or "musl").
	Libc string `json:"libc" yaml:"libc"`

	// Roles are the roles assigned to the machine, in declaration order.
	Roles []string `json:"roles,omitempty" yaml:"roles,omitempty"`
}

// Runner executes a command on the machine the grains describe. The SSH
// transport implements it for remote collection; local collection does not
// need one.
type Runner interface {
	Run(ctx context.Context, command string) (string, error)
}

// Collect gathers grains from the local machine.
func Collect(ctx context.Context) (Grains, error) {
	g := Grains{
		Arch: normalizeArch(runtime.GOARCH),
		Libc: detectLocalLibc(),
	}

	hostname, err := os.Hostname()
	if err != nil {
		return Grains{}, fmt.Errorf("failed to determine hostname: %w", err)
	}
	g.MinionID = hostname

	if data, err := os.ReadFile("/etc/os-release"); err == nil {
		id, idLike := parseOSRelease(string(data))
		g.OS = id
		g.OSFamily = familyFor(id, idLike)
	} else {
		log.Debug().Err(err).Msg("os-release not readable, os_family grain unset")
	}

	if data, err := os.ReadFile("/proc/sys/kernel/osrelease"); err == nil {
		g.Kernel = strings.TrimSpace(string(data))
	}

	return g, nil
}

// CollectRemote gathers grains from a remote machine through the given
// runner.
func CollectRemote(ctx context.Context, r Runner) (Grains, error) {
	g := Grains{}

	hostname, err := r.Run(ctx, "hostname")
	if err != nil {
		return Grains{}, fmt.Errorf("failed to collect hostname: %w", err)
	}
	g.MinionID = strings.TrimSpace(hostname)

	if out, err := r.Run(ctx, "uname -m"); err == nil {
		g.Arch = normalizeArch(strings.TrimSpace(out))
	}
	if out, err := r.Run(ctx, "uname -r"); err == nil {
		g.Kernel = strings.TrimSpace(out)
	}
	if out, err := r.Run(ctx, "cat /etc/os-release"); err == nil {
		id, idLike := parseOSRelease(out)
		g.OS = id
		g.OSFamily = familyFor(id, idLike)
	}

	g.Libc = "gnu"
	if out, err := r.Run(ctx, "ls /lib/ld-musl-* 2>/dev/null"); err == nil && strings.TrimSpace(out) != "" {
		g.Libc = "musl"
	}

	return g, nil
}

// WithRoles returns a copy of the grains with roles assigned.
func (g Grains) WithRoles(roles []string) Grains {
	g.Roles = append([]string{}, roles...)
	return g
}

// PlatformTag returns the release-archive platform tag for the machine
// (e.g. "unknown-linux-gnu").
func (g Grains) PlatformTag() string {
	libc := g.Libc
	if libc == "" {
		libc = "gnu"
	}
	return "unknown-linux-" + libc
}

// TOFSContext derives the path-selection context from the grains for the
// given users.
func (g Grains) TOFSContext(users []string) tofs.Context {
	return tofs.Context{
		MinionID: g.MinionID,
		OSFamily: g.OSFamily,
		Roles:    append([]string{}, g.Roles...),
		Users:    append([]string{}, users...),
	}
}

// parseOSRelease extracts ID and ID_LIKE from os-release content.
func parseOSRelease(content string) (id string, idLike []string) {
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "ID="):
			id = strings.Trim(strings.TrimPrefix(line, "ID="), `"`)
		case strings.HasPrefix(line, "ID_LIKE="):
			raw := strings.Trim(strings.TrimPrefix(line, "ID_LIKE="), `"`)
			idLike = strings.Fields(raw)
		}
	}
	return id, idLike
}

// familyFor normalizes a distribution id (plus its ID_LIKE chain) into an
// OS family grain value.
func familyFor(id string, idLike []string) string {
	families := map[string]string{
		"debian":   "Debian",
		"ubuntu":   "Debian",
		"raspbian": "Debian",
		"rhel":     "RedHat",
		"centos":   "RedHat",
		"fedora":   "RedHat",
		"rocky":    "RedHat",
		"alma":     "RedHat",
		"almalinux": "RedHat",
		"amzn":     "RedHat",
		"suse":     "Suse",
		"opensuse": "Suse",
		"sles":     "Suse",
		"arch":     "Arch",
		"alpine":   "Alpine",
		"gentoo":   "Gentoo",
	}

	if family, ok := families[id]; ok {
		return family
	}
	for _, like := range idLike {
		if family, ok := families[like]; ok {
			return family
		}
	}
	if id == "" {
		return ""
	}
	return strings.ToUpper(id[:1]) + id[1:]
}

// normalizeArch maps Go and uname architecture names to the notation used
// in release-archive names.
func normalizeArch(arch string) string {
	switch arch {
	case "amd64", "x86_64":
		return "x86_64"
	case "arm64", "aarch64":
		return "aarch64"
	case "386", "i686":
		return "i686"
	default:
		return arch
	}
}

// detectLocalLibc distinguishes musl from glibc on the local machine.
func detectLocalLibc() string {
	matches, _ := matchMuslLoader()
	if matches {
		return "musl"
	}
	return "gnu"
}

func matchMuslLoader() (bool, error) {
	entries, err := os.ReadDir("/lib")
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "ld-musl-") {
			return true, nil
		}
	}
	return false, nil
}
