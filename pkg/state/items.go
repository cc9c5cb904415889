// Package state renders a resolved configuration into an ordered plan of
// work items: the uv package install, per-user configuration files, dotfile
// syncs, shell completions and tool operations. Items describe work; they
// are never executed here.
package state

import (
	"time"

	"github.com/google/uuid"

	"github.com/uvfleet/uvfleet/pkg/uv"
)

// ItemKind classifies a work item.
type ItemKind string

const (
	// KindPackageInstall installs uv itself, from a release archive or a
	// distribution package.
	KindPackageInstall ItemKind = "package-install"

	// KindConfigFile writes a uv.toml configuration file.
	KindConfigFile ItemKind = "config-file"

	// KindDotfileSync synchronizes a user's dotfiles from the first
	// matching source directory.
	KindDotfileSync ItemKind = "dotfile-sync"

	// KindCompletions installs shell completion scripts.
	KindCompletions ItemKind = "completions"

	// KindToolInstall installs or reinstalls a uv tool.
	KindToolInstall ItemKind = "tool-install"

	// KindToolRemove uninstalls a uv tool.
	KindToolRemove ItemKind = "tool-remove"
)

// FileSpec describes a file a work item manages.
type FileSpec struct {
	// Path is the absolute destination path.
	Path string `json:"path"`

	// Content is the rendered file content; empty for items that copy
	// from a source.
	Content []byte `json:"content,omitempty"`

	// Owner and Group set the file's ownership.
	Owner string `json:"owner,omitempty"`
	Group string `json:"group,omitempty"`

	// Mode is the permission string ("0644"); empty keeps the default.
	Mode string `json:"mode,omitempty"`
}

// PackageSource describes where the uv binary comes from.
type PackageSource struct {
	// URL is the release-archive download URL; set for the releases
	// method.
	URL string `json:"url,omitempty"`

	// PkgName is the distribution package name; set for the pkg method.
	PkgName string `json:"pkg_name,omitempty"`

	// Repo is an extra repository the package requires.
	Repo string `json:"repo,omitempty"`
}

// DotfileSource describes a dotfile sync: the candidate source directories
// in selection order and the policy applied while copying.
type DotfileSource struct {
	// Candidates are the source directories, most specific first. The
	// executor uses the first one that exists.
	Candidates []string `json:"candidates"`

	// Dest is the destination directory on the managed machine.
	Dest string `json:"dest"`

	// FileMode and DirMode override permission bits on synced entries.
	FileMode string `json:"file_mode,omitempty"`
	DirMode  string `json:"dir_mode,omitempty"`

	// Clean removes destination files absent from the source.
	Clean bool `json:"clean,omitempty"`
}

// Item is one unit of work in a plan.
type Item struct {
	// Kind classifies the item.
	Kind ItemKind `json:"kind"`

	// User is the account the item applies to; empty for system-wide
	// items.
	User string `json:"user,omitempty"`

	// Reason is a short human-readable statement of why the item exists.
	Reason string `json:"reason"`

	// Package is set for package-install items.
	Package *PackageSource `json:"package,omitempty"`

	// File is set for config-file and completions items.
	File *FileSpec `json:"file,omitempty"`

	// Dotfiles is set for dotfile-sync items.
	Dotfiles *DotfileSource `json:"dotfiles,omitempty"`

	// Command is set for tool items.
	Command *uv.Command `json:"command,omitempty"`
}

// Plan is an ordered collection of work items for one machine.
type Plan struct {
	// ID uniquely identifies the plan.
	ID uuid.UUID `json:"id"`

	// MinionID is the machine the plan targets.
	MinionID string `json:"minion_id"`

	// CreatedAt is the plan's creation time.
	CreatedAt time.Time `json:"created_at"`

	// Items are the work items in application order.
	Items []Item `json:"items"`
}

// ItemsOfKind returns the plan's items of one kind, in plan order.
func (p Plan) ItemsOfKind(kind ItemKind) []Item {
	var out []Item
	for _, item := range p.Items {
		if item.Kind == kind {
			out = append(out, item)
		}
	}
	return out
}
