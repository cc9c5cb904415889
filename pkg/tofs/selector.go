// Package tofs implements the prioritized file-selection pattern used for
// per-user dotfile syncing: given the execution context of a managed machine,
// it produces an ordered list of candidate source locations for a logical
// resource, most specific first. The selector is a pure function of its
// inputs; existence checking and first-match selection belong to the caller.
package tofs

import (
	"io/fs"
	"path"
)

// Context carries the scope dimensions a candidate list is derived from.
// It is constructed once per run and never mutated afterwards.
type Context struct {
	// MinionID is the unique identifier of the managed machine.
	MinionID string `json:"minion_id"`

	// OSFamily is the machine's OS family grain (e.g. "Debian", "RedHat").
	OSFamily string `json:"os_family"`

	// Roles are the roles assigned to the machine, in declaration order.
	// Role-scoped candidates keep this order and sit above os_family
	// candidates within the same tier.
	Roles []string `json:"roles,omitempty"`

	// Users are the usernames the lookup applies to, in declaration order.
	// When empty, user-scoped candidates are omitted entirely.
	Users []string `json:"users,omitempty"`
}

// Candidate is one fully-qualified candidate source location.
type Candidate struct {
	// Path is the candidate location relative to the file-retrieval root.
	Path string `json:"path"`

	// Scope is the grain value the candidate was derived from
	// ("default" for the fallback tier).
	Scope string `json:"scope"`

	// User is the username the candidate is scoped to, empty for
	// user-less candidates.
	User string `json:"user,omitempty"`
}

// Candidates returns the ordered candidate list for a resource under the
// given prefix, highest priority first. The tier order is fixed: minion id,
// then roles (declaration order) followed by os_family, then "default".
// Within each tier, user-scoped candidates precede user-less ones.
func Candidates(ctx Context, prefix, resource string) []Candidate {
	tiers := [][]string{
		{ctx.MinionID},
		append(append([]string{}, ctx.Roles...), ctx.OSFamily),
		{"default"},
	}

	var out []Candidate
	for _, scopes := range tiers {
		for _, user := range ctx.Users {
			for _, scope := range scopes {
				if scope == "" {
					continue
				}
				out = append(out, Candidate{
					Path:  path.Join(prefix, scope, user, resource),
					Scope: scope,
					User:  user,
				})
			}
		}
		for _, scope := range scopes {
			if scope == "" {
				continue
			}
			out = append(out, Candidate{
				Path:  path.Join(prefix, scope, resource),
				Scope: scope,
			})
		}
	}
	return out
}

// Paths returns just the candidate paths, in priority order.
func Paths(ctx Context, prefix, resource string) []string {
	candidates := Candidates(ctx, prefix, resource)
	paths := make([]string, len(candidates))
	for i, c := range candidates {
		paths[i] = c.Path
	}
	return paths
}

// Select returns the first candidate for which exists reports true.
// It returns false when the candidate list is exhausted; turning that into
// a failure is the caller's decision.
func Select(ctx Context, prefix, resource string, exists func(string) bool) (Candidate, bool) {
	for _, c := range Candidates(ctx, prefix, resource) {
		if exists(c.Path) {
			return c, true
		}
	}
	return Candidate{}, false
}

// SelectFS is a convenience wrapper around Select that tests candidate
// existence against a fs.FS backing store.
func SelectFS(ctx Context, prefix, resource string, fsys fs.FS) (Candidate, bool) {
	return Select(ctx, prefix, resource, func(p string) bool {
		_, err := fs.Stat(fsys, p)
		return err == nil
	})
}
