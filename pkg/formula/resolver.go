package formula

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/uvfleet/uvfleet/pkg/grains"
)

// DefaultParametersDir is the conventional root of grain-keyed parameter
// documents.
const DefaultParametersDir = "parameters"

// Sources are the input documents of one resolution pass.
type Sources struct {
	// Root is the backing store parameter documents are read from. Nil
	// means no parameter documents.
	Root fs.FS

	// ParametersDir is the directory under Root holding the grain-keyed
	// documents. Defaults to DefaultParametersDir.
	ParametersDir string

	// Pillar is the pillar override document. Its tool_uv key overrides
	// every parameter document; its users key supplies the formula-wide
	// user records.
	Pillar Tree

	// Hook is an optional Starlark post-map script applied to the merged
	// tree before typing and validation.
	Hook string
}

// Resolver merges the configuration sources into a Resolution. A Resolver
// is safe for repeated use; it holds no per-run state.
type Resolver struct {
	validate *validator.Validate
	schemas  *SchemaRegistry
	hooks    *HookEvaluator
	opts     MergeOptions
	logger   zerolog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMergeOptions overrides the resolver's merge options.
func WithMergeOptions(opts MergeOptions) Option {
	return func(r *Resolver) { r.opts = opts }
}

// WithLogger attaches a logger to the resolver.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// NewResolver creates a resolver with the built-in schemas registered.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		validate: validator.New(),
		schemas:  NewSchemaRegistry(),
		hooks:    NewHookEvaluator(0),
		logger:   log.With().Str("component", "resolver").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Schemas returns the resolver's schema registry.
func (r *Resolver) Schemas() *SchemaRegistry {
	return r.schemas
}

// Resolve merges defaults, grain-keyed parameter documents, pillar
// overrides and per-user overlays into one Resolution. Fatal conditions
// (type conflicts, unknown enum values) abort the pass; no partial result
// is returned.
func (r *Resolver) Resolve(ctx context.Context, g grains.Grains, src Sources) (*Resolution, error) {
	tree, err := Defaults()
	if err != nil {
		return nil, err
	}

	for _, doc := range parameterPaths(g, src.ParametersDir) {
		overlay, err := r.loadDocument(src.Root, doc)
		if err != nil {
			return nil, err
		}
		if overlay == nil {
			continue
		}
		r.logger.Debug().Str("source", doc).Msg("applying parameter document")
		if tree, err = Merge(tree, overlay, doc, r.opts); err != nil {
			return nil, err
		}
	}

	if overlay, ok := src.Pillar["tool_uv"]; ok {
		m, isMap := asTree(overlay)
		if !isMap {
			return nil, &TypeConflictError{
				Source:   "pillar",
				Path:     "tool_uv",
				Existing: "mapping",
				Incoming: kindOf(overlay),
			}
		}
		r.logger.Debug().Msg("applying pillar overrides")
		if tree, err = Merge(tree, m, "pillar:tool_uv", r.opts); err != nil {
			return nil, err
		}
	}

	if src.Hook != "" {
		if tree, err = r.hooks.Apply(ctx, src.Hook, tree); err != nil {
			return nil, fmt.Errorf("post-map hook failed: %w", err)
		}
	}

	cfg, err := r.typeAndValidate(tree)
	if err != nil {
		return nil, err
	}

	if err := r.schemas.ValidateTree(ctx, tree); err != nil {
		return nil, err
	}

	users, err := r.resolveUsers(tree, src.Pillar)
	if err != nil {
		return nil, err
	}

	r.logger.Info().
		Str("install_method", string(cfg.InstallMethod)).
		Str("version", cfg.Version).
		Int("users", len(users)).
		Msg("configuration resolved")

	return &Resolution{Tree: tree, Config: cfg, Users: users}, nil
}

// parameterPaths returns the conventional document paths in ascending
// precedence: global, os_family, each role in declaration order, minion id.
func parameterPaths(g grains.Grains, dir string) []string {
	if dir == "" {
		dir = DefaultParametersDir
	}
	paths := []string{path.Join(dir, "defaults.yaml")}
	if g.OSFamily != "" {
		paths = append(paths, path.Join(dir, "os_family", g.OSFamily+".yaml"))
	}
	for _, role := range g.Roles {
		paths = append(paths, path.Join(dir, "roles", role+".yaml"))
	}
	if g.MinionID != "" {
		paths = append(paths, path.Join(dir, "id", g.MinionID+".yaml"))
	}
	return paths
}

// loadDocument reads one parameter document. A missing document is not an
// error; a document that is not a mapping is fatal and attributed to its
// path.
func (r *Resolver) loadDocument(root fs.FS, name string) (Tree, error) {
	if root == nil {
		return nil, nil
	}
	data, err := fs.ReadFile(root, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%s: malformed document: %w", name, err)
	}
	if raw == nil {
		return nil, nil
	}
	tree, ok := asTree(raw)
	if !ok {
		return nil, &TypeConflictError{
			Source:   name,
			Path:     ".",
			Existing: "mapping",
			Incoming: kindOf(raw),
		}
	}
	return normalizeTree(tree), nil
}

// typeAndValidate decodes the merged tree into the typed Config and
// validates it. Enum violations surface as ValidationError before any
// downstream consumer sees the tree.
func (r *Resolver) typeAndValidate(tree Tree) (Config, error) {
	var cfg Config
	data, err := yaml.Marshal(tree)
	if err != nil {
		return Config{}, fmt.Errorf("failed to re-encode merged tree: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("merged tree does not fit the configuration schema: %w", err)
	}

	switch cfg.InstallMethod {
	case InstallMethodReleases, InstallMethodPkg:
	default:
		return Config{}, &ValidationError{
			Field:   "install_method",
			Value:   string(cfg.InstallMethod),
			Allowed: []string{string(InstallMethodReleases), string(InstallMethodPkg)},
		}
	}

	if err := r.validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return Config{}, &ValidationError{
				Field: verrs[0].Namespace(),
				Value: verrs[0].Value(),
			}
		}
		return Config{}, err
	}

	return cfg, nil
}

// resolveUsers builds the ordered UserSpec collection. Per-user precedence:
// formula-wide defaults < pillar users records < tool_uv:users entries.
// An entry whose uv key is explicitly false is skipped before any
// uv-specific merge and never reaches downstream consumers.
func (r *Resolver) resolveUsers(tree Tree, pillar Tree) ([]UserSpec, error) {
	userDefaults, _ := asTree(tree["defaults"])

	globalUsers, err := userRecords(pillar, "users", "pillar:users")
	if err != nil {
		return nil, err
	}
	formulaUsers, err := userRecords(tree, "users", "tool_uv:users")
	if err != nil {
		return nil, err
	}

	names := make(map[string]struct{})
	for name := range globalUsers {
		names[name] = struct{}{}
	}
	for name := range formulaUsers {
		names[name] = struct{}{}
	}

	ordered := make([]string, 0, len(names))
	for name := range names {
		ordered = append(ordered, name)
	}
	sort.Strings(ordered)

	specs := make([]UserSpec, 0, len(ordered))
	for _, name := range ordered {
		entry := userDefaults.Clone()
		if entry == nil {
			entry = Tree{}
		}
		if overlay, ok := globalUsers[name]; ok {
			if entry, err = Merge(entry, overlay, "pillar:users."+name, r.opts); err != nil {
				return nil, err
			}
		}
		if overlay, ok := formulaUsers[name]; ok {
			if entry, err = Merge(entry, overlay, "tool_uv:users."+name, r.opts); err != nil {
				return nil, err
			}
		}

		// uv: false means "leave this user alone" and short-circuits
		// before any uv-specific handling.
		if enabled, ok := entry["uv"].(bool); ok && !enabled {
			r.logger.Debug().Str("user", name).Msg("user opted out, skipping")
			continue
		}

		spec, err := decodeUserSpec(name, entry)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// userRecords extracts a username-to-record mapping from a document key.
func userRecords(doc Tree, key, source string) (map[string]Tree, error) {
	raw, ok := doc[key]
	if !ok || raw == nil {
		return nil, nil
	}
	m, isMap := asTree(raw)
	if !isMap {
		return nil, &TypeConflictError{
			Source:   source,
			Path:     key,
			Existing: "mapping",
			Incoming: kindOf(raw),
		}
	}
	records := make(map[string]Tree, len(m))
	for name, v := range m {
		entry, isMap := asTree(v)
		if !isMap {
			if v == nil {
				entry = Tree{}
			} else if enabled, ok := v.(bool); ok {
				// A bare boolean toggles uv management for the user.
				entry = Tree{"uv": enabled}
			} else {
				return nil, &TypeConflictError{
					Source:   source,
					Path:     key + "." + name,
					Existing: "mapping",
					Incoming: kindOf(v),
				}
			}
		}
		records[name] = entry
	}
	return records, nil
}

// decodeUserSpec turns a merged user entry into a UserSpec with derived
// fields filled in.
func decodeUserSpec(name string, entry Tree) (UserSpec, error) {
	var spec UserSpec
	data, err := yaml.Marshal(entry)
	if err != nil {
		return UserSpec{}, fmt.Errorf("failed to re-encode user %s: %w", name, err)
	}
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return UserSpec{}, fmt.Errorf("user %s does not fit the user schema: %w", name, err)
	}

	spec.Name = name
	if spec.Home == "" {
		if name == "root" {
			spec.Home = "/root"
		} else {
			spec.Home = "/home/" + name
		}
	}
	if spec.Group == "" {
		spec.Group = name
	}
	spec.computePaths()
	return spec, nil
}
