package state

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"

	"github.com/uvfleet/uvfleet/pkg/formula"
	"github.com/uvfleet/uvfleet/pkg/grains"
	"github.com/uvfleet/uvfleet/pkg/tofs"
	"github.com/uvfleet/uvfleet/pkg/uv"
)

// SystemConfigFile is where the machine-wide uv.toml lives.
const SystemConfigFile = "/etc/uv/uv.toml"

// Renderer turns resolved configurations into plans.
type Renderer struct {
	logger zerolog.Logger
	opts   uv.GlobalOptions
}

// RendererOption configures a Renderer.
type RendererOption func(*Renderer)

// WithRenderLogger sets the logger used while rendering.
func WithRenderLogger(logger zerolog.Logger) RendererOption {
	return func(r *Renderer) { r.logger = logger }
}

// WithGlobalOptions sets the uv global options stamped onto every rendered
// tool command.
func WithGlobalOptions(opts uv.GlobalOptions) RendererOption {
	return func(r *Renderer) { r.opts = opts }
}

// NewRenderer creates a renderer.
func NewRenderer(opts ...RendererOption) *Renderer {
	r := &Renderer{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render produces the plan for one machine from its resolved configuration
// and grains. Item order is: package install, system config, system tools,
// then per-user items in user order.
func (r *Renderer) Render(res formula.Resolution, g grains.Grains) (Plan, error) {
	plan := Plan{
		ID:        uuid.New(),
		MinionID:  g.MinionID,
		CreatedAt: time.Now().UTC(),
	}

	pkg, err := r.packageItem(res.Config, g)
	if err != nil {
		return Plan{}, err
	}
	plan.Items = append(plan.Items, pkg)

	if len(res.Config.UvConfig) > 0 {
		item, err := configFileItem(SystemConfigFile, res.Config.UvConfig, "", "root", "root", "0644")
		if err != nil {
			return Plan{}, err
		}
		plan.Items = append(plan.Items, item)
	}

	systemScope := uv.ToolScope{System: true}
	toolItems, err := toolItemsFor(res.Config.Tools, "", systemScope, r.opts)
	if err != nil {
		return Plan{}, err
	}
	plan.Items = append(plan.Items, toolItems...)

	for _, user := range res.Users {
		items, err := r.userItems(res, g, user)
		if err != nil {
			return Plan{}, err
		}
		plan.Items = append(plan.Items, items...)
	}

	r.logger.Info().
		Str("minion_id", g.MinionID).
		Str("plan_id", plan.ID.String()).
		Int("items", len(plan.Items)).
		Msg("rendered plan")
	return plan, nil
}

// packageItem renders the uv install item for the configured method.
func (r *Renderer) packageItem(cfg formula.Config, g grains.Grains) (Item, error) {
	switch cfg.InstallMethod {
	case formula.InstallMethodReleases:
		url, err := releaseURL(cfg, g)
		if err != nil {
			return Item{}, err
		}
		return Item{
			Kind:    KindPackageInstall,
			Reason:  fmt.Sprintf("install uv %s from release archive", cfg.Version),
			Package: &PackageSource{URL: url},
		}, nil
	case formula.InstallMethodPkg:
		name := cfg.Pkg.Name
		if name == "" {
			name = "uv"
		}
		return Item{
			Kind:    KindPackageInstall,
			Reason:  fmt.Sprintf("install distribution package %s", name),
			Package: &PackageSource{PkgName: name, Repo: cfg.Pkg.Repo},
		}, nil
	default:
		// Resolution validates the method; this is unreachable for
		// resolver output.
		return Item{}, fmt.Errorf("unknown install method %q", cfg.InstallMethod)
	}
}

// releaseURL expands the archive URL template with the machine's
// architecture and platform tag.
func releaseURL(cfg formula.Config, g grains.Grains) (string, error) {
	tmpl := cfg.Release.URLTemplate
	if tmpl == "" {
		return "", fmt.Errorf("release install requires release.url_template")
	}

	arch := cfg.Release.Arch
	if arch == "" {
		arch = g.Arch
	}
	platform := cfg.Release.Platform
	if platform == "" {
		platform = g.PlatformTag()
	}

	url := strings.NewReplacer(
		"{version}", cfg.Version,
		"{arch}", arch,
		"{platform}", platform,
	).Replace(tmpl)
	if strings.ContainsAny(url, "{}") {
		return "", fmt.Errorf("release url template has unresolved placeholders: %s", url)
	}
	return url, nil
}

// userItems renders the per-user portion of the plan: config file, dotfile
// sync, completions and tools.
func (r *Renderer) userItems(res formula.Resolution, g grains.Grains, user formula.UserSpec) ([]Item, error) {
	var items []Item

	config, err := mergedUserConfig(res.Config.UvConfig, user.UV.Config)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", user.Name, err)
	}
	if len(config) > 0 {
		mode := "0644"
		if user.Dotconfig.FileMode != "" {
			mode = user.Dotconfig.FileMode
		}
		item, err := configFileItem(user.Paths.ConfFile, config, user.Name, user.Name, user.Group, mode)
		if err != nil {
			return nil, fmt.Errorf("user %s: %w", user.Name, err)
		}
		items = append(items, item)
	}

	if user.Dotconfig.Enabled {
		ctx := g.TOFSContext([]string{user.Name})
		items = append(items, Item{
			Kind:   KindDotfileSync,
			User:   user.Name,
			Reason: fmt.Sprintf("sync dotfiles into %s", user.Paths.ConfDir),
			Dotfiles: &DotfileSource{
				Candidates: tofs.Paths(ctx, "dotconfig", "uv"),
				Dest:       user.Paths.ConfDir,
				FileMode:   user.Dotconfig.FileMode,
				DirMode:    user.Dotconfig.DirMode,
				Clean:      user.Dotconfig.Clean,
			},
		})
	}

	if user.Completions != "" && user.Shell != "" {
		items = append(items, completionsItem(user))
	}

	userScope := uv.ToolScope{User: user.Name}
	toolItems, err := toolItemsFor(user.UV.Tools, user.Name, userScope, r.opts)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", user.Name, err)
	}
	items = append(items, toolItems...)

	return items, nil
}

// mergedUserConfig overlays a user's uv configuration on the system-wide
// one.
func mergedUserConfig(global, user map[string]any) (formula.Tree, error) {
	merged, err := formula.Merge(formula.Tree{}, formula.Tree(global), "config", formula.MergeOptions{})
	if err != nil {
		return nil, err
	}
	return formula.Merge(merged, formula.Tree(user), "user config", formula.MergeOptions{})
}

// configFileItem serializes a configuration mapping to TOML.
func configFileItem(dest string, config map[string]any, user, owner, group, mode string) (Item, error) {
	content, err := toml.Marshal(config)
	if err != nil {
		return Item{}, fmt.Errorf("failed to serialize %s: %w", dest, err)
	}
	return Item{
		Kind:   KindConfigFile,
		User:   user,
		Reason: fmt.Sprintf("write %s", dest),
		File: &FileSpec{
			Path:    dest,
			Content: content,
			Owner:   owner,
			Group:   group,
			Mode:    mode,
		},
	}, nil
}

// completionsItem renders the shell-completion install for a user's shell.
func completionsItem(user formula.UserSpec) Item {
	var script string
	switch user.Shell {
	case "zsh":
		script = "_uv"
	case "bash":
		script = "uv"
	default:
		script = "uv." + user.Shell
	}

	return Item{
		Kind:   KindCompletions,
		User:   user.Name,
		Reason: fmt.Sprintf("install %s completions", user.Shell),
		File: &FileSpec{
			Path:  path.Join(user.Home, user.Completions, script),
			Owner: user.Name,
			Group: user.Group,
			Mode:  "0644",
		},
		Command: &uv.Command{
			Argv: []string{"uv", "generate-shell-completion", user.Shell},
			User: user.Name,
		},
	}
}

// toolItemsFor renders tool install/remove items in name order.
func toolItemsFor(tools map[string]formula.ToolSpec, user string, scope uv.ToolScope, opts uv.GlobalOptions) ([]Item, error) {
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)

	var items []Item
	for _, name := range names {
		spec := tools[name]
		if spec.Absent {
			cmd := uv.ToolRemove(name, scope, opts)
			items = append(items, Item{
				Kind:    KindToolRemove,
				User:    user,
				Reason:  fmt.Sprintf("remove tool %s", name),
				Command: &cmd,
			})
			continue
		}

		cmd := uv.ToolInstall(name, installSpec(spec), scope, opts)
		items = append(items, Item{
			Kind:    KindToolInstall,
			User:    user,
			Reason:  fmt.Sprintf("install tool %s%s", name, spec.VersionSpec),
			Command: &cmd,
		})
	}
	return items, nil
}

// installSpec maps a configured tool to uv install parameters.
func installSpec(spec formula.ToolSpec) uv.InstallSpec {
	out := uv.InstallSpec{
		VersionSpec:      spec.VersionSpec,
		WithRequirements: spec.WithRequirements,
		Python:           spec.Python,
		Upgrade:          spec.Upgrade,
		Force:            spec.Force,
	}
	for _, extra := range spec.Extras {
		out.With = append(out.With, extra.Name+extra.Spec)
	}
	return out
}
