package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/uvfleet/uvfleet/pkg/formula"
	"github.com/uvfleet/uvfleet/pkg/grains"
	"github.com/uvfleet/uvfleet/pkg/policy"
	"github.com/uvfleet/uvfleet/pkg/state"
	"github.com/uvfleet/uvfleet/pkg/stores"
	"github.com/uvfleet/uvfleet/pkg/telemetry"
	"github.com/uvfleet/uvfleet/pkg/transports/ssh"
	"github.com/uvfleet/uvfleet/pkg/uv"
)

// Target is the remote surface the engine reconciles against. The SSH
// transport client satisfies it; tests substitute a fake.
type Target interface {
	Run(ctx context.Context, command string) (string, error)
	ExecuteUvCommand(ctx context.Context, cmd *uv.Command) (stdout string, stderr string, err error)
	WriteFile(ctx context.Context, remotePath string, content []byte, mode uint32) error
	SetFilePermissions(ctx context.Context, remotePath string, mode uint32) error
	SetFileOwnership(ctx context.Context, remotePath string, owner string, group string) error
	SyncDotfiles(ctx context.Context, src *state.DotfileSource, owner string, group string) error
}

// Engine drives reconciliation runs: grain collection, configuration
// resolution, policy evaluation, plan rendering, drift detection and plan
// application over a transport.
type Engine struct {
	resolver *formula.Resolver
	renderer *state.Renderer
	policies *policy.Engine
	lookup   state.VersionLookup
	store    stores.Store
	opts     uv.GlobalOptions
	grainTTL time.Duration
	logger   zerolog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithStore attaches the persistence layer for runs, tool states and the
// grain cache. Without a store the engine keeps no history.
func WithStore(store stores.Store) EngineOption {
	return func(e *Engine) { e.store = store }
}

// WithPolicyEngine attaches the policy engine gating resolutions and plans.
func WithPolicyEngine(p *policy.Engine) EngineOption {
	return func(e *Engine) { e.policies = p }
}

// WithVersionLookup overrides the package index used for drift checks.
func WithVersionLookup(lookup state.VersionLookup) EngineOption {
	return func(e *Engine) { e.lookup = lookup }
}

// WithResolver overrides the configuration resolver.
func WithResolver(r *formula.Resolver) EngineOption {
	return func(e *Engine) { e.resolver = r }
}

// WithUvOptions sets the uv global options stamped onto rendered and
// observation commands.
func WithUvOptions(opts uv.GlobalOptions) EngineOption {
	return func(e *Engine) { e.opts = opts }
}

// WithGrainTTL sets how long cached grains stay valid. Zero disables
// expiry.
func WithGrainTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) { e.grainTTL = ttl }
}

// WithEngineLogger sets the engine's logger.
func WithEngineLogger(logger zerolog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger.With().Str("component", "engine").Logger() }
}

// NewEngine creates an engine with default resolver, renderer and index
// client.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		resolver: formula.NewResolver(),
		lookup:   uv.NewIndex(),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.renderer = state.NewRenderer(
		state.WithRenderLogger(e.logger),
		state.WithGlobalOptions(e.opts),
	)
	return e
}

// ReconcileOptions control one reconciliation run.
type ReconcileOptions struct {
	// DryRun renders and checks the plan but applies nothing.
	DryRun bool
}

// CollectGrains gathers grains from a machine through the given runner and
// merges in the inventory's roles. Collected grains are cached in the store
// when one is attached.
func (e *Engine) CollectGrains(ctx context.Context, machine Machine, runner grains.Runner) (grains.Grains, error) {
	g, err := grains.CollectRemote(ctx, runner)
	if err != nil {
		return grains.Grains{}, NewTransientError("grain collection failed", err).
			WithMinion(machine.ID()).WithStage("grains")
	}
	if machine.MinionID != "" {
		g.MinionID = machine.MinionID
	}
	g = g.WithRoles(machine.Roles)

	if e.store != nil {
		if err := e.cacheGrains(ctx, g); err != nil {
			e.logger.Warn().Err(err).Str("minion_id", g.MinionID).Msg("failed to cache grains")
		}
	}
	return g, nil
}

// cacheGrains writes the collected grains into the store's grain cache.
func (e *Engine) cacheGrains(ctx context.Context, g grains.Grains) error {
	now := time.Now()
	ttl := int(e.grainTTL.Seconds())
	for key, value := range map[string]string{
		"os":        g.OS,
		"os_family": g.OSFamily,
		"kernel":    g.Kernel,
		"arch":      g.Arch,
		"libc":      g.Libc,
		"roles":     strings.Join(g.Roles, ","),
	} {
		if value == "" {
			continue
		}
		record := &stores.GrainRecord{
			MinionID:  g.MinionID,
			Key:       key,
			Value:     value,
			TTL:       ttl,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := e.store.UpsertGrain(ctx, record); err != nil {
			return err
		}
	}
	return nil
}

// CachedGrains reconstructs grains from the store's cache. The second
// return value reports whether any cached values were found.
func (e *Engine) CachedGrains(ctx context.Context, minionID string) (grains.Grains, bool, error) {
	if e.store == nil {
		return grains.Grains{}, false, nil
	}
	records, err := e.store.ListGrains(ctx, minionID)
	if err != nil {
		return grains.Grains{}, false, NewTransientError("grain cache lookup failed", err).
			WithMinion(minionID).WithStage("grains").WithCode(ErrCodeStore)
	}
	if len(records) == 0 {
		return grains.Grains{}, false, nil
	}

	g := grains.Grains{MinionID: minionID}
	for _, r := range records {
		switch r.Key {
		case "os":
			g.OS = r.Value
		case "os_family":
			g.OSFamily = r.Value
		case "kernel":
			g.Kernel = r.Value
		case "arch":
			g.Arch = r.Value
		case "libc":
			g.Libc = r.Value
		case "roles":
			g.Roles = strings.Split(r.Value, ",")
		}
	}
	return g, true, nil
}

// Plan resolves the configuration for one machine and renders its plan,
// gating both through the policy engine when one is attached.
func (e *Engine) Plan(ctx context.Context, g grains.Grains, src formula.Sources) (*formula.Resolution, state.Plan, error) {
	res, err := e.resolver.Resolve(ctx, g, src)
	if err != nil {
		return nil, state.Plan{}, NewPermanentError("configuration resolution failed", err).
			WithMinion(g.MinionID).WithStage("resolve").WithCode(ErrCodeResolution)
	}

	if e.policies != nil {
		verdict, err := e.policies.EvaluateResolution(ctx, res, &g)
		if err != nil {
			return nil, state.Plan{}, NewTransientError("policy evaluation failed", err).
				WithMinion(g.MinionID).WithStage("policy")
		}
		if !verdict.Allowed {
			return nil, state.Plan{}, e.blockedError(g.MinionID, verdict)
		}
		e.logWarnings(g.MinionID, verdict)
	}

	plan, err := e.renderer.Render(*res, g)
	if err != nil {
		return nil, state.Plan{}, NewPermanentError("plan rendering failed", err).
			WithMinion(g.MinionID).WithStage("render")
	}

	if e.policies != nil {
		verdict, err := e.policies.EvaluatePlan(ctx, &plan, &g)
		if err != nil {
			return nil, state.Plan{}, NewTransientError("policy evaluation failed", err).
				WithMinion(g.MinionID).WithStage("policy")
		}
		if !verdict.Allowed {
			return nil, state.Plan{}, e.blockedError(g.MinionID, verdict)
		}
		e.logWarnings(g.MinionID, verdict)
	}

	return res, plan, nil
}

// blockedError converts a denying policy verdict into an EngineError.
func (e *Engine) blockedError(minionID string, verdict *policy.Result) *EngineError {
	messages := make([]string, 0, len(verdict.Violations))
	for _, v := range verdict.Violations {
		messages = append(messages, v.Message)
	}
	return NewBlockedError("blocked by policy", nil).
		WithMinion(minionID).WithStage("policy").
		WithDetail("violations", messages)
}

// logWarnings surfaces non-blocking policy violations.
func (e *Engine) logWarnings(minionID string, verdict *policy.Result) {
	for _, v := range verdict.Violations {
		e.logger.Warn().
			Str("minion_id", minionID).
			Str("policy", v.Policy).
			Str("user", v.User).
			Str("tool", v.Tool).
			Msg(v.Message)
	}
}

// Reconcile runs the full pipeline against one machine: connect, collect
// grains, resolve, render, apply, record. The machine's pillar overlay is
// merged over the source pillar before resolution.
func (e *Engine) Reconcile(ctx context.Context, machine Machine, src formula.Sources, opts ReconcileOptions) (*RunResult, error) {
	client, err := ssh.NewClient(machine.TransportConfig(), ssh.WithLogger(e.logger))
	if err != nil {
		return nil, NewPermanentError("invalid transport configuration", err).
			WithMinion(machine.ID()).WithCode(ErrCodeTransport)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, NewTransientError("connection failed", err).
			WithMinion(machine.ID()).WithCode(ErrCodeTransport)
	}
	defer func() {
		if err := client.Disconnect(); err != nil {
			e.logger.Warn().Err(err).Str("minion_id", machine.ID()).Msg("disconnect failed")
		}
	}()

	g, err := e.CollectGrains(ctx, machine, client)
	if err != nil {
		return nil, err
	}

	src, err = overlayPillar(src, machine)
	if err != nil {
		return nil, err
	}

	_, plan, err := e.Plan(ctx, g, src)
	if err != nil {
		return nil, err
	}

	return e.Apply(ctx, client, plan, opts)
}

// Drift connects to a machine, resolves its configuration and reports which
// desired tools have drifted from what is installed. Nothing is applied.
func (e *Engine) Drift(ctx context.Context, machine Machine, src formula.Sources) (*DriftReport, error) {
	client, err := ssh.NewClient(machine.TransportConfig(), ssh.WithLogger(e.logger))
	if err != nil {
		return nil, NewPermanentError("invalid transport configuration", err).
			WithMinion(machine.ID()).WithCode(ErrCodeTransport)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, NewTransientError("connection failed", err).
			WithMinion(machine.ID()).WithCode(ErrCodeTransport)
	}
	defer func() {
		if err := client.Disconnect(); err != nil {
			e.logger.Warn().Err(err).Str("minion_id", machine.ID()).Msg("disconnect failed")
		}
	}()

	g, err := e.CollectGrains(ctx, machine, client)
	if err != nil {
		return nil, err
	}

	src, err = overlayPillar(src, machine)
	if err != nil {
		return nil, err
	}

	res, _, err := e.Plan(ctx, g, src)
	if err != nil {
		return nil, err
	}

	return e.CheckDrift(ctx, client, res, g.MinionID)
}

// overlayPillar merges a machine's inventory pillar over the source pillar.
func overlayPillar(src formula.Sources, machine Machine) (formula.Sources, error) {
	if len(machine.Pillar) == 0 {
		return src, nil
	}
	merged, err := formula.Merge(formula.Tree{}, src.Pillar, "pillar", formula.MergeOptions{})
	if err != nil {
		return formula.Sources{}, err
	}
	merged, err = formula.Merge(merged, machine.Pillar, "inventory:pillar", formula.MergeOptions{})
	if err != nil {
		return formula.Sources{}, NewPermanentError("inventory pillar overlay failed", err).
			WithMinion(machine.ID()).WithStage("resolve")
	}
	src.Pillar = merged
	return src, nil
}

// Apply executes a rendered plan against a target. Item failures abort the
// run; remaining items are reported as skipped. Dry runs execute nothing
// and report every item as planned.
func (e *Engine) Apply(ctx context.Context, target Target, plan state.Plan, opts ReconcileOptions) (*RunResult, error) {
	runID := uuid.New().String()
	result := &RunResult{
		RunID:     runID,
		MinionID:  plan.MinionID,
		Plan:      plan,
		StartedAt: time.Now().UTC(),
	}

	if opts.DryRun {
		for _, item := range plan.Items {
			result.Items = append(result.Items, ItemResult{
				Kind:   string(item.Kind),
				User:   item.User,
				Reason: item.Reason,
				Status: ItemStatusPlanned,
			})
		}
		result.Status = stores.RunStatusCompleted
		result.Duration = time.Since(result.StartedAt)
		return result, nil
	}

	if err := e.recordRunStart(ctx, result); err != nil {
		return nil, err
	}

	ctx = telemetry.WithRunContext(ctx, runID, plan.MinionID)

	var runErr error
	for i, item := range plan.Items {
		if runErr != nil {
			result.Items = append(result.Items, ItemResult{
				Kind:   string(item.Kind),
				User:   item.User,
				Reason: item.Reason,
				Status: ItemStatusSkipped,
			})
			continue
		}

		itemCtx := telemetry.WithItemContext(ctx, runID, string(item.Kind), item.User)
		started := time.Now()
		status, err := e.applyItem(itemCtx, target, item)
		itemResult := ItemResult{
			Kind:     string(item.Kind),
			User:     item.User,
			Reason:   item.Reason,
			Status:   status,
			Duration: time.Since(started),
		}
		if err != nil {
			itemResult.Error = err.Error()
			runErr = NewPermanentError(
				fmt.Sprintf("item %d (%s) failed", i, item.Kind), err).
				WithMinion(plan.MinionID).WithStage("apply").WithCode(ErrCodeApply)
		}
		telemetry.EndItemContext(itemCtx, runID, string(item.Kind), item.User, string(status), err)
		result.Items = append(result.Items, itemResult)
	}

	if e.store != nil && runErr == nil {
		if err := e.recordToolStates(ctx, target, plan, runID); err != nil {
			e.logger.Warn().Err(err).Str("run_id", runID).Msg("failed to record tool states")
		}
	}

	result.Duration = time.Since(result.StartedAt)
	if runErr != nil {
		result.Status = stores.RunStatusFailed
		result.Error = runErr.Error()
	} else {
		result.Status = stores.RunStatusCompleted
	}

	e.recordRunEnd(ctx, result)
	telemetry.EndRunContext(ctx, runID, string(result.Status), runErr)

	e.logger.Info().
		Str("run_id", runID).
		Str("minion_id", plan.MinionID).
		Str("status", string(result.Status)).
		Int("applied", result.Applied()).
		Int("failed", result.Failed()).
		Dur("duration", result.Duration).
		Msg("run finished")

	return result, runErr
}

// applyItem executes one plan item.
func (e *Engine) applyItem(ctx context.Context, target Target, item state.Item) (ItemStatus, error) {
	switch item.Kind {
	case state.KindPackageInstall:
		// Package acquisition is the platform layer's job; the engine
		// reports what it expects to be present.
		e.logger.Info().Str("reason", item.Reason).Msg("package install delegated to platform tooling")
		return ItemStatusSkipped, nil

	case state.KindConfigFile:
		return e.applyFile(ctx, target, item.File, item.File.Content)

	case state.KindDotfileSync:
		if err := target.SyncDotfiles(ctx, item.Dotfiles, item.User, ""); err != nil {
			return ItemStatusFailed, err
		}
		return ItemStatusApplied, nil

	case state.KindCompletions:
		stdout, stderr, err := target.ExecuteUvCommand(ctx, item.Command)
		if err != nil {
			return ItemStatusFailed, fmt.Errorf("completion generation failed: %s: %w", stderr, err)
		}
		return e.applyFile(ctx, target, item.File, []byte(stdout+"\n"))

	case state.KindToolInstall, state.KindToolRemove:
		if _, stderr, err := target.ExecuteUvCommand(ctx, item.Command); err != nil {
			return ItemStatusFailed, fmt.Errorf("%s: %s: %w", item.Reason, stderr, err)
		}
		return ItemStatusApplied, nil

	default:
		return ItemStatusFailed, fmt.Errorf("unknown item kind %q", item.Kind)
	}
}

// applyFile writes a managed file and applies its ownership and mode.
func (e *Engine) applyFile(ctx context.Context, target Target, file *state.FileSpec, content []byte) (ItemStatus, error) {
	mode, err := parseMode(file.Mode)
	if err != nil {
		return ItemStatusFailed, fmt.Errorf("invalid mode for %s: %w", file.Path, err)
	}
	if err := target.WriteFile(ctx, file.Path, content, mode); err != nil {
		return ItemStatusFailed, err
	}
	if file.Owner != "" {
		if err := target.SetFileOwnership(ctx, file.Path, file.Owner, file.Group); err != nil {
			return ItemStatusFailed, err
		}
	}
	return ItemStatusApplied, nil
}

// parseMode parses an octal permission string, defaulting to 0644.
func parseMode(mode string) (uint32, error) {
	if mode == "" {
		return 0o644, nil
	}
	parsed, err := strconv.ParseUint(mode, 8, 32)
	if err != nil {
		return 0, err
	}
	return uint32(parsed), nil
}

// recordRunStart persists the run record before any item executes.
func (e *Engine) recordRunStart(ctx context.Context, result *RunResult) error {
	if e.store == nil {
		return nil
	}
	planJSON, err := json.Marshal(result.Plan)
	if err != nil {
		return fmt.Errorf("failed to serialize plan: %w", err)
	}
	now := time.Now()
	run := &stores.Run{
		ID:        result.RunID,
		MinionID:  result.MinionID,
		Status:    stores.RunStatusRunning,
		StartedAt: result.StartedAt,
		Plan:      string(planJSON),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return NewTransientError("failed to record run", err).
			WithMinion(result.MinionID).WithCode(ErrCodeStore)
	}
	return nil
}

// recordRunEnd updates the persisted run with the final status.
func (e *Engine) recordRunEnd(ctx context.Context, result *RunResult) {
	if e.store == nil {
		return
	}
	var errMsg *string
	if result.Error != "" {
		errMsg = &result.Error
	}
	if err := e.store.UpdateRunStatus(ctx, result.RunID, result.Status, errMsg); err != nil {
		e.logger.Warn().Err(err).Str("run_id", result.RunID).Msg("failed to update run status")
	}
}

// recordToolStates observes the tools now installed on the target and
// replaces the machine's stored tool states with the observation.
func (e *Engine) recordToolStates(ctx context.Context, target Target, plan state.Plan, runID string) error {
	scopes := map[string]uv.ToolScope{"": {System: true}}
	for _, item := range plan.Items {
		if item.Kind != state.KindToolInstall && item.Kind != state.KindToolRemove {
			continue
		}
		if item.User != "" {
			scopes[item.User] = uv.ToolScope{User: item.User}
		}
	}

	for username, scope := range scopes {
		observed, err := e.listTools(ctx, target, scope)
		if err != nil {
			return err
		}
		if err := e.syncStoredTools(ctx, plan.MinionID, username, runID, observed); err != nil {
			return err
		}
	}
	return nil
}

// listTools runs `uv tool list` on the target for one scope.
func (e *Engine) listTools(ctx context.Context, target Target, scope uv.ToolScope) ([]uv.InstalledTool, error) {
	cmd := uv.ToolList(scope, e.opts)
	stdout, stderr, err := target.ExecuteUvCommand(ctx, &cmd)
	if err != nil {
		return nil, NewTransientError(
			fmt.Sprintf("tool listing failed: %s", stderr), err).WithCode(ErrCodeTransport)
	}
	return uv.ParseToolList(stdout), nil
}

// syncStoredTools upserts observed tools and deletes records for tools no
// longer present.
func (e *Engine) syncStoredTools(ctx context.Context, minionID, username, runID string, observed []uv.InstalledTool) error {
	now := time.Now()
	present := make(map[string]struct{}, len(observed))
	for _, tool := range observed {
		present[tool.Name] = struct{}{}
		stateJSON, err := json.Marshal(tool)
		if err != nil {
			return err
		}
		record := &stores.ToolState{
			ID:          uuid.New().String(),
			MinionID:    minionID,
			Username:    username,
			Tool:        tool.Name,
			Version:     tool.Version,
			InstallSpec: tool.InstallSpec,
			VenvPath:    tool.VenvPath,
			State:       string(stateJSON),
			LastRunID:   runID,
			LastApplied: now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := e.store.UpsertToolState(ctx, record); err != nil {
			return err
		}
	}

	stored, err := e.store.ListToolStates(ctx, minionID, &username)
	if err != nil {
		return err
	}
	for _, record := range stored {
		if _, ok := present[record.Tool]; !ok {
			if err := e.store.DeleteToolState(ctx, record.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// CheckDrift compares the desired tools of a resolution against what is
// installed on the target. System-scope tools are keyed by name, user-scope
// tools by "user/name".
func (e *Engine) CheckDrift(ctx context.Context, target Target, res *formula.Resolution, minionID string) (*DriftReport, error) {
	report := &DriftReport{
		MinionID:  minionID,
		CheckedAt: time.Now().UTC(),
		Tools:     map[string]state.ToolDiff{},
	}

	if err := e.driftFor(ctx, target, res.Config.Tools, "", uv.ToolScope{System: true}, report); err != nil {
		return nil, err
	}
	for _, user := range res.Users {
		scope := uv.ToolScope{User: user.Name}
		if err := e.driftFor(ctx, target, user.UV.Tools, user.Name, scope, report); err != nil {
			return nil, err
		}
	}

	if tel := telemetry.FromTelemetryContext(ctx); tel != nil && tel.Events != nil {
		for key, diff := range report.Tools {
			user, tool := splitDriftKey(key)
			if err := tel.Events.PublishDriftDetected(minionID, user, tool, len(diff.Changes)+len(diff.Extras)); err != nil {
				e.logger.Warn().Err(err).Str("tool", tool).Msg("failed to publish drift event")
			}
		}
	}

	e.logger.Info().
		Str("minion_id", minionID).
		Int("drifted", len(report.Tools)).
		Msg("drift check finished")
	return report, nil
}

// driftFor checks one tool scope and records drifted tools in the report.
func (e *Engine) driftFor(ctx context.Context, target Target, tools map[string]formula.ToolSpec, user string, scope uv.ToolScope, report *DriftReport) error {
	if len(tools) == 0 {
		return nil
	}

	observed, err := e.listTools(ctx, target, scope)
	if err != nil {
		return err
	}

	lookup := e.driftLookup(ctx)

	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec := tools[name]
		current, err := e.observeTool(ctx, target, observed, name, spec)
		if err != nil {
			return err
		}
		diff, err := state.CheckTool(ctx, lookup, name, spec, current)
		if err != nil {
			return NewTransientError(
				fmt.Sprintf("drift check for %s failed", name), err).
				WithMinion(report.MinionID).WithStage("drift").WithCode(ErrCodeDrift)
		}
		if !diff.InSync() {
			report.Tools[driftKey(user, name)] = diff
		}
	}
	return nil
}

// driftLookup returns the version lookup drift checks should use,
// instrumented when telemetry rides the context.
func (e *Engine) driftLookup(ctx context.Context) state.VersionLookup {
	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		return instrumentedLookup{inner: e.lookup, tel: tel}
	}
	return e.lookup
}

// instrumentedLookup wraps a version lookup so every index query lands in
// the trace and metrics streams.
type instrumentedLookup struct {
	inner state.VersionLookup
	tel   *telemetry.Telemetry
}

func (il instrumentedLookup) LatestVersion(ctx context.Context, name, spec string) (string, error) {
	ctx, span := il.tel.Tracer.StartLookupSpan(ctx, name)
	defer span.End()

	start := time.Now()
	version, err := il.inner.LatestVersion(ctx, name, spec)

	status := "success"
	if err != nil {
		status = "error"
		telemetry.RecordError(span, err)
	} else {
		telemetry.RecordSuccess(span)
	}
	il.tel.Metrics.RecordIndexLookup(status, time.Since(start))
	return version, err
}

// observeTool builds the observed state of one tool, inspecting the tool
// environment only as deeply as the spec requires.
func (e *Engine) observeTool(ctx context.Context, target Target, observed []uv.InstalledTool, name string, spec formula.ToolSpec) (*state.CurrentTool, error) {
	tool, found := uv.FindTool(observed, name)
	if !found {
		return nil, nil
	}
	current := &state.CurrentTool{InstalledTool: tool}

	if spec.Python != "" {
		out, err := target.Run(ctx, fmt.Sprintf("readlink -f %s/bin/python", tool.VenvPath))
		if err != nil {
			e.logger.Warn().Err(err).Str("tool", name).Msg("failed to resolve tool interpreter")
		} else {
			current.Python = strings.TrimSpace(out)
		}
	}

	if len(spec.Extras) > 0 {
		cmd := uv.Command{
			Argv: []string{"uv", "pip", "list", "--format", "freeze", "--python", tool.VenvPath + "/bin/python"},
		}
		stdout, _, err := target.ExecuteUvCommand(ctx, &cmd)
		if err != nil {
			return nil, NewTransientError(
				fmt.Sprintf("failed to inspect %s environment", name), err).WithCode(ErrCodeDrift)
		}
		current.Packages = parseFreeze(stdout)
	}

	return current, nil
}

// parseFreeze parses `pip list --format freeze` style output.
func parseFreeze(out string) map[string]string {
	packages := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(strings.TrimSpace(line), "==", 2)
		if len(parts) == 2 && parts[0] != "" {
			packages[parts[0]] = parts[1]
		}
	}
	return packages
}

// splitDriftKey splits a drift report key back into user and tool.
func splitDriftKey(key string) (user, tool string) {
	if i := strings.IndexByte(key, '/'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return "", key
}
