package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/uvfleet/uvfleet/pkg/formula"
	"github.com/uvfleet/uvfleet/pkg/grains"
	"github.com/uvfleet/uvfleet/pkg/policy"
	"github.com/uvfleet/uvfleet/pkg/state"
	"github.com/uvfleet/uvfleet/pkg/stores"
	"github.com/uvfleet/uvfleet/pkg/telemetry"
	"github.com/uvfleet/uvfleet/pkg/uv"
)

// fakeTarget records every remote operation and answers from canned
// outputs keyed by uv subcommand verb.
type fakeTarget struct {
	runOutputs map[string]string
	uvOutputs  map[string]string
	uvErrs     map[string]error

	commands []string
	uvCalls  []string
	writes   map[string][]byte
	modes    map[string]uint32
	chowns   map[string]string
	syncs    []*state.DotfileSource
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{
		runOutputs: map[string]string{},
		uvOutputs:  map[string]string{},
		uvErrs:     map[string]error{},
		writes:     map[string][]byte{},
		modes:      map[string]uint32{},
		chowns:     map[string]string{},
	}
}

func (f *fakeTarget) Run(ctx context.Context, command string) (string, error) {
	f.commands = append(f.commands, command)
	return f.runOutputs[command], nil
}

func (f *fakeTarget) ExecuteUvCommand(ctx context.Context, cmd *uv.Command) (string, string, error) {
	f.uvCalls = append(f.uvCalls, strings.Join(cmd.Argv, " "))
	verb := ""
	if len(cmd.Argv) > 2 {
		verb = cmd.Argv[2]
	}
	if err := f.uvErrs[verb]; err != nil {
		return "", "error output", err
	}
	return f.uvOutputs[verb], "", nil
}

func (f *fakeTarget) WriteFile(ctx context.Context, remotePath string, content []byte, mode uint32) error {
	f.writes[remotePath] = content
	f.modes[remotePath] = mode
	return nil
}

func (f *fakeTarget) SetFilePermissions(ctx context.Context, remotePath string, mode uint32) error {
	f.modes[remotePath] = mode
	return nil
}

func (f *fakeTarget) SetFileOwnership(ctx context.Context, remotePath, owner, group string) error {
	f.chowns[remotePath] = owner + ":" + group
	return nil
}

func (f *fakeTarget) SyncDotfiles(ctx context.Context, src *state.DotfileSource, owner, group string) error {
	f.syncs = append(f.syncs, src)
	return nil
}

// memStore is an in-memory stores.Store for engine tests.
type memStore struct {
	runs       map[string]*stores.Run
	toolStates map[string]*stores.ToolState
	grains     map[string]*stores.GrainRecord
}

func newMemStore() *memStore {
	return &memStore{
		runs:       map[string]*stores.Run{},
		toolStates: map[string]*stores.ToolState{},
		grains:     map[string]*stores.GrainRecord{},
	}
}

func (s *memStore) Init(ctx context.Context) error    { return nil }
func (s *memStore) Close() error                      { return nil }
func (s *memStore) Migrate(ctx context.Context) error { return nil }

func (s *memStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return nil, errors.New("transactions not supported")
}
func (s *memStore) CommitTx(tx *sql.Tx) error   { return nil }
func (s *memStore) RollbackTx(tx *sql.Tx) error { return nil }

func (s *memStore) CreateRun(ctx context.Context, run *stores.Run) error {
	s.runs[run.ID] = run
	return nil
}

func (s *memStore) GetRun(ctx context.Context, id string) (*stores.Run, error) {
	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	return run, nil
}

func (s *memStore) UpdateRunStatus(ctx context.Context, id string, status stores.RunStatus, errMsg *string) error {
	run, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("run not found: %s", id)
	}
	run.Status = status
	run.Error = errMsg
	return nil
}

func (s *memStore) ListRuns(ctx context.Context, minionID string, limit, offset int) ([]*stores.Run, error) {
	var out []*stores.Run
	for _, run := range s.runs {
		if minionID == "" || run.MinionID == minionID {
			out = append(out, run)
		}
	}
	return out, nil
}

func (s *memStore) DeleteRun(ctx context.Context, id string) error {
	delete(s.runs, id)
	return nil
}

func toolKey(minionID, username, tool string) string {
	return minionID + "/" + username + "/" + tool
}

func (s *memStore) UpsertToolState(ctx context.Context, st *stores.ToolState) error {
	s.toolStates[toolKey(st.MinionID, st.Username, st.Tool)] = st
	return nil
}

func (s *memStore) GetToolState(ctx context.Context, minionID, username, tool string) (*stores.ToolState, error) {
	st, ok := s.toolStates[toolKey(minionID, username, tool)]
	if !ok {
		return nil, fmt.Errorf("tool state not found")
	}
	return st, nil
}

func (s *memStore) ListToolStates(ctx context.Context, minionID string, username *string) ([]*stores.ToolState, error) {
	var out []*stores.ToolState
	for _, st := range s.toolStates {
		if st.MinionID != minionID {
			continue
		}
		if username != nil && st.Username != *username {
			continue
		}
		out = append(out, st)
	}
	return out, nil
}

func (s *memStore) DeleteToolState(ctx context.Context, id string) error {
	for key, st := range s.toolStates {
		if st.ID == id {
			delete(s.toolStates, key)
			return nil
		}
	}
	return fmt.Errorf("tool state not found: %s", id)
}

func (s *memStore) UpsertGrain(ctx context.Context, grain *stores.GrainRecord) error {
	s.grains[grain.MinionID+"/"+grain.Key] = grain
	return nil
}

func (s *memStore) GetGrain(ctx context.Context, minionID, key string) (*stores.GrainRecord, error) {
	g, ok := s.grains[minionID+"/"+key]
	if !ok {
		return nil, fmt.Errorf("grain not found")
	}
	return g, nil
}

func (s *memStore) ListGrains(ctx context.Context, minionID string) ([]*stores.GrainRecord, error) {
	var out []*stores.GrainRecord
	for _, g := range s.grains {
		if g.MinionID == minionID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *memStore) DeleteExpiredGrains(ctx context.Context) (int64, error) { return 0, nil }
func (s *memStore) HealthCheck(ctx context.Context) error                  { return nil }

// fixedLookup answers every latest-version query with one version.
type fixedLookup struct {
	version string
}

func (l fixedLookup) LatestVersion(ctx context.Context, name, spec string) (string, error) {
	return l.version, nil
}

func testGrains() grains.Grains {
	return grains.Grains{
		MinionID: "web-01",
		OS:       "ubuntu",
		OSFamily: "Debian",
		Arch:     "x86_64",
		Libc:     "gnu",
		Roles:    []string{"web"},
	}
}

func TestPlan_RendersPackageItem(t *testing.T) {
	eng := NewEngine()
	src := formula.Sources{
		Pillar: formula.Tree{
			"tool_uv": map[string]any{"version": "0.5.0"},
		},
	}

	res, plan, err := eng.Plan(context.Background(), testGrains(), src)
	if err != nil {
		t.Fatalf("Plan() failed: %v", err)
	}
	if res.Config.Version != "0.5.0" {
		t.Errorf("expected version 0.5.0, got %s", res.Config.Version)
	}

	installs := plan.ItemsOfKind(state.KindPackageInstall)
	if len(installs) != 1 {
		t.Fatalf("expected 1 package item, got %d", len(installs))
	}
	if !strings.Contains(installs[0].Package.URL, "0.5.0") {
		t.Errorf("expected release URL to carry the version, got %s", installs[0].Package.URL)
	}
}

func TestPlan_PolicyBlocks(t *testing.T) {
	policies, err := policy.NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create policy engine: %v", err)
	}
	eng := NewEngine(WithPolicyEngine(policies))

	// Offline mode with the releases install method can never succeed;
	// the builtin policy blocks it at resolve time.
	src := formula.Sources{
		Pillar: formula.Tree{
			"tool_uv": map[string]any{
				"version": "0.5.0",
				"config":  map[string]any{"offline": true},
			},
		},
	}

	_, _, err = eng.Plan(context.Background(), testGrains(), src)
	if err == nil {
		t.Fatal("expected a policy block")
	}
	if !IsBlocked(err) {
		t.Errorf("expected a blocked error, got %v", err)
	}
}

func testPlanItems() state.Plan {
	return state.Plan{
		MinionID: "web-01",
		Items: []state.Item{
			{
				Kind:    state.KindPackageInstall,
				Reason:  "install uv 0.5.0 from release archive",
				Package: &state.PackageSource{URL: "https://example.com/uv.tar.gz"},
			},
			{
				Kind:   state.KindConfigFile,
				User:   "alice",
				Reason: "write /home/alice/.config/uv/uv.toml",
				File: &state.FileSpec{
					Path:    "/home/alice/.config/uv/uv.toml",
					Content: []byte("offline = false\n"),
					Owner:   "alice",
					Group:   "alice",
					Mode:    "0644",
				},
			},
			{
				Kind:   state.KindDotfileSync,
				User:   "alice",
				Reason: "sync dotfiles into /home/alice/.config/uv",
				Dotfiles: &state.DotfileSource{
					Candidates: []string{"dotconfig/web-01/alice/uv"},
					Dest:       "/home/alice/.config/uv",
				},
			},
			{
				Kind:   state.KindToolInstall,
				User:   "alice",
				Reason: "install tool ruff==0.4.0",
				Command: &uv.Command{
					Argv: []string{"uv", "tool", "install", "ruff==0.4.0"},
					User: "alice",
				},
			},
		},
	}
}

func TestApply_AppliesItems(t *testing.T) {
	target := newFakeTarget()
	target.uvOutputs["list"] = "ruff v0.4.0 [required: ==0.4.0] (/home/alice/.local/share/uv/tools/ruff)"
	store := newMemStore()
	eng := NewEngine(WithStore(store))

	result, err := eng.Apply(context.Background(), target, testPlanItems(), ReconcileOptions{})
	if err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}

	if result.Status != stores.RunStatusCompleted {
		t.Errorf("expected completed run, got %s", result.Status)
	}
	if result.Applied() != 3 {
		t.Errorf("expected 3 applied items, got %d", result.Applied())
	}

	// Package installs are delegated, not executed.
	if result.Items[0].Status != ItemStatusSkipped {
		t.Errorf("expected package item skipped, got %s", result.Items[0].Status)
	}

	// Config file written with ownership applied.
	content, ok := target.writes["/home/alice/.config/uv/uv.toml"]
	if !ok {
		t.Fatal("expected config file to be written")
	}
	if string(content) != "offline = false\n" {
		t.Errorf("unexpected config content: %s", content)
	}
	if target.chowns["/home/alice/.config/uv/uv.toml"] != "alice:alice" {
		t.Errorf("expected alice:alice ownership, got %s", target.chowns["/home/alice/.config/uv/uv.toml"])
	}

	// Dotfiles synced.
	if len(target.syncs) != 1 || target.syncs[0].Dest != "/home/alice/.config/uv" {
		t.Errorf("expected one dotfile sync to the user's config dir")
	}

	// Tool installed.
	found := false
	for _, call := range target.uvCalls {
		if call == "uv tool install ruff==0.4.0" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected tool install call, got %v", target.uvCalls)
	}

	// Run recorded and completed.
	run, err := store.GetRun(context.Background(), result.RunID)
	if err != nil {
		t.Fatalf("run not recorded: %v", err)
	}
	if run.Status != stores.RunStatusCompleted {
		t.Errorf("expected recorded run completed, got %s", run.Status)
	}

	// Observed tool state recorded for alice.
	st, err := store.GetToolState(context.Background(), "web-01", "alice", "ruff")
	if err != nil {
		t.Fatalf("tool state not recorded: %v", err)
	}
	if st.Version != "0.4.0" || st.InstallSpec != "==0.4.0" {
		t.Errorf("unexpected recorded tool state: %+v", st)
	}
}

func TestApply_FailFast(t *testing.T) {
	target := newFakeTarget()
	target.uvErrs["install"] = errors.New("install exploded")
	store := newMemStore()
	eng := NewEngine(WithStore(store))

	plan := testPlanItems()
	// Move the tool install before the dotfile sync to leave a
	// skipped item behind it.
	plan.Items[2], plan.Items[3] = plan.Items[3], plan.Items[2]

	result, err := eng.Apply(context.Background(), target, plan, ReconcileOptions{})
	if err == nil {
		t.Fatal("expected a run failure")
	}
	if result.Status != stores.RunStatusFailed {
		t.Errorf("expected failed run, got %s", result.Status)
	}
	if result.Failed() != 1 {
		t.Errorf("expected 1 failed item, got %d", result.Failed())
	}
	if result.Items[3].Status != ItemStatusSkipped {
		t.Errorf("expected trailing item skipped, got %s", result.Items[3].Status)
	}
	if len(target.syncs) != 0 {
		t.Error("items after a failure must not execute")
	}

	run, err := store.GetRun(context.Background(), result.RunID)
	if err != nil {
		t.Fatalf("run not recorded: %v", err)
	}
	if run.Status != stores.RunStatusFailed {
		t.Errorf("expected recorded run failed, got %s", run.Status)
	}
	if run.Error == nil {
		t.Error("expected recorded run error")
	}
}

func TestApply_DryRun(t *testing.T) {
	target := newFakeTarget()
	eng := NewEngine()

	result, err := eng.Apply(context.Background(), target, testPlanItems(), ReconcileOptions{DryRun: true})
	if err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}

	for _, item := range result.Items {
		if item.Status != ItemStatusPlanned {
			t.Errorf("expected planned item, got %s", item.Status)
		}
	}
	if len(target.uvCalls) != 0 || len(target.writes) != 0 || len(target.syncs) != 0 {
		t.Error("dry run must not touch the target")
	}
}

func TestCheckDrift(t *testing.T) {
	target := newFakeTarget()
	target.uvOutputs["list"] = "ruff v0.4.0 [required: ==0.4.0] (/opt/uv/tools/ruff)"
	eng := NewEngine(WithVersionLookup(fixedLookup{version: "0.4.1"}))

	t.Run("spec change is drift", func(t *testing.T) {
		res := &formula.Resolution{
			Config: formula.Config{
				Tools: map[string]formula.ToolSpec{
					"ruff": {VersionSpec: "==0.4.1"},
				},
			},
		}
		report, err := eng.CheckDrift(context.Background(), target, res, "web-01")
		if err != nil {
			t.Fatalf("CheckDrift() failed: %v", err)
		}
		if report.InSync() {
			t.Fatal("expected drift")
		}
		diff, ok := report.Tools["ruff"]
		if !ok {
			t.Fatalf("expected ruff in report, got %v", report.Tools)
		}
		if _, ok := diff.Changes["version_spec"]; !ok {
			t.Errorf("expected version_spec change, got %v", diff.Changes)
		}
	})

	t.Run("matching install is in sync", func(t *testing.T) {
		inSyncEng := NewEngine(WithVersionLookup(fixedLookup{version: "0.4.0"}))
		res := &formula.Resolution{
			Config: formula.Config{
				Tools: map[string]formula.ToolSpec{
					"ruff": {VersionSpec: "==0.4.0"},
				},
			},
		}
		report, err := inSyncEng.CheckDrift(context.Background(), target, res, "web-01")
		if err != nil {
			t.Fatalf("CheckDrift() failed: %v", err)
		}
		if !report.InSync() {
			t.Errorf("expected in-sync report, got %v", report.Tools)
		}
	})

	t.Run("missing tool requires install", func(t *testing.T) {
		res := &formula.Resolution{
			Users: []formula.UserSpec{
				{
					Name: "alice",
					UV: formula.UserUV{
						Tools: map[string]formula.ToolSpec{
							"copier": {},
						},
					},
				},
			},
		}
		report, err := eng.CheckDrift(context.Background(), target, res, "web-01")
		if err != nil {
			t.Fatalf("CheckDrift() failed: %v", err)
		}
		diff, ok := report.Tools["alice/copier"]
		if !ok {
			t.Fatalf("expected alice/copier in report, got %v", report.Tools)
		}
		if !diff.RequiresInstall {
			t.Error("expected a missing tool to require install")
		}
	})

	t.Run("event publish failures do not fail the check", func(t *testing.T) {
		cfg := telemetry.DefaultConfig()
		cfg.Logging.Level = "error"
		cfg.Tracing.Enabled = false
		cfg.Events.BufferSize = 1

		tel, err := telemetry.NewTelemetry(cfg)
		if err != nil {
			t.Fatalf("NewTelemetry() failed: %v", err)
		}

		// Stop the publisher so drift events pile up in the one-slot
		// buffer and the second publish is rejected.
		if err := tel.Events.Shutdown(context.Background()); err != nil {
			t.Fatalf("event shutdown failed: %v", err)
		}
		ctx := tel.WithContext(context.Background())

		res := &formula.Resolution{
			Config: formula.Config{
				Tools: map[string]formula.ToolSpec{
					"ruff": {VersionSpec: "==0.4.1"},
				},
			},
			Users: []formula.UserSpec{
				{
					Name: "alice",
					UV: formula.UserUV{
						Tools: map[string]formula.ToolSpec{
							"copier": {},
						},
					},
				},
			},
		}
		report, err := eng.CheckDrift(ctx, target, res, "web-01")
		if err != nil {
			t.Fatalf("CheckDrift() failed: %v", err)
		}
		if len(report.Tools) != 2 {
			t.Errorf("report tools = %v, want ruff and alice/copier", report.Tools)
		}
	})
}

func TestGrainCacheRoundTrip(t *testing.T) {
	store := newMemStore()
	eng := NewEngine(WithStore(store), WithGrainTTL(time.Hour))

	g := testGrains()
	if err := eng.cacheGrains(context.Background(), g); err != nil {
		t.Fatalf("cacheGrains() failed: %v", err)
	}

	cached, found, err := eng.CachedGrains(context.Background(), "web-01")
	if err != nil {
		t.Fatalf("CachedGrains() failed: %v", err)
	}
	if !found {
		t.Fatal("expected cached grains")
	}
	if cached.OSFamily != g.OSFamily || cached.Arch != g.Arch || cached.Libc != g.Libc {
		t.Errorf("cached grains mismatch: %+v", cached)
	}
	if len(cached.Roles) != 1 || cached.Roles[0] != "web" {
		t.Errorf("expected roles to round-trip, got %v", cached.Roles)
	}
}

func TestCachedGrains_Empty(t *testing.T) {
	eng := NewEngine(WithStore(newMemStore()))

	_, found, err := eng.CachedGrains(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("CachedGrains() failed: %v", err)
	}
	if found {
		t.Error("expected no cached grains for unknown machine")
	}
}
