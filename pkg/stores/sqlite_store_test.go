package stores

import (
	"context"
	"testing"
	"time"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	return store
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	// Check that tables exist by querying them
	tables := []string{"runs", "tool_states", "grain_cache"}
	for _, table := range tables {
		query := "SELECT COUNT(*) FROM " + table
		var count int
		err := store.db.QueryRowContext(ctx, query).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

// TestRunCRUD tests Run CRUD operations
func TestRunCRUD(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now()

	// Create
	run := &Run{
		ID:        "run-001",
		MinionID:  "node1",
		Status:    RunStatusPending,
		StartedAt: now,
		Plan:      `{"items":[]}`,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	// Read
	retrieved, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}

	if retrieved.ID != run.ID {
		t.Errorf("expected ID %s, got %s", run.ID, retrieved.ID)
	}
	if retrieved.MinionID != run.MinionID {
		t.Errorf("expected MinionID %s, got %s", run.MinionID, retrieved.MinionID)
	}
	if retrieved.Status != run.Status {
		t.Errorf("expected Status %s, got %s", run.Status, retrieved.Status)
	}

	// Update
	errMsg := "test error"
	if err := store.UpdateRunStatus(ctx, run.ID, RunStatusFailed, &errMsg); err != nil {
		t.Fatalf("failed to update run status: %v", err)
	}

	updated, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get updated run: %v", err)
	}
	if updated.Status != RunStatusFailed {
		t.Errorf("expected Status %s, got %s", RunStatusFailed, updated.Status)
	}
	if updated.Error == nil || *updated.Error != errMsg {
		t.Errorf("expected Error %q, got %v", errMsg, updated.Error)
	}
	if updated.CompletedAt == nil {
		t.Error("expected CompletedAt to be set for a failed run")
	}

	// Delete
	if err := store.DeleteRun(ctx, run.ID); err != nil {
		t.Fatalf("failed to delete run: %v", err)
	}

	if _, err := store.GetRun(ctx, run.ID); err == nil {
		t.Error("expected error getting deleted run")
	}
}

// TestListRuns tests run listing with minion filtering and pagination
func TestListRuns(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	base := time.Now()

	for i, minion := range []string{"node1", "node1", "node2"} {
		run := &Run{
			ID:        "run-00" + string(rune('1'+i)),
			MinionID:  minion,
			Status:    RunStatusCompleted,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			Plan:      "{}",
			CreatedAt: base,
			UpdatedAt: base,
		}
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatalf("failed to create run: %v", err)
		}
	}

	node1Runs, err := store.ListRuns(ctx, "node1", 10, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(node1Runs) != 2 {
		t.Errorf("expected 2 runs for node1, got %d", len(node1Runs))
	}

	allRuns, err := store.ListRuns(ctx, "", 10, 0)
	if err != nil {
		t.Fatalf("failed to list all runs: %v", err)
	}
	if len(allRuns) != 3 {
		t.Errorf("expected 3 runs total, got %d", len(allRuns))
	}
	// Most recent first
	if allRuns[0].ID != "run-003" {
		t.Errorf("expected newest run first, got %s", allRuns[0].ID)
	}

	paged, err := store.ListRuns(ctx, "", 1, 1)
	if err != nil {
		t.Fatalf("failed to page runs: %v", err)
	}
	if len(paged) != 1 {
		t.Errorf("expected 1 run per page, got %d", len(paged))
	}
}

// TestToolStateCRUD tests tool state upsert and retrieval
func TestToolStateCRUD(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now()

	state := &ToolState{
		ID:          "ts-001",
		MinionID:    "node1",
		Username:    "alice",
		Tool:        "ruff",
		Version:     "0.5.2",
		InstallSpec: ">=0.4",
		VenvPath:    "/home/alice/.local/share/uv/tools/ruff",
		State:       `{"pkgs":{"ruff":"0.5.2"}}`,
		LastRunID:   "run-001",
		LastApplied: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := store.UpsertToolState(ctx, state); err != nil {
		t.Fatalf("failed to upsert tool state: %v", err)
	}

	retrieved, err := store.GetToolState(ctx, "node1", "alice", "ruff")
	if err != nil {
		t.Fatalf("failed to get tool state: %v", err)
	}
	if retrieved.Version != "0.5.2" {
		t.Errorf("expected version 0.5.2, got %s", retrieved.Version)
	}

	// Upsert on the same key updates in place
	state.Version = "0.6.0"
	state.UpdatedAt = now.Add(time.Minute)
	if err := store.UpsertToolState(ctx, state); err != nil {
		t.Fatalf("failed to re-upsert tool state: %v", err)
	}

	updated, err := store.GetToolState(ctx, "node1", "alice", "ruff")
	if err != nil {
		t.Fatalf("failed to get updated tool state: %v", err)
	}
	if updated.Version != "0.6.0" {
		t.Errorf("expected version 0.6.0 after upsert, got %s", updated.Version)
	}

	if err := store.DeleteToolState(ctx, state.ID); err != nil {
		t.Fatalf("failed to delete tool state: %v", err)
	}
	if _, err := store.GetToolState(ctx, "node1", "alice", "ruff"); err == nil {
		t.Error("expected error getting deleted tool state")
	}
}

// TestListToolStates tests listing with the optional user filter
func TestListToolStates(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now()

	seed := []struct {
		id, user, tool string
	}{
		{"ts-001", "", "ruff"},
		{"ts-002", "alice", "copier"},
		{"ts-003", "alice", "black"},
	}
	for _, s := range seed {
		state := &ToolState{
			ID:          s.id,
			MinionID:    "node1",
			Username:    s.user,
			Tool:        s.tool,
			Version:     "1.0.0",
			LastApplied: now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := store.UpsertToolState(ctx, state); err != nil {
			t.Fatalf("failed to upsert tool state: %v", err)
		}
	}

	all, err := store.ListToolStates(ctx, "node1", nil)
	if err != nil {
		t.Fatalf("failed to list tool states: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 tool states, got %d", len(all))
	}

	alice := "alice"
	filtered, err := store.ListToolStates(ctx, "node1", &alice)
	if err != nil {
		t.Fatalf("failed to list filtered tool states: %v", err)
	}
	if len(filtered) != 2 {
		t.Errorf("expected 2 tool states for alice, got %d", len(filtered))
	}
	// Ordered by tool within a user
	if filtered[0].Tool != "black" {
		t.Errorf("expected black first, got %s", filtered[0].Tool)
	}
}

// TestGrainCache tests grain caching with TTL expiry
func TestGrainCache(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now()

	grain := &GrainRecord{
		MinionID:  "node1",
		Key:       "os_family",
		Value:     "Debian",
		TTL:       0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.UpsertGrain(ctx, grain); err != nil {
		t.Fatalf("failed to upsert grain: %v", err)
	}

	retrieved, err := store.GetGrain(ctx, "node1", "os_family")
	if err != nil {
		t.Fatalf("failed to get grain: %v", err)
	}
	if retrieved.Value != "Debian" {
		t.Errorf("expected Debian, got %s", retrieved.Value)
	}
	if retrieved.ExpiresAt != nil {
		t.Error("zero TTL should not set an expiry")
	}

	// Upsert on the same key replaces the value
	grain.Value = "RedHat"
	if err := store.UpsertGrain(ctx, grain); err != nil {
		t.Fatalf("failed to re-upsert grain: %v", err)
	}
	updated, err := store.GetGrain(ctx, "node1", "os_family")
	if err != nil {
		t.Fatalf("failed to get updated grain: %v", err)
	}
	if updated.Value != "RedHat" {
		t.Errorf("expected RedHat after upsert, got %s", updated.Value)
	}
}

// TestGrainExpiry tests that expired grains are hidden and purgeable
func TestGrainExpiry(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now()

	expired := &GrainRecord{
		MinionID:  "node1",
		Key:       "kernel",
		Value:     "6.8.0",
		TTL:       1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.UpsertGrain(ctx, expired); err != nil {
		t.Fatalf("failed to upsert grain: %v", err)
	}

	// Force the entry into the past
	past := now.Add(-time.Hour)
	if _, err := store.db.ExecContext(ctx,
		`UPDATE grain_cache SET expires_at = ? WHERE minion_id = ? AND key = ?`,
		past, "node1", "kernel"); err != nil {
		t.Fatalf("failed to backdate grain: %v", err)
	}

	if _, err := store.GetGrain(ctx, "node1", "kernel"); err == nil {
		t.Error("expected expired grain to be hidden")
	}

	listed, err := store.ListGrains(ctx, "node1")
	if err != nil {
		t.Fatalf("failed to list grains: %v", err)
	}
	if len(listed) != 0 {
		t.Errorf("expected no unexpired grains, got %d", len(listed))
	}

	deleted, err := store.DeleteExpiredGrains(ctx)
	if err != nil {
		t.Fatalf("failed to delete expired grains: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 expired grain deleted, got %d", deleted)
	}
}

// TestTransactions tests transaction begin/commit/rollback
func TestTransactions(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	tx, err := store.BeginTx(ctx)
	if err != nil {
		t.Fatalf("failed to begin transaction: %v", err)
	}
	if err := store.RollbackTx(tx); err != nil {
		t.Fatalf("failed to rollback transaction: %v", err)
	}

	tx, err = store.BeginTx(ctx)
	if err != nil {
		t.Fatalf("failed to begin transaction: %v", err)
	}
	if err := store.CommitTx(tx); err != nil {
		t.Fatalf("failed to commit transaction: %v", err)
	}
}
