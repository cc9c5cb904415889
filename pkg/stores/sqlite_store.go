package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		path: cfg.Path,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Ensure foreign keys are enabled (connection-level setting)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// CommitTx commits a transaction
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls back a transaction
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

// CreateRun creates a new run record
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO runs (id, minion_id, status, started_at, completed_at, error, plan, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.MinionID,
		run.Status,
		run.StartedAt,
		run.CompletedAt,
		run.Error,
		run.Plan,
		run.CreatedAt,
		run.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, minion_id, status, started_at, completed_at, error, plan, created_at, updated_at
		FROM runs
		WHERE id = ?
	`

	run := &Run{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.MinionID,
		&run.Status,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Error,
		&run.Plan,
		&run.CreatedAt,
		&run.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// UpdateRunStatus updates the status of a run
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, id string, status RunStatus, errMsg *string) error {
	query := `
		UPDATE runs
		SET status = ?, error = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`

	now := time.Now()
	var completedAt *time.Time
	if status == RunStatusCompleted || status == RunStatusFailed || status == RunStatusCancelled {
		completedAt = &now
	}

	result, err := s.db.ExecContext(ctx, query, status, errMsg, completedAt, now, id)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}

	return nil
}

// ListRuns lists runs for a machine with pagination. An empty minion id
// lists runs for all machines.
func (s *SQLiteStore) ListRuns(ctx context.Context, minionID string, limit, offset int) ([]*Run, error) {
	query := `
		SELECT id, minion_id, status, started_at, completed_at, error, plan, created_at, updated_at
		FROM runs
		WHERE (? = '' OR minion_id = ?)
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, minionID, minionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run := &Run{}
		err := rows.Scan(
			&run.ID,
			&run.MinionID,
			&run.Status,
			&run.StartedAt,
			&run.CompletedAt,
			&run.Error,
			&run.Plan,
			&run.CreatedAt,
			&run.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// DeleteRun deletes a run by ID
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}

	return nil
}

// UpsertToolState inserts or updates a tool state record, keyed by
// machine, user and tool name.
func (s *SQLiteStore) UpsertToolState(ctx context.Context, state *ToolState) error {
	query := `
		INSERT INTO tool_states (id, minion_id, username, tool, version, install_spec, venv_path, state, last_run_id, last_applied, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(minion_id, username, tool) DO UPDATE SET
			version = excluded.version,
			install_spec = excluded.install_spec,
			venv_path = excluded.venv_path,
			state = excluded.state,
			last_run_id = excluded.last_run_id,
			last_applied = excluded.last_applied,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		state.ID,
		state.MinionID,
		state.Username,
		state.Tool,
		state.Version,
		state.InstallSpec,
		state.VenvPath,
		state.State,
		state.LastRunID,
		state.LastApplied,
		state.CreatedAt,
		state.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert tool state: %w", err)
	}

	return nil
}

// GetToolState retrieves the recorded state of one tool. Username is empty
// for system-wide installs.
func (s *SQLiteStore) GetToolState(ctx context.Context, minionID, username, tool string) (*ToolState, error) {
	query := `
		SELECT id, minion_id, username, tool, version, install_spec, venv_path, state, last_run_id, last_applied, created_at, updated_at
		FROM tool_states
		WHERE minion_id = ? AND username = ? AND tool = ?
	`

	state := &ToolState{}
	err := s.db.QueryRowContext(ctx, query, minionID, username, tool).Scan(
		&state.ID,
		&state.MinionID,
		&state.Username,
		&state.Tool,
		&state.Version,
		&state.InstallSpec,
		&state.VenvPath,
		&state.State,
		&state.LastRunID,
		&state.LastApplied,
		&state.CreatedAt,
		&state.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("tool state not found: %s/%s/%s", minionID, username, tool)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tool state: %w", err)
	}

	return state, nil
}

// ListToolStates lists recorded tool states for a machine, optionally
// filtered by user.
func (s *SQLiteStore) ListToolStates(ctx context.Context, minionID string, username *string) ([]*ToolState, error) {
	query := `
		SELECT id, minion_id, username, tool, version, install_spec, venv_path, state, last_run_id, last_applied, created_at, updated_at
		FROM tool_states
		WHERE minion_id = ?
	`
	args := []interface{}{minionID}

	if username != nil {
		query += " AND username = ?"
		args = append(args, *username)
	}
	query += " ORDER BY username, tool"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tool states: %w", err)
	}
	defer rows.Close()

	states := []*ToolState{}
	for rows.Next() {
		state := &ToolState{}
		err := rows.Scan(
			&state.ID,
			&state.MinionID,
			&state.Username,
			&state.Tool,
			&state.Version,
			&state.InstallSpec,
			&state.VenvPath,
			&state.State,
			&state.LastRunID,
			&state.LastApplied,
			&state.CreatedAt,
			&state.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tool state: %w", err)
		}
		states = append(states, state)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tool states: %w", err)
	}

	return states, nil
}

// DeleteToolState deletes a tool state record by ID
func (s *SQLiteStore) DeleteToolState(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tool_states WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete tool state: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("tool state not found: %s", id)
	}

	return nil
}

// UpsertGrain inserts or updates a cached grain value
func (s *SQLiteStore) UpsertGrain(ctx context.Context, grain *GrainRecord) error {
	query := `
		INSERT INTO grain_cache (minion_id, key, value, ttl, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(minion_id, key) DO UPDATE SET
			value = excluded.value,
			ttl = excluded.ttl,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`

	var expiresAt *time.Time
	if grain.TTL > 0 {
		t := time.Now().Add(time.Duration(grain.TTL) * time.Second)
		expiresAt = &t
	}
	grain.ExpiresAt = expiresAt

	_, err := s.db.ExecContext(ctx, query,
		grain.MinionID,
		grain.Key,
		grain.Value,
		grain.TTL,
		grain.ExpiresAt,
		grain.CreatedAt,
		grain.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert grain: %w", err)
	}

	return nil
}

// GetGrain retrieves a cached grain value, skipping expired entries
func (s *SQLiteStore) GetGrain(ctx context.Context, minionID, key string) (*GrainRecord, error) {
	query := `
		SELECT minion_id, key, value, ttl, expires_at, created_at, updated_at
		FROM grain_cache
		WHERE minion_id = ? AND key = ?
			AND (expires_at IS NULL OR expires_at > ?)
	`

	grain := &GrainRecord{}
	err := s.db.QueryRowContext(ctx, query, minionID, key, time.Now()).Scan(
		&grain.MinionID,
		&grain.Key,
		&grain.Value,
		&grain.TTL,
		&grain.ExpiresAt,
		&grain.CreatedAt,
		&grain.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("grain not found: %s/%s", minionID, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get grain: %w", err)
	}

	return grain, nil
}

// ListGrains lists unexpired cached grains for a machine
func (s *SQLiteStore) ListGrains(ctx context.Context, minionID string) ([]*GrainRecord, error) {
	query := `
		SELECT minion_id, key, value, ttl, expires_at, created_at, updated_at
		FROM grain_cache
		WHERE minion_id = ?
			AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY key
	`

	rows, err := s.db.QueryContext(ctx, query, minionID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to list grains: %w", err)
	}
	defer rows.Close()

	grains := []*GrainRecord{}
	for rows.Next() {
		grain := &GrainRecord{}
		err := rows.Scan(
			&grain.MinionID,
			&grain.Key,
			&grain.Value,
			&grain.TTL,
			&grain.ExpiresAt,
			&grain.CreatedAt,
			&grain.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan grain: %w", err)
		}
		grains = append(grains, grain)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating grains: %w", err)
	}

	return grains, nil
}

// DeleteExpiredGrains removes expired grain cache entries and returns the
// number deleted
func (s *SQLiteStore) DeleteExpiredGrains(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM grain_cache WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		time.Now(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired grains: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// HealthCheck verifies the database connection is alive
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}
