package stores

import (
	"context"
	"database/sql"
	"time"
)

// RunStatus represents the status of a reconciliation run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Run represents one reconciliation run against a machine
type Run struct {
	ID          string     `json:"id"`
	MinionID    string     `json:"minion_id"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
	Plan        string     `json:"plan"` // JSON blob of the rendered plan
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ToolState is the recorded state of one uv tool on one machine. Username
// is empty for system-wide installs.
type ToolState struct {
	ID          string    `json:"id"`
	MinionID    string    `json:"minion_id"`
	Username    string    `json:"username"`
	Tool        string    `json:"tool"`
	Version     string    `json:"version"`
	InstallSpec string    `json:"install_spec"`
	VenvPath    string    `json:"venv_path"`
	State       string    `json:"state"` // JSON blob of the full observation
	LastRunID   string    `json:"last_run_id"`
	LastApplied time.Time `json:"last_applied"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// GrainRecord is one cached grain value for a machine
type GrainRecord struct {
	MinionID  string     `json:"minion_id"`
	Key       string     `json:"key"` // e.g. "os_family", "arch"
	Value     string     `json:"value"`
	TTL       int        `json:"ttl"` // seconds, 0 = no expiry
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRunStatus(ctx context.Context, id string, status RunStatus, err *string) error
	ListRuns(ctx context.Context, minionID string, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// ToolState operations
	UpsertToolState(ctx context.Context, state *ToolState) error
	GetToolState(ctx context.Context, minionID, username, tool string) (*ToolState, error)
	ListToolStates(ctx context.Context, minionID string, username *string) ([]*ToolState, error)
	DeleteToolState(ctx context.Context, id string) error

	// Grain cache operations
	UpsertGrain(ctx context.Context, grain *GrainRecord) error
	GetGrain(ctx context.Context, minionID, key string) (*GrainRecord, error)
	ListGrains(ctx context.Context, minionID string) ([]*GrainRecord, error)
	DeleteExpiredGrains(ctx context.Context) (int64, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
