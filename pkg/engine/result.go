package engine

import (
	"fmt"
	"time"

	"github.com/uvfleet/uvfleet/pkg/state"
	"github.com/uvfleet/uvfleet/pkg/stores"
)

// ItemStatus is the outcome of applying one plan item.
type ItemStatus string

const (
	// ItemStatusApplied means the item was executed successfully.
	ItemStatusApplied ItemStatus = "applied"

	// ItemStatusFailed means the item was executed and failed.
	ItemStatusFailed ItemStatus = "failed"

	// ItemStatusSkipped means the item was not executed, either because
	// its kind is outside the engine's execution scope or because an
	// earlier failure aborted the run.
	ItemStatusSkipped ItemStatus = "skipped"

	// ItemStatusPlanned means the item was rendered but not executed
	// because the run was a dry run.
	ItemStatusPlanned ItemStatus = "planned"
)

// ItemResult records the outcome of one plan item.
type ItemResult struct {
	// Kind and User identify the item within its plan.
	Kind string `json:"kind"`
	User string `json:"user,omitempty"`

	// Reason is the item's statement of intent, carried from the plan.
	Reason string `json:"reason"`

	// Status is the outcome.
	Status ItemStatus `json:"status"`

	// Error holds the failure message for failed items.
	Error string `json:"error,omitempty"`

	// Duration is how long the item took to apply.
	Duration time.Duration `json:"duration"`
}

// RunResult is the outcome of one reconciliation run against a machine.
type RunResult struct {
	// RunID identifies the run in the store and in telemetry.
	RunID string `json:"run_id"`

	// MinionID is the machine the run targeted.
	MinionID string `json:"minion_id"`

	// Status is the final run status.
	Status stores.RunStatus `json:"status"`

	// Plan is the rendered plan the run applied.
	Plan state.Plan `json:"plan"`

	// Items are the per-item outcomes, in plan order.
	Items []ItemResult `json:"items"`

	// StartedAt and Duration bound the run.
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	// Error holds the run-level failure message, if any.
	Error string `json:"error,omitempty"`
}

// Applied returns the number of successfully applied items.
func (r *RunResult) Applied() int {
	return r.countStatus(ItemStatusApplied)
}

// Failed returns the number of failed items.
func (r *RunResult) Failed() int {
	return r.countStatus(ItemStatusFailed)
}

func (r *RunResult) countStatus(status ItemStatus) int {
	n := 0
	for _, item := range r.Items {
		if item.Status == status {
			n++
		}
	}
	return n
}

// Summary returns a one-line human-readable account of the run.
func (r *RunResult) Summary() string {
	return fmt.Sprintf("run %s on %s: %s (%d applied, %d failed, %d of %d items)",
		r.RunID, r.MinionID, r.Status, r.Applied(), r.Failed(), len(r.Items), len(r.Plan.Items))
}

// DriftReport records the drifted tools found on one machine. Keys are
// "user/tool" for user-scope tools and plain tool names for system scope.
type DriftReport struct {
	// MinionID is the inspected machine.
	MinionID string `json:"minion_id"`

	// CheckedAt is when the inspection ran.
	CheckedAt time.Time `json:"checked_at"`

	// Tools maps drifted tools to their diffs. In-sync tools are omitted.
	Tools map[string]state.ToolDiff `json:"tools,omitempty"`
}

// InSync reports whether no drift was found.
func (d *DriftReport) InSync() bool {
	return len(d.Tools) == 0
}

// driftKey names one tool within a drift report.
func driftKey(user, tool string) string {
	if user == "" {
		return tool
	}
	return user + "/" + tool
}
