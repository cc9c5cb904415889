package policy

import (
	"time"

	"github.com/uvfleet/uvfleet/pkg/formula"
	"github.com/uvfleet/uvfleet/pkg/grains"
	"github.com/uvfleet/uvfleet/pkg/state"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that should block operations.
	SeverityError Severity = "error"

	// SeverityCritical is for critical violations that must be addressed immediately.
	SeverityCritical Severity = "critical"
)

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// User is the managed user the violation concerns, if any.
	User string `json:"user,omitempty"`

	// Tool is the uv tool the violation concerns, if any.
	Tool string `json:"tool,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`

	// Remediation provides suggested fixes.
	Remediation string `json:"remediation,omitempty"`

	// DetectedAt is when the violation was detected.
	DetectedAt time.Time `json:"detected_at"`
}

// Result represents the result of policy evaluation.
type Result struct {
	// Allowed indicates if the operation is allowed.
	Allowed bool `json:"allowed"`

	// Violations lists all policy violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists evaluation problems that did not block the run,
	// such as a policy that failed to evaluate.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedAt is when the policy was evaluated.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Input represents the input data for policy evaluation. Exactly the fields
// relevant to the evaluation stage are set: resolution checks carry the
// resolved configuration, plan checks carry the rendered plan.
type Input struct {
	// Resolution is the resolved configuration being evaluated.
	Resolution *formula.Resolution `json:"resolution,omitempty"`

	// Plan is the rendered plan being evaluated.
	Plan *state.Plan `json:"plan,omitempty"`

	// Grains are the target machine's grains.
	Grains *grains.Grains `json:"grains,omitempty"`

	// Context provides additional evaluation context.
	Context *Context `json:"context"`
}

// Context provides context information for policy evaluation.
type Context struct {
	// Environment is the environment (e.g., "production", "staging").
	Environment string `json:"environment,omitempty"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`

	// Stage is the evaluation stage ("resolve" or "plan").
	Stage string `json:"stage,omitempty"`

	// DryRun indicates if this is a dry-run evaluation.
	DryRun bool `json:"dry_run"`

	// Metadata contains additional context metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Summary provides aggregate statistics for policy evaluation.
type Summary struct {
	// TotalPolicies is the total number of policies evaluated.
	TotalPolicies int `json:"total_policies"`

	// TotalViolations is the total number of violations.
	TotalViolations int `json:"total_violations"`

	// ViolationsBySeverity breaks down violations by severity.
	ViolationsBySeverity map[Severity]int `json:"violations_by_severity"`

	// AllowedOperations is the number of allowed operations.
	AllowedOperations int `json:"allowed_operations"`

	// BlockedOperations is the number of blocked operations.
	BlockedOperations int `json:"blocked_operations"`

	// EvaluationDuration is the total evaluation time.
	EvaluationDuration time.Duration `json:"evaluation_duration"`
}

// Summarize aggregates a set of results into a summary.
func Summarize(results []*Result) *Summary {
	s := &Summary{
		ViolationsBySeverity: make(map[Severity]int),
	}
	for _, r := range results {
		s.TotalPolicies += len(r.EvaluatedPolicies)
		s.TotalViolations += len(r.Violations)
		s.EvaluationDuration += r.Duration
		for i := range r.Violations {
			s.ViolationsBySeverity[r.Violations[i].Severity]++
		}
		if r.Allowed {
			s.AllowedOperations++
		} else {
			s.BlockedOperations++
		}
	}
	return s
}
