package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/uvfleet/uvfleet/pkg/formula"
	"github.com/uvfleet/uvfleet/pkg/grains"
	"github.com/uvfleet/uvfleet/pkg/state"
)

// Engine evaluates Rego policies against resolved configurations and
// rendered plans.
type Engine struct {
	mu              sync.RWMutex
	policies        map[string]*compiledPolicy
	store           storage.Store
	logger          zerolog.Logger
	builtinPolicies []Policy
	environment     string
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a new policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	store := inmem.New()

	e := &Engine{
		policies:        make(map[string]*compiledPolicy),
		store:           store,
		logger:          logger.With().Str("component", "policy-engine").Logger(),
		builtinPolicies: GetBuiltinPolicies(),
	}

	// Load built-in policies
	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// SetEnvironment sets the deployment environment surfaced to policies as
// input.context.environment.
func (e *Engine) SetEnvironment(env string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.environment = env
}

// EvaluateResolution evaluates all enabled policies against a resolved
// configuration.
func (e *Engine) EvaluateResolution(ctx context.Context, res *formula.Resolution, g *grains.Grains) (*Result, error) {
	input := &Input{
		Resolution: res,
		Grains:     g,
		Context: &Context{
			Environment: e.environment,
			Timestamp:   time.Now(),
			Stage:       "resolve",
		},
	}
	result, err := e.evaluateAll(ctx, input)
	if err != nil {
		return nil, err
	}

	e.logger.Debug().
		Int("violations", len(result.Violations)).
		Dur("duration", result.Duration).
		Msg("Resolution policy evaluation completed")

	return result, nil
}

// EvaluatePlan evaluates all enabled policies against a rendered plan.
func (e *Engine) EvaluatePlan(ctx context.Context, plan *state.Plan, g *grains.Grains) (*Result, error) {
	input := &Input{
		Plan:   plan,
		Grains: g,
		Context: &Context{
			Environment: e.environment,
			Timestamp:   time.Now(),
			Stage:       "plan",
		},
	}
	result, err := e.evaluateAll(ctx, input)
	if err != nil {
		return nil, err
	}

	e.logger.Debug().
		Str("plan_id", plan.ID.String()).
		Int("violations", len(result.Violations)).
		Dur("duration", result.Duration).
		Msg("Plan policy evaluation completed")

	return result, nil
}

// evaluateAll runs every enabled policy against the input.
func (e *Engine) evaluateAll(ctx context.Context, input *Input) (*Result, error) {
	startTime := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	var allViolations []Violation
	var warnings []string
	evaluatedPolicies := make([]string, 0, len(e.policies))

	for _, cp := range e.policies {
		if !cp.policy.Enabled {
			continue
		}

		evaluatedPolicies = append(evaluatedPolicies, cp.policy.Name)

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", cp.policy.Name).
				Msg("Policy evaluation failed")
			warnings = append(warnings, fmt.Sprintf("Policy %s evaluation failed: %v", cp.policy.Name, err))
			continue
		}

		allViolations = append(allViolations, violations...)
	}

	// Determine if allowed based on violations
	allowed := true
	for i := range allViolations {
		if allViolations[i].Severity == SeverityError || allViolations[i].Severity == SeverityCritical {
			allowed = false
			break
		}
	}

	return &Result{
		Allowed:           allowed,
		Violations:        allViolations,
		Warnings:          warnings,
		EvaluatedAt:       time.Now(),
		EvaluatedPolicies: evaluatedPolicies,
		Duration:          time.Since(startTime),
	}, nil
}

// LoadPolicies loads policy files from the given paths.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	// Compile and store policies
	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			e.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("Failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")

	return nil
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	// Build the query to get all deny violations from the policy package
	packageName := extractPackageName(cp.policy.Rego)

	// Create a query specifically for deny results
	query := fmt.Sprintf("data.%s.deny", packageName)

	r := rego.New(
		rego.Module(cp.policy.Name, cp.policy.Rego),
		rego.Query(query),
		rego.Input(input),
	)

	results, err := r.Eval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation

	// Process results
	for _, result := range results {
		if len(result.Expressions) > 0 {
			// The result should be a set of violations
			if denySet, ok := result.Expressions[0].Value.([]interface{}); ok {
				for _, d := range denySet {
					violation := e.createViolation(cp.policy, d)
					violations = append(violations, violation)
				}
			}
		}
	}

	return violations, nil
}

// extractPackageName extracts the package name from Rego code.
func extractPackageName(rego string) string {
	lines := strings.Split(rego, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "uvfleet.policies"
}

// createViolation creates a Violation from a policy deny result.
func (e *Engine) createViolation(policy *Policy, result interface{}) Violation {
	violation := Violation{
		Policy:     policy.Name,
		Severity:   policy.Severity,
		DetectedAt: time.Now(),
	}

	// Extract fields from result
	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
		if user, ok := v["user"].(string); ok {
			violation.User = user
		}
		if tool, ok := v["tool"].(string); ok {
			violation.Tool = tool
		}
		if rem, ok := v["remediation"].(string); ok {
			violation.Remediation = rem
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compileAndStorePolicy compiles a policy and stores it.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	// Parse the Rego module
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	// Create a new Rego query
	r := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Store(e.store),
		rego.Query("data"),
	)

	// Prepare the query for reuse
	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		module:   module,
		query:    query,
		compiled: time.Now(),
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Msg("Policy compiled successfully")

	return nil
}

// loadBuiltinPolicies loads the built-in policies.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	for i := range e.builtinPolicies {
		if err := e.compileAndStorePolicy(ctx, &e.builtinPolicies[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", e.builtinPolicies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(e.builtinPolicies)).
		Msg("Built-in policies loaded")

	return nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	return cp.policy, nil
}

// ListPolicies returns all loaded policies.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}

	return policies
}

// ReloadPolicies reloads all policies.
func (e *Engine) ReloadPolicies(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Clear existing policies
	e.policies = make(map[string]*compiledPolicy)

	// Reload built-in policies
	return e.loadBuiltinPolicies(ctx)
}

// ReplacePolicies swaps the user-supplied policies for a freshly loaded
// set, keeping the built-in policies in place. Loader.Watch callbacks use
// this to apply policy file edits without restarting.
func (e *Engine) ReplacePolicies(ctx context.Context, policies []Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.policies = make(map[string]*compiledPolicy)
	if err := e.loadBuiltinPolicies(ctx); err != nil {
		return err
	}
	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}
	return nil
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = true
	e.logger.Info().Str("policy", name).Msg("Policy enabled")

	return nil
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = false
	e.logger.Info().Str("policy", name).Msg("Policy disabled")

	return nil
}
