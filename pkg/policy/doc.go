// Package policy provides Open Policy Agent (OPA) integration for uvfleet.
//
// This package implements policy enforcement for resolved configurations and
// rendered plans using the Rego policy language. It includes built-in
// policies for common governance requirements and supports custom policy
// loading.
//
// # Architecture
//
// The policy system consists of four main components:
//
//  1. Engine - Compiles and evaluates Rego policies
//  2. Loader - Loads policies from files and directories
//  3. Types - Data structures for policies, violations, and results
//  4. Built-in Policies - Pre-defined policies for common requirements
//
// # Usage
//
// Creating a policy engine:
//
//	logger := zerolog.New(os.Stdout)
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Evaluating a resolved configuration:
//
//	result, err := eng.EvaluateResolution(ctx, resolution, &machineGrains)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if !result.Allowed {
//	    for _, violation := range result.Violations {
//	        fmt.Printf("Policy %s violated: %s\n", violation.Policy, violation.Message)
//	    }
//	}
//
// Loading custom policies:
//
//	paths := []string{
//	    "/etc/uvfleet/policies",
//	    "/opt/policies/custom.rego",
//	}
//
//	err = eng.LoadPolicies(ctx, paths)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Built-in Policies
//
// The following policies are included by default:
//
//  1. pinned-versions - Warns about tools without a version spec
//  2. offline-releases - Blocks release-archive installs under offline mode
//  3. completions-shell - Warns about completions requests without a shell
//  4. batch-removal - Warns when a plan removes many tools at once
//  5. production-latest - Blocks an unpinned uv version in production
//
// # Custom Policies
//
// Custom policies can be written in Rego and loaded from files. The input
// document carries the resolution, the plan, the machine's grains, and an
// evaluation context:
//
//	package custom.policies.roles
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.resolution
//	    some name, spec in input.resolution.config.tools
//	    "minimal" in input.grains.roles
//
//	    violation := {
//	        "message": sprintf("Role 'minimal' forbids system tools, found %s", [name]),
//	        "severity": "error",
//	        "tool": name,
//	    }
//	}
//
// # Policy Evaluation Points
//
// Policies are evaluated at two points in the uvfleet workflow:
//
//  1. Resolution evaluation - After configuration resolution, before rendering
//  2. Plan evaluation - After rendering, before application
//
// # Severity Levels
//
// Violations have four severity levels:
//
//  - info: Informational messages
//  - warning: Issues that should be reviewed but don't block operations
//  - error: Issues that block operations
//  - critical: Severe issues requiring immediate attention
//
// A rego policy declares its own severity with an annotation in its leading
// comment block:
//
//	# Blocks unpinned tools in production.
//	# severity: error
//	package fleet.pinning
//
// Without an annotation the severity defaults to warning. Individual
// violations can still override it per result.
//
// # Hot Reload
//
// The loader supports watching policy files for changes and reloading automatically:
//
//	loader := policy.NewLoader(logger)
//	err = loader.Watch(ctx, paths, func(policies []policy.Policy) error {
//	    return eng.ReplacePolicies(ctx, policies)
//	})
//
// # Performance
//
// Policies are compiled once and reused for multiple evaluations. The engine
// uses OPA's PreparedEvalQuery for optimal performance.
//
// # Context Injection
//
// Policy evaluations can include context information:
//
//  - Environment: Target environment (production, staging, etc.)
//  - Stage: Evaluation stage (resolve, plan)
//  - Timestamp: When the evaluation occurred
//  - Dry run: Whether this is a dry-run evaluation
//
// This context allows policies to make environment-aware decisions.
package policy
