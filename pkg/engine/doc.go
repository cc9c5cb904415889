// Package engine drives reconciliation runs against the machines in a
// fleet inventory.
//
// A run moves through fixed stages: connect over SSH, collect grains,
// resolve the layered configuration, gate the resolution and the rendered
// plan through the policy engine, apply the plan's items over the
// transport, and record the outcome. Each stage can fail independently and
// failures carry their stage and machine in a classified EngineError.
//
// # Inventory
//
// The fleet is described by a YAML inventory document:
//
//	machines:
//	  - minion_id: web-01
//	    host: web-01.internal
//	    user: deploy
//	    roles: [web]
//	    pillar:
//	      tool_uv:
//	        version: "0.5.0"
//
// LoadInventory validates the document and Select picks machines by id or
// role. A machine's pillar overlay is merged over the fleet-wide pillar
// before resolution, so per-machine overrides live next to the machine's
// connection details.
//
// # Reconciliation
//
//	eng := engine.NewEngine(
//	    engine.WithStore(store),
//	    engine.WithPolicyEngine(policies),
//	    engine.WithEngineLogger(logger),
//	)
//	result, err := eng.Reconcile(ctx, machine, sources, engine.ReconcileOptions{})
//
// Apply is fail-fast: the first failing item aborts the run and the
// remaining items are reported as skipped. Dry runs render and gate the
// plan but execute nothing.
//
// Package-install items are reported but not executed; acquiring the uv
// binary itself is delegated to platform tooling.
//
// # Drift
//
// CheckDrift compares the desired tools of a resolution against what `uv
// tool list` reports on the target, consulting the package index for
// latest-version comparisons. Tool environments are inspected more deeply
// (interpreter path, injected packages) only when the desired spec
// constrains those attributes.
package engine
