// Package telemetry provides observability instrumentation for uvfleet.
//
// The telemetry package integrates structured logging (zerolog), distributed
// tracing (OpenTelemetry), metrics (Prometheus), and event publishing into a
// unified system for monitoring configuration resolution and reconciliation
// runs.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics for operational insights
//  4. Event Publishing - Async event system for audit and notifications
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "uvfleet"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	// Start metrics server
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
// Add telemetry to context:
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with automatic context
// propagation:
//
//	logger := tel.Logger.NewComponentLogger("resolver")
//	logger = logger.WithMinionID("web01").WithUser("alice")
//	logger.Info("Resolving user configuration")
//	logger.WithError(err).Error("Resolution failed")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Tracing provides visibility into the resolve, render, and apply stages:
//
//	ctx, span := tel.Tracer.StartResolveSpan(ctx, minionID)
//	defer span.End()
//
//	// Add attributes
//	span.SetAttributes(
//	    telemetry.AttrOSFamily.String(grains.OSFamily),
//	    telemetry.AttrArch.String(grains.Arch),
//	)
//
//	// Record merge decisions as span events
//	telemetry.AddMergeEvent(span, "pillar", "user overlay merged")
//
//	// Record errors
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	}
//
// Supported exporters: OTLP (production), Stdout (development)
//
// # Metrics
//
// Prometheus metrics track resolutions, runs, plan items, index lookups,
// and drift detections:
//
//	tel.Metrics.RecordResolution("success", duration)
//	tel.Metrics.RecordRunStarted("web01")
//	tel.Metrics.RecordRunCompleted("succeeded", duration)
//	tel.Metrics.RecordItemApplied("tool-install", "success", duration)
//	tel.Metrics.RecordIndexLookup("success", duration)
//	tel.Metrics.RecordDriftDetection("tool-install", "drifted")
//
// Metrics are exposed at the configured HTTP endpoint (default :9090/metrics).
//
// # Events
//
// The event publisher provides async notifications about run lifecycle,
// drift, and policy decisions:
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Printf("%s: %s\n", e.Type, e.Message)
//	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))
//
//	_ = tel.Events.PublishDriftDetected("web01", "alice", "ruff", 2)
//
// Filters can restrict delivery by level, type, run, or machine.
//
// # Context Helpers
//
// Run and item lifecycles can be instrumented with one call each:
//
//	ctx = telemetry.WithRunContext(ctx, runID, minionID)
//	// ... apply plan items ...
//	telemetry.EndRunContext(ctx, runID, "succeeded", nil)
package telemetry
