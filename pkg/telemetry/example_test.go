package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/uvfleet/uvfleet/pkg/telemetry"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	// Create configuration
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = "uvfleet"
	cfg.ServiceVersion = "1.0.0"
	cfg.Metrics.Enabled = false

	// Initialize telemetry
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	// Add telemetry to context
	ctx := tel.WithContext(context.Background())

	// Use telemetry
	logger := telemetry.FromContext(ctx)
	logger.Info("uvfleet started")

	// Output can vary, so we don't specify output for this example
}

// Example_structuredLogging demonstrates structured logging features.
func Example_structuredLogging() {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Logging.Output = "stdout"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Component-specific logger
	logger := tel.Logger.NewComponentLogger("resolver")

	// Add context fields
	logger = logger.WithMinionID("web01").WithUser("alice")

	// Log at different levels
	logger.Debug("Merging pillar overlay")
	logger.Info("Configuration resolved")
	logger.WithTool("ruff", ">=0.4").Warn("Installed version outside spec")

	// Log with error
	err := fmt.Errorf("network timeout")
	logger.WithError(err).Error("Index lookup failed")

	// Output varies, no output specified
}

// Example_distributedTracing demonstrates distributed tracing usage.
func Example_distributedTracing() {
	cfg := telemetry.DefaultConfig()
	cfg.Tracing.Exporter = "none"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Span around a resolution
	ctx, span := tel.Tracer.StartResolveSpan(ctx, "web01")
	defer span.End()

	span.SetAttributes(
		telemetry.AttrOSFamily.String("Debian"),
		telemetry.AttrArch.String("x86_64"),
	)

	telemetry.AddMergeEvent(span, "pillar", "user overlay merged")

	// Nested span around one plan item
	_, itemSpan := tel.Tracer.StartItemSpan(ctx, "tool-install", "alice")
	defer itemSpan.End()

	itemSpan.SetAttributes(
		telemetry.AttrTool.String("ruff"),
		attribute.String("version_spec", ">=0.4"),
	)

	telemetry.RecordSuccess(itemSpan)

	// Output varies, no output specified
}

// Example_events demonstrates event publishing and subscription.
func Example_events() {
	cfg := telemetry.DefaultConfig()
	cfg.Metrics.Enabled = false
	cfg.Tracing.Enabled = false
	cfg.Events.EnableAsync = false

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	received := make(chan telemetry.Event, 1)
	tel.Events.Subscribe(func(e telemetry.Event) {
		received <- e
	}, telemetry.FilterByType(telemetry.EventTypeDriftDetected))

	_ = tel.Events.PublishRunStarted("run-1", "web01")
	_ = tel.Events.PublishDriftDetected("web01", "alice", "ruff", 2)

	e := <-received
	fmt.Println(e.Type, e.Tool)
	// Output: drift.detected ruff
}

// Example_runLifecycle demonstrates the run context helpers.
func Example_runLifecycle() {
	cfg := telemetry.DefaultConfig()
	cfg.Metrics.Enabled = false
	cfg.Tracing.Enabled = false
	cfg.Events.Enabled = false

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	runID := "run-42"
	ctx = telemetry.WithRunContext(ctx, runID, "web01")

	// Apply one item under the run
	itemCtx := telemetry.WithItemContext(ctx, runID, "tool-install", "alice")
	time.Sleep(time.Millisecond)
	telemetry.EndItemContext(itemCtx, runID, "tool-install", "alice", "success", nil)

	telemetry.EndRunContext(ctx, runID, "succeeded", nil)

	// Output varies, no output specified
}
