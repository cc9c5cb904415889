package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles the logging, tracing, metrics, and event components a
// uvfleet process carries through its context.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

type telemetryContextKey struct{}

// NewTelemetry initializes every telemetry component from one config.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}
	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}
	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext stores the telemetry instance, and its logger, in the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context,
// or nil when none was attached.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	t, _ := ctx.Value(telemetryContextKey{}).(*Telemetry)
	return t
}

// Shutdown drains events and flushes pending spans. The metrics server
// keeps serving until the process exits so late scrapes still land.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}
	return t.Tracer.Shutdown(ctx)
}

// StartMetricsServer starts the metrics HTTP server if metrics are enabled.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer()
}

// opTrace carries an open span and its start time between the begin and
// end halves of a run or item lifecycle.
type opTrace struct {
	span    trace.Span
	started time.Time
}

func (o *opTrace) finish(err error) time.Duration {
	if o == nil {
		return 0
	}
	if o.span != nil {
		if err != nil {
			RecordError(o.span, err)
		} else {
			RecordSuccess(o.span)
		}
		o.span.End()
	}
	return time.Since(o.started)
}

type runTraceKey struct{}
type itemTraceKey struct{}

// WithRunContext opens the telemetry bracket around one reconciliation
// run: a span, a run-scoped logger, the started metric, and the started
// event. EndRunContext closes it.
func WithRunContext(ctx context.Context, runID, minionID string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	ctx, span := tel.Tracer.StartRunSpan(ctx, runID, minionID)
	ctx = tel.Logger.WithRunID(runID).WithMinionID(minionID).WithContext(ctx)

	tel.Metrics.RecordRunStarted(minionID)
	_ = tel.Events.PublishRunStarted(runID, minionID)

	return context.WithValue(ctx, runTraceKey{}, &opTrace{span: span, started: time.Now()})
}

// EndRunContext closes the run bracket, recording the outcome on the
// span, the metrics, and the event stream.
func EndRunContext(ctx context.Context, runID, status string, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	op, _ := ctx.Value(runTraceKey{}).(*opTrace)
	duration := op.finish(err)

	tel.Metrics.RecordRunCompleted(status, duration)
	if err != nil {
		_ = tel.Events.PublishRunFailed(runID, err.Error())
	} else {
		_ = tel.Events.PublishRunCompleted(runID, status, duration)
	}
}

// WithItemContext opens the telemetry bracket around one plan item.
func WithItemContext(ctx context.Context, runID, kind, user string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	ctx, span := tel.Tracer.StartItemSpan(ctx, kind, user)
	ctx = tel.Logger.
		WithRunID(runID).
		WithField("kind", kind).
		WithUser(user).
		WithContext(ctx)

	return context.WithValue(ctx, itemTraceKey{}, &opTrace{span: span, started: time.Now()})
}

// EndItemContext closes the item bracket.
func EndItemContext(ctx context.Context, runID, kind, user, status string, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	op, _ := ctx.Value(itemTraceKey{}).(*opTrace)
	duration := op.finish(err)

	tel.Metrics.RecordItemApplied(kind, status, duration)
	if err != nil {
		_ = tel.Events.PublishItemFailed(runID, kind, user, err.Error())
	} else {
		_ = tel.Events.PublishItemApplied(runID, kind, user, duration)
	}
}
