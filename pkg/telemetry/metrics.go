package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for uvfleet.
type Metrics struct {
	config MetricsConfig

	// Resolution metrics
	resolutionsTotal   *prometheus.CounterVec
	resolutionDuration *prometheus.HistogramVec
	mergeConflicts     *prometheus.CounterVec

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Plan item metrics
	itemsRendered *prometheus.CounterVec
	itemsApplied  *prometheus.CounterVec
	itemDuration  *prometheus.HistogramVec

	// Tool metrics
	toolsManaged *prometheus.GaugeVec
	usersManaged prometheus.Gauge

	// Index lookup metrics
	indexLookups        *prometheus.CounterVec
	indexLookupDuration *prometheus.HistogramVec

	// Drift detection metrics
	driftDetections *prometheus.CounterVec

	// System metrics
	activeRuns prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.HistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	// Create a new registry
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		// Resolution metrics
		resolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolutions_total",
				Help:      "Total number of configuration resolutions",
			},
			[]string{"status"},
		),
		resolutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resolution_duration_seconds",
				Help:      "Duration of configuration resolution in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		mergeConflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "merge_conflicts_total",
				Help:      "Total number of merge type conflicts by configuration source",
			},
			[]string{"source"},
		),

		// Run metrics
		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of reconciliation runs started",
			},
			[]string{"minion_id"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of reconciliation runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of reconciliation runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		// Plan item metrics
		itemsRendered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_rendered_total",
				Help:      "Total number of plan items rendered",
			},
			[]string{"kind"},
		),
		itemsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_applied_total",
				Help:      "Total number of plan items applied",
			},
			[]string{"kind", "status"},
		),
		itemDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "item_duration_seconds",
				Help:      "Duration of plan item application in seconds",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),

		// Tool metrics
		toolsManaged: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tools_managed",
				Help:      "Current number of managed uv tools",
			},
			[]string{"scope"},
		),
		usersManaged: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "users_managed",
				Help:      "Current number of managed users",
			},
		),

		// Index lookup metrics
		indexLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "index_lookups_total",
				Help:      "Total number of package index lookups",
			},
			[]string{"status"},
		),
		indexLookupDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "index_lookup_duration_seconds",
				Help:      "Duration of package index lookups in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		// Drift detection metrics
		driftDetections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "drift_detections_total",
				Help:      "Total number of drift detections",
			},
			[]string{"kind", "status"},
		),

		// System metrics
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active reconciliation runs",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.resolutionsTotal,
		m.resolutionDuration,
		m.mergeConflicts,
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.itemsRendered,
		m.itemsApplied,
		m.itemDuration,
		m.toolsManaged,
		m.usersManaged,
		m.indexLookups,
		m.indexLookupDuration,
		m.driftDetections,
		m.activeRuns,
	)

	return m, nil
}

// Resolution Metrics

// RecordResolution records one resolver pass with its status and duration.
func (m *Metrics) RecordResolution(status string, duration time.Duration) {
	if m.resolutionsTotal == nil {
		return
	}
	m.resolutionsTotal.WithLabelValues(status).Inc()
	m.resolutionDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordMergeConflict records a type conflict attributed to a source.
func (m *Metrics) RecordMergeConflict(source string) {
	if m.mergeConflicts == nil {
		return
	}
	m.mergeConflicts.WithLabelValues(source).Inc()
}

// Run Metrics

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(minionID string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(minionID).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// Plan Item Metrics

// RecordItemRendered counts a rendered plan item.
func (m *Metrics) RecordItemRendered(kind string) {
	if m.itemsRendered == nil {
		return
	}
	m.itemsRendered.WithLabelValues(kind).Inc()
}

// RecordItemApplied records the application of a plan item.
func (m *Metrics) RecordItemApplied(kind, status string, duration time.Duration) {
	if m.itemsApplied == nil {
		return
	}
	m.itemsApplied.WithLabelValues(kind, status).Inc()
	m.itemDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// Tool Metrics

// SetToolCount sets the current count of managed tools per scope
// ("system" or "user").
func (m *Metrics) SetToolCount(scope string, count float64) {
	if m.toolsManaged == nil {
		return
	}
	m.toolsManaged.WithLabelValues(scope).Set(count)
}

// SetUserCount sets the current number of managed users.
func (m *Metrics) SetUserCount(count float64) {
	if m.usersManaged == nil {
		return
	}
	m.usersManaged.Set(count)
}

// Index Lookup Metrics

// RecordIndexLookup records a package index lookup with its duration.
func (m *Metrics) RecordIndexLookup(status string, duration time.Duration) {
	if m.indexLookups == nil {
		return
	}
	m.indexLookups.WithLabelValues(status).Inc()
	m.indexLookupDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// Drift Metrics

// RecordDriftDetection records a drift detection event.
func (m *Metrics) RecordDriftDetection(kind, status string) {
	if m.driftDetections == nil {
		return
	}
	m.driftDetections.WithLabelValues(kind, status).Inc()
}

// System Metrics

// SetActiveRuns sets the current number of active runs.
func (m *Metrics) SetActiveRuns(count float64) {
	if m.activeRuns == nil {
		return
	}
	m.activeRuns.Set(count)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
