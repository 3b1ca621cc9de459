// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the collectors recorded by the scan pipeline.
type Metrics struct {
	ScansSubmitted   prometheus.Counter
	ScansCompleted   prometheus.Counter
	ScansFailed      prometheus.Counter
	ScansCancelled   prometheus.Counter
	PhaseDuration    *prometheus.HistogramVec
	ColumnsSampled   prometheus.Counter
	ColumnsDetected  prometheus.Counter
	PiiColumnsFound  prometheus.Counter
	QiGroupsFormed   prometheus.Counter
	EventsDropped    prometheus.Counter
	NerBreakerState  prometheus.Gauge
}

// New creates and registers the collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ScansSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "piiscan_scans_submitted_total",
			Help: "Number of scan jobs submitted.",
		}),
		ScansCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "piiscan_scans_completed_total",
			Help: "Number of scan jobs that completed successfully.",
		}),
		ScansFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "piiscan_scans_failed_total",
			Help: "Number of scan jobs that failed.",
		}),
		ScansCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "piiscan_scans_cancelled_total",
			Help: "Number of scan jobs cancelled by operators.",
		}),
		PhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "piiscan_phase_duration_seconds",
			Help:    "Duration of each scan phase.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"phase"}),
		ColumnsSampled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "piiscan_columns_sampled_total",
			Help: "Number of columns sampled across all scans.",
		}),
		ColumnsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "piiscan_columns_detected_total",
			Help: "Number of columns run through the detection pipeline.",
		}),
		PiiColumnsFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "piiscan_pii_columns_found_total",
			Help: "Number of columns flagged as PII.",
		}),
		QiGroupsFormed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "piiscan_qi_groups_formed_total",
			Help: "Number of quasi-identifier groups formed.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "piiscan_progress_events_dropped_total",
			Help: "Number of progress events dropped on full subscriber buffers.",
		}),
		NerBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "piiscan_ner_breaker_state",
			Help: "NER circuit breaker state (0 closed, 1 half-open, 2 open).",
		}),
	}

	reg.MustRegister(
		m.ScansSubmitted, m.ScansCompleted, m.ScansFailed, m.ScansCancelled,
		m.PhaseDuration, m.ColumnsSampled, m.ColumnsDetected,
		m.PiiColumnsFound, m.QiGroupsFormed, m.EventsDropped, m.NerBreakerState,
	)
	return m
}

// NewNop creates unregistered collectors for tests and optional wiring.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
