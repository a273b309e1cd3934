// Package metrics provides Prometheus metrics for Siren.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "siren"
)

// HTTP metrics
var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight tracks concurrent HTTP requests.
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
	)
)

// Alert pipeline metrics
var (
	// DetectionsIngested counts ingested detections by outcome.
	DetectionsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "detections_total",
			Help:      "Total number of ingested detections",
		},
		[]string{"outcome"}, // created | bumped
	)

	// Transitions counts state transitions by target state.
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "transitions_total",
			Help:      "Total number of alert state transitions",
		},
		[]string{"to_state"},
	)

	// OpenAlerts tracks the number of non-terminal alerts.
	OpenAlerts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "open",
			Help:      "Number of open (non-terminal) alerts",
		},
	)

	// SLABreaches counts SLA breaches by clock and severity.
	SLABreaches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sla",
			Name:      "breaches_total",
			Help:      "Total number of SLA breaches flagged",
		},
		[]string{"clock", "severity"}, // clock: tta | ttr
	)

	// IntentsEmitted counts delivery intents by channel.
	IntentsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "intents_total",
			Help:      "Total number of delivery intents emitted",
		},
		[]string{"channel"},
	)
)

// Scheduler metrics
var (
	// SchedulerTicks counts completed evaluation sweeps.
	SchedulerTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Total number of completed scheduler ticks",
		},
	)

	// SchedulerTickFailures counts ticks that failed against the store.
	SchedulerTickFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tick_failures_total",
			Help:      "Total number of scheduler ticks that failed",
		},
	)
)
