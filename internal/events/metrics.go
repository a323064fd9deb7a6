package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the prometheus collectors for the orchestration engine.
// All operations are safe for concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	TasksSubmitted    prometheus.Counter
	TasksCompleted    *prometheus.CounterVec // label: status
	SubtaskDispatches *prometheus.CounterVec // label: service
	Retries           prometheus.Counter
	Downgrades        prometheus.Counter
	EventsPublished   prometheus.Counter
	EventsDropped     prometheus.Counter
	ActiveRuns        prometheus.Gauge
}

// NewMetrics creates and registers the engine's collectors on a fresh
// registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		TasksSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "scanmux", Name: "tasks_submitted_total",
			Help: "Analysis requests accepted for orchestration.",
		}),
		TasksCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scanmux", Name: "tasks_completed_total",
			Help: "Main tasks reaching a terminal state, by status.",
		}, []string{"status"}),
		SubtaskDispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scanmux", Name: "subtask_dispatches_total",
			Help: "Subtasks dispatched to analyzer services, by service.",
		}, []string{"service"}),
		Retries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "scanmux", Name: "analyzer_retries_total",
			Help: "Retried analyzer calls.",
		}),
		Downgrades: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "scanmux", Name: "plan_downgrades_total",
			Help: "Runs reduced to static-only tool sets.",
		}),
		EventsPublished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "scanmux", Name: "events_published_total",
			Help: "Lifecycle events accepted by the publisher.",
		}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "scanmux", Name: "events_dropped_total",
			Help: "Lifecycle events dropped due to a full buffer.",
		}),
		ActiveRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "scanmux", Name: "active_runs",
			Help: "Main tasks currently being monitored.",
		}),
	}
}

// Registry returns the registry holding the engine's collectors, for the
// /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
