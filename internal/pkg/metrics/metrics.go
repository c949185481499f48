// Package metrics defines the Prometheus instrumentation of the dispatch
// engine. All collectors live on a private registry so tests can create
// isolated instances and the /metrics endpoint exposes exactly this set.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics bundles every collector the engine updates.
type Metrics struct {
	registry *prometheus.Registry

	// CommandsCreated counts accepted command creations, labelled by kind.
	CommandsCreated *prometheus.CounterVec

	// CommandsResolved counts commands reaching a terminal state, labelled
	// by the terminal state (completed, failed, expired).
	CommandsResolved *prometheus.CounterVec

	// PublishFailures counts pub/sub publish attempts that failed.
	PublishFailures prometheus.Counter

	// DuplicateResults counts result reports that arrived after the command
	// was already terminal.
	DuplicateResults prometheus.Counter

	// UnknownResults counts result reports that matched no issued command.
	UnknownResults prometheus.Counter

	// QueueDepth tracks the number of commands awaiting a result.
	QueueDepth prometheus.Gauge
}

// New creates the collector set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		CommandsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vendhub",
			Subsystem: "dispatch",
			Name:      "commands_created_total",
			Help:      "Commands accepted for dispatch.",
		}, []string{"kind"}),
		CommandsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vendhub",
			Subsystem: "dispatch",
			Name:      "commands_resolved_total",
			Help:      "Commands that reached a terminal state.",
		}, []string{"state"}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vendhub",
			Subsystem: "dispatch",
			Name:      "publish_failures_total",
			Help:      "Failed pub/sub publish attempts.",
		}),
		DuplicateResults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vendhub",
			Subsystem: "dispatch",
			Name:      "duplicate_results_total",
			Help:      "Result reports for already-terminal commands.",
		}),
		UnknownResults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vendhub",
			Subsystem: "dispatch",
			Name:      "unknown_results_total",
			Help:      "Result reports that matched no issued command.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vendhub",
			Subsystem: "dispatch",
			Name:      "queue_depth",
			Help:      "Commands currently awaiting a device result.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.CommandsCreated,
		m.CommandsResolved,
		m.PublishFailures,
		m.DuplicateResults,
		m.UnknownResults,
		m.QueueDepth,
	)
	return m
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
