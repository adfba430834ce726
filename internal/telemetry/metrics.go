// Package telemetry exports maintenance run results as Prometheus metrics
// and sets up OpenTelemetry tracing.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/livinlefevreloca/upkeep/internal/maintenance"
)

const namespace = "upkeep"

// Metrics implements maintenance.Observer over a Prometheus registry
type Metrics struct {
	registry *prometheus.Registry

	runs             *prometheus.CounterVec
	runDuration      prometheus.Histogram
	rejected         prometheus.Counter
	taskFailures     *prometheus.CounterVec
	deliveryFailures prometheus.Counter
	lastCommit       prometheus.Gauge
}

var _ maintenance.Observer = (*Metrics)(nil)

// NewMetrics registers the run collectors on a fresh registry, along with
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Maintenance runs by final status",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of maintenance runs",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_rejected_total",
			Help:      "Triggers rejected because a run was already in progress",
		}),
		taskFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_failures_total",
			Help:      "Failed maintenance tasks by task",
		}, []string{"task"}),
		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_delivery_failures_total",
			Help:      "Rendered reports that could not be delivered",
		}),
		lastCommit: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last run that committed its state",
		}),
	}

	m.registry.MustRegister(
		m.runs,
		m.runDuration,
		m.rejected,
		m.taskFailures,
		m.deliveryFailures,
		m.lastCommit,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry to serve on /metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRun records one completed run
func (m *Metrics) ObserveRun(outcome maintenance.Outcome, duration time.Duration) {
	m.runs.WithLabelValues(outcome.Status.String()).Inc()
	m.runDuration.Observe(duration.Seconds())

	for _, task := range outcome.TaskFailures() {
		m.taskFailures.WithLabelValues(task.Step.String()).Inc()
	}

	if outcome.DeliveryErr != nil {
		m.deliveryFailures.Inc()
	}
	if outcome.Committed {
		m.lastCommit.SetToCurrentTime()
	}
}

// ObserveRejected records a trigger that found a run in progress
func (m *Metrics) ObserveRejected() {
	m.rejected.Inc()
}
