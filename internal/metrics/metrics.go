// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dotabank"

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	Transitions     *prometheus.CounterVec
	EnqueueFailures *prometheus.CounterVec
	FixAttempts     *prometheus.CounterVec
	CheckDuration   *prometheus.HistogramVec
	FleetLoad       *prometheus.GaugeVec
	QueueDepth      *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replay_transitions_total",
			Help:      "Replay state transitions committed.",
		}, []string{"from", "to"}),
		EnqueueFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enqueue_failures_total",
			Help:      "Dispatches rolled back, by job type and failing stage.",
		}, []string{"job_type", "stage"}),
		FixAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fix_attempts_total",
			Help:      "Reconciliation fixes by check and outcome.",
		}, []string{"check", "outcome"}),
		CheckDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "check_duration_seconds",
			Help:      "Wall time of one reconciliation check run.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"check"}),
		FleetLoad: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fleet_load_percent",
			Help:      "Share of the fleet's daily quota consumed in the trailing window.",
		}, []string{"job_type"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Messages waiting in a worker queue.",
		}, []string{"queue"}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Transitions,
		m.EnqueueFailures,
		m.FixAttempts,
		m.CheckDuration,
		m.FleetLoad,
		m.QueueDepth,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) ObserveTransition(from, to string) {
	m.Transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObserveEnqueueFailure(jobType, stage string) {
	m.EnqueueFailures.WithLabelValues(jobType, stage).Inc()
}

func (m *Metrics) ObserveFix(check, outcome string) {
	m.FixAttempts.WithLabelValues(check, outcome).Inc()
}

func (m *Metrics) ObserveCheck(check string, took time.Duration) {
	m.CheckDuration.WithLabelValues(check).Observe(took.Seconds())
}

func (m *Metrics) SetFleetLoad(jobType string, percent float64) {
	m.FleetLoad.WithLabelValues(jobType).Set(percent)
}

func (m *Metrics) SetQueueDepth(queue string, depth int64) {
	m.QueueDepth.WithLabelValues(queue).Set(float64(depth))
}
