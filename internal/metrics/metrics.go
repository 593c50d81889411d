// Package metrics holds the prometheus collectors for the anchor engine.
//
// All methods are safe on a nil *Metrics so components can run without a registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "frostanchor"

type Metrics struct {
	Registry *prometheus.Registry

	Mutations     *prometheus.CounterVec
	Probes        *prometheus.CounterVec
	Reconcile     *prometheus.CounterVec
	Panics        *prometheus.CounterVec
	Anchors       prometheus.Gauge
	Jobs          prometheus.Gauge
	PendingProbes prometheus.Gauge
	Tick          prometheus.Gauge
	TickDuration  prometheus.Histogram
}

// New builds the collectors on a private registry, plus the Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Block changes made by the engine, by reason.",
		}, []string{"reason"}),
		Probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "climate_resolutions_total",
			Help:      "Climate resolutions, by result source.",
		}, []string{"source"}),
		Reconcile: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_actions_total",
			Help:      "Registry repairs made by reconciliation passes.",
		}, []string{"action"}),
		Panics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovered_panics_total",
			Help:      "Panics recovered at a callback boundary.",
		}, []string{"where"}),
		Anchors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "anchors",
			Help:      "Registered anchors.",
		}),
		Jobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs",
			Help:      "Jobs registered in the shared runner.",
		}),
		PendingProbes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_probes",
			Help:      "Climate probes awaiting a value.",
		}),
		Tick: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tick",
			Help:      "Current host tick.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Wall time spent in one engine step.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
		}),
	}
	m.Registry.MustRegister(
		m.Mutations, m.Probes, m.Reconcile, m.Panics,
		m.Anchors, m.Jobs, m.PendingProbes, m.Tick, m.TickDuration,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveMutation(reason string) {
	if m == nil {
		return
	}
	m.Mutations.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveProbe(source string) {
	if m == nil {
		return
	}
	m.Probes.WithLabelValues(source).Inc()
}

func (m *Metrics) ObserveReconcile(action string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Reconcile.WithLabelValues(action).Add(float64(n))
}

func (m *Metrics) ObservePanic(where string) {
	if m == nil {
		return
	}
	m.Panics.WithLabelValues(where).Inc()
}

// ObserveStep records the per-tick gauges and the step duration.
func (m *Metrics) ObserveStep(tick uint64, anchors, jobs, probes int, d time.Duration) {
	if m == nil {
		return
	}
	m.Tick.Set(float64(tick))
	m.Anchors.Set(float64(anchors))
	m.Jobs.Set(float64(jobs))
	m.PendingProbes.Set(float64(probes))
	m.TickDuration.Observe(d.Seconds())
}
