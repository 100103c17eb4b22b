// Package metrics exposes tracer counters to Prometheus. Metrics counts events as a msg.Notifier, so it is plugged in
// next to the broker publisher.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/life0fun/ethtaint/lib/msg"
)

const namespace = "ethtaint"

// Run outcomes.
const (
	Completed = "completed"
	Canceled  = "canceled"
	Failed    = "failed"
)

// Metrics holds the tracer counters in its own registry.
type Metrics struct {
	reg *prometheus.Registry

	Events *prometheus.CounterVec
	Runs   *prometheus.CounterVec
	Active prometheus.Gauge
}

// New registers the tracer counters and the Go runtime collectors in a new registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Trace events by kind: taint, page, processedTransaction, tracedAddress, reopenTrace.",
		}, []string{"kind"}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished traces by outcome.",
		}, []string{"outcome"}),
		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracing",
			Help:      "1 while a trace is running.",
		}),
	}
	m.reg.MustRegister(m.Events, m.Runs, m.Active,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return m
}

// Notify implements msg.Notifier.
func (m *Metrics) Notify(e msg.Event) {
	m.Events.WithLabelValues(string(e.Kind)).Inc()
}

// Started marks a trace as running.
func (m *Metrics) Started() {
	m.Active.Set(1)
}

// Finished counts a finished trace.
func (m *Metrics) Finished(outcome string) {
	m.Active.Set(0)
	m.Runs.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
