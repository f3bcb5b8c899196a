// Package metrics holds the prometheus collectors of the engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector so components receive one value.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	bids            *prometheus.CounterVec
	lockFailures    prometheus.Counter
	criticalSection prometheus.Histogram
	schedulerRuns   *prometheus.CounterVec
	schedulerRows   *prometheus.CounterVec
	connections     prometheus.Gauge
}

// New registers the collectors on a fresh registry, together with the
// process and Go runtime collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		bids: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auction",
			Name:      "bids_total",
			Help:      "Bid attempts by outcome code.",
		}, []string{"outcome"}),
		lockFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "auction",
			Name:      "bid_lock_failures_total",
			Help:      "Bid attempts that could not acquire the listing lock.",
		}),
		criticalSection: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "auction",
			Name:      "bid_critical_section_seconds",
			Help:      "Time between lock acquisition and release.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		schedulerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auction",
			Name:      "scheduler_runs_total",
			Help:      "Lifecycle task runs by task and result.",
		}, []string{"task", "result"}),
		schedulerRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auction",
			Name:      "scheduler_rows_total",
			Help:      "Rows transitioned by lifecycle tasks.",
		}, []string{"task"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "auction",
			Name:      "realtime_connections",
			Help:      "Open realtime connections on this process.",
		}),
	}
	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
		m.bids, m.lockFailures, m.criticalSection,
		m.schedulerRuns, m.schedulerRows, m.connections,
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) BidOutcome(outcome string) {
	if m == nil {
		return
	}
	m.bids.WithLabelValues(outcome).Inc()
}

func (m *Metrics) LockFailed() {
	if m == nil {
		return
	}
	m.lockFailures.Inc()
}

func (m *Metrics) ObserveCriticalSection(d time.Duration) {
	if m == nil {
		return
	}
	m.criticalSection.Observe(d.Seconds())
}

// TaskRun counts one scheduler run and the rows it transitioned.
func (m *Metrics) TaskRun(task string, err error, rows int) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.schedulerRuns.WithLabelValues(task, result).Inc()
	if rows > 0 {
		m.schedulerRows.WithLabelValues(task).Add(float64(rows))
	}
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}
