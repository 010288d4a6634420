package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"builderbuddy-backend/core/marketplace"
)

// Metrics holds the service collectors on a dedicated registry.
type Metrics struct {
	Registry *prometheus.Registry

	transitions   *prometheus.CounterVec
	events        *prometheus.CounterVec
	oracleFetch   *prometheus.HistogramVec
	pending       prometheus.Gauge
	collateral    prometheus.Gauge
	snapshots     *prometheus.CounterVec
	activeStreams prometheus.Gauge
}

// New registers all collectors plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "builderbuddy",
			Name:      "transitions_total",
			Help:      "State transitions by operation and result code.",
		}, []string{"operation", "result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "builderbuddy",
			Name:      "events_total",
			Help:      "Published marketplace events by type.",
		}, []string{"type"}),
		oracleFetch: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "builderbuddy",
			Name:      "oracle_fetch_seconds",
			Help:      "Latency of reputation score fetches.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "builderbuddy",
			Name:      "pending_registrations",
			Help:      "Registrations waiting for an oracle response.",
		}),
		collateral: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "builderbuddy",
			Name:      "staked_collateral",
			Help:      "Total collateral staked by contractors, in token base units.",
		}),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "builderbuddy",
			Name:      "snapshots_total",
			Help:      "State snapshots written, by result.",
		}, []string{"result"}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "builderbuddy",
			Name:      "event_streams",
			Help:      "Open SSE and WebSocket event subscribers.",
		}),
	}
	reg.MustRegister(
		m.transitions, m.events, m.oracleFetch, m.pending, m.collateral, m.snapshots, m.activeStreams,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// ObserveTransition counts one call of operation; err decides the result label.
func (m *Metrics) ObserveTransition(operation string, err error) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(operation, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var me *marketplace.Error
	if errors.As(err, &me) {
		return me.Code
	}
	return "error"
}

// ObserveEvent is an event sink.
func (m *Metrics) ObserveEvent(evt marketplace.Event) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(evt.Type).Inc()
}

// ObserveOracleFetch matches the oracle router's observe hook.
func (m *Metrics) ObserveOracleFetch(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.oracleFetch.WithLabelValues(result).Observe(d.Seconds())
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

func (m *Metrics) SetCollateral(total uint64) {
	if m == nil {
		return
	}
	m.collateral.Set(float64(total))
}

func (m *Metrics) ObserveSnapshot(err error) {
	if m == nil {
		return
	}
	m.snapshots.WithLabelValues(resultLabel(err)).Inc()
}

// StreamOpened increments the subscriber gauge and returns its release.
func (m *Metrics) StreamOpened() func() {
	if m == nil {
		return func() {}
	}
	m.activeStreams.Inc()
	return m.activeStreams.Dec
}
