// Package metrics exposes Prometheus collectors for the watch scheduler.
// All recording methods are safe to call on a nil *Metrics, which keeps the
// scheduler free of "metrics enabled?" branches.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "slynk"

// Result labels for sync runs.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics holds the collectors. Every series is labeled by watched root.
type Metrics struct {
	signals      *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	syncs        *prometheus.CounterVec
	syncDuration *prometheus.HistogramVec
	inFlight     *prometheus.GaugeVec
	sessions     prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "change_signals_total",
			Help:      "Change signals consumed by the scheduler.",
		}, []string{"root"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "change_signals_dropped_total",
			Help:      "Change signals dropped because the queue was full.",
		}, []string{"root"}),
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Completed sync runs by result.",
		}, []string{"root", "result"}),
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Wall-clock duration of sync runs.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"root"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_in_flight",
			Help:      "1 while a sync run is executing for the root.",
		}, []string{"root"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watch_sessions",
			Help:      "Number of active watch sessions.",
		}),
	}

	reg.MustRegister(m.signals, m.dropped, m.syncs, m.syncDuration, m.inFlight, m.sessions)

	return m
}

// Handler returns an HTTP handler serving the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// SignalObserved counts one consumed change signal.
func (m *Metrics) SignalObserved(root string) {
	if m == nil {
		return
	}

	m.signals.WithLabelValues(root).Inc()
}

// SignalDropped counts one signal lost to a full queue.
func (m *Metrics) SignalDropped(root string) {
	if m == nil {
		return
	}

	m.dropped.WithLabelValues(root).Inc()
}

// SyncStarted marks a run as in flight.
func (m *Metrics) SyncStarted(root string) {
	if m == nil {
		return
	}

	m.inFlight.WithLabelValues(root).Set(1)
}

// SyncFinished records a completed run.
func (m *Metrics) SyncFinished(root string, success bool, d time.Duration) {
	if m == nil {
		return
	}

	result := ResultSuccess
	if !success {
		result = ResultFailure
	}

	m.inFlight.WithLabelValues(root).Set(0)
	m.syncs.WithLabelValues(root, result).Inc()
	m.syncDuration.WithLabelValues(root).Observe(d.Seconds())
}

// SessionStarted increments the active session gauge.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}

	m.sessions.Inc()
}

// SessionStopped decrements the active session gauge.
func (m *Metrics) SessionStopped() {
	if m == nil {
		return
	}

	m.sessions.Dec()
}
