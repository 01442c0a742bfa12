package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/atlas-desktop/stratrunner/pkg/types"
)

// prometheusMetrics holds engine-level gauges/counters plus per-runner
// tick latency and event-kind counters, all labeled by runner_id.
type prometheusMetrics struct {
	registry *prometheus.Registry

	runnersTotal prometheus.Gauge
	barsFed      prometheus.Counter
	feedErrors   prometheus.Counter

	tickDuration *prometheus.HistogramVec
	eventsByKind *prometheus.CounterVec
}

func newPrometheusMetrics() *prometheusMetrics {
	reg := prometheus.NewRegistry()

	m := &prometheusMetrics{
		registry: reg,
		runnersTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_runners_total",
			Help: "Number of currently registered runners.",
		}),
		barsFed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_bars_fed_total",
			Help: "Total bars accepted by feed_bar.",
		}),
		feedErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_feed_errors_total",
			Help: "Total feed_bar calls rejected for invariant violations.",
		}),
		tickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "runner_tick_duration_seconds",
			Help:    "Per-runner bar processing duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"runner_id"}),
		eventsByKind: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "runner_events_total",
			Help: "Per-runner event counts by kind.",
		}, []string{"runner_id", "kind"}),
	}

	reg.MustRegister(m.runnersTotal, m.barsFed, m.feedErrors, m.tickDuration, m.eventsByKind)
	return m
}

// RecordTick implements runner.MetricsRecorder.
func (m *prometheusMetrics) RecordTick(runnerID string, d time.Duration) {
	m.tickDuration.WithLabelValues(runnerID).Observe(d.Seconds())
}

// RecordEvent implements runner.MetricsRecorder.
func (m *prometheusMetrics) RecordEvent(runnerID string, kind types.EventKind) {
	m.eventsByKind.WithLabelValues(runnerID, string(kind)).Inc()
}

// PrometheusRegistry exposes the Prometheus registry for the outer API layer to
// mount under /metrics via promhttp.HandlerFor.
func (e *Engine) PrometheusRegistry() *prometheus.Registry {
	return e.metrics.registry
}
