package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. Each
// instance owns its registry so tests can build many.
type Metrics struct {
	registry *prometheus.Registry
	stages   *stageWindow

	ActiveSessions  prometheus.Gauge
	SessionEvents   *prometheus.CounterVec
	WSMessages      *prometheus.CounterVec
	FrameDecisions  *prometheus.CounterVec
	GatewayErrors   *prometheus.CounterVec
	GatewayLatency  *prometheus.HistogramVec
	RecordsPersists *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		stages:   newStageWindow(256),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live guidance sessions.",
		}),
		SessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and kind.",
		}, []string{"direction", "kind"}),
		FrameDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_decisions_total",
			Help:      "Throttle gate decisions by reason.",
		}, []string{"reason"}),
		GatewayErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_errors_total",
			Help:      "AI gateway failures by provider and kind.",
		}, []string{"provider", "kind"}),
		GatewayLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_latency_seconds",
			Help:      "AI gateway call latency by operation.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 3, 5, 8, 13, 20, 30},
		}, []string{"operation"}),
		RecordsPersists: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_persisted_total",
			Help:      "Session record saves by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) ObserveGatewayLatency(operation string, d time.Duration) {
	m.GatewayLatency.WithLabelValues(operation).Observe(d.Seconds())
	m.stages.Observe("gateway_"+operation, float64(d.Microseconds())/1000)
}

// ObserveStage records a latency sample in the rolling stage window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.stages.Observe(stage, float64(d.Microseconds())/1000)
}

// SetStageTargets sets the p95 targets, in milliseconds, reported next to each
// stage on the latency snapshot.
func (m *Metrics) SetStageTargets(targets map[string]float64) {
	m.stages.SetTargets(targets)
}

// ObserveIndicator counts one occurrence of a named event in the stage window.
func (m *Metrics) ObserveIndicator(name string) {
	m.stages.ObserveIndicator(name)
}

func (m *Metrics) StageSnapshot() StageSnapshot {
	return m.stages.Snapshot()
}

func (m *Metrics) ResetStages() {
	m.stages.Reset()
}

// Handler serves this instance's registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
