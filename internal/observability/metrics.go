package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions   prometheus.Gauge
	SessionEvents    *prometheus.CounterVec
	RelayedFrames    *prometheus.CounterVec
	RelayedBytes     *prometheus.CounterVec
	DroppedFrames    *prometheus.CounterVec
	UpstreamCloses   *prometheus.CounterVec
	UpstreamOpenTime prometheus.Histogram

	gatherer prometheus.Gatherer
}

// NewMetrics registers the instruments on reg. A nil reg uses the default
// registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	gatherer := prometheus.DefaultGatherer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live relay sessions.",
		}),
		SessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		RelayedFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relayed_frames_total",
			Help:      "Frames forwarded by direction.",
		}, []string{"direction"}),
		RelayedBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relayed_bytes_total",
			Help:      "Payload bytes forwarded by direction.",
		}, []string{"direction"}),
		DroppedFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_frames_total",
			Help:      "Frames dropped because the peer transport was not open.",
		}, []string{"direction"}),
		UpstreamCloses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_closes_total",
			Help:      "Upstream close events by close class.",
		}, []string{"class"}),
		UpstreamOpenTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_open_latency_ms",
			Help:      "Time from session start to upstream open in milliseconds.",
			Buckets:   []float64{50, 100, 200, 300, 500, 800, 1200, 2000, 5000},
		}),
		gatherer: gatherer,
	}
}

func (m *Metrics) ObserveUpstreamOpen(d time.Duration) {
	m.UpstreamOpenTime.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveFrame(direction string, size int) {
	m.RelayedFrames.WithLabelValues(direction).Inc()
	m.RelayedBytes.WithLabelValues(direction).Add(float64(size))
}

// Handler exposes the registry the metrics were registered on.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
