package tracking

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is optional, a nil *Metrics records nothing
type Metrics struct {
	deliveries     *prometheus.CounterVec
	queued         prometheus.Counter
	rejected       prometheus.Counter
	queueDepth     prometheus.Gauge
	reconnects     prometheus.Counter
	activeSessions prometheus.Gauge
}

// NewMetrics registers the tracking metrics with registerer, nil leaves them unregistered
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)

	return &Metrics{
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "urbantracker",
			Subsystem: "tracking",
			Name:      "deliveries_total",
			Help:      "Location deliveries by deliverer and result",
		}, []string{"deliverer", "result"}),
		queued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "urbantracker",
			Subsystem: "tracking",
			Name:      "queued_total",
			Help:      "Locations placed on the offline queue",
		}),
		rejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "urbantracker",
			Subsystem: "tracking",
			Name:      "rejected_total",
			Help:      "Locations rejected by validation",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "urbantracker",
			Subsystem: "tracking",
			Name:      "offline_queue_depth",
			Help:      "Locations waiting in the offline queue",
		}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "urbantracker",
			Subsystem: "transport",
			Name:      "reconnect_attempts_total",
			Help:      "Automatic reconnect attempts",
		}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "urbantracker",
			Subsystem: "tracking",
			Name:      "active_sessions",
			Help:      "Tracking sessions currently running",
		}),
	}
}

func (m *Metrics) delivered(deliverer string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(deliverer, "success").Inc()
}

func (m *Metrics) deliveryFailed() {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues("none", "failure").Inc()
}

func (m *Metrics) sampleQueued(depth int) {
	if m == nil {
		return
	}
	m.queued.Inc()
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) sampleRejected() {
	if m == nil {
		return
	}
	m.rejected.Inc()
}

func (m *Metrics) setQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) reconnectAttempt() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) sessionStarted() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Metrics) sessionStopped() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}
