package broadcast

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the bus.
type Metrics struct {
	Published *prometheus.CounterVec
	Received  *prometheus.CounterVec
	Dropped   *prometheus.CounterVec
	Degraded  prometheus.Gauge
}

// NewMetrics registers bus collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Published: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sessionkit_broadcast_published_total",
			Help: "Envelopes handed to a transport, by transport and result",
		}, []string{"transport", "result"}),
		Received: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sessionkit_broadcast_received_total",
			Help: "Envelopes delivered to subscribers, by transport and message type",
		}, []string{"transport", "type"}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sessionkit_broadcast_dropped_total",
			Help: "Envelopes discarded before delivery, by reason",
		}, []string{"reason"}),
		Degraded: f.NewGauge(prometheus.GaugeOpts{
			Name: "sessionkit_broadcast_fallback_only",
			Help: "1 when the bus runs on the fallback transport alone",
		}),
	}
}

func (m *Metrics) incPublished(transport, result string) {
	if m == nil {
		return
	}
	m.Published.WithLabelValues(transport, result).Inc()
}

func (m *Metrics) incReceived(transport string, kind Kind) {
	if m == nil {
		return
	}
	m.Received.WithLabelValues(transport, string(kind)).Inc()
}

func (m *Metrics) incDropped(reason string) {
	if m == nil {
		return
	}
	m.Dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) setDegraded(degraded bool) {
	if m == nil {
		return
	}
	if degraded {
		m.Degraded.Set(1)
		return
	}
	m.Degraded.Set(0)
}
