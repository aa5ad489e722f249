package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the coordinator.
type Metrics struct {
	Transitions   *prometheus.CounterVec
	Remote        *prometheus.CounterVec
	Refreshes     *prometheus.CounterVec
	Resolutions   *prometheus.CounterVec
	Authenticated prometheus.Gauge
}

// NewMetrics registers coordinator metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sessionkit_session_transitions_total",
			Help: "State machine transitions",
		}, []string{"from", "to"}),
		Remote: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sessionkit_session_remote_changes_total",
			Help: "Remote session changes by type and outcome (applied, deferred, ignored, duplicate)",
		}, []string{"type", "outcome"}),
		Refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sessionkit_session_refreshes_total",
			Help: "Token renewals by trigger and result",
		}, []string{"trigger", "result"}),
		Resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sessionkit_session_conflict_resolutions_total",
			Help: "Conflict prompt exits by resolution and result",
		}, []string{"resolution", "result"}),
		Authenticated: f.NewGauge(prometheus.GaugeOpts{
			Name: "sessionkit_session_authenticated",
			Help: "1 while the tab holds an authenticated session",
		}),
	}
}

func (m *Metrics) observeTransition(from, to State) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from.String(), to.String()).Inc()
	switch to {
	case StateAuthenticated:
		m.Authenticated.Set(1)
	case StateUnauthenticated:
		m.Authenticated.Set(0)
	}
}

func (m *Metrics) incRemote(kind, outcome string) {
	if m == nil {
		return
	}
	m.Remote.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) incRefresh(trigger, result string) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(trigger, result).Inc()
}

func (m *Metrics) incResolution(r Resolution, result string) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(r.String(), result).Inc()
}
