package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the dev API collectors.
type Metrics struct {
	UsersCreated     prometheus.Counter
	TokensIssued     *prometheus.CounterVec
	AuthFailures     *prometheus.CounterVec
	RefreshTokens    prometheus.Gauge
	RefreshesRevoked prometheus.Counter
	EndpointLatency  *prometheus.HistogramVec
}

// New creates and registers the dev API metrics on reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		UsersCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "sessionkit_devapi_users_created_total",
			Help: "Total number of users created",
		}),
		TokensIssued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sessionkit_devapi_tokens_issued_total",
			Help: "Token pairs issued, labeled by grant",
		}, []string{"grant"}),
		AuthFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sessionkit_devapi_auth_failures_total",
			Help: "Rejected authentication attempts, labeled by endpoint",
		}, []string{"endpoint"}),
		RefreshTokens: f.NewGauge(prometheus.GaugeOpts{
			Name: "sessionkit_devapi_refresh_tokens",
			Help: "Live refresh tokens",
		}),
		RefreshesRevoked: f.NewCounter(prometheus.CounterOpts{
			Name: "sessionkit_devapi_refresh_tokens_purged_total",
			Help: "Expired refresh tokens removed by the cleanup worker",
		}),
		EndpointLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sessionkit_devapi_endpoint_latency_seconds",
			Help:    "Latency of endpoints in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}
}

func (m *Metrics) IncrementUsersCreated() {
	if m == nil {
		return
	}
	m.UsersCreated.Inc()
}

// IncrementTokensIssued counts a pair issued by grant (password, refresh, refresh_reuse, switch_company).
func (m *Metrics) IncrementTokensIssued(grant string) {
	if m == nil {
		return
	}
	m.TokensIssued.WithLabelValues(grant).Inc()
}

func (m *Metrics) IncrementAuthFailures(endpoint string) {
	if m == nil {
		return
	}
	m.AuthFailures.WithLabelValues(endpoint).Inc()
}

func (m *Metrics) SetRefreshTokens(n int) {
	if m == nil {
		return
	}
	m.RefreshTokens.Set(float64(n))
}

func (m *Metrics) AddRefreshTokensPurged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RefreshesRevoked.Add(float64(n))
}

// ObserveEndpointLatency records the latency for a given endpoint.
func (m *Metrics) ObserveEndpointLatency(endpoint string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.EndpointLatency.WithLabelValues(endpoint).Observe(durationSeconds)
}
