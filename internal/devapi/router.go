package devapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sessionkit/internal/platform/health"
	"sessionkit/internal/platform/metrics"
	"sessionkit/pkg/platform/middleware/auth"
	"sessionkit/pkg/platform/middleware/request"
)

// RelayPath is where the websocket broadcast relay is mounted.
const RelayPath = "/ws/broadcast"

const (
	defaultBodyLimit      = 64 << 10
	defaultRequestTimeout = 10 * time.Second
)

// RouterConfig wires the dev API router. Relay and Health are optional.
type RouterConfig struct {
	Service        *Service
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	Health         *health.Handler
	Relay          http.Handler
	BodyLimit      int64
	RequestTimeout time.Duration
}

// NewRouter builds the dev API: auth routes under /api, health probes,
// /metrics and the broadcast relay.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = defaultBodyLimit
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(request.Recovery(logger))
	r.Use(request.RequestID)
	r.Use(request.Logger(logger))
	r.Use(request.Latency(cfg.Metrics, routePattern))

	r.Group(func(r chi.Router) {
		r.Use(request.Timeout(cfg.RequestTimeout))
		r.Use(request.BodyLimit(cfg.BodyLimit))
		r.Use(request.ContentTypeJSON)
		NewHandler(cfg.Service, logger).Register(r, auth.RequireAuth(cfg.Service, logger))
	})

	if cfg.Health != nil {
		cfg.Health.Register(r)
	}
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	if cfg.Relay != nil {
		r.Handle(RelayPath, cfg.Relay)
	}
	return r
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}
