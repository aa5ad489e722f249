// Command devapi serves the auth REST contract and the websocket broadcast
// relay for local development of tabs.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"sessionkit/internal/broadcast/relay"
	"sessionkit/internal/devapi"
	"sessionkit/internal/devapi/store"
	"sessionkit/internal/devapi/workers/cleanup"
	jwttoken "sessionkit/internal/jwt_token"
	"sessionkit/internal/platform/config"
	"sessionkit/internal/platform/health"
	"sessionkit/internal/platform/logger"
	"sessionkit/internal/platform/metrics"
)

const (
	tokenIssuer   = "sessionkit-devapi"
	tokenAudience = "sessionkit"

	demoEmail    = "demo@example.com"
	demoPassword = "demo-password1"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("devapi stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("devapi stopped")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	users := store.NewUsers()
	refresh := store.NewRefreshTokens()
	tokens := jwttoken.NewService(cfg.DevAPI.SigningKey, tokenIssuer, tokenAudience, cfg.DevAPI.AccessTTL)

	svc, err := devapi.NewService(users, refresh, tokens,
		devapi.WithLogger(log),
		devapi.WithMetrics(m),
		devapi.WithRefreshTTL(cfg.DevAPI.RefreshTTL),
		devapi.WithReuseGrace(cfg.DevAPI.ReuseGrace),
	)
	if err != nil {
		return err
	}
	if _, err := svc.SeedUser(ctx, demoEmail, demoPassword, "Demo", "User",
		store.Company{ID: "acme", Name: "Acme Corp"},
		store.Company{ID: "globex", Name: "Globex"},
	); err != nil {
		return err
	}
	log.Info("seeded demo user", "email", demoEmail, "companies", 2)

	worker, err := cleanup.New(refresh,
		cleanup.WithLogger(log),
		cleanup.WithRecorder(m),
	)
	if err != nil {
		return err
	}

	hub := relay.NewHub(log)
	checks := health.New(cfg.Environment)
	checks.RegisterCheck("users", func(context.Context) error {
		if users.Count() == 0 {
			return errors.New("no users loaded")
		}
		return nil
	})

	srv := &http.Server{
		Addr: cfg.DevAPI.Addr,
		Handler: devapi.NewRouter(devapi.RouterConfig{
			Service:  svc,
			Logger:   log,
			Metrics:  m,
			Gatherer: reg,
			Health:   checks,
			Relay:    hub,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.DevAPI.Addr, "relay", devapi.RelayPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := worker.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
