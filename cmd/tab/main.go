// Command tab runs terminal tabs of the sessionkit client. Tabs in one
// process, or in several processes sharing a file or Redis origin, keep their
// sessions in step through the configured broadcast channel.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"sessionkit/internal/platform/config"
	"sessionkit/internal/platform/logger"
)

type options struct {
	configPath  string
	tabs        int
	plain       bool
	metricsAddr string

	apiURL    string
	storage   string
	broadcast string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "tab",
		Short: "Interactive sessionkit tab",
		Long: `tab opens one or more simulated browser tabs against the auth API.

Tabs share credentials through the storage backend and coordinate login,
logout and company switches over the broadcast channel. Run several
processes against a file or redis backend, or use --tabs with the memory
backends to try everything in one terminal.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if err := opts.apply(cfg); err != nil {
				return err
			}
			return run(cmd.Context(), cfg, opts, cmd)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", os.Getenv("SESSIONKIT_CONFIG"), "YAML config file")
	f.IntVarP(&opts.tabs, "tabs", "n", 1, "number of tabs to open in this process")
	f.BoolVar(&opts.plain, "plain", false, "answer prompts on stdin instead of interactive forms")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	f.StringVar(&opts.apiURL, "api", "", "auth API base URL")
	f.StringVar(&opts.storage, "storage", "", "credential storage backend: memory, file or redis")
	f.StringVar(&opts.broadcast, "broadcast", "", "primary transport: none, memory, redis, nats or wsrelay")
	return cmd
}

// apply overlays explicit flags on the loaded configuration.
func (o options) apply(cfg *config.Config) error {
	if o.apiURL != "" {
		cfg.API.BaseURL = o.apiURL
	}
	if o.storage != "" {
		cfg.Storage.Backend = o.storage
	}
	if o.broadcast != "" {
		cfg.Broadcast.Primary = o.broadcast
	}
	return cfg.Validate()
}

func run(ctx context.Context, cfg *config.Config, opts options, cmd *cobra.Command) error {
	log := logger.NewWithWriter(cmd.ErrOrStderr(), cfg.LogLevel)
	reg := prometheus.NewRegistry()

	env, err := newEnvironment(ctx, cfg, log, reg)
	if err != nil {
		return err
	}
	defer env.Close()

	if opts.metricsAddr != "" {
		srv := &http.Server{
			Addr:              opts.metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	return runShell(ctx, env, cmd.InOrStdin(), cmd.OutOrStdout(), opts.tabs, opts.plain)
}
