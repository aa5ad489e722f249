package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"sessionkit/internal/audit"
	"sessionkit/internal/broadcast"
	memtransport "sessionkit/internal/broadcast/transport/memory"
	natstransport "sessionkit/internal/broadcast/transport/nats"
	redistransport "sessionkit/internal/broadcast/transport/redis"
	"sessionkit/internal/broadcast/transport/wsrelay"
	"sessionkit/internal/credentials"
	"sessionkit/internal/credentials/storage/file"
	"sessionkit/internal/credentials/storage/memory"
	redisstorage "sessionkit/internal/credentials/storage/redis"
	"sessionkit/internal/platform/config"
	"sessionkit/internal/platform/kafka/producer"
	natsconn "sessionkit/internal/platform/nats"
	redisclient "sessionkit/internal/platform/redis"
	"sessionkit/internal/session"
)

const poolStatsInterval = 15 * time.Second

// environment holds the process-wide backends every tab attaches to.
type environment struct {
	cfg *config.Config
	log *slog.Logger

	audit          *audit.Publisher
	sessionMetrics *session.Metrics
	busMetrics     *broadcast.Metrics

	// storage opens the tab's view of the origin.
	storage func(tabID string) (credentials.Storage, error)
	// primary returns nil when the bus runs on the storage fallback alone.
	primary func(tabID string) (broadcast.Transport, error)

	closers []func()
}

func newEnvironment(ctx context.Context, cfg *config.Config, log *slog.Logger, reg prometheus.Registerer) (env *environment, err error) {
	env = &environment{
		cfg:            cfg,
		log:            log,
		sessionMetrics: session.NewMetrics(reg),
		busMetrics:     broadcast.NewMetrics(reg),
	}
	defer func() {
		if err != nil {
			env.Close()
		}
	}()

	var rdb *redisclient.Client
	if cfg.Storage.Backend == config.StorageRedis || cfg.Broadcast.Primary == config.TransportRedis {
		rdb, err = redisclient.Connect(ctx, cfg.Redis, redisclient.NewPoolMetrics(reg))
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		env.onClose(func() { _ = rdb.Close() })
		statsCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
		env.onClose(stop)
		go rdb.RunPoolStats(statsCtx, poolStatsInterval, log)
	}

	if err := env.wireStorage(rdb); err != nil {
		return nil, err
	}
	if err := env.wirePrimary(ctx, rdb); err != nil {
		return nil, err
	}
	if err := env.wireAudit(); err != nil {
		return nil, err
	}
	return env, nil
}

func (e *environment) wireStorage(rdb *redisclient.Client) error {
	cfg := e.cfg.Storage
	switch cfg.Backend {
	case config.StorageMemory:
		origin := memory.NewOrigin(memory.WithLogger(e.log))
		e.storage = func(string) (credentials.Storage, error) {
			return origin.Tab(), nil
		}
	case config.StorageFile:
		e.storage = func(tabID string) (credentials.Storage, error) {
			return file.New(cfg.Dir, cfg.Origin, file.WithWriterID(tabID), file.WithLogger(e.log))
		}
	case config.StorageRedis:
		e.storage = func(tabID string) (credentials.Storage, error) {
			return redisstorage.New(rdb.Client, cfg.Origin, redisstorage.WithWriterID(tabID), redisstorage.WithLogger(e.log)), nil
		}
	default:
		return fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	e.log.Info("credential storage ready", "backend", cfg.Backend, "origin", cfg.Origin)
	return nil
}

func (e *environment) wirePrimary(ctx context.Context, rdb *redisclient.Client) error {
	cfg := e.cfg.Broadcast
	switch cfg.Primary {
	case config.TransportNone:
		e.primary = func(string) (broadcast.Transport, error) { return nil, nil }
	case config.TransportMemory:
		hub := memtransport.NewHub(e.log)
		e.onClose(hub.Close)
		e.primary = func(string) (broadcast.Transport, error) {
			return hub.Transport(cfg.Channel), nil
		}
	case config.TransportRedis:
		e.primary = func(string) (broadcast.Transport, error) {
			return redistransport.New(rdb.Client, cfg.Channel, e.log), nil
		}
	case config.TransportNATS:
		conn, err := natsconn.Connect(ctx, e.cfg.NATS, e.log)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		e.onClose(conn.Close)
		e.primary = func(string) (broadcast.Transport, error) {
			return natstransport.New(conn, cfg.Channel, e.log), nil
		}
	case config.TransportWSRelay:
		e.primary = func(string) (broadcast.Transport, error) {
			return wsrelay.New(cfg.RelayURL, cfg.Channel, e.log)
		}
	default:
		return fmt.Errorf("unknown broadcast transport %q", cfg.Primary)
	}
	e.log.Info("broadcast transport ready", "primary", cfg.Primary, "channel", cfg.Channel)
	return nil
}

// wireAudit always logs events and also streams them to Kafka when brokers
// are configured.
func (e *environment) wireAudit() error {
	stores := audit.MultiStore{audit.NewLogStore(e.log)}
	if e.cfg.Kafka.Brokers != "" {
		p, err := producer.New(e.cfg.Kafka, e.log)
		if err != nil {
			return fmt.Errorf("create kafka producer: %w", err)
		}
		e.onClose(func() { _ = p.Close() })
		stores = append(stores, audit.NewKafkaStore(p, e.cfg.Kafka.Topic))
	}
	e.audit = audit.NewPublisher(stores, audit.WithAsyncBuffer(256), audit.WithPublisherLogger(e.log))
	// registered last so it drains before the producer closes
	e.onClose(e.audit.Close)
	return nil
}

func (e *environment) onClose(fn func()) {
	e.closers = append(e.closers, fn)
}

// Close releases backends in reverse order of acquisition.
func (e *environment) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}
