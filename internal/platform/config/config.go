package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageRedis  = "redis"
)

// Primary broadcast transports. TransportNone runs the bus on the storage fallback only.
const (
	TransportNone    = "none"
	TransportMemory  = "memory"
	TransportRedis   = "redis"
	TransportNATS    = "nats"
	TransportWSRelay = "wsrelay"
)

// DefaultChannel is the product-scoped channel identifier shared by every tab.
const DefaultChannel = "sessionkit-auth"

// Config is the complete client configuration.
type Config struct {
	Environment string          `yaml:"environment"`
	LogLevel    string          `yaml:"log_level"`
	API         APIConfig       `yaml:"api"`
	Session     SessionConfig   `yaml:"session"`
	Storage     StorageConfig   `yaml:"storage"`
	Broadcast   BroadcastConfig `yaml:"broadcast"`
	Redis       RedisConfig     `yaml:"redis"`
	NATS        NATSConfig      `yaml:"nats"`
	Kafka       KafkaConfig     `yaml:"kafka"`
	DevAPI      DevAPIConfig    `yaml:"devapi"`
}

// APIConfig points the REST client at the auth endpoints.
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// SessionConfig tunes renewal.
type SessionConfig struct {
	// RenewalBuffer is how long before expiry the renewal timer fires.
	RenewalBuffer time.Duration `yaml:"renewal_buffer"`
	// RenewalJitter pulls each tab's timer up to this much earlier, so tabs
	// sharing one pair do not all renew at the same instant.
	RenewalJitter time.Duration `yaml:"renewal_jitter"`
	// DefaultTokenTTL applies when neither expires_in nor the exp claim is present.
	DefaultTokenTTL time.Duration `yaml:"default_token_ttl"`
}

// StorageConfig selects the origin-scoped key-value backend.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	// Origin scopes keys so two products on one backend never see each other.
	Origin string `yaml:"origin"`
	// Dir is the root directory for the file backend.
	Dir string `yaml:"dir"`
}

// BroadcastConfig selects the primary cross-tab transport.
type BroadcastConfig struct {
	Primary        string        `yaml:"primary"`
	Channel        string        `yaml:"channel"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	// RelayURL is the websocket endpoint used by the wsrelay transport.
	RelayURL string `yaml:"relay_url"`
}

// RedisConfig mirrors the go-redis pool knobs.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// NATSConfig configures the NATS connection.
type NATSConfig struct {
	URL           string        `yaml:"url"`
	Name          string        `yaml:"name"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// KafkaConfig configures the optional audit stream. Empty Brokers disables it.
type KafkaConfig struct {
	Brokers         string        `yaml:"brokers"`
	Topic           string        `yaml:"topic"`
	Acks            string        `yaml:"acks"`
	Retries         int           `yaml:"retries"`
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`
}

// DevAPIConfig configures cmd/devapi.
type DevAPIConfig struct {
	Addr       string        `yaml:"addr"`
	SigningKey string        `yaml:"signing_key"`
	AccessTTL  time.Duration `yaml:"access_ttl"`
	RefreshTTL time.Duration `yaml:"refresh_ttl"`
	// ReuseGrace is how long a rotated refresh token still yields its successor.
	ReuseGrace time.Duration `yaml:"reuse_grace"`
}

// Default returns a Config that runs entirely in-process.
func Default() *Config {
	return &Config{
		Environment: "dev",
		LogLevel:    "info",
		API: APIConfig{
			BaseURL: "http://localhost:8080",
			Timeout: 10 * time.Second,
		},
		Session: SessionConfig{
			RenewalBuffer:   300 * time.Second,
			RenewalJitter:   30 * time.Second,
			DefaultTokenTTL: time.Hour,
		},
		Storage: StorageConfig{
			Backend: StorageMemory,
			Origin:  "localhost",
			Dir:     os.TempDir(),
		},
		Broadcast: BroadcastConfig{
			Primary:        TransportMemory,
			Channel:        DefaultChannel,
			PublishTimeout: 2 * time.Second,
			RelayURL:       "ws://localhost:8080/ws/broadcast",
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 1,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			Name:          "sessionkit-tab",
			MaxReconnects: 5,
			ReconnectWait: time.Second,
		},
		Kafka: KafkaConfig{
			Topic:           "sessionkit.audit",
			Acks:            "1",
			Retries:         3,
			DeliveryTimeout: 10 * time.Second,
		},
		DevAPI: DevAPIConfig{
			Addr: ":8080",
			// Use a default for development - should be overridden anywhere shared
			SigningKey: "dev-secret-key-change-in-production",
			AccessTTL:  time.Hour,
			RefreshTTL: 30 * 24 * time.Hour,
			ReuseGrace: 10 * time.Second,
		},
	}
}

// FromEnv builds a Config from defaults, the optional YAML file named by
// SESSIONKIT_CONFIG, and SESSIONKIT_* environment variables, in that order.
func FromEnv() (*Config, error) {
	return Load(os.Getenv("SESSIONKIT_CONFIG"))
}

// Load is FromEnv with an explicit file path. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML document at path onto cfg. Zero values in the
// file leave the current value in place.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	c.Merge(&overlay)
	return nil
}

// Merge copies every non-zero field of other onto c.
func (c *Config) Merge(other *Config) {
	setString(&c.Environment, other.Environment)
	setString(&c.LogLevel, other.LogLevel)

	setString(&c.API.BaseURL, other.API.BaseURL)
	setDuration(&c.API.Timeout, other.API.Timeout)

	setDuration(&c.Session.RenewalBuffer, other.Session.RenewalBuffer)
	setDuration(&c.Session.RenewalJitter, other.Session.RenewalJitter)
	setDuration(&c.Session.DefaultTokenTTL, other.Session.DefaultTokenTTL)

	setString(&c.Storage.Backend, other.Storage.Backend)
	setString(&c.Storage.Origin, other.Storage.Origin)
	setString(&c.Storage.Dir, other.Storage.Dir)

	setString(&c.Broadcast.Primary, other.Broadcast.Primary)
	setString(&c.Broadcast.Channel, other.Broadcast.Channel)
	setDuration(&c.Broadcast.PublishTimeout, other.Broadcast.PublishTimeout)
	setString(&c.Broadcast.RelayURL, other.Broadcast.RelayURL)

	setString(&c.Redis.URL, other.Redis.URL)
	setInt(&c.Redis.PoolSize, other.Redis.PoolSize)
	setInt(&c.Redis.MinIdleConns, other.Redis.MinIdleConns)
	setDuration(&c.Redis.DialTimeout, other.Redis.DialTimeout)
	setDuration(&c.Redis.ReadTimeout, other.Redis.ReadTimeout)
	setDuration(&c.Redis.WriteTimeout, other.Redis.WriteTimeout)

	setString(&c.NATS.URL, other.NATS.URL)
	setString(&c.NATS.Name, other.NATS.Name)
	setInt(&c.NATS.MaxReconnects, other.NATS.MaxReconnects)
	setDuration(&c.NATS.ReconnectWait, other.NATS.ReconnectWait)

	setString(&c.Kafka.Brokers, other.Kafka.Brokers)
	setString(&c.Kafka.Topic, other.Kafka.Topic)
	setString(&c.Kafka.Acks, other.Kafka.Acks)
	setInt(&c.Kafka.Retries, other.Kafka.Retries)
	setDuration(&c.Kafka.DeliveryTimeout, other.Kafka.DeliveryTimeout)

	setString(&c.DevAPI.Addr, other.DevAPI.Addr)
	setString(&c.DevAPI.SigningKey, other.DevAPI.SigningKey)
	setDuration(&c.DevAPI.AccessTTL, other.DevAPI.AccessTTL)
	setDuration(&c.DevAPI.RefreshTTL, other.DevAPI.RefreshTTL)
	setDuration(&c.DevAPI.ReuseGrace, other.DevAPI.ReuseGrace)
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case StorageMemory, StorageFile:
	case StorageRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("storage.backend=redis requires redis.url")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	switch c.Broadcast.Primary {
	case TransportNone, TransportMemory, TransportWSRelay:
	case TransportRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("broadcast.primary=redis requires redis.url")
		}
	case TransportNATS:
		if c.NATS.URL == "" {
			return fmt.Errorf("broadcast.primary=nats requires nats.url")
		}
	default:
		return fmt.Errorf("unknown broadcast transport %q", c.Broadcast.Primary)
	}

	if c.Broadcast.Channel == "" {
		return fmt.Errorf("broadcast.channel is required")
	}
	if c.Storage.Origin == "" {
		return fmt.Errorf("storage.origin is required")
	}
	if c.Session.RenewalBuffer < 0 {
		return fmt.Errorf("session.renewal_buffer must not be negative")
	}
	if c.Session.RenewalJitter < 0 || c.Session.RenewalJitter > c.Session.RenewalBuffer {
		return fmt.Errorf("session.renewal_jitter must be between 0 and session.renewal_buffer")
	}
	if c.DevAPI.ReuseGrace < 0 {
		return fmt.Errorf("devapi.reuse_grace must not be negative")
	}
	if c.Session.DefaultTokenTTL <= 0 {
		return fmt.Errorf("session.default_token_ttl must be positive")
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) {
	envString(lookup, "SESSIONKIT_ENV", &c.Environment)
	envString(lookup, "SESSIONKIT_LOG_LEVEL", &c.LogLevel)
	envString(lookup, "SESSIONKIT_API_BASE_URL", &c.API.BaseURL)
	envDuration(lookup, "SESSIONKIT_API_TIMEOUT", &c.API.Timeout)
	envDuration(lookup, "SESSIONKIT_RENEWAL_BUFFER", &c.Session.RenewalBuffer)
	envDuration(lookup, "SESSIONKIT_RENEWAL_JITTER", &c.Session.RenewalJitter)
	envDuration(lookup, "SESSIONKIT_DEFAULT_TOKEN_TTL", &c.Session.DefaultTokenTTL)
	envString(lookup, "SESSIONKIT_STORAGE", &c.Storage.Backend)
	envString(lookup, "SESSIONKIT_ORIGIN", &c.Storage.Origin)
	envString(lookup, "SESSIONKIT_STORAGE_DIR", &c.Storage.Dir)
	envString(lookup, "SESSIONKIT_BROADCAST", &c.Broadcast.Primary)
	envString(lookup, "SESSIONKIT_CHANNEL", &c.Broadcast.Channel)
	envDuration(lookup, "SESSIONKIT_PUBLISH_TIMEOUT", &c.Broadcast.PublishTimeout)
	envString(lookup, "SESSIONKIT_RELAY_URL", &c.Broadcast.RelayURL)
	envString(lookup, "REDIS_URL", &c.Redis.URL)
	envInt(lookup, "REDIS_POOL_SIZE", &c.Redis.PoolSize)
	envString(lookup, "NATS_URL", &c.NATS.URL)
	envString(lookup, "KAFKA_BROKERS", &c.Kafka.Brokers)
	envString(lookup, "KAFKA_AUDIT_TOPIC", &c.Kafka.Topic)
	envString(lookup, "DEVAPI_ADDR", &c.DevAPI.Addr)
	envString(lookup, "JWT_SIGNING_KEY", &c.DevAPI.SigningKey)
	envDuration(lookup, "DEVAPI_ACCESS_TTL", &c.DevAPI.AccessTTL)
	envDuration(lookup, "DEVAPI_REFRESH_TTL", &c.DevAPI.RefreshTTL)
	envDuration(lookup, "DEVAPI_REUSE_GRACE", &c.DevAPI.ReuseGrace)
}

func envString(lookup lookupFunc, key string, dst *string) {
	if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

// envDuration ignores unparsable values so a typo keeps the default.
func envDuration(lookup lookupFunc, key string, dst *time.Duration) {
	if v, ok := lookup(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envInt(lookup lookupFunc, key string, dst *int) {
	if v, ok := lookup(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}
