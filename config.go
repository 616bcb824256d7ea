package querysync

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"

	"github.com/huykn/querysync/cache"
	"github.com/huykn/querysync/storage"
)

// EnvPrefix is prepended to every environment variable LoadConfig reads.
const EnvPrefix = "QUERYSYNC_"

// Store types.
const (
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Idle pool implementations.
const (
	LocalCacheLRU = "lru"
	LocalCacheLFU = "lfu"
)

// Config configures a Client.
type Config struct {
	// BaseURL is the backend API root, e.g. "https://api.example.com/api".
	BaseURL string `yaml:"base_url" env:"BASE_URL"`

	// DeviceID identifies this process in cross-process invalidation events.
	DeviceID string `yaml:"device_id" env:"DEVICE_ID"`

	UserAgent string `yaml:"user_agent" env:"USER_AGENT"`

	// Timeout bounds each HTTP request.
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`

	// RateLimit caps outgoing requests per second; zero disables limiting.
	RateLimit float64 `yaml:"rate_limit" env:"RATE_LIMIT"`
	Burst     int     `yaml:"burst" env:"BURST"`

	// StaleTime is how long a fetched value is served without refetching.
	StaleTime time.Duration `yaml:"stale_time" env:"STALE_TIME"`

	// KeepUnusedFor is how long an unsubscribed value is kept for reuse.
	KeepUnusedFor time.Duration `yaml:"keep_unused_for" env:"KEEP_UNUSED_FOR"`

	// LocalCache selects the idle pool: "lru" or "lfu".
	LocalCache string `yaml:"local_cache" env:"LOCAL_CACHE"`

	// LocalCacheConfig sizes the idle pool.
	LocalCacheConfig LocalCacheConfig `yaml:"-"`

	Store StoreConfig `yaml:"store" envPrefix:"STORE_"`
	Redis RedisConfig `yaml:"redis" envPrefix:"REDIS_"`
	Sync  SyncConfig  `yaml:"sync" envPrefix:"SYNC_"`
	Log   LogConfig   `yaml:"log" envPrefix:"LOG_"`

	// DebugMode enables debug logging in every component.
	DebugMode bool `yaml:"debug" env:"DEBUG"`

	// EnableMetrics registers the Prometheus collectors.
	EnableMetrics bool `yaml:"enable_metrics" env:"ENABLE_METRICS"`

	// Logger overrides the logger built from Log.
	Logger Logger `yaml:"-"`

	// OnError is called when an error occurs in background operations.
	OnError func(error) `yaml:"-"`
}

// StoreConfig selects where the session is persisted.
type StoreConfig struct {
	// Type is "sqlite", "redis" or "memory".
	Type string `yaml:"type" env:"TYPE"`

	// Path is the SQLite database file.
	Path string `yaml:"path" env:"PATH"`

	// Format is the encoding of the persisted session. Only "json" is
	// supported.
	Format string `yaml:"format" env:"FORMAT"`
}

// RedisConfig is shared by the Redis store and the invalidation channel.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`

	// Prefix namespaces the keys of the Redis store.
	Prefix string `yaml:"prefix" env:"PREFIX"`
}

// SyncConfig configures cross-process invalidation over Redis Pub/Sub.
type SyncConfig struct {
	Enabled       bool   `yaml:"enabled" env:"ENABLED"`
	ChannelPrefix string `yaml:"channel_prefix" env:"CHANNEL_PREFIX"`
}

// LogConfig configures the built-in zap logger.
type LogConfig struct {
	// Level is a zap level name: debug, info, warn or error.
	Level string `yaml:"level" env:"LEVEL"`

	// Format is "console", "json" or "none".
	Format string `yaml:"format" env:"FORMAT"`
}

// DefaultConfig returns default client configuration.
func DefaultConfig() Config {
	return Config{
		DeviceID:         "default-device",
		UserAgent:        "querysync/" + Version,
		Timeout:          30 * time.Second,
		StaleTime:        60 * time.Second,
		KeepUnusedFor:    60 * time.Second,
		LocalCache:       LocalCacheLRU,
		LocalCacheConfig: DefaultLocalCacheConfig(),
		Store: StoreConfig{
			Type:   StoreSQLite,
			Path:   "querysync.db",
			Format: "json",
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "querysync:",
		},
		Sync: SyncConfig{
			ChannelPrefix: "querysync:invalidate",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "none",
		},
		Logger:    nil, // Will be built from Log in New()
		DebugMode: false,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return zerr.With(ErrInvalidConfig, "field", "base_url")
	}
	if c.DeviceID == "" {
		return zerr.With(ErrInvalidConfig, "field", "device_id")
	}
	if c.Timeout < 0 || c.StaleTime < 0 || c.KeepUnusedFor < 0 {
		return zerr.With(ErrInvalidConfig, "field", "durations")
	}
	if c.RateLimit < 0 || c.Burst < 0 {
		return zerr.With(ErrInvalidConfig, "field", "rate_limit")
	}

	switch c.LocalCache {
	case LocalCacheLRU, LocalCacheLFU:
	default:
		return zerr.With(ErrInvalidConfig, "local_cache", c.LocalCache)
	}

	switch c.Store.Type {
	case StoreSQLite:
		if c.Store.Path == "" {
			return zerr.With(ErrInvalidConfig, "field", "store.path")
		}
	case StoreRedis:
		if c.Redis.Addr == "" {
			return zerr.With(ErrInvalidConfig, "field", "redis.addr")
		}
	case StoreMemory:
	default:
		return zerr.With(ErrUnknownStore, "store", c.Store.Type)
	}

	if _, err := storage.GetSerializer(c.Store.Format); err != nil {
		return zerr.With(ErrInvalidConfig, "store.format", c.Store.Format)
	}

	if c.Sync.Enabled {
		if c.Redis.Addr == "" {
			return zerr.With(ErrInvalidConfig, "field", "redis.addr")
		}
		if c.Sync.ChannelPrefix == "" {
			return zerr.With(ErrInvalidConfig, "field", "sync.channel_prefix")
		}
	}

	switch c.Log.Format {
	case "", "none", "console", "json":
	default:
		return zerr.With(ErrInvalidConfig, "log.format", c.Log.Format)
	}
	return nil
}

// LoadConfig reads a YAML file on top of DefaultConfig, then applies
// QUERYSYNC_* environment overrides. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path is provided by user
		if err != nil {
			return Config{}, zerr.Wrap(err, "failed to read config file")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, zerr.Wrap(err, "failed to parse config file")
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, zerr.Wrap(err, "failed to parse environment")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) coordinatorOptions() cache.Options {
	opts := cache.DefaultOptions()
	opts.DeviceID = c.DeviceID
	opts.StaleTime = c.StaleTime
	opts.KeepUnusedFor = c.KeepUnusedFor
	opts.LocalCacheConfig = c.LocalCacheConfig
	if c.LocalCache == LocalCacheLFU {
		cfg := c.LocalCacheConfig
		if cfg.TTL == 0 {
			cfg.TTL = c.KeepUnusedFor
		}
		opts.LocalCacheFactory = cache.NewLFUCacheFactory(cfg)
	}
	opts.DebugMode = c.DebugMode
	opts.OnError = c.OnError
	return opts
}
