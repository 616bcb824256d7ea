package cache

import (
	"time"

	"go.trai.ch/zerr"
)

// LocalCacheConfig configures the idle entry pool.
type LocalCacheConfig struct {
	// Ristretto sizing, LFU pool only. Every parked entry costs 1, so
	// MaxCost caps the entry count; NumCounters should be about 10x that.
	NumCounters        int64
	MaxCost            int64
	BufferItems        int64
	IgnoreInternalCost bool

	// MaxSize caps the LRU pool.
	MaxSize int

	// TTL is how long an idle entry survives. Zero inherits Options.KeepUnusedFor.
	TTL time.Duration
}

// Options configures a Coordinator.
type Options struct {
	// DeviceID tags published invalidations so a device skips its own echo.
	DeviceID string

	// Fetcher performs the network calls. Required.
	Fetcher Fetcher

	// StaleTime is how long a fulfilled entry is served without refetching.
	StaleTime time.Duration

	// KeepUnusedFor is the grace period an entry with no subscribers is kept.
	KeepUnusedFor time.Duration

	LocalCacheConfig LocalCacheConfig

	// LocalCacheFactory builds the idle pool. Nil means LRU.
	LocalCacheFactory LocalCacheFactory

	// Synchronizer propagates invalidations to other devices. Nil keeps them local.
	Synchronizer Synchronizer

	Logger    Logger
	DebugMode bool

	// ContextTimeout bounds each background fetch. Zero leaves it to the transport.
	ContextTimeout time.Duration

	// OnError receives failures from background fetches and sync publishing.
	OnError func(error)

	// ResetOnError reports whether a fetch error invalidates the whole cache,
	// e.g. a rejected session token. The failing entry settles as rejected
	// without a value; every other entry is reset as by Reset, locally only.
	ResetOnError func(error) bool
}

// DefaultOptions returns default coordinator options.
func DefaultOptions() Options {
	return Options{
		DeviceID:         "default-device",
		StaleTime:        60 * time.Second,
		KeepUnusedFor:    60 * time.Second,
		ContextTimeout:   30 * time.Second,
		LocalCacheConfig: DefaultLocalCacheConfig(),
	}
}

// DefaultLocalCacheConfig returns default idle pool configuration.
func DefaultLocalCacheConfig() LocalCacheConfig {
	return LocalCacheConfig{
		NumCounters:        1e5,
		MaxCost:            1e4,
		BufferItems:        64,
		IgnoreInternalCost: true,
		MaxSize:            1000,
	}
}

// Validate reports the first invalid field.
func (o *Options) Validate() error {
	switch {
	case o.DeviceID == "":
		return zerr.With(ErrInvalidConfig, "field", "device_id")
	case o.Fetcher == nil:
		return zerr.With(ErrInvalidConfig, "field", "fetcher")
	case o.StaleTime < 0 || o.KeepUnusedFor < 0:
		return zerr.With(ErrInvalidConfig, "field", "durations")
	case o.LocalCacheConfig.MaxSize <= 0:
		return zerr.With(ErrInvalidConfig, "field", "max_size")
	case o.LocalCacheConfig.NumCounters <= 0 || o.LocalCacheConfig.MaxCost <= 0:
		return zerr.With(ErrInvalidConfig, "field", "lfu_sizing")
	}
	return nil
}
