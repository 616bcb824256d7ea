package cache

import (
	"context"

	"github.com/huykn/querysync/types"
)

// Logger defines the interface for logging in the query cache.
type Logger interface {
	// Debug logs a debug message.
	Debug(msg string, args ...any)

	// Info logs an info message.
	Info(msg string, args ...any)

	// Warn logs a warning message.
	Warn(msg string, args ...any)

	// Error logs an error message.
	Error(msg string, args ...any)
}

// LocalCache is the idle pool: it parks entries nobody is subscribed to
// until their grace period ends. The coordinator calls it with its own lock
// held, so implementations must not call back into the coordinator.
type LocalCache interface {
	// Park stores an idle entry. It reports false if the pool refused it.
	Park(key string, entry any) bool

	// Take removes and returns a parked entry.
	Take(key string) (any, bool)

	// Drop discards a parked entry, if present.
	Drop(key string)

	// Purge discards every parked entry.
	Purge()

	Close()

	Metrics() LocalCacheMetrics
}

// LocalCacheMetrics counts idle pool activity.
type LocalCacheMetrics struct {
	Parked    int64
	Revived   int64 // Take hits
	Missed    int64 // Take misses
	Evictions int64 // entries the pool dropped on its own, by capacity or TTL
}

// LocalCacheFactory defines the interface for creating local cache implementations.
type LocalCacheFactory interface {
	// Create creates a new local cache instance.
	Create() (LocalCache, error)
}

// Fetcher performs the network call behind a query. The endpoint and args are
// the same values passed to Query; implementations resolve credentials at
// send time.
type Fetcher interface {
	Fetch(ctx context.Context, endpoint string, args any) (any, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, endpoint string, args any) (any, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, endpoint string, args any) (any, error) {
	return f(ctx, endpoint, args)
}

// Synchronizer defines the interface for propagating invalidations across processes.
type Synchronizer interface {
	// Subscribe starts listening for invalidation events.
	Subscribe(ctx context.Context) error

	// Publish publishes an invalidation event.
	Publish(ctx context.Context, event types.InvalidationEvent) error

	// OnInvalidate registers a callback for invalidation events.
	OnInvalidate(callback func(event types.InvalidationEvent))

	// Close closes the synchronizer.
	Close() error
}

// InvalidationEvent is an alias for types.InvalidationEvent.
type InvalidationEvent = types.InvalidationEvent

// Status is an alias for types.Status.
type Status = types.Status

// Status constants for cache entries.
const (
	StatusUninitialized = types.StatusUninitialized
	StatusPending       = types.StatusPending
	StatusFulfilled     = types.StatusFulfilled
	StatusRejected      = types.StatusRejected
)

// Action constants for synchronization events.
const (
	ActionInvalidate = types.Invalidate
	ActionClear      = types.Clear
)

// Stats represents coordinator statistics.
type Stats struct {
	Hits          int64
	Misses        int64
	Fetches       int64
	Deduplicated  int64
	Invalidations int64
	Superseded    int64
	Failures      int64
	ActiveEntries int64
	IdleRevived   int64
	IdleEvictions int64
}
