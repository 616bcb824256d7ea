package querysync

import (
	"github.com/huykn/querysync/api"
	"github.com/huykn/querysync/cache"
	"github.com/huykn/querysync/session"
)

// Logger is an alias for cache.Logger.
type Logger = cache.Logger

// LocalCacheConfig is an alias for cache.LocalCacheConfig.
type LocalCacheConfig = cache.LocalCacheConfig

// Stats is an alias for cache.Stats.
type Stats = cache.Stats

// Result is an alias for cache.Result.
type Result = cache.Result

// Subscription is an alias for cache.Subscription.
type Subscription = cache.Subscription

// InvalidationEvent is an alias for cache.InvalidationEvent.
type InvalidationEvent = cache.InvalidationEvent

// Session is an alias for session.Session.
type Session = session.Session

// Error is an alias for api.Error.
type Error = api.Error

// DefaultLocalCacheConfig returns default idle pool configuration.
func DefaultLocalCacheConfig() LocalCacheConfig {
	return cache.DefaultLocalCacheConfig()
}
