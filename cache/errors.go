package cache

import "go.trai.ch/zerr"

var (
	// ErrInvalidConfig is returned when options are invalid.
	ErrInvalidConfig = zerr.New("invalid cache configuration")

	// ErrCacheClosed is returned when operations are performed on a closed coordinator.
	ErrCacheClosed = zerr.New("cache is closed")

	// ErrNotFound is returned when a key has no active entry.
	ErrNotFound = zerr.New("cache entry not found")

	// ErrInvalidArgs is returned when query arguments cannot be serialized.
	ErrInvalidArgs = zerr.New("query arguments are not serializable")

	// ErrEntryReset is returned by Wait when Reset drops the entry mid-fetch.
	ErrEntryReset = zerr.New("cache entry was reset")

	// ErrSubscriptionClosed is returned when waiting on an unsubscribed subscription.
	ErrSubscriptionClosed = zerr.New("subscription closed")
)
