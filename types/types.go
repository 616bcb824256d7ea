package types

// Status is the lifecycle state of a cached query.
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusPending       Status = "pending"
	StatusFulfilled     Status = "fulfilled"
	StatusRejected      Status = "rejected"
)

// IsTerminal reports whether a fetch has settled.
func (s Status) IsTerminal() bool {
	return s == StatusFulfilled || s == StatusRejected
}

// Action is the kind of synchronization event exchanged between processes.
type Action = string

const (
	// Invalidate marks every entry carrying one of the event tags as stale.
	Invalidate Action = "invalidate"
	// Clear drops every entry, used on logout.
	Clear Action = "clear"
)

// InvalidationEvent represents a cache synchronization event.
// It propagates tag invalidations to other processes sharing the same account.
type InvalidationEvent struct {
	Tags   []string `json:"tags,omitempty"`
	Sender string   `json:"sender"`
	Action string   `json:"action"` // "invalidate" or "clear"
}
