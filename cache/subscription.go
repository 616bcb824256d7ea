package cache

import (
	"context"
)

// Subscription is one consumer's handle on a cache entry. Updates delivers the
// latest snapshot after every status transition; intermediate snapshots may be
// coalesced when the consumer is slow.
type Subscription struct {
	id      uint64
	key     string
	c       *Coordinator
	entry   *entry
	updates chan Result
	closed  bool // guarded by c.mu
}

// Key returns the cache key of the subscribed entry.
func (s *Subscription) Key() string {
	return s.key
}

// Snapshot returns the entry's current state.
func (s *Subscription) Snapshot() Result {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	return s.entry.result()
}

// Updates returns the channel of state transitions. It is closed by Unsubscribe.
func (s *Subscription) Updates() <-chan Result {
	return s.updates
}

// Refetch forces a new fetch for the subscribed entry.
func (s *Subscription) Refetch(ctx context.Context) error {
	return s.c.Refetch(ctx, s.key)
}

// Wait blocks until the entry is fulfilled or rejected. It returns
// ErrEntryReset if the coordinator is reset before the entry settles.
func (s *Subscription) Wait(ctx context.Context) (Result, error) {
	r := s.Snapshot()
	if r.Status.IsTerminal() {
		return r, nil
	}
	if r.Status == StatusUninitialized {
		return r, ErrEntryReset
	}

	for {
		select {
		case <-ctx.Done():
			return r, ctx.Err()
		case next, ok := <-s.updates:
			if !ok {
				return r, ErrSubscriptionClosed
			}
			r = next
			switch {
			case r.Status.IsTerminal():
				return r, nil
			case r.Status == StatusUninitialized:
				return r, ErrEntryReset
			}
		}
	}
}

// Unsubscribe detaches the consumer. A pending fetch keeps running and its
// result is retained for reuse, but this subscription sees no further updates.
func (s *Subscription) Unsubscribe() {
	s.c.unsubscribe(s)
}

// push delivers r without blocking, replacing any undelivered snapshot.
func (s *Subscription) push(r Result) {
	if s.closed {
		return
	}
	select {
	case s.updates <- r:
		return
	default:
	}
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- r:
	default:
	}
}

func (s *Subscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.updates)
}
