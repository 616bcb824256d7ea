package mutation

import "context"

// Sender delivers a single write to the backend. idempotencyKey is empty for
// endpoints that do not require one.
//
//go:generate mockgen -source=interfaces.go -destination=mocks/mock_interfaces.go -package=mocks
type Sender interface {
	Send(ctx context.Context, endpoint string, payload any, idempotencyKey string) (any, error)
}

// Invalidator marks cached queries carrying any of tags as stale.
type Invalidator interface {
	Invalidate(ctx context.Context, tags []string) error
}
