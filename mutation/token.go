package mutation

import (
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/huykn/querysync/cache"
)

// NewIdempotencyKey returns a UUIDv7: a millisecond timestamp followed by
// random bits, unique across rapid repeated submissions from one device.
func NewIdempotencyKey() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Fingerprint hashes the canonical JSON form of payload, so two submissions
// of the same form data match regardless of map ordering.
func Fingerprint(payload any) (uint64, error) {
	canonical, err := cache.CanonicalJSON(payload)
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64(canonical), nil
}
