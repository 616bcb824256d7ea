package querysync

import (
	"errors"

	"github.com/huykn/querysync/api"
	"github.com/huykn/querysync/cache"
	"github.com/huykn/querysync/mutation"
	"github.com/huykn/querysync/session"
)

// ErrInvalidConfig is returned when the client configuration is invalid.
var ErrInvalidConfig = errors.New("invalid client configuration")

// ErrUnknownStore is returned for an unsupported Store.Type.
var ErrUnknownStore = errors.New("unknown session store type")

// ErrCacheClosed is returned when operations are performed on a closed client.
var ErrCacheClosed = cache.ErrCacheClosed

// ErrEntryReset is returned when the cache is reset while a query waits.
var ErrEntryReset = cache.ErrEntryReset

// ErrSubmissionPending is returned while another submission to the same
// idempotent endpoint is in flight.
var ErrSubmissionPending = mutation.ErrSubmissionPending

// ErrLoggedOut is returned by session operations that need a logged-in user.
var ErrLoggedOut = session.ErrLoggedOut

// ErrNoToken is returned when a login response carries no token.
var ErrNoToken = api.ErrNoToken
