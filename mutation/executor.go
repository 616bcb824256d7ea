// Package mutation issues state-changing calls and keeps cached queries in
// step with them.
//
// Financial endpoints carry an idempotency key. A key belongs to one
// user-initiated submission: retrying a failed submission with unchanged
// payload reuses it, while a success, an edited payload or Forget starts a
// new one.
package mutation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/huykn/querysync/cache"
)

// Status is the lifecycle state of a mutation.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Definition declares how an endpoint's writes affect the cache.
type Definition struct {
	Endpoint        string
	InvalidatesTags []string
	Idempotent      bool
}

// Record describes one submission. It is not persisted.
type Record struct {
	ID             uint64
	Endpoint       string
	Payload        any
	IdempotencyKey string
	Status         Status
	Result         any
	Err            error
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Options configures an Executor.
type Options struct {
	Sender      Sender
	Invalidator Invalidator
	Definitions []Definition

	// NewKey generates idempotency keys. Defaults to NewIdempotencyKey.
	NewKey func() string

	// OnSettled is called exactly once per submission with its terminal record.
	OnSettled func(Record)

	Logger    cache.Logger
	DebugMode bool
	OnError   func(error)
}

type submission struct {
	fingerprint uint64
	key         string
	inflight    bool
}

// Executor runs mutations.
type Executor struct {
	mu          sync.Mutex
	defs        map[string]Definition
	submissions map[string]*submission // endpoint -> latest idempotent submission
	nextID      uint64
	options     Options
	logger      cache.Logger
	now         func() time.Time
}

// New creates an Executor.
func New(opts Options) (*Executor, error) {
	if opts.Sender == nil || opts.Invalidator == nil {
		return nil, ErrInvalidConfig
	}
	if opts.NewKey == nil {
		opts.NewKey = NewIdempotencyKey
	}
	if opts.Logger == nil {
		opts.Logger = cache.NewNoOpLogger()
	}

	defs := make(map[string]Definition, len(opts.Definitions))
	for _, def := range opts.Definitions {
		defs[def.Endpoint] = def
	}

	return &Executor{
		defs:        defs,
		submissions: make(map[string]*submission),
		options:     opts,
		logger:      opts.Logger,
		now:         time.Now,
	}, nil
}

// Mutate sends payload to endpoint and waits for the outcome. On success the
// endpoint's InvalidatesTags are invalidated; on failure the cache is left
// untouched and the error is returned with the failed record.
func (e *Executor) Mutate(ctx context.Context, endpoint string, payload any) (Record, error) {
	def, ok := e.defs[endpoint]
	if !ok {
		return Record{Endpoint: endpoint, Status: StatusIdle}, ErrUnknownEndpoint
	}

	rec := Record{
		ID:        atomic.AddUint64(&e.nextID, 1),
		Endpoint:  endpoint,
		Payload:   payload,
		Status:    StatusPending,
		StartedAt: e.now(),
	}

	if def.Idempotent {
		key, err := e.acquireKey(endpoint, payload)
		if err != nil {
			return Record{Endpoint: endpoint, Payload: payload, Status: StatusIdle}, err
		}
		rec.IdempotencyKey = key
	}

	if e.options.DebugMode {
		e.logger.Debug("Mutate: sending", "endpoint", endpoint, "id", rec.ID, "idempotencyKey", rec.IdempotencyKey)
	}

	result, err := e.options.Sender.Send(ctx, endpoint, payload, rec.IdempotencyKey)

	if def.Idempotent {
		e.releaseKey(endpoint, rec.IdempotencyKey, err == nil)
	}

	rec.FinishedAt = e.now()
	if err != nil {
		rec.Status = StatusFailed
		rec.Err = err
		if e.options.DebugMode {
			e.logger.Debug("Mutate: failed", "endpoint", endpoint, "id", rec.ID, "error", err)
		}
		e.settle(rec)
		return rec, err
	}

	rec.Status = StatusSucceeded
	rec.Result = result

	if len(def.InvalidatesTags) > 0 {
		if ierr := e.options.Invalidator.Invalidate(ctx, def.InvalidatesTags); ierr != nil {
			if e.options.OnError != nil {
				e.options.OnError(ierr)
			}
			e.logger.Warn("Mutate: failed to invalidate tags", "endpoint", endpoint, "tags", def.InvalidatesTags, "error", ierr)
		}
	}

	if e.options.DebugMode {
		e.logger.Debug("Mutate: succeeded", "endpoint", endpoint, "id", rec.ID)
	}
	e.settle(rec)
	return rec, nil
}

// Forget discards the retained key of endpoint's last failed submission, so
// the next submission gets a fresh one even with identical payload.
func (e *Executor) Forget(endpoint string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s, ok := e.submissions[endpoint]; ok && !s.inflight {
		delete(e.submissions, endpoint)
	}
}

// PendingKey returns the key a retry of the last failed submission to
// endpoint would reuse.
func (e *Executor) PendingKey(endpoint string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.submissions[endpoint]
	if !ok {
		return "", false
	}
	return s.key, true
}

func (e *Executor) acquireKey(endpoint string, payload any) (string, error) {
	fp, err := Fingerprint(payload)
	if err != nil {
		return "", errors.Join(ErrInvalidPayload, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	prev, ok := e.submissions[endpoint]
	// One submission per endpoint at a time: replacing an in-flight one would
	// lose its key if it then failed and were retried.
	if ok && prev.inflight {
		return "", ErrSubmissionPending
	}
	if ok && prev.fingerprint == fp {
		prev.inflight = true
		if e.options.DebugMode {
			e.logger.Debug("Mutate: retrying with previous idempotency key", "endpoint", endpoint, "idempotencyKey", prev.key)
		}
		return prev.key, nil
	}

	s := &submission{fingerprint: fp, key: e.options.NewKey(), inflight: true}
	e.submissions[endpoint] = s
	return s.key, nil
}

func (e *Executor) releaseKey(endpoint, key string, succeeded bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.submissions[endpoint]
	if !ok || s.key != key {
		return
	}
	if succeeded {
		delete(e.submissions, endpoint)
		return
	}
	s.inflight = false
}

func (e *Executor) settle(rec Record) {
	if e.options.OnSettled != nil {
		e.options.OnSettled(rec)
	}
}

var (
	// ErrInvalidConfig is returned when the executor is missing collaborators.
	ErrInvalidConfig = errors.New("invalid mutation executor configuration")

	// ErrUnknownEndpoint is returned for endpoints without a Definition.
	ErrUnknownEndpoint = errors.New("unknown mutation endpoint")

	// ErrInvalidPayload is returned when a payload cannot be fingerprinted.
	ErrInvalidPayload = errors.New("mutation payload is not serializable")

	// ErrSubmissionPending is returned while another submission to the same
	// idempotent endpoint is in flight.
	ErrSubmissionPending = errors.New("submission already pending")
)
