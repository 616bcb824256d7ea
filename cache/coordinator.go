package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// QueryOptions tunes a single Query call.
type QueryOptions struct {
	// Tags are attached to the entry for group invalidation.
	Tags []string

	// ForceRefetchOnMount fetches even when the cached value is fresh.
	ForceRefetchOnMount bool
}

// Result is a point-in-time view of a cache entry.
type Result struct {
	Key       string
	Status    Status
	Value     any
	HasValue  bool
	Err       error
	FetchedAt time.Time
}

// IsFetching reports whether a fetch is running for the entry.
func (r Result) IsFetching() bool {
	return r.Status == StatusPending
}

type entry struct {
	key        string
	endpoint   string
	args       any
	tags       map[string]struct{}
	status     Status
	value      any
	hasValue   bool
	err        error
	fetchedAt  time.Time
	generation uint64
	inflight   bool
	subs       map[uint64]*Subscription
}

// idleEntry is what survives in the local cache once nobody is subscribed.
type idleEntry struct {
	endpoint  string
	args      any
	tags      []string
	status    Status
	value     any
	hasValue  bool
	err       error
	fetchedAt time.Time
}

func (e *entry) result() Result {
	r := Result{
		Key:       e.key,
		Status:    e.status,
		Value:     e.value,
		HasValue:  e.hasValue,
		FetchedAt: e.fetchedAt,
	}
	// A pending refetch keeps the last good value but not the last error.
	if e.status == StatusRejected {
		r.Err = e.err
	}
	return r
}

func (e *entry) hasAnyTag(tags []string) bool {
	for _, tag := range tags {
		if _, ok := e.tags[tag]; ok {
			return true
		}
	}
	return false
}

func (e *entry) tagList() []string {
	tags := make([]string, 0, len(e.tags))
	for tag := range e.tags {
		tags = append(tags, tag)
	}
	return tags
}

// Coordinator owns cached server state keyed by endpoint and arguments.
// It shares in-flight fetches between subscribers, serves fresh values
// without network calls and refetches entries whose tags get invalidated.
type Coordinator struct {
	mu       sync.Mutex
	entries  map[string]*entry
	idle     LocalCache
	idleTags map[string]map[string]struct{} // tag -> idle keys
	group    singleflight.Group
	nextGen  uint64
	nextSub  uint64

	fetcher      Fetcher
	synchronizer Synchronizer
	logger       Logger
	options      Options
	now          func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	closed int32
	stats  Stats
}

// New creates a new Coordinator instance.
func New(opts Options) (*Coordinator, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	// Set defaults for optional fields
	if opts.LocalCacheConfig.TTL == 0 {
		opts.LocalCacheConfig.TTL = opts.KeepUnusedFor
	}
	if opts.LocalCacheFactory == nil {
		opts.LocalCacheFactory = NewLRUCacheFactory(opts.LocalCacheConfig.MaxSize, opts.LocalCacheConfig.TTL)
	}
	if opts.Logger == nil {
		opts.Logger = NewNoOpLogger()
	}

	idle, err := opts.LocalCacheFactory.Create()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		entries:      make(map[string]*entry),
		idle:         idle,
		idleTags:     make(map[string]map[string]struct{}),
		fetcher:      opts.Fetcher,
		synchronizer: opts.Synchronizer,
		logger:       opts.Logger,
		options:      opts,
		now:          time.Now,
		ctx:          ctx,
		cancel:       cancel,
	}

	if c.synchronizer != nil {
		subCtx, subCancel := context.WithTimeout(ctx, 5*time.Second)
		defer subCancel()

		if err := c.synchronizer.Subscribe(subCtx); err != nil {
			c.Close()
			return nil, err
		}
		c.synchronizer.OnInvalidate(c.handleEvent)
	}

	return c, nil
}

// Query registers a subscriber for the entry keyed by endpoint and args and
// returns it with the current snapshot. A fetch is started when the entry is
// missing, stale, rejected, or when ForceRefetchOnMount is set; a fetch that
// is already running is shared.
func (c *Coordinator) Query(ctx context.Context, endpoint string, args any, opts QueryOptions) (*Subscription, error) {
	if atomic.LoadInt32(&c.closed) != 0 {
		return nil, ErrCacheClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key, err := Key(endpoint, args)
	if err != nil {
		return nil, ErrInvalidArgs
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		e = c.reviveLocked(key)
		if e == nil {
			e = &entry{
				key:      key,
				endpoint: endpoint,
				args:     args,
				tags:     make(map[string]struct{}),
				status:   StatusUninitialized,
				subs:     make(map[uint64]*Subscription),
			}
		}
		c.entries[key] = e
	}
	for _, tag := range opts.Tags {
		e.tags[tag] = struct{}{}
	}

	c.nextSub++
	sub := &Subscription{
		id:      c.nextSub,
		key:     key,
		c:       c,
		entry:   e,
		updates: make(chan Result, 1),
	}
	e.subs[sub.id] = sub

	switch {
	case e.inflight:
		atomic.AddInt64(&c.stats.Deduplicated, 1)
		if c.options.DebugMode {
			c.logger.Debug("Query: joined in-flight fetch", "key", key)
		}
	case c.needsFetchLocked(e, opts.ForceRefetchOnMount):
		atomic.AddInt64(&c.stats.Misses, 1)
		c.startFetchLocked(e)
	default:
		atomic.AddInt64(&c.stats.Hits, 1)
		if c.options.DebugMode {
			c.logger.Debug("Query: served from cache", "key", key)
		}
	}

	return sub, nil
}

// Fetch queries and blocks until the entry settles. The returned value is the
// last good value when the fetch was rejected, alongside the error.
func (c *Coordinator) Fetch(ctx context.Context, endpoint string, args any, opts QueryOptions) (any, error) {
	sub, err := c.Query(ctx, endpoint, args, opts)
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	r, err := sub.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if r.Status == StatusRejected {
		return r.Value, r.Err
	}
	return r.Value, nil
}

// Refetch forces a fetch for an active key regardless of freshness. A fetch
// already running for the key is shared rather than duplicated.
func (c *Coordinator) Refetch(ctx context.Context, key string) error {
	if atomic.LoadInt32(&c.closed) != 0 {
		return ErrCacheClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return ErrNotFound
	}
	if e.inflight {
		atomic.AddInt64(&c.stats.Deduplicated, 1)
		return nil
	}
	c.startFetchLocked(e)
	return nil
}

// Invalidate marks every entry carrying one of tags as stale. Subscribed
// entries refetch immediately; idle entries are dropped. The invalidation is
// published to other processes when a Synchronizer is configured.
func (c *Coordinator) Invalidate(ctx context.Context, tags []string) error {
	if atomic.LoadInt32(&c.closed) != 0 {
		return ErrCacheClosed
	}
	if len(tags) == 0 {
		return nil
	}

	c.invalidateLocal(tags)

	if c.synchronizer != nil {
		event := InvalidationEvent{
			Tags:   tags,
			Sender: c.options.DeviceID,
			Action: ActionInvalidate,
		}
		if err := c.synchronizer.Publish(ctx, event); err != nil {
			c.reportError(err)
			if c.options.DebugMode {
				c.logger.Warn("Invalidate: failed to publish invalidation event", "tags", tags, "error", err)
			}
		}
	}

	return nil
}

// Reset drops every cached value, e.g. after logout. Live subscriptions stay
// registered and see their entry return to uninitialized.
func (c *Coordinator) Reset(ctx context.Context) error {
	if atomic.LoadInt32(&c.closed) != 0 {
		return ErrCacheClosed
	}

	c.resetLocal()

	if c.synchronizer != nil {
		event := InvalidationEvent{
			Sender: c.options.DeviceID,
			Action: ActionClear,
		}
		if err := c.synchronizer.Publish(ctx, event); err != nil {
			c.reportError(err)
			if c.options.DebugMode {
				c.logger.Warn("Reset: failed to publish clear event", "error", err)
			}
		}
	}

	return nil
}

// Close cancels running fetches and releases all resources.
func (c *Coordinator) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}

	c.cancel()

	var err error
	if c.synchronizer != nil {
		err = c.synchronizer.Close()
	}

	c.mu.Lock()
	for _, e := range c.entries {
		for _, sub := range e.subs {
			sub.closeLocked()
		}
	}
	c.entries = make(map[string]*entry)
	c.mu.Unlock()

	c.idle.Close()

	return err
}

// Stats returns coordinator statistics.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	active := int64(len(c.entries))
	c.mu.Unlock()
	idle := c.idle.Metrics()

	return Stats{
		Hits:          atomic.LoadInt64(&c.stats.Hits),
		Misses:        atomic.LoadInt64(&c.stats.Misses),
		Fetches:       atomic.LoadInt64(&c.stats.Fetches),
		Deduplicated:  atomic.LoadInt64(&c.stats.Deduplicated),
		Invalidations: atomic.LoadInt64(&c.stats.Invalidations),
		Superseded:    atomic.LoadInt64(&c.stats.Superseded),
		Failures:      atomic.LoadInt64(&c.stats.Failures),
		ActiveEntries: active,
		IdleRevived:   atomic.LoadInt64(&c.stats.IdleRevived),
		IdleEvictions: idle.Evictions,
	}
}

// Peek returns the current snapshot for key without subscribing.
func (c *Coordinator) Peek(key string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		return e.result(), true
	}
	return Result{}, false
}

func (c *Coordinator) needsFetchLocked(e *entry, force bool) bool {
	switch e.status {
	case StatusUninitialized, StatusRejected:
		return true
	case StatusPending:
		return !e.inflight
	}
	if force {
		return true
	}
	return c.now().Sub(e.fetchedAt) >= c.options.StaleTime
}

// startFetchLocked issues a new generation of the fetch for e. Any response
// from an earlier generation is discarded when it lands.
func (c *Coordinator) startFetchLocked(e *entry) {
	if e.inflight {
		// The running call predates whatever made us refetch.
		c.group.Forget(e.key)
		atomic.AddInt64(&c.stats.Superseded, 1)
	}

	c.nextGen++
	gen := c.nextGen
	e.generation = gen
	e.inflight = true
	e.status = StatusPending
	c.notifyLocked(e)

	atomic.AddInt64(&c.stats.Fetches, 1)
	if c.options.DebugMode {
		c.logger.Debug("Fetch: starting", "key", e.key, "generation", gen)
	}

	endpoint, args, key := e.endpoint, e.args, e.key
	ch := c.group.DoChan(key, func() (any, error) {
		ctx := c.ctx
		if c.options.ContextTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.options.ContextTimeout)
			defer cancel()
		}
		return c.fetcher.Fetch(ctx, endpoint, args)
	})

	go func() {
		res := <-ch
		c.settle(key, gen, res.Val, res.Err)
	}()
}

// settle applies a fetch outcome if it belongs to the current generation.
func (c *Coordinator) settle(key string, gen uint64, value any, err error) {
	if atomic.LoadInt32(&c.closed) != 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.generation != gen {
		if c.options.DebugMode {
			c.logger.Debug("Fetch: dropped superseded response", "key", key, "generation", gen)
		}
		return
	}

	e.inflight = false
	e.fetchedAt = c.now()
	if err != nil {
		atomic.AddInt64(&c.stats.Failures, 1)
		e.status = StatusRejected
		e.err = err
		if c.options.DebugMode {
			c.logger.Debug("Fetch: rejected", "key", key, "error", err)
		}
		if c.options.ResetOnError != nil && c.options.ResetOnError(err) {
			// Nothing cached under the rejected credentials may outlive them,
			// including this entry's last good value.
			e.value = nil
			e.hasValue = false
			c.resetLocked(e)
		}
	} else {
		e.status = StatusFulfilled
		e.value = value
		e.hasValue = true
		e.err = nil
		if c.options.DebugMode {
			c.logger.Debug("Fetch: fulfilled", "key", key)
		}
	}

	c.notifyLocked(e)

	if len(e.subs) == 0 {
		c.retireLocked(e)
	}
}

func (c *Coordinator) notifyLocked(e *entry) {
	r := e.result()
	for _, sub := range e.subs {
		sub.push(r)
	}
}

// retireLocked moves an unsubscribed, settled entry into the idle pool.
func (c *Coordinator) retireLocked(e *entry) {
	delete(c.entries, e.key)

	if !e.hasValue || c.options.KeepUnusedFor == 0 {
		return
	}

	tags := e.tagList()
	parked := c.idle.Park(e.key, &idleEntry{
		endpoint:  e.endpoint,
		args:      e.args,
		tags:      tags,
		status:    e.status,
		value:     e.value,
		hasValue:  e.hasValue,
		err:       e.err,
		fetchedAt: e.fetchedAt,
	})
	if !parked {
		return
	}
	for _, tag := range tags {
		keys, ok := c.idleTags[tag]
		if !ok {
			keys = make(map[string]struct{})
			c.idleTags[tag] = keys
		}
		keys[e.key] = struct{}{}
	}

	if c.options.DebugMode {
		c.logger.Debug("Entry: moved to idle pool", "key", e.key)
	}
}

// reviveLocked pulls key back out of the idle pool, or returns nil.
func (c *Coordinator) reviveLocked(key string) *entry {
	v, ok := c.idle.Take(key)
	if !ok {
		return nil
	}

	ie, ok := v.(*idleEntry)
	if !ok {
		return nil
	}
	for _, tag := range ie.tags {
		delete(c.idleTags[tag], key)
	}
	atomic.AddInt64(&c.stats.IdleRevived, 1)

	e := &entry{
		key:       key,
		endpoint:  ie.endpoint,
		args:      ie.args,
		tags:      make(map[string]struct{}, len(ie.tags)),
		status:    ie.status,
		value:     ie.value,
		hasValue:  ie.hasValue,
		err:       ie.err,
		fetchedAt: ie.fetchedAt,
		subs:      make(map[uint64]*Subscription),
	}
	for _, tag := range ie.tags {
		e.tags[tag] = struct{}{}
	}
	return e
}

func (c *Coordinator) unsubscribe(sub *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sub.closed {
		return
	}
	sub.closeLocked()

	e := sub.entry
	delete(e.subs, sub.id)
	if cur, ok := c.entries[sub.key]; !ok || cur != e {
		return
	}
	if len(e.subs) == 0 && !e.inflight {
		c.retireLocked(e)
	}
}

func (c *Coordinator) invalidateLocal(tags []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.entries {
		if !e.hasAnyTag(tags) {
			continue
		}
		atomic.AddInt64(&c.stats.Invalidations, 1)

		if len(e.subs) > 0 {
			if c.options.DebugMode {
				c.logger.Debug("Invalidate: refetching subscribed entry", "key", key)
			}
			c.startFetchLocked(e)
			continue
		}

		// Unsubscribed but still fetching: drop it so the next use is cold.
		if e.inflight {
			c.group.Forget(key)
		}
		delete(c.entries, key)
	}

	for _, tag := range tags {
		for key := range c.idleTags[tag] {
			c.idle.Drop(key)
			atomic.AddInt64(&c.stats.Invalidations, 1)
			if c.options.DebugMode {
				c.logger.Debug("Invalidate: dropped idle entry", "key", key)
			}
		}
		delete(c.idleTags, tag)
	}
}

func (c *Coordinator) resetLocal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked(nil)
}

// resetLocked returns every entry but keep to uninitialized and empties the
// idle pool.
func (c *Coordinator) resetLocked(keep *entry) {
	for key, e := range c.entries {
		if e == keep {
			continue
		}
		if e.inflight {
			c.group.Forget(key)
		}
		if len(e.subs) == 0 {
			delete(c.entries, key)
			continue
		}

		c.nextGen++
		e.generation = c.nextGen
		e.inflight = false
		e.status = StatusUninitialized
		e.value = nil
		e.hasValue = false
		e.err = nil
		e.fetchedAt = time.Time{}
		c.notifyLocked(e)
	}

	c.idle.Purge()
	c.idleTags = make(map[string]map[string]struct{})

	if c.options.DebugMode {
		c.logger.Debug("Reset: cleared all entries")
	}
}

// handleEvent applies invalidation events published by other processes.
func (c *Coordinator) handleEvent(event InvalidationEvent) {
	if event.Sender == c.options.DeviceID {
		return
	}
	if c.options.DebugMode {
		c.logger.Info("Received synchronization event", "action", event.Action, "tags", event.Tags, "sender", event.Sender)
	}

	switch event.Action {
	case ActionInvalidate:
		c.invalidateLocal(event.Tags)
	case ActionClear:
		c.resetLocal()
	default:
		if c.options.DebugMode {
			c.logger.Warn("Sync: unknown action", "action", event.Action, "sender", event.Sender)
		}
	}
}

func (c *Coordinator) reportError(err error) {
	if c.options.OnError != nil {
		c.options.OnError(err)
	}
}
