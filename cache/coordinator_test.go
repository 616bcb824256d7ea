package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeFetcher counts calls per endpoint. Calls listed in block wait for
// release before answering.
type fakeFetcher struct {
	mu      sync.Mutex
	calls   map[string]int
	block   map[int]chan struct{}
	respond func(endpoint string, args any, n int) (any, error)
}

func newFakeFetcher(respond func(endpoint string, args any, n int) (any, error)) *fakeFetcher {
	return &fakeFetcher{
		calls:   make(map[string]int),
		block:   make(map[int]chan struct{}),
		respond: respond,
	}
}

func (f *fakeFetcher) hold(n int) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.block[n] = ch
	return ch
}

func (f *fakeFetcher) Fetch(ctx context.Context, endpoint string, args any) (any, error) {
	f.mu.Lock()
	f.calls[endpoint]++
	n := f.calls[endpoint]
	gate := f.block[n]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.respond(endpoint, args, n)
}

func (f *fakeFetcher) count(endpoint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[endpoint]
}

func countingResponse(endpoint string, args any, n int) (any, error) {
	return n, nil
}

func newTestCoordinator(t *testing.T, f Fetcher) *Coordinator {
	t.Helper()
	opts := DefaultOptions()
	opts.Fetcher = f
	c, err := New(opts)
	if err != nil {
		t.Fatalf("Failed to create coordinator: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func waitFor(t *testing.T, sub *Subscription, pred func(Result) bool) Result {
	t.Helper()
	if r := sub.Snapshot(); pred(r) {
		return r
	}
	timeout := time.After(2 * time.Second)
	for {
		select {
		case r, ok := <-sub.Updates():
			if !ok {
				t.Fatal("Subscription closed while waiting")
			}
			if pred(r) {
				return r
			}
		case <-timeout:
			t.Fatalf("Timed out waiting, last snapshot: %+v", sub.Snapshot())
		}
	}
}

func fulfilledWith(v any) func(Result) bool {
	return func(r Result) bool { return r.Status == StatusFulfilled && r.Value == v }
}

func TestNewCoordinatorRequiresFetcher(t *testing.T) {
	if _, err := New(DefaultOptions()); err == nil {
		t.Fatal("Expected error without a fetcher")
	}
}

func TestQueryDeduplicatesConcurrentCalls(t *testing.T) {
	f := newFakeFetcher(countingResponse)
	release := f.hold(1)
	c := newTestCoordinator(t, f)
	ctx := context.Background()

	sub1, err := c.Query(ctx, "getChannels", nil, QueryOptions{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	sub2, err := c.Query(ctx, "getChannels", nil, QueryOptions{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	if sub1.Snapshot().Status != StatusPending || sub2.Snapshot().Status != StatusPending {
		t.Fatal("Both subscribers should see a pending fetch")
	}

	close(release)

	r1, err := sub1.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	r2, err := sub2.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	if r1.Value != 1 || r2.Value != 1 {
		t.Fatalf("Expected both subscribers to get 1, got %v and %v", r1.Value, r2.Value)
	}
	if n := f.count("getChannels"); n != 1 {
		t.Fatalf("Expected 1 network call, got %d", n)
	}
	if c.Stats().Deduplicated != 1 {
		t.Fatalf("Expected 1 deduplicated query, got %d", c.Stats().Deduplicated)
	}
}

func TestQueryKeyStableAcrossArgumentOrder(t *testing.T) {
	f := newFakeFetcher(countingResponse)
	c := newTestCoordinator(t, f)
	ctx := context.Background()

	sub1, _ := c.Query(ctx, "getCoinHistory", map[string]any{"a": 1, "b": 2}, QueryOptions{})
	sub2, _ := c.Query(ctx, "getCoinHistory", map[string]any{"b": 2, "a": 1}, QueryOptions{})

	if sub1.Key() != sub2.Key() {
		t.Fatalf("Expected same key, got %s and %s", sub1.Key(), sub2.Key())
	}

	waitFor(t, sub2, fulfilledWith(1))
	if n := f.count("getCoinHistory"); n != 1 {
		t.Fatalf("Expected 1 network call, got %d", n)
	}
}

func TestQueryServesFreshValueFromCache(t *testing.T) {
	f := newFakeFetcher(countingResponse)
	c := newTestCoordinator(t, f)
	ctx := context.Background()

	sub1, _ := c.Query(ctx, "getWalletBalance", nil, QueryOptions{})
	waitFor(t, sub1, fulfilledWith(1))

	sub2, _ := c.Query(ctx, "getWalletBalance", nil, QueryOptions{})
	if r := sub2.Snapshot(); r.Status != StatusFulfilled || r.Value != 1 {
		t.Fatalf("Expected cached value 1, got %+v", r)
	}
	if n := f.count("getWalletBalance"); n != 1 {
		t.Fatalf("Expected 1 network call, got %d", n)
	}
	if c.Stats().Hits != 1 {
		t.Fatalf("Expected 1 hit, got %d", c.Stats().Hits)
	}
}

func TestQueryForceRefetchOnMount(t *testing.T) {
	f := newFakeFetcher(countingResponse)
	c := newTestCoordinator(t, f)
	ctx := context.Background()

	sub1, _ := c.Query(ctx, "getUserData", nil, QueryOptions{})
	waitFor(t, sub1, fulfilledWith(1))

	sub2, _ := c.Query(ctx, "getUserData", nil, QueryOptions{ForceRefetchOnMount: true})
	r := sub2.Snapshot()
	if r.Status != StatusPending || r.Value != 1 {
		t.Fatalf("Expected pending refetch with stale value 1, got %+v", r)
	}

	waitFor(t, sub2, fulfilledWith(2))
	waitFor(t, sub1, fulfilledWith(2))
}

func TestQueryRefetchesAfterStaleTime(t *testing.T) {
	f := newFakeFetcher(countingResponse)
	c := newTestCoordinator(t, f)
	ctx := context.Background()

	now := time.Now()
	c.now = func() time.Time { return now }

	sub1, _ := c.Query(ctx, "getCoinsData", nil, QueryOptions{})
	waitFor(t, sub1, fulfilledWith(1))

	now = now.Add(c.options.StaleTime + time.Second)

	sub2, _ := c.Query(ctx, "getCoinsData", nil, QueryOptions{})
	waitFor(t, sub2, fulfilledWith(2))
}

func TestInvalidateRefetchesSubscribedEntries(t *testing.T) {
	f := newFakeFetcher(countingResponse)
	c := newTestCoordinator(t, f)
	ctx := context.Background()

	notifications, _ := c.Query(ctx, "getNotificationList", map[string]any{"page": 1}, QueryOptions{Tags: []string{"Notifications"}})
	balance, _ := c.Query(ctx, "getWalletBalance", nil, QueryOptions{})
	waitFor(t, notifications, fulfilledWith(1))
	waitFor(t, balance, fulfilledWith(1))

	if err := c.Invalidate(ctx, []string{"Notifications"}); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}

	waitFor(t, notifications, fulfilledWith(2))
	if n := f.count("getWalletBalance"); n != 1 {
		t.Fatalf("Untagged entry should not refetch, got %d calls", n)
	}
}

func TestInvalidateDropsIdleEntries(t *testing.T) {
	f := newFakeFetcher(countingResponse)
	c := newTestCoordinator(t, f)
	ctx := context.Background()

	sub, _ := c.Query(ctx, "getNotificationList", nil, QueryOptions{Tags: []string{"Notifications"}})
	waitFor(t, sub, fulfilledWith(1))
	sub.Unsubscribe()

	if err := c.Invalidate(ctx, []string{"Notifications"}); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if n := f.count("getNotificationList"); n != 1 {
		t.Fatalf("Idle entry must not refetch on invalidation, got %d calls", n)
	}

	sub, _ = c.Query(ctx, "getNotificationList", nil, QueryOptions{Tags: []string{"Notifications"}})
	if r := sub.Snapshot(); r.HasValue {
		t.Fatalf("Expected cold fetch after invalidation, got %+v", r)
	}
	waitFor(t, sub, fulfilledWith(2))
}

func TestIdleEntryIsRevived(t *testing.T) {
	f := newFakeFetcher(countingResponse)
	c := newTestCoordinator(t, f)
	ctx := context.Background()

	sub, _ := c.Query(ctx, "getCoinsRate", nil, QueryOptions{})
	waitFor(t, sub, fulfilledWith(1))
	sub.Unsubscribe()

	if c.Stats().ActiveEntries != 0 {
		t.Fatalf("Expected no active entries, got %d", c.Stats().ActiveEntries)
	}

	sub, _ = c.Query(ctx, "getCoinsRate", nil, QueryOptions{})
	if r := sub.Snapshot(); r.Status != StatusFulfilled || r.Value != 1 {
		t.Fatalf("Expected revived value 1, got %+v", r)
	}
	if c.Stats().IdleRevived != 1 {
		t.Fatalf("Expected 1 revived entry, got %d", c.Stats().IdleRevived)
	}
	if n := f.count("getCoinsRate"); n != 1 {
		t.Fatalf("Expected 1 network call, got %d", n)
	}
}

func TestRejectedRefetchKeepsLastValue(t *testing.T) {
	boom := errors.New("server unavailable")
	f := newFakeFetcher(func(endpoint string, args any, n int) (any, error) {
		if n == 2 {
			return nil, boom
		}
		return n, nil
	})
	c := newTestCoordinator(t, f)
	ctx := context.Background()

	sub, _ := c.Query(ctx, "getMoneyHistoryGrouped", nil, QueryOptions{})
	waitFor(t, sub, fulfilledWith(1))

	if err := sub.Refetch(ctx); err != nil {
		t.Fatalf("Refetch failed: %v", err)
	}

	r := waitFor(t, sub, func(r Result) bool { return r.Status == StatusRejected })
	if !errors.Is(r.Err, boom) {
		t.Fatalf("Expected error %v, got %v", boom, r.Err)
	}
	if !r.HasValue || r.Value != 1 {
		t.Fatalf("Expected last good value 1 to survive, got %+v", r)
	}
	if n := f.count("getMoneyHistoryGrouped"); n != 2 {
		t.Fatalf("Errors must not be retried automatically, got %d calls", n)
	}
}

func TestPendingRefetchHidesLastError(t *testing.T) {
	boom := errors.New("server unavailable")
	f := newFakeFetcher(func(endpoint string, args any, n int) (any, error) {
		if n == 1 {
			return nil, boom
		}
		return n, nil
	})
	release := f.hold(2)
	c := newTestCoordinator(t, f)
	ctx := context.Background()

	sub, _ := c.Query(ctx, "getCoinRate", nil, QueryOptions{})
	waitFor(t, sub, func(r Result) bool { return r.Status == StatusRejected })

	if err := sub.Refetch(ctx); err != nil {
		t.Fatalf("Refetch failed: %v", err)
	}
	r := sub.Snapshot()
	if r.Status != StatusPending || r.Err != nil {
		t.Fatalf("Expected pending snapshot without error, got %+v", r)
	}

	close(release)
	waitFor(t, sub, fulfilledWith(2))
}

func TestResetOnErrorDropsEveryValue(t *testing.T) {
	revoked := errors.New("token revoked")
	f := newFakeFetcher(func(endpoint string, args any, n int) (any, error) {
		if endpoint == "getWalletBalance" && n == 2 {
			return nil, revoked
		}
		return n, nil
	})
	opts := DefaultOptions()
	opts.Fetcher = f
	opts.ResetOnError = func(err error) bool { return errors.Is(err, revoked) }
	c, err := New(opts)
	if err != nil {
		t.Fatalf("Failed to create coordinator: %v", err)
	}
	defer c.Close()
	ctx := context.Background()

	if _, err := c.Fetch(ctx, "getCoinsData", nil, QueryOptions{}); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	me, _ := c.Query(ctx, "getMe", nil, QueryOptions{})
	waitFor(t, me, fulfilledWith(1))
	balance, _ := c.Query(ctx, "getWalletBalance", nil, QueryOptions{Tags: []string{"Wallet"}})
	waitFor(t, balance, fulfilledWith(1))

	if err := c.Invalidate(ctx, []string{"Wallet"}); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}

	r := waitFor(t, balance, func(r Result) bool { return r.Status == StatusRejected })
	if r.HasValue || !errors.Is(r.Err, revoked) {
		t.Fatalf("Expected rejected entry without value, got %+v", r)
	}
	if r := me.Snapshot(); r.Status != StatusUninitialized || r.HasValue {
		t.Fatalf("Other subscribed entries should be reset, got %+v", r)
	}

	if _, err := c.Fetch(ctx, "getCoinsData", nil, QueryOptions{}); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if n := f.count("getCoinsData"); n != 2 {
		t.Fatalf("Idle entry should be purged, got %d calls", n)
	}
}

func TestSupersededResponseIsDropped(t *testing.T) {
	f := newFakeFetcher(countingResponse)
	first := f.hold(1)
	c := newTestCoordinator(t, f)
	ctx := context.Background()

	sub, _ := c.Query(ctx, "getNotificationList", nil, QueryOptions{Tags: []string{"Notifications"}})
	if err := c.Invalidate(ctx, []string{"Notifications"}); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}

	waitFor(t, sub, fulfilledWith(2))

	close(first)
	time.Sleep(50 * time.Millisecond)

	if r := sub.Snapshot(); r.Value != 2 {
		t.Fatalf("Superseded response overwrote the entry: %+v", r)
	}
	if c.Stats().Superseded != 1 {
		t.Fatalf("Expected 1 superseded fetch, got %d", c.Stats().Superseded)
	}
}

func TestRefetchJoinsInFlightFetch(t *testing.T) {
	f := newFakeFetcher(countingResponse)
	release := f.hold(1)
	c := newTestCoordinator(t, f)
	ctx := context.Background()

	sub, _ := c.Query(ctx, "getChannels", nil, QueryOptions{})
	if err := sub.Refetch(ctx); err != nil {
		t.Fatalf("Refetch failed: %v", err)
	}
	close(release)

	waitFor(t, sub, fulfilledWith(1))
	if n := f.count("getChannels"); n != 1 {
		t.Fatalf("Expected 1 network call, got %d", n)
	}
}

func TestRefetchUnknownKey(t *testing.T) {
	c := newTestCoordinator(t, newFakeFetcher(countingResponse))

	if err := c.Refetch(context.Background(), "missing()"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestUnsubscribeDuringFetchStopsUpdates(t *testing.T) {
	f := newFakeFetcher(countingResponse)
	release := f.hold(1)
	c := newTestCoordinator(t, f)
	ctx := context.Background()

	sub, _ := c.Query(ctx, "getChannelMessages", "uuid-1", QueryOptions{})
	sub.Unsubscribe()

	// Drain the pending snapshot; the channel must then be closed.
	for range sub.Updates() {
	}

	close(release)
	time.Sleep(50 * time.Millisecond)

	next, _ := c.Query(ctx, "getChannelMessages", "uuid-1", QueryOptions{})
	if r := next.Snapshot(); r.Status != StatusFulfilled || r.Value != 1 {
		t.Fatalf("Expected result of abandoned fetch to be reused, got %+v", r)
	}
	if n := f.count("getChannelMessages"); n != 1 {
		t.Fatalf("Expected 1 network call, got %d", n)
	}
}

func TestFetchBlocksUntilSettled(t *testing.T) {
	boom := errors.New("boom")
	f := newFakeFetcher(func(endpoint string, args any, n int) (any, error) {
		if endpoint == "broken" {
			return nil, boom
		}
		return "ok", nil
	})
	c := newTestCoordinator(t, f)
	ctx := context.Background()

	v, err := c.Fetch(ctx, "getUserData", nil, QueryOptions{})
	if err != nil || v != "ok" {
		t.Fatalf("Expected ok, got %v, %v", v, err)
	}

	if _, err := c.Fetch(ctx, "broken", nil, QueryOptions{}); !errors.Is(err, boom) {
		t.Fatalf("Expected %v, got %v", boom, err)
	}
}

func TestResetClearsEntries(t *testing.T) {
	f := newFakeFetcher(countingResponse)
	c := newTestCoordinator(t, f)
	ctx := context.Background()

	live, _ := c.Query(ctx, "getUserData", nil, QueryOptions{})
	waitFor(t, live, fulfilledWith(1))

	idle, _ := c.Query(ctx, "getCoinsData", nil, QueryOptions{})
	waitFor(t, idle, fulfilledWith(1))
	idle.Unsubscribe()

	if err := c.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	if r := live.Snapshot(); r.Status != StatusUninitialized || r.HasValue {
		t.Fatalf("Expected live entry to be reset, got %+v", r)
	}

	sub, _ := c.Query(ctx, "getCoinsData", nil, QueryOptions{})
	if sub.Snapshot().HasValue {
		t.Fatal("Idle entry should be gone after reset")
	}
}

func TestFetchInterruptedByReset(t *testing.T) {
	f := newFakeFetcher(countingResponse)
	gate := f.hold(1)
	defer close(gate)
	c := newTestCoordinator(t, f)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := c.Fetch(ctx, "getUserData", nil, QueryOptions{})
		done <- err
	}()

	deadline := time.After(2 * time.Second)
	for f.count("getUserData") == 0 {
		select {
		case <-deadline:
			t.Fatal("Fetch never started")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if err := c.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, ErrEntryReset) {
			t.Fatalf("Expected ErrEntryReset, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Fetch did not return after reset")
	}
}

func TestClosedCoordinator(t *testing.T) {
	c := newTestCoordinator(t, newFakeFetcher(countingResponse))
	c.Close()

	if _, err := c.Query(context.Background(), "getUserData", nil, QueryOptions{}); !errors.Is(err, ErrCacheClosed) {
		t.Fatalf("Expected ErrCacheClosed, got %v", err)
	}
	if err := c.Invalidate(context.Background(), []string{"Notifications"}); !errors.Is(err, ErrCacheClosed) {
		t.Fatalf("Expected ErrCacheClosed, got %v", err)
	}
}

type fakeSynchronizer struct {
	mu        sync.Mutex
	published []InvalidationEvent
	callback  func(InvalidationEvent)
	closed    bool
}

func (s *fakeSynchronizer) Subscribe(ctx context.Context) error { return nil }

func (s *fakeSynchronizer) Publish(ctx context.Context, event InvalidationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, event)
	return nil
}

func (s *fakeSynchronizer) OnInvalidate(callback func(InvalidationEvent)) {
	s.callback = callback
}

func (s *fakeSynchronizer) Close() error {
	s.closed = true
	return nil
}

func TestSynchronizerPropagation(t *testing.T) {
	f := newFakeFetcher(countingResponse)
	fs := &fakeSynchronizer{}

	opts := DefaultOptions()
	opts.DeviceID = "phone"
	opts.Fetcher = f
	opts.Synchronizer = fs
	c, err := New(opts)
	if err != nil {
		t.Fatalf("Failed to create coordinator: %v", err)
	}
	defer c.Close()
	ctx := context.Background()

	sub, _ := c.Query(ctx, "getNotificationList", nil, QueryOptions{Tags: []string{"Notifications"}})
	waitFor(t, sub, fulfilledWith(1))

	c.Invalidate(ctx, []string{"Notifications"})
	waitFor(t, sub, fulfilledWith(2))

	fs.mu.Lock()
	if len(fs.published) != 1 || fs.published[0].Sender != "phone" || fs.published[0].Action != ActionInvalidate {
		t.Fatalf("Unexpected published events: %+v", fs.published)
	}
	fs.mu.Unlock()

	// Our own event echoed back is ignored.
	fs.callback(InvalidationEvent{Tags: []string{"Notifications"}, Sender: "phone", Action: ActionInvalidate})
	time.Sleep(20 * time.Millisecond)
	if n := f.count("getNotificationList"); n != 2 {
		t.Fatalf("Own event must be ignored, got %d calls", n)
	}

	fs.callback(InvalidationEvent{Tags: []string{"Notifications"}, Sender: "tablet", Action: ActionInvalidate})
	waitFor(t, sub, fulfilledWith(3))

	fs.callback(InvalidationEvent{Sender: "tablet", Action: ActionClear})
	if r := sub.Snapshot(); r.HasValue {
		t.Fatalf("Expected clear event to reset the entry, got %+v", r)
	}

	c.Close()
	if !fs.closed {
		t.Fatal("Synchronizer should be closed with the coordinator")
	}
}
