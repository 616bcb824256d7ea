// Package pagination accumulates page results of a list query into one
// ordered, de-duplicated list.
package pagination

import (
	"sync"
)

// State is a snapshot of a Reducer.
type State[T any] struct {
	Items       []T
	CurrentPage int
	LastPage    int
	FilterKey   string
	PendingPage int // 0 when no page is being fetched
}

// Reducer merges pages keyed by identity. Page 1 replaces the accumulated
// items; later pages append only items whose identity has not been seen.
// Results for a page other than 1 or CurrentPage+1, or for a stale filter
// key, are ignored.
type Reducer[T any, K comparable] struct {
	mu          sync.Mutex
	identity    func(T) K
	items       []T
	seen        map[K]struct{}
	currentPage int
	lastPage    int
	filterKey   string
	pendingPage int
}

// NewReducer creates a Reducer for filterKey. identity must be stable for an
// item across pages.
func NewReducer[T any, K comparable](filterKey string, identity func(T) K) *Reducer[T, K] {
	return &Reducer[T, K]{
		identity:    identity,
		seen:        make(map[K]struct{}),
		currentPage: 1,
		lastPage:    1,
		filterKey:   filterKey,
	}
}

// OnPageResult applies a page. It reports whether the result was applied.
func (r *Reducer[T, K]) OnPageResult(page int, filterKey string, items []T, lastPage int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if filterKey != r.filterKey {
		return false
	}

	switch {
	case page == 1:
		r.items = r.items[:0]
		r.seen = make(map[K]struct{}, len(items))
		r.appendUnseenLocked(items)
	case page == r.currentPage+1 && r.hasFirstPageLocked():
		r.appendUnseenLocked(items)
	default:
		return false
	}

	r.currentPage = page
	if lastPage < page {
		lastPage = page
	}
	r.lastPage = lastPage
	if r.pendingPage == page {
		r.pendingPage = 0
	}
	return true
}

// ResetForFilterChange drops accumulated items and rewinds to page 1 under
// the new filter key. Results still in flight for the old key are ignored
// when they arrive.
func (r *Reducer[T, K]) ResetForFilterChange(filterKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items = nil
	r.seen = make(map[K]struct{})
	r.currentPage = 1
	r.lastPage = 1
	r.filterKey = filterKey
	r.pendingPage = 0
}

// CanLoadMore reports whether a next page exists and none is being fetched.
func (r *Reducer[T, K]) CanLoadMore() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.hasFirstPageLocked() && r.currentPage < r.lastPage && r.pendingPage == 0
}

// BeginPage marks the next page as pending and returns its number. ok is
// false when no further page can be loaded.
func (r *Reducer[T, K]) BeginPage() (page int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.hasFirstPageLocked() || r.currentPage >= r.lastPage || r.pendingPage != 0 {
		return 0, false
	}
	r.pendingPage = r.currentPage + 1
	return r.pendingPage, true
}

// FailPage clears the pending marker for page so it can be retried.
func (r *Reducer[T, K]) FailPage(page int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pendingPage == page {
		r.pendingPage = 0
	}
}

// Items returns a copy of the accumulated items.
func (r *Reducer[T, K]) Items() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]T(nil), r.items...)
}

// State returns a snapshot.
func (r *Reducer[T, K]) State() State[T] {
	r.mu.Lock()
	defer r.mu.Unlock()

	return State[T]{
		Items:       append([]T(nil), r.items...),
		CurrentPage: r.currentPage,
		LastPage:    r.lastPage,
		FilterKey:   r.filterKey,
		PendingPage: r.pendingPage,
	}
}

func (r *Reducer[T, K]) hasFirstPageLocked() bool {
	return r.items != nil
}

func (r *Reducer[T, K]) appendUnseenLocked(items []T) {
	if r.items == nil {
		r.items = make([]T, 0, len(items))
	}
	for _, item := range items {
		k := r.identity(item)
		if _, dup := r.seen[k]; dup {
			continue
		}
		r.seen[k] = struct{}{}
		r.items = append(r.items, item)
	}
}
