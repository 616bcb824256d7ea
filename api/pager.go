package api

import (
	"context"
	"sync"

	"github.com/huykn/querysync/cache"
	"github.com/huykn/querysync/pagination"
)

// pageParams are list parameters that can address a specific page.
type pageParams[P any] interface {
	withPage(page int) P
}

// Pager drives an infinite list: it fetches pages through the cache and
// merges them with a pagination.Reducer.
type Pager[P pageParams[P], T any, K comparable] struct {
	mu      sync.Mutex
	filter  P
	reducer *pagination.Reducer[T, K]
	load    func(ctx context.Context, params P, force bool) ([]T, int, error)
}

func newPager[P pageParams[P], T any, K comparable](filter P, identity func(T) K, load func(ctx context.Context, params P, force bool) ([]T, int, error)) *Pager[P, T, K] {
	filter = filter.withPage(0)
	return &Pager[P, T, K]{
		filter:  filter,
		reducer: pagination.NewReducer(filterKey(filter), identity),
		load:    load,
	}
}

func filterKey(filter any) string {
	key, err := cache.CanonicalJSON(filter)
	if err != nil {
		return ""
	}
	return string(key)
}

// Refresh loads page 1, replacing the accumulated items.
func (p *Pager[P, T, K]) Refresh(ctx context.Context) error {
	p.mu.Lock()
	filter := p.filter
	p.mu.Unlock()

	items, lastPage, err := p.load(ctx, filter.withPage(1), true)
	if err != nil {
		return err
	}
	p.reducer.OnPageResult(1, filterKey(filter), items, lastPage)
	return nil
}

// LoadMore fetches the next page. It reports false without fetching when
// there is no next page or one is already loading.
func (p *Pager[P, T, K]) LoadMore(ctx context.Context) (bool, error) {
	page, ok := p.reducer.BeginPage()
	if !ok {
		return false, nil
	}

	p.mu.Lock()
	filter := p.filter
	p.mu.Unlock()

	items, lastPage, err := p.load(ctx, filter.withPage(page), false)
	if err != nil {
		p.reducer.FailPage(page)
		return false, err
	}
	return p.reducer.OnPageResult(page, filterKey(filter), items, lastPage), nil
}

// SetFilter switches the list to a new filter, dropping accumulated items,
// and loads its first page.
func (p *Pager[P, T, K]) SetFilter(ctx context.Context, filter P) error {
	filter = filter.withPage(0)

	p.mu.Lock()
	p.filter = filter
	p.mu.Unlock()

	p.reducer.ResetForFilterChange(filterKey(filter))
	return p.Refresh(ctx)
}

// CanLoadMore reports whether LoadMore would fetch.
func (p *Pager[P, T, K]) CanLoadMore() bool {
	return p.reducer.CanLoadMore()
}

// Items returns the merged items.
func (p *Pager[P, T, K]) Items() []T {
	return p.reducer.Items()
}

// State returns the reducer snapshot.
func (p *Pager[P, T, K]) State() pagination.State[T] {
	return p.reducer.State()
}

// HistoryPager pages through grouped coin or money history.
type HistoryPager = Pager[HistoryParams, HistoryBucket, string]

func bucketKey(b HistoryBucket) string { return b.Bucket }

// NewCoinHistoryPager pages coin history buckets.
func (s *Service) NewCoinHistoryPager(filter HistoryParams) *HistoryPager {
	return newPager(filter, bucketKey, func(ctx context.Context, params HistoryParams, force bool) ([]HistoryBucket, int, error) {
		resp, err := s.CoinHistory(ctx, params, force)
		if err != nil {
			return nil, 0, err
		}
		return resp.Data.Data, resp.Data.LastPage, nil
	})
}

// NewMoneyHistoryGroupedPager pages grouped money history buckets.
func (s *Service) NewMoneyHistoryGroupedPager(filter HistoryParams) *HistoryPager {
	return newPager(filter, bucketKey, func(ctx context.Context, params HistoryParams, force bool) ([]HistoryBucket, int, error) {
		resp, err := s.MoneyHistoryGrouped(ctx, params, force)
		if err != nil {
			return nil, 0, err
		}
		return resp.Data.Data, resp.Data.LastPage, nil
	})
}

// NewMoneyHistoryPager pages individual money transactions.
func (s *Service) NewMoneyHistoryPager(filter HistoryParams) *Pager[HistoryParams, MoneyTransaction, int64] {
	return newPager(filter, func(tx MoneyTransaction) int64 { return tx.ID }, func(ctx context.Context, params HistoryParams, force bool) ([]MoneyTransaction, int, error) {
		resp, err := s.MoneyHistory(ctx, params, force)
		if err != nil {
			return nil, 0, err
		}
		return resp.Data, resp.LastPage, nil
	})
}

// NewNotificationPager pages notifications.
func (s *Service) NewNotificationPager(filter NotificationListParams) *Pager[NotificationListParams, Notification, ID] {
	return newPager(filter, func(n Notification) ID { return n.ID }, func(ctx context.Context, params NotificationListParams, force bool) ([]Notification, int, error) {
		resp, err := s.Notifications(ctx, params, force)
		if err != nil {
			return nil, 0, err
		}
		return resp.Data, resp.LastPage, nil
	})
}
