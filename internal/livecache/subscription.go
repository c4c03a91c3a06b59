package livecache

import (
	"context"
	"sync"
	"time"

	"github.com/realstake/realstake-backend/internal/store"
)

// Fetcher produces a fresh value for a key.
type Fetcher[V any] func(ctx context.Context) (V, error)

// Result is an immutable snapshot of a live query.
type Result[V any] struct {
	Data    V
	HasData bool
	// IsLoading is true until the first value or error arrives.
	IsLoading bool
	// IsFetching is true while a fetch is outstanding, including refreshes.
	IsFetching    bool
	Err           error
	LastFetchedAt time.Time
}

// Subscription holds a key live until Close.
type Subscription[V any] struct {
	store *Store
	entry *entry
	once  sync.Once
}

// Subscribe registers interest in key. The first subscriber starts an
// immediate fetch followed by one fetch per interval; interval <= 0 fetches
// once. Subscribers joining a live key share its entry and its cadence.
func Subscribe[V any](s *Store, key string, interval time.Duration, fetch Fetcher[V]) *Subscription[V] {
	erased := func(ctx context.Context) (interface{}, error) {
		return fetch(ctx)
	}
	e := s.acquire(key, interval, erased, warmLoader[V](s, key))
	return &Subscription[V]{store: s, entry: e}
}

func warmLoader[V any](s *Store, key string) warmFunc {
	if s.cache == nil {
		return nil
	}
	return func(ctx context.Context) (interface{}, time.Time, bool) {
		var record struct {
			Data      V         `json:"data"`
			FetchedAt time.Time `json:"fetched_at"`
		}
		if err := s.cache.Get(ctx, store.QueryKey(key), &record); err != nil {
			return nil, time.Time{}, false
		}
		return record.Data, record.FetchedAt, true
	}
}

// Result returns the current snapshot.
func (sub *Subscription[V]) Result() Result[V] {
	sub.store.mu.Lock()
	defer sub.store.mu.Unlock()
	return sub.resultLocked()
}

func (sub *Subscription[V]) resultLocked() Result[V] {
	e := sub.entry
	r := Result[V]{
		IsFetching:    e.inFlight,
		Err:           e.err,
		LastFetchedAt: e.lastFetched,
	}
	if e.hasData {
		if v, ok := e.data.(V); ok {
			r.Data = v
			r.HasData = true
		}
	}
	r.IsLoading = !r.HasData && r.Err == nil
	return r
}

// Updates returns a channel closed on the next state change of the key.
func (sub *Subscription[V]) Updates() <-chan struct{} {
	sub.store.mu.Lock()
	defer sub.store.mu.Unlock()
	return sub.entry.changed
}

// Wait blocks until the query has data or has failed, or ctx is done. It
// returns the latest snapshot either way.
func (sub *Subscription[V]) Wait(ctx context.Context) Result[V] {
	for {
		sub.store.mu.Lock()
		r := sub.resultLocked()
		changed := sub.entry.changed
		evicted := sub.entry.evicted
		sub.store.mu.Unlock()

		if !r.IsLoading || evicted {
			return r
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return r
		}
	}
}

// Refetch requests an immediate fetch. It is coalesced into an outstanding
// fetch if there is one.
func (sub *Subscription[V]) Refetch() {
	sub.store.dispatch(sub.entry)
}

// Close releases the subscription. It is safe to call more than once.
func (sub *Subscription[V]) Close() {
	sub.once.Do(func() {
		sub.store.release(sub.entry)
	})
}
