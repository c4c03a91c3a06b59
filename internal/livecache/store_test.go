package livecache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/realstake/realstake-backend/internal/metrics"
	"github.com/realstake/realstake-backend/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

func newTestStore(t *testing.T, cache *store.Cache) *Store {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	s := NewStore(cache, logger.Sugar(), metrics.NewNoop())
	t.Cleanup(s.Close)
	return s
}

// blockingFetcher counts calls and returns value only once release is closed.
func blockingFetcher(calls *atomic.Int32, release <-chan struct{}, value int) Fetcher[int] {
	return func(ctx context.Context) (int, error) {
		calls.Add(1)
		select {
		case <-release:
			return value, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

func countingFetcher(calls *atomic.Int32) Fetcher[int] {
	return func(ctx context.Context) (int, error) {
		return int(calls.Add(1)), nil
	}
}

func waitCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	t.Cleanup(cancel)
	return ctx
}

func TestSubscribe_ImmediateFetch(t *testing.T) {
	s := newTestStore(t, nil)
	var calls atomic.Int32

	sub := Subscribe(s, "orderbook:1", time.Hour, countingFetcher(&calls))
	defer sub.Close()

	r := sub.Wait(waitCtx(t))
	require.True(t, r.HasData)
	assert.Equal(t, 1, r.Data)
	assert.False(t, r.IsLoading)
	assert.NoError(t, r.Err)
	assert.False(t, r.LastFetchedAt.IsZero())
}

func TestSubscribe_LoadingBeforeFirstResult(t *testing.T) {
	s := newTestStore(t, nil)
	var calls atomic.Int32
	release := make(chan struct{})

	sub := Subscribe(s, "orderbook:1", time.Hour, blockingFetcher(&calls, release, 5))
	defer sub.Close()

	require.Eventually(t, func() bool { return sub.Result().IsFetching }, waitFor, tick)
	r := sub.Result()
	assert.True(t, r.IsLoading)
	assert.False(t, r.HasData)

	close(release)
	r = sub.Wait(waitCtx(t))
	assert.Equal(t, 5, r.Data)
	assert.False(t, r.IsFetching)
}

func TestSubscribe_CoalescesWhileInFlight(t *testing.T) {
	s := newTestStore(t, nil)
	var calls atomic.Int32
	release := make(chan struct{})

	sub := Subscribe(s, "orderbook:1", tick, blockingFetcher(&calls, release, 9))
	defer sub.Close()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, tick)
	for i := 0; i < 5; i++ {
		sub.Refetch()
	}
	time.Sleep(10 * tick)
	assert.Equal(t, int32(1), calls.Load())

	close(release)
	r := sub.Wait(waitCtx(t))
	assert.Equal(t, 9, r.Data)
}

func TestSubscribe_FailureKeepsStaleData(t *testing.T) {
	s := newTestStore(t, nil)
	var calls atomic.Int32
	fail := errors.New("upstream unavailable")

	fetch := func(ctx context.Context) (int, error) {
		switch calls.Add(1) {
		case 2:
			return 0, fail
		default:
			return 100, nil
		}
	}

	sub := Subscribe(s, "accountBalance:0x1:1", time.Hour, fetch)
	defer sub.Close()
	require.Equal(t, 100, sub.Wait(waitCtx(t)).Data)

	sub.Refetch()
	require.Eventually(t, func() bool { return sub.Result().Err != nil }, waitFor, tick)
	r := sub.Result()
	assert.True(t, r.HasData)
	assert.Equal(t, 100, r.Data)
	assert.ErrorIs(t, r.Err, fail)
	assert.False(t, r.IsLoading)

	sub.Refetch()
	require.Eventually(t, func() bool { return sub.Result().Err == nil }, waitFor, tick)
	assert.Equal(t, 100, sub.Result().Data)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSubscribe_FirstFetchFails(t *testing.T) {
	s := newTestStore(t, nil)
	sub := Subscribe(s, "listings", 0, func(ctx context.Context) (string, error) {
		return "", errors.New("boom")
	})
	defer sub.Close()

	r := sub.Wait(waitCtx(t))
	assert.False(t, r.HasData)
	assert.False(t, r.IsLoading)
	assert.EqualError(t, r.Err, "boom")
}

func TestComplete_DiscardsOlderSequence(t *testing.T) {
	s := newTestStore(t, nil)
	e := &entry{key: "orderbook:1", kind: "orderbook", refs: 1, changed: make(chan struct{})}
	s.entries[e.key] = e

	e.seq = 2
	e.inFlight = true
	assert.True(t, s.complete(e, 2, "newer", nil))
	assert.False(t, s.complete(e, 1, "older", nil))
	assert.False(t, s.complete(e, 1, nil, errors.New("late failure")))

	sub := &Subscription[string]{store: s, entry: e}
	r := sub.Result()
	assert.Equal(t, "newer", r.Data)
	assert.NoError(t, r.Err)
}

func TestClose_StopsPollingAndEvicts(t *testing.T) {
	s := newTestStore(t, nil)
	var calls atomic.Int32

	sub := Subscribe(s, "orderbook:1", tick, countingFetcher(&calls))
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, waitFor, tick)

	sub.Close()
	sub.Close()
	require.Eventually(t, func() bool { return s.Len() == 0 }, waitFor, tick)

	stopped := calls.Load()
	time.Sleep(10 * tick)
	assert.Equal(t, stopped, calls.Load())
}

func TestSharedKey_PollsUntilLastClose(t *testing.T) {
	s := newTestStore(t, nil)
	var calls atomic.Int32

	a := Subscribe(s, "orderbook:1", tick, countingFetcher(&calls))
	b := Subscribe(s, "orderbook:1", tick, countingFetcher(&calls))
	assert.Equal(t, 1, s.Len())

	a.Close()
	before := calls.Load()
	require.Eventually(t, func() bool { return calls.Load() > before+1 }, waitFor, tick)

	b.Close()
	require.Eventually(t, func() bool { return s.Len() == 0 }, waitFor, tick)
}

func TestResubscribe_RestartsWithImmediateFetch(t *testing.T) {
	s := newTestStore(t, nil)
	var calls atomic.Int32

	first := Subscribe(s, "listings", 0, countingFetcher(&calls))
	require.Equal(t, 1, first.Wait(waitCtx(t)).Data)
	first.Close()
	require.Eventually(t, func() bool { return s.Len() == 0 }, waitFor, tick)

	second := Subscribe(s, "listings", 0, countingFetcher(&calls))
	defer second.Close()
	assert.Equal(t, 2, second.Wait(waitCtx(t)).Data)
}

func TestResubscribe_DuringDrainReusesFetch(t *testing.T) {
	s := newTestStore(t, nil)
	var calls atomic.Int32
	release := make(chan struct{})

	first := Subscribe(s, "orderbook:1", 0, blockingFetcher(&calls, release, 3))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, tick)
	first.Close()
	assert.Equal(t, 1, s.Len(), "entry stays while its fetch drains")

	second := Subscribe(s, "orderbook:1", 0, blockingFetcher(&calls, release, 4))
	defer second.Close()
	time.Sleep(5 * tick)
	assert.Equal(t, int32(1), calls.Load())

	close(release)
	r := second.Wait(waitCtx(t))
	assert.Equal(t, 3, r.Data)
	assert.Equal(t, int32(1), calls.Load())
}

func TestIntervalZero_FetchesOnce(t *testing.T) {
	s := newTestStore(t, nil)
	var calls atomic.Int32

	sub := Subscribe(s, "markets", 0, countingFetcher(&calls))
	defer sub.Close()
	sub.Wait(waitCtx(t))

	time.Sleep(10 * tick)
	assert.Equal(t, int32(1), calls.Load())
}

func TestUpdates_SignalsChange(t *testing.T) {
	s := newTestStore(t, nil)
	var calls atomic.Int32
	release := make(chan struct{})

	sub := Subscribe(s, "orderbook:1", 0, blockingFetcher(&calls, release, 1))
	defer sub.Close()
	require.Eventually(t, func() bool { return sub.Result().IsFetching }, waitFor, tick)

	updates := sub.Updates()
	close(release)
	select {
	case <-updates:
	case <-time.After(waitFor):
		t.Fatal("no update after fetch completed")
	}
	assert.True(t, sub.Result().HasData)
}

func TestWarmStart_FromCache(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	cache := store.NewMemoryCache(logger.Sugar(), nil)
	fetchedAt := time.Now().Add(-time.Minute).UTC().Truncate(time.Second)
	require.NoError(t, cache.Set(context.Background(), store.QueryKey("orderbook:1"), warmRecord{Data: 7, FetchedAt: fetchedAt}, time.Minute))

	s := newTestStore(t, cache)
	var calls atomic.Int32
	release := make(chan struct{})

	sub := Subscribe(s, "orderbook:1", time.Hour, blockingFetcher(&calls, release, 8))
	defer sub.Close()

	r := sub.Wait(waitCtx(t))
	require.True(t, r.HasData)
	assert.Equal(t, 7, r.Data)
	assert.True(t, r.IsFetching)
	assert.True(t, fetchedAt.Equal(r.LastFetchedAt))

	close(release)
	require.Eventually(t, func() bool { return sub.Result().Data == 8 }, waitFor, tick)
}

func TestWriteThrough(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	cache := store.NewMemoryCache(logger.Sugar(), nil)
	s := newTestStore(t, cache)
	var calls atomic.Int32

	sub := Subscribe(s, "orderbook:2", time.Hour, countingFetcher(&calls))
	defer sub.Close()
	sub.Wait(waitCtx(t))

	require.Eventually(t, func() bool {
		var record struct {
			Data int `json:"data"`
		}
		err := cache.Get(context.Background(), store.QueryKey("orderbook:2"), &record)
		return err == nil && record.Data == 1
	}, waitFor, tick)
}
