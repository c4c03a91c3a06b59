// Package livecache keeps keyed query results fresh by polling. Each key has
// at most one fetch in flight; polling runs only while at least one
// subscription holds the key.
package livecache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/realstake/realstake-backend/internal/metrics"
	"github.com/realstake/realstake-backend/internal/store"
	"go.uber.org/zap"
)

const (
	minWarmTTL     = 30 * time.Second
	defaultWarmTTL = 10 * time.Minute
	warmTimeout    = 2 * time.Second
)

type fetchFunc func(ctx context.Context) (interface{}, error)

// warmFunc loads a previously stored value for a key.
type warmFunc func(ctx context.Context) (interface{}, time.Time, bool)

// Store owns every live query entry.
type Store struct {
	ctx    context.Context
	cancel context.CancelFunc

	cache   *store.Cache
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	key      string
	kind     string
	refs     int
	interval time.Duration
	fetch    fetchFunc
	warm     warmFunc
	stop     chan struct{}

	inFlight   bool
	seq        uint64
	appliedSeq uint64

	data        interface{}
	hasData     bool
	err         error
	lastFetched time.Time

	// changed is closed and replaced on every state change.
	changed chan struct{}
	evicted bool
}

// NewStore creates a store. cache may be nil, which disables warm start and
// write-through.
func NewStore(cache *store.Cache, logger *zap.SugaredLogger, m *metrics.Metrics) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Store{
		ctx:     ctx,
		cancel:  cancel,
		cache:   cache,
		logger:  logger,
		metrics: m,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// Close stops every poller. In-flight fetches see a cancelled context.
func (s *Store) Close() {
	s.cancel()
}

// Len reports the number of live entries, including ones draining a fetch.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func kindOf(key string) string {
	kind, _, _ := strings.Cut(key, ":")
	return kind
}

// acquire registers a subscriber on key and starts polling for the first one.
func (s *Store) acquire(key string, interval time.Duration, fetch fetchFunc, warm warmFunc) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		e = &entry{
			key:     key,
			kind:    kindOf(key),
			changed: make(chan struct{}),
		}
		s.entries[key] = e
	}

	e.refs++
	if e.refs == 1 {
		e.interval = interval
		e.fetch = fetch
		e.warm = warm
		e.stop = make(chan struct{})
		s.metrics.QueryStarted(s.ctx, e.kind)
		go s.poll(e, interval, e.stop, !e.hasData)
	}
	return e
}

// release drops one subscriber. The last one stops polling and evicts the
// entry, unless a fetch is still draining; that fetch evicts on completion.
func (s *Store) release(e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.refs--
	if e.refs > 0 {
		return
	}
	close(e.stop)
	e.stop = nil
	s.metrics.QueryStopped(s.ctx, e.kind)
	if !e.inFlight {
		s.evictLocked(e)
	}
}

func (s *Store) evictLocked(e *entry) {
	e.evicted = true
	if s.entries[e.key] == e {
		delete(s.entries, e.key)
	}
	e.notifyLocked()
}

func (e *entry) notifyLocked() {
	close(e.changed)
	e.changed = make(chan struct{})
}

func (s *Store) poll(e *entry, interval time.Duration, stop <-chan struct{}, warm bool) {
	s.dispatch(e)
	if warm {
		s.warmStart(e)
	}
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.dispatch(e)
		case <-stop:
			return
		case <-s.ctx.Done():
			return
		}
	}
}

// dispatch starts a fetch unless one is already running for the entry, in
// which case the request is coalesced into it.
func (s *Store) dispatch(e *entry) {
	s.mu.Lock()
	if e.evicted || e.refs == 0 {
		s.mu.Unlock()
		return
	}
	if e.inFlight {
		s.mu.Unlock()
		s.metrics.RecordCoalesced(s.ctx, e.kind)
		return
	}
	e.inFlight = true
	e.seq++
	seq := e.seq
	fetch := e.fetch
	e.notifyLocked()
	s.mu.Unlock()

	go s.run(e, seq, fetch)
}

func (s *Store) run(e *entry, seq uint64, fetch fetchFunc) {
	start := s.now()
	value, err := fetch(s.ctx)
	s.metrics.RecordFetch(s.ctx, e.kind, s.now().Sub(start), err)

	if s.complete(e, seq, value, err) && err == nil {
		s.writeThrough(e, value)
	}
}

// complete applies a fetch result. A completion whose sequence number is not
// newer than the last applied one is discarded. It reports whether the
// result was applied.
func (s *Store) complete(e *entry, seq uint64, value interface{}, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq == e.seq {
		e.inFlight = false
	}

	applied := false
	if seq > e.appliedSeq && !e.evicted {
		e.appliedSeq = seq
		applied = true
		if err != nil {
			e.err = err
			if e.hasData {
				s.metrics.RecordStale(s.ctx, e.kind)
			}
			s.logger.Warnw("Live query fetch failed", "key", e.key, "error", err, "stale", e.hasData)
		} else {
			e.data = value
			e.hasData = true
			e.err = nil
			e.lastFetched = s.now()
		}
	} else if !e.evicted {
		s.logger.Debugw("Discarded out-of-order fetch result", "key", e.key, "seq", seq, "applied", e.appliedSeq)
	}

	if e.refs == 0 && !e.inFlight && !e.evicted {
		s.evictLocked(e)
	} else {
		e.notifyLocked()
	}
	return applied
}

type warmRecord struct {
	Data      interface{} `json:"data"`
	FetchedAt time.Time   `json:"fetched_at"`
}

func (s *Store) warmTTL(interval time.Duration) time.Duration {
	if interval <= 0 {
		return defaultWarmTTL
	}
	ttl := 3 * interval
	if ttl < minWarmTTL {
		ttl = minWarmTTL
	}
	return ttl
}

func (s *Store) writeThrough(e *entry, value interface{}) {
	if s.cache == nil {
		return
	}
	s.mu.Lock()
	fetchedAt := e.lastFetched
	interval := e.interval
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, warmTimeout)
	defer cancel()
	record := warmRecord{Data: value, FetchedAt: fetchedAt}
	if err := s.cache.Set(ctx, store.QueryKey(e.key), record, s.warmTTL(interval)); err != nil {
		s.logger.Debugw("Failed to store live query value", "key", e.key, "error", err)
	}
}

// warmStart seeds an entry that has no data yet from the shared cache. A
// fetch that already completed takes precedence.
func (s *Store) warmStart(e *entry) {
	s.mu.Lock()
	load := e.warm
	s.mu.Unlock()
	if s.cache == nil || load == nil {
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, warmTimeout)
	defer cancel()
	value, fetchedAt, ok := load(ctx)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e.evicted || e.hasData || e.appliedSeq > 0 {
		return
	}
	e.data = value
	e.hasData = true
	e.lastFetched = fetchedAt
	e.notifyLocked()
	s.logger.Debugw("Seeded live query from cache", "key", e.key, "fetched_at", fetchedAt)
}
