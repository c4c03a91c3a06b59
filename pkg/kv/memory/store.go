package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/realstake/realstake-backend/pkg/kv"
)

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Store is an in-memory kv.Store. Expired keys are invisible to readers
// immediately and are swept by a background janitor.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a store. A non-positive janitorInterval disables the janitor.
func New(janitorInterval time.Duration) *Store {
	s := &Store{
		entries: make(map[string]entry),
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	if janitorInterval > 0 {
		go s.janitor(janitorInterval)
	} else {
		close(s.done)
	}
	return s
}

func (s *Store) janitor(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *Store) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
		}
	}
}

// lookup returns a live entry (caller holds at least the read lock)
func (s *Store) lookup(key string) (entry, bool) {
	e, ok := s.entries[key]
	if !ok || e.expired(s.now()) {
		return entry{}, false
	}
	return e, true
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	buf := make([]byte, len(value))
	copy(buf, value)

	e := entry{value: buf}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}

	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.lookup(key)
	if !ok {
		return nil, kv.ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (s *Store) Del(ctx context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for _, key := range keys {
		if _, ok := s.lookup(key); ok {
			deleted++
		}
		delete(s.entries, key)
	}
	return deleted, nil
}

func (s *Store) Exists(ctx context.Context, keys ...string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, key := range keys {
		if _, ok := s.lookup(key); ok {
			n++
		}
	}
	return n, nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		delete(s.entries, key)
		return false, nil
	}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	} else {
		e.expiresAt = time.Time{}
	}
	s.entries[key] = e
	return true, nil
}

func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.lookup(key)
	if !ok {
		return 0, kv.ErrNotFound
	}
	if e.expiresAt.IsZero() {
		return -1, nil
	}
	return e.expiresAt.Sub(s.now()), nil
}

// Keys returns live keys with the given prefix in lexical order.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for key := range s.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if _, ok := s.lookup(key); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// Close stops the janitor and drops all data. It is safe to call twice.
func (s *Store) Close() error {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	<-s.done

	s.mu.Lock()
	s.entries = make(map[string]entry)
	s.mu.Unlock()
	return nil
}
