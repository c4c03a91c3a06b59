// Package mirror holds the latest order book and price stats of every market
// for readers that must not trigger fetches. It has exactly one writer.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/realstake/realstake-backend/internal/metrics"
	"github.com/realstake/realstake-backend/internal/orderbook"
	"github.com/realstake/realstake-backend/internal/store"
	"go.uber.org/zap"
)

var ErrWriterTaken = errors.New("mirror writer already taken")

const subscriberBuffer = 16

// Snapshot is the mirrored state of one market. Version increases with every
// write across all markets.
type Snapshot struct {
	MarketID  uint64               `json:"market_id"`
	Orderbook orderbook.Orderbook  `json:"orderbook"`
	Stats     orderbook.PriceStats `json:"stats"`
	Version   uint64               `json:"version"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// Fanout carries snapshots to other processes and transports.
type Fanout interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

type Mirror struct {
	fanout  Fanout
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
	now     func() time.Time

	writerTaken atomic.Bool

	mu      sync.RWMutex
	latest  map[uint64]Snapshot
	version uint64

	subsMu sync.Mutex
	subs   map[string]chan Snapshot
}

func New(fanout Fanout, logger *zap.SugaredLogger, m *metrics.Metrics) *Mirror {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Mirror{
		fanout:  fanout,
		logger:  logger,
		metrics: m,
		now:     time.Now,
		latest:  make(map[uint64]Snapshot),
		subs:    make(map[string]chan Snapshot),
	}
}

// Writer hands out the only write handle. Later calls return ErrWriterTaken.
func (m *Mirror) Writer() (*Writer, error) {
	if !m.writerTaken.CompareAndSwap(false, true) {
		return nil, ErrWriterTaken
	}
	return &Writer{m: m}, nil
}

// Latest returns the last snapshot written for a market.
func (m *Mirror) Latest(marketID uint64) (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.latest[marketID]
	return s, ok
}

// Markets lists the markets that have a snapshot, ascending.
func (m *Mirror) Markets() []uint64 {
	m.mu.RLock()
	ids := make([]uint64, 0, len(m.latest))
	for id := range m.latest {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Subscribe streams every subsequent snapshot until ctx is done. A reader
// that falls behind loses its oldest pending snapshots, never the newest.
func (m *Mirror) Subscribe(ctx context.Context) <-chan Snapshot {
	id := uuid.NewString()
	ch := make(chan Snapshot, subscriberBuffer)

	m.subsMu.Lock()
	m.subs[id] = ch
	m.subsMu.Unlock()

	go func() {
		<-ctx.Done()
		m.subsMu.Lock()
		delete(m.subs, id)
		close(ch)
		m.subsMu.Unlock()
	}()
	return ch
}

func (m *Mirror) broadcast(snap Snapshot) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// Writer is the single write path into a Mirror. It satisfies
// orderbook.Publisher.
type Writer struct {
	m *Mirror
}

var _ orderbook.Publisher = (*Writer)(nil)

// Publish stores the snapshot, last write wins, then notifies readers and the
// fan-out channel of the market.
func (w *Writer) Publish(ctx context.Context, book orderbook.Orderbook, stats orderbook.PriceStats) error {
	m := w.m

	m.mu.Lock()
	m.version++
	snap := Snapshot{
		MarketID:  book.MarketID,
		Orderbook: book,
		Stats:     stats,
		Version:   m.version,
		UpdatedAt: m.now(),
	}
	m.latest[book.MarketID] = snap
	m.mu.Unlock()

	m.metrics.RecordMirrorPublish(ctx, stats.Crossed)
	m.broadcast(snap)
	m.logger.Debugw("Mirrored order book", "market_id", book.MarketID, "version", snap.Version)

	if m.fanout == nil {
		return nil
	}
	if err := m.fanout.Publish(ctx, store.OrderbookChannel(book.MarketID), snap); err != nil {
		return fmt.Errorf("fan out market %d: %w", book.MarketID, err)
	}
	return nil
}
