package jobs

import (
	"context"
	"sync"

	"github.com/realstake/realstake-backend/internal/livecache"
	"github.com/realstake/realstake-backend/internal/orderbook"
	"go.uber.org/zap"
)

// OrderbookSubscriber opens live order book queries, typically an
// *orderbook.Service.
type OrderbookSubscriber interface {
	SubscribeOrderbook(marketID uint64, depth int) (*livecache.Subscription[orderbook.Orderbook], error)
}

type MarketWatcherConfig struct {
	Markets []uint64
	Depth   int
}

// MarketWatcher holds order book subscriptions for a fixed set of markets
// for the life of the process, so the shared state and its subscribers stay
// current without client traffic.
type MarketWatcher struct {
	books  OrderbookSubscriber
	config MarketWatcherConfig
	logger *zap.SugaredLogger

	mu        sync.Mutex
	cancelCtx context.CancelFunc
}

// streak tracks whether a market's refreshes are currently failing.
type streak struct {
	failing bool
}

func NewMarketWatcher(books OrderbookSubscriber, logger *zap.SugaredLogger, config MarketWatcherConfig) *MarketWatcher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &MarketWatcher{
		books:  books,
		config: config,
		logger: logger,
	}
}

// Start subscribes every configured market and blocks until ctx is done.
func (w *MarketWatcher) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancelCtx = cancel
	w.mu.Unlock()
	defer cancel()

	if len(w.config.Markets) == 0 {
		w.logger.Infow("No markets to watch")
		<-ctx.Done()
		return ctx.Err()
	}

	w.logger.Infow("Starting market watcher",
		"markets", w.config.Markets,
		"depth", w.config.Depth,
	)

	var wg sync.WaitGroup
	for _, marketID := range w.config.Markets {
		sub, err := w.books.SubscribeOrderbook(marketID, w.config.Depth)
		if err != nil {
			w.logger.Errorw("Failed to watch market", "market_id", marketID, "error", err)
			continue
		}

		wg.Add(1)
		go func(marketID uint64) {
			defer wg.Done()
			defer sub.Close()
			w.watch(ctx, marketID, sub)
		}(marketID)
	}

	wg.Wait()
	w.logger.Infow("Market watcher stopping due to context cancellation")
	return ctx.Err()
}

func (w *MarketWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancelCtx != nil {
		w.cancelCtx()
	}
}

func (w *MarketWatcher) watch(ctx context.Context, marketID uint64, sub *livecache.Subscription[orderbook.Orderbook]) {
	var s streak
	for {
		updates := sub.Updates()
		w.observe(marketID, sub.Result(), &s)

		select {
		case <-ctx.Done():
			return
		case <-updates:
		}
	}
}

// observe logs the first failure of a streak and the recovery that ends it.
func (w *MarketWatcher) observe(marketID uint64, r livecache.Result[orderbook.Orderbook], s *streak) {
	switch {
	case r.Err != nil && !s.failing:
		s.failing = true
		w.logger.Warnw("Order book refresh failing",
			"market_id", marketID,
			"has_stale_data", r.HasData,
			"error", r.Err,
		)
	case r.Err == nil && r.HasData && s.failing:
		s.failing = false
		w.logger.Infow("Order book refresh recovered", "market_id", marketID)
	}
}
