package orderbook

import (
	"context"
	"time"

	"github.com/realstake/realstake-backend/internal/econia"
	"go.uber.org/zap"
)

// Publisher receives every normalized book together with its stats.
type Publisher interface {
	Publish(ctx context.Context, book Orderbook, stats PriceStats) error
}

// Normalizer is the write path from raw rows to the shared order book state:
// it normalizes, derives stats, and publishes through the one Publisher it
// was built with.
type Normalizer struct {
	publisher Publisher
	logger    *zap.SugaredLogger
	now       func() time.Time
}

func NewNormalizer(publisher Publisher, logger *zap.SugaredLogger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Normalizer{
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Normalize returns the same Orderbook as NormalizeOrderBook and publishes it.
// A publish failure is logged and does not affect the returned book.
func (n *Normalizer) Normalize(ctx context.Context, marketID uint64, rawBids, rawAsks []econia.RawPriceLevel) Orderbook {
	book := NormalizeOrderBook(marketID, rawBids, rawAsks)
	stats := ComputeStats(book, n.now())

	if stats.Crossed {
		n.logger.Warnw("Crossed order book",
			"market_id", marketID,
			"best_bid", stats.BestBid,
			"best_ask", stats.BestAsk,
		)
	}
	if bids, asks := orderingViolations(book); bids > 0 || asks > 0 {
		n.logger.Warnw("Order book levels out of order", "market_id", marketID, "bids", bids, "asks", asks)
	}

	if n.publisher != nil {
		if err := n.publisher.Publish(ctx, book, stats); err != nil {
			n.logger.Warnw("Failed to publish order book", "market_id", marketID, "error", err)
		}
	}
	return book
}
