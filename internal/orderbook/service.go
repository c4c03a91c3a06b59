package orderbook

import (
	"context"
	"fmt"
	"time"

	"github.com/realstake/realstake-backend/internal/calc"
	"github.com/realstake/realstake-backend/internal/econia"
	"github.com/realstake/realstake-backend/internal/livecache"
)

// Source fetches raw rows from the order-book service.
type Source interface {
	Orderbook(ctx context.Context, marketID uint64, depth int) (bids, asks []econia.RawPriceLevel, err error)
	Fills(ctx context.Context, marketID uint64, limit int) ([]econia.RawFill, error)
}

// Service exposes order books and trade history as live queries.
type Service struct {
	source       Source
	normalizer   *Normalizer
	live         *livecache.Store
	pollInterval time.Duration
	publishDepth int
}

// NewService builds the order book queries. Only books fetched at
// publishDepth are written to the shared state.
func NewService(source Source, normalizer *Normalizer, live *livecache.Store, pollInterval time.Duration, publishDepth int) *Service {
	return &Service{
		source:       source,
		normalizer:   normalizer,
		live:         live,
		pollInterval: pollInterval,
		publishDepth: publishDepth,
	}
}

// OrderbookKey identifies the live query of one market at one depth.
func OrderbookKey(marketID uint64, depth int) string {
	return fmt.Sprintf("orderbook:%d:%d", marketID, depth)
}

// SubscribeOrderbook keeps a market's book live. The cached book is the
// normalized upstream rows as returned, with duplicates kept.
func (s *Service) SubscribeOrderbook(marketID uint64, depth int) (*livecache.Subscription[Orderbook], error) {
	if err := calc.ValidateDepth(depth); err != nil {
		return nil, err
	}

	publish := s.normalizer != nil && depth == s.publishDepth
	fetch := func(ctx context.Context) (Orderbook, error) {
		bids, asks, err := s.source.Orderbook(ctx, marketID, depth)
		if err != nil {
			return Orderbook{}, err
		}
		if publish {
			return s.normalizer.Normalize(ctx, marketID, bids, asks), nil
		}
		return NormalizeOrderBook(marketID, bids, asks), nil
	}
	return livecache.Subscribe(s.live, OrderbookKey(marketID, depth), s.pollInterval, fetch), nil
}

// SubscribeTrades keeps a market's recent fills live.
func (s *Service) SubscribeTrades(marketID uint64, limit int) (*livecache.Subscription[[]Trade], error) {
	if err := calc.ValidateDepth(limit); err != nil {
		return nil, fmt.Errorf("invalid trade limit: %w", err)
	}
	fetch := func(ctx context.Context) ([]Trade, error) {
		fills, err := s.source.Fills(ctx, marketID, limit)
		if err != nil {
			return nil, err
		}
		return NormalizeTrades(fills), nil
	}
	key := fmt.Sprintf("trades:%d:%d", marketID, limit)
	return livecache.Subscribe(s.live, key, s.pollInterval, fetch), nil
}
