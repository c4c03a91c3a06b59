package markets

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/realstake/realstake-backend/internal/econia"
	"github.com/realstake/realstake-backend/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var ErrMarketNotFound = errors.New("market not found")

const catalogTTL = 10 * time.Minute

// Source lists the raw markets known to the order-book service.
type Source interface {
	Markets(ctx context.Context) ([]econia.RawMarket, error)
}

// Service is the market catalog. The listing is fetched once and then served
// from memory; a failed load is retried on the next call.
type Service struct {
	source Source
	cache  *store.Cache
	logger *zap.SugaredLogger
	sf     singleflight.Group

	mu      sync.RWMutex
	markets []MarketIdentity
	byID    map[uint64]MarketIdentity
}

func NewService(source Source, cache *store.Cache, logger *zap.SugaredLogger) *Service {
	return &Service{
		source: source,
		cache:  cache,
		logger: logger,
	}
}

func (s *Service) List(ctx context.Context) ([]MarketIdentity, error) {
	s.mu.RLock()
	loaded := s.markets
	s.mu.RUnlock()
	if loaded != nil {
		return loaded, nil
	}

	result, err, _ := s.sf.Do("markets", func() (interface{}, error) {
		return s.load(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.([]MarketIdentity), nil
}

func (s *Service) Get(ctx context.Context, marketID uint64) (MarketIdentity, error) {
	if _, err := s.List(ctx); err != nil {
		return MarketIdentity{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[marketID]
	if !ok {
		return MarketIdentity{}, fmt.Errorf("market %d: %w", marketID, ErrMarketNotFound)
	}
	return m, nil
}

func (s *Service) load(ctx context.Context) ([]MarketIdentity, error) {
	var markets []MarketIdentity
	if s.cache != nil {
		if err := s.cache.Get(ctx, store.KeyMarkets, &markets); err == nil && len(markets) > 0 {
			s.install(markets)
			return markets, nil
		}
	}

	raw, err := s.source.Markets(ctx)
	if err != nil {
		s.logger.Errorw("Failed to fetch market catalog", "error", err)
		return nil, fmt.Errorf("failed to fetch markets: %w", err)
	}

	markets = make([]MarketIdentity, 0, len(raw))
	for _, r := range raw {
		m := FromRaw(r)
		if m.Base.Decimals == nil || m.Quote.Decimals == nil {
			s.logger.Warnw("Market has unresolved asset decimals", "market_id", m.MarketID, "name", m.Name)
		}
		markets = append(markets, m)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, store.KeyMarkets, markets, catalogTTL); err != nil {
			s.logger.Warnw("Failed to cache market catalog", "error", err)
		}
	}
	s.install(markets)
	s.logger.Infow("Loaded market catalog", "markets", len(markets))
	return markets, nil
}

func (s *Service) install(markets []MarketIdentity) {
	byID := make(map[uint64]MarketIdentity, len(markets))
	for _, m := range markets {
		byID[m.MarketID] = m
	}
	s.mu.Lock()
	s.markets = markets
	s.byID = byID
	s.mu.Unlock()
}
