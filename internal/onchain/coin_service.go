package onchain

import (
	"context"
	"fmt"
	"time"

	"github.com/realstake/realstake-backend/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// coinInfoTTL bounds how long coin metadata is cached. CoinInfo is immutable
// once published, so this only limits cache growth.
const coinInfoTTL = 24 * time.Hour

// CoinService resolves coin metadata once per coin type: concurrent lookups
// share one node request and results are cached.
type CoinService struct {
	chain  ChainReader
	cache  *store.Cache
	logger *zap.SugaredLogger
	sf     singleflight.Group
}

func NewCoinService(chain ChainReader, cache *store.Cache, logger *zap.SugaredLogger) *CoinService {
	return &CoinService{
		chain:  chain,
		cache:  cache,
		logger: logger,
	}
}

func (s *CoinService) CoinInfo(ctx context.Context, coinType string) (*CoinInfo, error) {
	key := fmt.Sprintf("%s:%s", store.KeyCoinInfo, coinType)
	result, err, _ := s.sf.Do(key, func() (interface{}, error) {
		return s.coinInfoInternal(ctx, key, coinType)
	})
	if err != nil {
		return nil, err
	}
	return result.(*CoinInfo), nil
}

func (s *CoinService) coinInfoInternal(ctx context.Context, key, coinType string) (*CoinInfo, error) {
	if s.cache != nil {
		var cached CoinInfo
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		}
	}

	info, err := s.chain.CoinInfo(ctx, coinType)
	if err != nil {
		s.logger.Errorw("Failed to fetch coin info", "coin_type", coinType, "error", err)
		return nil, fmt.Errorf("failed to fetch coin info: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, info, coinInfoTTL); err != nil {
			s.logger.Warnw("Failed to cache coin info", "coin_type", coinType, "error", err)
		}
	}
	return info, nil
}
