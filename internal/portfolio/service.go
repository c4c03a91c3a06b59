package portfolio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/realstake/realstake-backend/internal/calc"
	"github.com/realstake/realstake-backend/internal/econia"
	"github.com/realstake/realstake-backend/internal/livecache"
	"github.com/realstake/realstake-backend/internal/markets"
	"github.com/realstake/realstake-backend/internal/onchain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Asset selects one side of a market.
type Asset string

const (
	AssetBase  Asset = "base"
	AssetQuote Asset = "quote"
)

var ErrUnknownAsset = errors.New("unknown asset side")

// BalanceSource reads market account balances from the order-book service.
type BalanceSource interface {
	UserBalance(ctx context.Context, address string, marketID, custodianID uint64) ([]econia.RawBalance, error)
}

// Chain is the subset of the chain reader used for portfolios.
type Chain interface {
	CoinBalance(ctx context.Context, owner, coinType string) (decimal.Decimal, error)
	MarketAccountCollateral(ctx context.Context, owner, coinType string, marketID, custodianID uint64) (decimal.Decimal, error)
	FungibleBalances(ctx context.Context, owner, assetType string) ([]onchain.FungibleBalance, error)
	CollectionTokens(ctx context.Context, collectionID string) ([]onchain.TokenData, error)
}

// CoinInfoSource resolves coin metadata, typically an *onchain.CoinService.
type CoinInfoSource interface {
	CoinInfo(ctx context.Context, coinType string) (*onchain.CoinInfo, error)
}

type Config struct {
	BalanceInterval time.Duration
	TokenInterval   time.Duration
	CollectionID    string
}

type Service struct {
	balances BalanceSource
	chain    Chain
	coins    CoinInfoSource
	live     *livecache.Store
	cfg      Config
	logger   *zap.SugaredLogger
}

func NewService(balances BalanceSource, chain Chain, coins CoinInfoSource, live *livecache.Store, cfg Config, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{
		balances: balances,
		chain:    chain,
		coins:    coins,
		live:     live,
		cfg:      cfg,
		logger:   logger,
	}
}

// SubscribeBalance keeps a user's market account balance live. A failed
// refresh keeps the last view and reports the error alongside it.
func (s *Service) SubscribeBalance(market markets.MarketIdentity, address string) (*livecache.Subscription[AccountBalanceView], error) {
	addr, err := onchain.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("accountBalance:%s:%d", addr, market.MarketID)
	fetch := func(ctx context.Context) (AccountBalanceView, error) {
		rows, err := s.balances.UserBalance(ctx, addr, market.MarketID, calc.NoCustodian)
		if err != nil {
			return AccountBalanceView{}, err
		}
		return NormalizeBalances(rows, market), nil
	}
	return livecache.Subscribe(s.live, key, s.cfg.BalanceInterval, fetch), nil
}

// SubscribeCollateral keeps the on-chain collateral of one side of a user's
// market account live. A missing collateral store is unknown, not zero.
func (s *Service) SubscribeCollateral(market markets.MarketIdentity, address string, asset Asset) (*livecache.Subscription[calc.Amount], error) {
	addr, err := onchain.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	var descriptor markets.AssetDescriptor
	switch asset {
	case AssetBase:
		descriptor = market.Base
	case AssetQuote:
		descriptor = market.Quote
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAsset, asset)
	}
	coinType := descriptor.CoinType()
	if coinType == "" {
		return nil, fmt.Errorf("market %d %s asset has no coin type", market.MarketID, asset)
	}

	key := fmt.Sprintf("marketAccountBalance:%s:%d:%s", addr, market.MarketID, asset)
	fetch := func(ctx context.Context) (calc.Amount, error) {
		raw, err := s.chain.MarketAccountCollateral(ctx, addr, coinType, market.MarketID, calc.NoCustodian)
		if errors.Is(err, onchain.ErrNotFound) {
			return calc.UnknownAmount(), nil
		}
		if err != nil {
			return calc.UnknownAmount(), err
		}
		return calc.ScaleAmount(raw, descriptor.Decimals), nil
	}
	return livecache.Subscribe(s.live, key, s.cfg.BalanceInterval, fetch), nil
}

// SubscribeCoinBalance keeps a user's wallet balance of a coin live, scaled
// with the coin's on-chain decimals.
func (s *Service) SubscribeCoinBalance(address, coinType string) (*livecache.Subscription[calc.Amount], error) {
	addr, err := onchain.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	if _, err := onchain.CoinTypeAddress(coinType); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("coinBalance:%s:%s", coinType, addr)
	fetch := func(ctx context.Context) (calc.Amount, error) {
		return s.coinBalance(ctx, addr, coinType)
	}
	return livecache.Subscribe(s.live, key, s.cfg.BalanceInterval, fetch), nil
}

func (s *Service) coinBalance(ctx context.Context, addr, coinType string) (calc.Amount, error) {
	info, err := s.coins.CoinInfo(ctx, coinType)
	if errors.Is(err, onchain.ErrNotFound) {
		s.logger.Debugw("Coin has no CoinInfo", "coin_type", coinType)
		return calc.UnknownAmount(), nil
	}
	if err != nil {
		return calc.UnknownAmount(), err
	}

	raw, err := s.chain.CoinBalance(ctx, addr, coinType)
	if errors.Is(err, onchain.ErrNotFound) {
		return calc.UnknownAmount(), nil
	}
	if err != nil {
		return calc.UnknownAmount(), err
	}
	return calc.ScaleAmount(raw, calc.Decimals(info.Decimals)), nil
}

// SubscribeHoldings keeps a user's fungible holdings live, joined with the
// configured collection's token data.
func (s *Service) SubscribeHoldings(address string) (*livecache.Subscription[[]Holding], error) {
	addr, err := onchain.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("holdings:%s", addr)
	fetch := func(ctx context.Context) ([]Holding, error) {
		var (
			balances []onchain.FungibleBalance
			tokens   []onchain.TokenData
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			balances, err = s.chain.FungibleBalances(gctx, addr, "")
			return err
		})
		if s.cfg.CollectionID != "" {
			g.Go(func() error {
				var err error
				tokens, err = s.chain.CollectionTokens(gctx, s.cfg.CollectionID)
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return NormalizeHoldings(balances, tokens), nil
	}
	return livecache.Subscribe(s.live, key, s.cfg.TokenInterval, fetch), nil
}
