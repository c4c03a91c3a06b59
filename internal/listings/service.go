package listings

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/realstake/realstake-backend/internal/calc"
	"github.com/realstake/realstake-backend/internal/livecache"
	"github.com/realstake/realstake-backend/internal/onchain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const listingFetchConcurrency = 8

// Chain is the subset of the chain reader used for listings.
type Chain interface {
	AllListings(ctx context.Context) ([]string, error)
	ListingInfo(ctx context.Context, listing string) ([]json.RawMessage, error)
	CoinTypeFromListing(ctx context.Context, listing string) (string, error)
	ActiveOrNextMintStage(ctx context.Context, collection string) (*string, error)
	CollectionTokens(ctx context.Context, collectionID string) ([]onchain.TokenData, error)
	TokenSupply(ctx context.Context, assetType string) (decimal.Decimal, error)
}

// ListingDetail is a listing with the coin type of its ownership token and
// the collection's current or next mint stage.
type ListingDetail struct {
	ListingInfo
	CoinType  string  `json:"coin_type"`
	MintStage *string `json:"mint_stage"`
}

// CollectionToken is one token of the property collection.
type CollectionToken struct {
	TokenDataID    string `json:"token_data_id"`
	Name           string `json:"name"`
	URI            string `json:"uri"`
	Description    string `json:"description"`
	CollectionID   string `json:"collection_id"`
	CollectionName string `json:"collection_name"`
	Decimals       *int32 `json:"decimals"`
	IsFungible     bool   `json:"is_fungible"`
}

// TokenSupply is the circulating supply of a fungible ownership token.
type TokenSupply struct {
	AssetType string          `json:"asset_type"`
	Raw       decimal.Decimal `json:"raw"`
	Supply    calc.Amount     `json:"supply"`
}

type Config struct {
	CollectionID  string
	TokenInterval time.Duration
}

type Service struct {
	chain  Chain
	live   *livecache.Store
	cfg    Config
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewService(chain Chain, live *livecache.Store, cfg Config, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{
		chain:  chain,
		live:   live,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// SubscribeListings loads the listing registry once and decodes every
// listing's info. Decode failures fail the whole registry.
func (s *Service) SubscribeListings() *livecache.Subscription[[]ListingInfo] {
	return livecache.Subscribe(s.live, "listings", 0, s.fetchListings)
}

func (s *Service) fetchListings(ctx context.Context) ([]ListingInfo, error) {
	addresses, err := s.chain.AllListings(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]ListingInfo, len(addresses))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(listingFetchConcurrency)
	for i, addr := range addresses {
		i, addr := i, addr
		g.Go(func() error {
			info, err := s.fetchListing(gctx, addr)
			if err != nil {
				return err
			}
			infos[i] = info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.logger.Debugw("Loaded listings", "count", len(infos))
	return infos, nil
}

func (s *Service) fetchListing(ctx context.Context, address string) (ListingInfo, error) {
	tuple, err := s.chain.ListingInfo(ctx, address)
	if err != nil {
		return ListingInfo{}, fmt.Errorf("listing %s: %w", address, err)
	}
	info, err := DecodeListingInfo(tuple, address, s.now())
	if err != nil {
		s.logger.Warnw("Listing info does not match schema", "listing", address, "error", err)
		return ListingInfo{}, err
	}
	return info, nil
}

// SubscribeListing loads one listing with its coin type and mint stage.
func (s *Service) SubscribeListing(address string) (*livecache.Subscription[ListingDetail], error) {
	addr, err := onchain.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	fetch := func(ctx context.Context) (ListingDetail, error) {
		var detail ListingDetail
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			info, err := s.fetchListing(gctx, addr)
			detail.ListingInfo = info
			return err
		})
		g.Go(func() error {
			coinType, err := s.chain.CoinTypeFromListing(gctx, addr)
			detail.CoinType = coinType
			return err
		})
		g.Go(func() error {
			if s.cfg.CollectionID == "" {
				return nil
			}
			stage, err := s.chain.ActiveOrNextMintStage(gctx, s.cfg.CollectionID)
			detail.MintStage = stage
			return err
		})
		if err := g.Wait(); err != nil {
			return ListingDetail{}, err
		}
		return detail, nil
	}
	return livecache.Subscribe(s.live, "listing:"+addr, 0, fetch), nil
}

// SubscribeTokens keeps the property collection's tokens live.
func (s *Service) SubscribeTokens() *livecache.Subscription[[]CollectionToken] {
	collection := s.cfg.CollectionID
	fetch := func(ctx context.Context) ([]CollectionToken, error) {
		rows, err := s.chain.CollectionTokens(ctx, collection)
		if err != nil {
			return nil, err
		}
		return NormalizeTokens(rows), nil
	}
	return livecache.Subscribe(s.live, "tokens:"+collection, s.cfg.TokenInterval, fetch)
}

// SubscribeTokenSupply keeps the supply of one ownership token live, scaled
// by the decimals the collection declares for it.
func (s *Service) SubscribeTokenSupply(assetType string) (*livecache.Subscription[TokenSupply], error) {
	asset, err := onchain.NormalizeAddress(assetType)
	if err != nil {
		return nil, err
	}

	fetch := func(ctx context.Context) (TokenSupply, error) {
		var (
			raw    decimal.Decimal
			tokens []onchain.TokenData
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			raw, err = s.chain.TokenSupply(gctx, asset)
			return err
		})
		g.Go(func() error {
			if s.cfg.CollectionID == "" {
				return nil
			}
			var err error
			tokens, err = s.chain.CollectionTokens(gctx, s.cfg.CollectionID)
			return err
		})
		if err := g.Wait(); err != nil {
			return TokenSupply{}, err
		}

		var decimals *int32
		for _, t := range tokens {
			if strings.EqualFold(t.TokenDataID, asset) {
				decimals = t.Decimals
				break
			}
		}
		return TokenSupply{
			AssetType: asset,
			Raw:       raw,
			Supply:    calc.ScaleAmount(raw, decimals),
		}, nil
	}
	return livecache.Subscribe(s.live, "tokenSupply:"+asset, s.cfg.TokenInterval, fetch), nil
}

// NormalizeTokens drops deleted tokens and flattens collection metadata.
func NormalizeTokens(rows []onchain.TokenData) []CollectionToken {
	tokens := make([]CollectionToken, 0, len(rows))
	for _, row := range rows {
		if row.IsDeleted != nil && *row.IsDeleted {
			continue
		}
		token := CollectionToken{
			TokenDataID:  strings.ToLower(row.TokenDataID),
			Name:         row.TokenName,
			URI:          row.TokenURI,
			Description:  row.Description,
			CollectionID: row.CollectionID,
			Decimals:     row.Decimals,
			IsFungible:   row.IsFungible != nil && *row.IsFungible,
		}
		if row.Collection != nil {
			token.CollectionName = row.Collection.CollectionName
		}
		tokens = append(tokens, token)
	}
	return tokens
}
