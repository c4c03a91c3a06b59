package portfolio

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/realstake/realstake-backend/internal/calc"
	"github.com/realstake/realstake-backend/internal/econia"
	"github.com/realstake/realstake-backend/internal/livecache"
	"github.com/realstake/realstake-backend/internal/markets"
	"github.com/realstake/realstake-backend/internal/onchain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const user = "0x1"

func market() markets.MarketIdentity {
	return markets.MarketIdentity{
		MarketID: 2,
		Base:     markets.AssetDescriptor{Symbol: "DEED", AccountAddress: "0xabc", ModuleName: "deed", StructName: "DEED", Decimals: calc.Decimals(8)},
		Quote:    markets.AssetDescriptor{Symbol: "USDC", AccountAddress: "0xdef", ModuleName: "usdc", StructName: "USDC", Decimals: calc.Decimals(6)},
	}
}

func TestNormalizeBalances(t *testing.T) {
	rows := []econia.RawBalance{{
		BaseTotal:      decimal.NewFromInt(150_000_000),
		BaseAvailable:  decimal.NewFromInt(100_000_000),
		BaseCeiling:    decimal.NewFromInt(150_000_000),
		QuoteTotal:     decimal.NewFromInt(2_500_000),
		QuoteAvailable: decimal.Zero,
		QuoteCeiling:   decimal.NewFromInt(2_500_000),
	}}

	view := NormalizeBalances(rows, market())
	assert.Equal(t, "1.5", view.BaseTotal.String())
	assert.Equal(t, "1", view.BaseAvailable.String())
	assert.Equal(t, "2.5", view.QuoteTotal.String())
	assert.True(t, view.QuoteAvailable.IsKnown())
	assert.Equal(t, "0", view.QuoteAvailable.String())
}

func TestNormalizeBalances_Idempotent(t *testing.T) {
	rows := []econia.RawBalance{{
		BaseTotal:      decimal.NewFromInt(150_000_000),
		BaseAvailable:  decimal.NewFromInt(1),
		BaseCeiling:    decimal.NewFromInt(150_000_000),
		QuoteTotal:     decimal.NewFromInt(2_500_001),
		QuoteAvailable: decimal.Zero,
		QuoteCeiling:   decimal.NewFromInt(2_500_000),
	}}

	first := NormalizeBalances(rows, market())
	second := NormalizeBalances(rows, market())
	pairs := [][2]calc.Amount{
		{first.BaseTotal, second.BaseTotal},
		{first.BaseAvailable, second.BaseAvailable},
		{first.BaseCeiling, second.BaseCeiling},
		{first.QuoteTotal, second.QuoteTotal},
		{first.QuoteAvailable, second.QuoteAvailable},
		{first.QuoteCeiling, second.QuoteCeiling},
	}
	for _, p := range pairs {
		assert.True(t, p[0].IsKnown())
		assert.True(t, p[0].Equal(p[1]), "%s != %s", p[0], p[1])
	}
}

func TestNormalizeBalances_NoRows(t *testing.T) {
	for _, rows := range [][]econia.RawBalance{nil, {}} {
		view := NormalizeBalances(rows, market())
		for _, a := range []calc.Amount{view.BaseTotal, view.BaseAvailable, view.BaseCeiling, view.QuoteTotal, view.QuoteAvailable, view.QuoteCeiling} {
			assert.False(t, a.IsKnown())
		}
	}
}

func TestNormalizeBalances_UnknownDecimals(t *testing.T) {
	m := market()
	m.Quote.Decimals = nil
	view := NormalizeBalances([]econia.RawBalance{{BaseTotal: decimal.NewFromInt(100_000_000), QuoteTotal: decimal.NewFromInt(5)}}, m)
	assert.Equal(t, "1", view.BaseTotal.String())
	assert.False(t, view.QuoteTotal.IsKnown())
}

func TestNormalizeHoldings(t *testing.T) {
	balances := []onchain.FungibleBalance{
		{AssetType: "0xT1", Amount: decimal.NewFromInt(1200), Metadata: &onchain.FungibleMetadata{Symbol: "DEED1"}},
		{AssetType: "0xt2", Amount: decimal.NewFromInt(300), Metadata: &onchain.FungibleMetadata{Symbol: "APT", Decimals: calc.Decimals(1)}},
		{AssetType: "0xt3", Amount: decimal.NewFromInt(7)},
	}
	tokens := []onchain.TokenData{{TokenDataID: "0xt1", TokenName: "Villa", CollectionID: "0xc", Decimals: calc.Decimals(2)}}

	holdings := NormalizeHoldings(balances, tokens)
	require.Len(t, holdings, 3)
	assert.Equal(t, "Villa", holdings[0].TokenName)
	assert.Equal(t, "12", holdings[0].Amount.String())
	assert.Equal(t, "30", holdings[1].Amount.String())
	assert.Empty(t, holdings[1].TokenName)
	assert.False(t, holdings[2].Amount.IsKnown())
}

type fakeBalances struct {
	rows []econia.RawBalance
	err  error
}

func (f *fakeBalances) UserBalance(ctx context.Context, address string, marketID, custodianID uint64) ([]econia.RawBalance, error) {
	return f.rows, f.err
}

type fakeChain struct {
	coin       decimal.Decimal
	coinErr    error
	collateral decimal.Decimal
	collErr    error
	balances   []onchain.FungibleBalance
	tokens     []onchain.TokenData
}

func (f *fakeChain) CoinBalance(ctx context.Context, owner, coinType string) (decimal.Decimal, error) {
	return f.coin, f.coinErr
}

func (f *fakeChain) MarketAccountCollateral(ctx context.Context, owner, coinType string, marketID, custodianID uint64) (decimal.Decimal, error) {
	return f.collateral, f.collErr
}

func (f *fakeChain) FungibleBalances(ctx context.Context, owner, assetType string) ([]onchain.FungibleBalance, error) {
	return f.balances, nil
}

func (f *fakeChain) CollectionTokens(ctx context.Context, collectionID string) ([]onchain.TokenData, error) {
	return f.tokens, nil
}

type fakeCoins struct {
	decimals int32
	err      error
}

func (f *fakeCoins) CoinInfo(ctx context.Context, coinType string) (*onchain.CoinInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &onchain.CoinInfo{CoinType: coinType, Decimals: f.decimals}, nil
}

func newTestService(t *testing.T, balances BalanceSource, chain Chain, coins CoinInfoSource) *Service {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	live := livecache.NewStore(nil, logger.Sugar(), nil)
	t.Cleanup(live.Close)
	return NewService(balances, chain, coins, live, Config{
		BalanceInterval: time.Hour,
		TokenInterval:   time.Hour,
		CollectionID:    "0xc",
	}, logger.Sugar())
}

func waitCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestService_SubscribeBalance(t *testing.T) {
	svc := newTestService(t, &fakeBalances{rows: []econia.RawBalance{{BaseTotal: decimal.NewFromInt(300_000_000)}}}, &fakeChain{}, &fakeCoins{})

	sub, err := svc.SubscribeBalance(market(), user)
	require.NoError(t, err)
	defer sub.Close()

	r := sub.Wait(waitCtx(t))
	require.NoError(t, r.Err)
	assert.Equal(t, "3", r.Data.BaseTotal.String())
}

func TestService_SubscribeBalance_NoAccount(t *testing.T) {
	svc := newTestService(t, &fakeBalances{}, &fakeChain{}, &fakeCoins{})

	sub, err := svc.SubscribeBalance(market(), user)
	require.NoError(t, err)
	defer sub.Close()

	r := sub.Wait(waitCtx(t))
	require.True(t, r.HasData)
	assert.False(t, r.Data.BaseTotal.IsKnown())
}

func TestService_SubscribeBalance_InvalidAddress(t *testing.T) {
	svc := newTestService(t, &fakeBalances{}, &fakeChain{}, &fakeCoins{})
	_, err := svc.SubscribeBalance(market(), "not-an-address")
	assert.Error(t, err)
}

func TestService_SubscribeCollateral(t *testing.T) {
	tests := []struct {
		name     string
		chain    *fakeChain
		asset    Asset
		expected string
	}{
		{name: "base", chain: &fakeChain{collateral: decimal.NewFromInt(250_000_000)}, asset: AssetBase, expected: "2.5"},
		{name: "quote", chain: &fakeChain{collateral: decimal.NewFromInt(1_000_000)}, asset: AssetQuote, expected: "1"},
		{name: "missing store", chain: &fakeChain{collErr: fmt.Errorf("resource: %w", onchain.ErrNotFound)}, asset: AssetBase, expected: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t, &fakeBalances{}, tt.chain, &fakeCoins{})
			sub, err := svc.SubscribeCollateral(market(), user, tt.asset)
			require.NoError(t, err)
			defer sub.Close()

			r := sub.Wait(waitCtx(t))
			require.NoError(t, r.Err)
			assert.Equal(t, tt.expected, r.Data.String())
		})
	}
}

func TestService_SubscribeCollateral_BadAsset(t *testing.T) {
	svc := newTestService(t, &fakeBalances{}, &fakeChain{}, &fakeCoins{})
	_, err := svc.SubscribeCollateral(market(), user, Asset("middle"))
	assert.ErrorIs(t, err, ErrUnknownAsset)
}

func TestService_SubscribeCoinBalance(t *testing.T) {
	tests := []struct {
		name     string
		chain    *fakeChain
		coins    *fakeCoins
		expected string
	}{
		{name: "scaled", chain: &fakeChain{coin: decimal.NewFromInt(150_000_000)}, coins: &fakeCoins{decimals: 8}, expected: "1.5"},
		{name: "no coin store", chain: &fakeChain{coinErr: onchain.ErrNotFound}, coins: &fakeCoins{decimals: 8}, expected: "unknown"},
		{name: "no coin info", chain: &fakeChain{coin: decimal.NewFromInt(1)}, coins: &fakeCoins{err: onchain.ErrNotFound}, expected: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t, &fakeBalances{}, tt.chain, tt.coins)
			sub, err := svc.SubscribeCoinBalance(user, "0x1::aptos_coin::AptosCoin")
			require.NoError(t, err)
			defer sub.Close()

			r := sub.Wait(waitCtx(t))
			require.NoError(t, r.Err)
			assert.Equal(t, tt.expected, r.Data.String())
		})
	}
}

func TestService_SubscribeHoldings(t *testing.T) {
	chain := &fakeChain{
		balances: []onchain.FungibleBalance{{AssetType: "0xt1", Amount: decimal.NewFromInt(500)}},
		tokens:   []onchain.TokenData{{TokenDataID: "0xt1", TokenName: "Villa", Decimals: calc.Decimals(2)}},
	}
	svc := newTestService(t, &fakeBalances{}, chain, &fakeCoins{})

	sub, err := svc.SubscribeHoldings(user)
	require.NoError(t, err)
	defer sub.Close()

	r := sub.Wait(waitCtx(t))
	require.Len(t, r.Data, 1)
	assert.Equal(t, "Villa", r.Data[0].TokenName)
	assert.Equal(t, "5", r.Data[0].Amount.String())
}
