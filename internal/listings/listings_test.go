package listings

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/realstake/realstake-backend/internal/calc"
	"github.com/realstake/realstake-backend/internal/livecache"
	"github.com/realstake/realstake-backend/internal/onchain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	listingA = "0x" + strings.Repeat("a", 64)
	listingB = "0x" + strings.Repeat("b", 64)
	tokenA   = "0x" + strings.Repeat("c", 64)
	rewardA  = "0x" + strings.Repeat("d", 64)
)

func rawTuple(t *testing.T, values ...string) []json.RawMessage {
	t.Helper()
	tuple := make([]json.RawMessage, len(values))
	for i, v := range values {
		require.True(t, json.Valid([]byte(v)), "invalid json %s", v)
		tuple[i] = json.RawMessage(v)
	}
	return tuple
}

func validTuple(t *testing.T) []json.RawMessage {
	return rawTuple(t,
		`1`,
		`"1000"`,
		`"2000"`,
		`"500000000000"`,
		`"100000000"`,
		`250`,
		`{"inner":"`+tokenA+`"}`,
		`"`+rewardA+`"`,
		`"7"`,
	)
}

func TestDecodeListingInfo(t *testing.T) {
	info, err := DecodeListingInfo(validTuple(t), listingA, time.Unix(1500, 0))
	require.NoError(t, err)

	assert.Equal(t, listingA, info.Address)
	assert.Equal(t, "1", info.Status)
	assert.Equal(t, uint64(1000), info.StartDate)
	assert.Equal(t, uint64(2000), info.EndDate)
	assert.Equal(t, "500000000000", info.FundingTarget.String())
	assert.Equal(t, "100000000", info.TokenPrice.String())
	assert.Equal(t, "250", info.MintingFee.String())
	assert.Equal(t, tokenA, info.OwnershipToken)
	assert.Equal(t, rewardA, info.RewardPool)
	assert.Equal(t, uint64(7), info.MarketID)
	assert.True(t, info.IsMintActive)
}

func TestDecodeListingInfo_MintWindow(t *testing.T) {
	tests := []struct {
		name   string
		now    int64
		active bool
	}{
		{"before start", 999, false},
		{"at start", 1000, true},
		{"at end", 2000, true},
		{"after end", 2001, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := DecodeListingInfo(validTuple(t), listingA, time.Unix(tt.now, 0))
			require.NoError(t, err)
			assert.Equal(t, tt.active, info.IsMintActive)
		})
	}
}

func TestDecodeListingInfo_StringStatus(t *testing.T) {
	tuple := rawTuple(t,
		`"active"`,
		`"1700000000"`,
		`"1800000000"`,
		`"1000000"`,
		`"100"`,
		`"0"`,
		`"`+tokenA+`"`,
		`"`+rewardA+`"`,
		`"3"`,
	)

	tests := []struct {
		name   string
		now    int64
		active bool
	}{
		{"inside window", 1750000000, true},
		{"after window", 1900000000, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := DecodeListingInfo(tuple, listingA, time.Unix(tt.now, 0))
			require.NoError(t, err)
			assert.Equal(t, "active", info.Status)
			assert.Equal(t, uint64(1700000000), info.StartDate)
			assert.Equal(t, uint64(1800000000), info.EndDate)
			assert.Equal(t, tt.active, info.IsMintActive)
		})
	}
}

func TestDecodeListingInfo_Errors(t *testing.T) {
	tests := []struct {
		name  string
		tuple func(t *testing.T) []json.RawMessage
		field string
		index int
	}{
		{
			name:  "short tuple",
			tuple: func(t *testing.T) []json.RawMessage { return validTuple(t)[:8] },
			index: -1,
		},
		{
			name: "long tuple",
			tuple: func(t *testing.T) []json.RawMessage {
				return append(validTuple(t), json.RawMessage(`0`))
			},
			index: -1,
		},
		{
			name: "object status",
			tuple: func(t *testing.T) []json.RawMessage {
				tuple := validTuple(t)
				tuple[0] = json.RawMessage(`{"state":1}`)
				return tuple
			},
			field: "status",
			index: 0,
		},
		{
			name: "boolean start date",
			tuple: func(t *testing.T) []json.RawMessage {
				tuple := validTuple(t)
				tuple[1] = json.RawMessage(`true`)
				return tuple
			},
			field: "start_date",
			index: 1,
		},
		{
			name: "fractional price",
			tuple: func(t *testing.T) []json.RawMessage {
				tuple := validTuple(t)
				tuple[4] = json.RawMessage(`"1.5"`)
				return tuple
			},
			field: "token_price",
			index: 4,
		},
		{
			name: "negative fee",
			tuple: func(t *testing.T) []json.RawMessage {
				tuple := validTuple(t)
				tuple[5] = json.RawMessage(`-3`)
				return tuple
			},
			field: "minting_fee",
			index: 5,
		},
		{
			name: "object without inner",
			tuple: func(t *testing.T) []json.RawMessage {
				tuple := validTuple(t)
				tuple[6] = json.RawMessage(`{"addr":"0x1"}`)
				return tuple
			},
			field: "ownership_token",
			index: 6,
		},
		{
			name: "numeric address",
			tuple: func(t *testing.T) []json.RawMessage {
				tuple := validTuple(t)
				tuple[7] = json.RawMessage(`12`)
				return tuple
			},
			field: "reward_pool",
			index: 7,
		},
		{
			name: "market id overflow",
			tuple: func(t *testing.T) []json.RawMessage {
				tuple := validTuple(t)
				tuple[8] = json.RawMessage(`"18446744073709551616"`)
				return tuple
			},
			field: "market_id",
			index: 8,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeListingInfo(tt.tuple(t), listingA, time.Unix(1500, 0))
			require.Error(t, err)

			var decodeErr *DecodeError
			require.True(t, errors.As(err, &decodeErr))
			assert.Equal(t, tt.field, decodeErr.Field)
			assert.Equal(t, tt.index, decodeErr.Index)
			assert.Equal(t, listingInfoFunction, decodeErr.Function)
		})
	}
}

func TestDecodeListingInfo_ReportsFirstBadField(t *testing.T) {
	tuple := validTuple(t)
	tuple[2] = json.RawMessage(`null`)
	tuple[3] = json.RawMessage(`{}`)

	_, err := DecodeListingInfo(tuple, listingA, time.Now())
	var decodeErr *DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, "end_date", decodeErr.Field)
	assert.Contains(t, err.Error(), "null")
}

func TestNormalizeTokens(t *testing.T) {
	deleted := true
	fungible := true
	rows := []onchain.TokenData{
		{
			TokenDataID: strings.ToUpper(tokenA),
			TokenName:   "Villa",
			Decimals:    calc.Decimals(2),
			IsFungible:  &fungible,
			Collection:  &onchain.CollectionData{CollectionName: "Estates"},
		},
		{TokenDataID: "0x2", TokenName: "Burned", IsDeleted: &deleted},
		{TokenDataID: "0x3", TokenName: "Loft"},
	}

	tokens := NormalizeTokens(rows)
	require.Len(t, tokens, 2)
	assert.Equal(t, strings.ToLower(tokenA), tokens[0].TokenDataID)
	assert.Equal(t, "Estates", tokens[0].CollectionName)
	assert.True(t, tokens[0].IsFungible)
	assert.Equal(t, "Loft", tokens[1].Name)
	assert.Nil(t, tokens[1].Decimals)
	assert.False(t, tokens[1].IsFungible)
}

type fakeChain struct {
	listings   []string
	tuples     map[string][]json.RawMessage
	infoErr    error
	coinType   string
	stage      *string
	tokens     []onchain.TokenData
	supply     decimal.Decimal
	infoCalls  atomic.Int32
	stageCalls atomic.Int32
}

func (f *fakeChain) AllListings(ctx context.Context) ([]string, error) {
	return f.listings, nil
}

func (f *fakeChain) ListingInfo(ctx context.Context, listing string) ([]json.RawMessage, error) {
	f.infoCalls.Add(1)
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	return f.tuples[listing], nil
}

func (f *fakeChain) CoinTypeFromListing(ctx context.Context, listing string) (string, error) {
	return f.coinType, nil
}

func (f *fakeChain) ActiveOrNextMintStage(ctx context.Context, collection string) (*string, error) {
	f.stageCalls.Add(1)
	return f.stage, nil
}

func (f *fakeChain) CollectionTokens(ctx context.Context, collectionID string) ([]onchain.TokenData, error) {
	return f.tokens, nil
}

func (f *fakeChain) TokenSupply(ctx context.Context, assetType string) (decimal.Decimal, error) {
	return f.supply, nil
}

func newTestService(t *testing.T, chain Chain, cfg Config) *Service {
	t.Helper()
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	live := livecache.NewStore(nil, logger.Sugar(), nil)
	t.Cleanup(live.Close)

	svc := NewService(chain, live, cfg, logger.Sugar())
	svc.now = func() time.Time { return time.Unix(1500, 0) }
	return svc
}

func waitCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestService_SubscribeListings(t *testing.T) {
	second := validTuple(t)
	second[8] = json.RawMessage(`9`)
	chain := &fakeChain{
		listings: []string{listingA, listingB},
		tuples:   map[string][]json.RawMessage{listingA: validTuple(t), listingB: second},
	}
	svc := newTestService(t, chain, Config{})

	sub := svc.SubscribeListings()
	defer sub.Close()

	r := sub.Wait(waitCtx(t))
	require.NoError(t, r.Err)
	require.Len(t, r.Data, 2)
	assert.Equal(t, listingA, r.Data[0].Address)
	assert.Equal(t, uint64(7), r.Data[0].MarketID)
	assert.Equal(t, listingB, r.Data[1].Address)
	assert.Equal(t, uint64(9), r.Data[1].MarketID)
	assert.Equal(t, int32(2), chain.infoCalls.Load())
}

func TestService_SubscribeListings_DecodeFailure(t *testing.T) {
	bad := validTuple(t)[:3]
	chain := &fakeChain{
		listings: []string{listingA},
		tuples:   map[string][]json.RawMessage{listingA: bad},
	}
	svc := newTestService(t, chain, Config{})

	sub := svc.SubscribeListings()
	defer sub.Close()

	r := sub.Wait(waitCtx(t))
	assert.False(t, r.HasData)
	var decodeErr *DecodeError
	assert.True(t, errors.As(r.Err, &decodeErr))
}

func TestService_SubscribeListings_TransportFailure(t *testing.T) {
	chain := &fakeChain{
		listings: []string{listingA},
		infoErr:  &onchain.TransportError{Op: "view", StatusCode: 503},
	}
	svc := newTestService(t, chain, Config{})

	sub := svc.SubscribeListings()
	defer sub.Close()

	r := sub.Wait(waitCtx(t))
	var transportErr *onchain.TransportError
	assert.True(t, errors.As(r.Err, &transportErr))
	var decodeErr *DecodeError
	assert.False(t, errors.As(r.Err, &decodeErr))
}

func TestService_SubscribeListing(t *testing.T) {
	stage := "public"
	chain := &fakeChain{
		tuples:   map[string][]json.RawMessage{listingA: validTuple(t)},
		coinType: "0xabc::villa::VILLA",
		stage:    &stage,
	}
	svc := newTestService(t, chain, Config{CollectionID: "0xcollection"})

	sub, err := svc.SubscribeListing(strings.ToUpper(listingA[2:]))
	require.NoError(t, err)
	defer sub.Close()

	r := sub.Wait(waitCtx(t))
	require.NoError(t, r.Err)
	assert.Equal(t, listingA, r.Data.Address)
	assert.Equal(t, "0xabc::villa::VILLA", r.Data.CoinType)
	require.NotNil(t, r.Data.MintStage)
	assert.Equal(t, "public", *r.Data.MintStage)
}

func TestService_SubscribeListing_NoCollection(t *testing.T) {
	chain := &fakeChain{
		tuples:   map[string][]json.RawMessage{listingA: validTuple(t)},
		coinType: "0xabc::villa::VILLA",
	}
	svc := newTestService(t, chain, Config{})

	sub, err := svc.SubscribeListing(listingA)
	require.NoError(t, err)
	defer sub.Close()

	r := sub.Wait(waitCtx(t))
	require.NoError(t, r.Err)
	assert.Nil(t, r.Data.MintStage)
	assert.Zero(t, chain.stageCalls.Load())
}

func TestService_SubscribeListing_InvalidAddress(t *testing.T) {
	svc := newTestService(t, &fakeChain{}, Config{})
	_, err := svc.SubscribeListing("not-an-address")
	assert.Error(t, err)
}

func TestService_SubscribeTokenSupply(t *testing.T) {
	chain := &fakeChain{
		tokens: []onchain.TokenData{{TokenDataID: tokenA, Decimals: calc.Decimals(2)}},
		supply: decimal.NewFromInt(12345),
	}
	svc := newTestService(t, chain, Config{CollectionID: "0xcollection", TokenInterval: time.Minute})

	sub, err := svc.SubscribeTokenSupply(tokenA)
	require.NoError(t, err)
	defer sub.Close()

	r := sub.Wait(waitCtx(t))
	require.NoError(t, r.Err)
	assert.Equal(t, "12345", r.Data.Raw.String())
	assert.Equal(t, "123.45", r.Data.Supply.String())
}

func TestService_SubscribeTokenSupply_UnknownDecimals(t *testing.T) {
	chain := &fakeChain{supply: decimal.NewFromInt(10)}
	svc := newTestService(t, chain, Config{TokenInterval: time.Minute})

	sub, err := svc.SubscribeTokenSupply(tokenA)
	require.NoError(t, err)
	defer sub.Close()

	r := sub.Wait(waitCtx(t))
	require.NoError(t, r.Err)
	assert.False(t, r.Data.Supply.IsKnown())
}
