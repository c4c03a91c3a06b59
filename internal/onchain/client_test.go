package onchain

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fardream/go-bcs/bcs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testModule = "0xcafe"
	testEconia = "0xc0de"
	aptosCoin  = "0x1::aptos_coin::AptosCoin"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	logger, _ := zap.NewDevelopment()
	return NewClient(ClientOptions{
		NodeURL:       srv.URL,
		IndexerURL:    srv.URL + "/graphql",
		APIKey:        "secret",
		ModuleAddress: testModule,
		EconiaAddress: testEconia,
		Timeout:       time.Second,
	}, logger.Sugar())
}

func decodeView(t *testing.T, r *http.Request) viewRequest {
	t.Helper()
	var req viewRequest
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	return req
}

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		in       string
		expected string
		wantErr  bool
	}{
		{in: "0x1", expected: "0x1"},
		{in: "0x0000000000000000000000000000000000000000000000000000000000000001", expected: "0x1"},
		{in: "0xABC", expected: "0x0000000000000000000000000000000000000000000000000000000000000abc"},
		{in: "abc", expected: "0x0000000000000000000000000000000000000000000000000000000000000abc"},
		{in: "0x0", expected: "0x0"},
		{in: "", wantErr: true},
		{in: "0xzz", wantErr: true},
		{in: "0x" + strings.Repeat("a", 65), wantErr: true},
	}

	for _, tt := range tests {
		got, err := NormalizeAddress(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.expected, got)
	}
}

func TestCoinTypeAddress(t *testing.T) {
	addr, err := CoinTypeAddress(aptosCoin)
	require.NoError(t, err)
	assert.Equal(t, "0x1", addr)

	_, err = CoinTypeAddress("0x1::coin")
	assert.Error(t, err)
}

func TestView_RequestShape(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/view", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		req := decodeView(t, r)
		assert.Equal(t, "0xcafe::controller::get_listing_info", req.Function)
		assert.Equal(t, []string{}, req.TypeArguments)
		assert.Equal(t, []interface{}{"0xlisting"}, req.Arguments)
		_, _ = w.Write([]byte(`[1,"1700000000","1800000000","1000","10","1",{"inner":"0xa"},"0xb","4"]`))
	})

	values, err := client.ListingInfo(context.Background(), "0xlisting")
	require.NoError(t, err)
	assert.Len(t, values, 9)
	assert.JSONEq(t, `{"inner":"0xa"}`, string(values[6]))
}

func TestAllListings(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeView(t, r)
		assert.Equal(t, "0xcafe::controller::get_all_listings", req.Function)
		assert.Empty(t, req.Arguments)
		_, _ = w.Write([]byte(`[[{"inner":"0xA1"},{"inner":"0x2"}]]`))
	})

	listings, err := client.AllListings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"0x00000000000000000000000000000000000000000000000000000000000000a1",
		"0x2",
	}, listings)
}

func TestAllListings_BadShape(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := client.AllListings(context.Background())
	var derr *DecodeError
	assert.True(t, errors.As(err, &derr))
}

func TestCoinTypeFromListing(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeView(t, r)
		assert.Equal(t, "0xcafe::controller::get_coin_type_from_fa", req.Function)
		_, _ = w.Write([]byte(`["0xabc::deed::DEED"]`))
	})

	coinType, err := client.CoinTypeFromListing(context.Background(), "0xlisting")
	require.NoError(t, err)
	assert.Equal(t, "0xabc::deed::DEED", coinType)
}

func TestActiveOrNextMintStage(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected *string
	}{
		{name: "some", body: `[{"vec":["public"]}]`, expected: strPtr("public")},
		{name: "none", body: `[{"vec":[]}]`, expected: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				req := decodeView(t, r)
				assert.Equal(t, "0xcafe::launchpad::get_active_or_next_mint_stage", req.Function)
				_, _ = w.Write([]byte(tt.body))
			})

			stage, err := client.ActiveOrNextMintStage(context.Background(), "0xcollection")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, stage)
		})
	}
}

func TestCoinInfo(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/accounts/0x1/resource/0x1::coin::CoinInfo<"+aptosCoin+">", r.URL.Path)
		_, _ = w.Write([]byte(`{"type":"0x1::coin::CoinInfo","data":{"decimals":8,"name":"Aptos Coin","symbol":"APT"}}`))
	})

	info, err := client.CoinInfo(context.Background(), aptosCoin)
	require.NoError(t, err)
	assert.Equal(t, int32(8), info.Decimals)
	assert.Equal(t, "APT", info.Symbol)
	assert.Equal(t, aptosCoin, info.CoinType)
}

func TestCoinBalance_BCS(t *testing.T) {
	raw, err := bcs.Marshal(MoveCoinStore{Coin: MoveCoin{Value: 150_000_000}})
	require.NoError(t, err)

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, contentTypeBCS, r.Header.Get("Accept"))
		assert.Equal(t, "/accounts/0x1/resource/0x1::coin::CoinStore<"+aptosCoin+">", r.URL.Path)
		w.Header().Set("Content-Type", contentTypeBCS)
		_, _ = w.Write(raw)
	})

	balance, err := client.CoinBalance(context.Background(), "0x1", aptosCoin)
	require.NoError(t, err)
	assert.Equal(t, "150000000", balance.String())
}

func TestCoinBalance_NotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Resource not found","error_code":"resource_not_found"}`))
	})

	_, err := client.CoinBalance(context.Background(), "0x1", aptosCoin)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransportError_Status(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"message":"upstream down"}`))
	})

	_, err := client.View(context.Background(), "0x1::m::f", nil)
	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, http.StatusBadGateway, terr.StatusCode)
	assert.Equal(t, "upstream down", terr.Message)
}

func TestMarketAccountCollateral(t *testing.T) {
	owner := "0x0000000000000000000000000000000000000000000000000000000000000abc"
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			assert.Equal(t, "/accounts/"+owner+"/resource/0xc0de::user::Collateral<"+aptosCoin+">", r.URL.Path)
			_, _ = w.Write([]byte(`{"type":"x","data":{"map":{"table":{"inner":{"handle":"0xhandle"}}}}}`))
		case http.MethodPost:
			assert.Equal(t, "/tables/0xhandle/item", r.URL.Path)
			var req tableItemRequest
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, &req))
			assert.Equal(t, "u128", req.KeyType)
			assert.Equal(t, "0xc0de::tablist::Node<u128, 0x1::coin::Coin<"+aptosCoin+">>", req.ValueType)
			assert.Equal(t, "36893488147419103232", req.Key)
			_, _ = w.Write([]byte(`{"value":{"value":"2500"},"previous":{"vec":[]},"next":{"vec":[]}}`))
		}
	})

	amount, err := client.MarketAccountCollateral(context.Background(), "0xABC", aptosCoin, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, "2500", amount.String())
}

func TestCollectionTokens(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/graphql", r.URL.Path)
		var req graphqlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "0xcollection", req.Variables["collection_id"])
		assert.Contains(t, req.Query, "current_token_datas_v2")
		_, _ = w.Write([]byte(`{"data":{"current_token_datas_v2":[
			{"token_data_id":"0xt1","token_name":"Deed #1","decimals":8,"is_fungible_v2":true,
			 "current_collection":{"collection_id":"0xcollection","collection_name":"Deeds","current_supply":3,"max_supply":null}}
		]}}`))
	})

	tokens, err := client.CollectionTokens(context.Background(), "0xcollection")
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, int32(8), *tokens[0].Decimals)
	assert.Equal(t, "Deeds", tokens[0].Collection.CollectionName)
	assert.False(t, tokens[0].Collection.MaxSupply.Valid)
}

func TestFungibleBalances(t *testing.T) {
	var withAsset atomic.Bool
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req graphqlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_, has := req.Variables["asset_type"]
		withAsset.Store(has)
		_, _ = w.Write([]byte(`{"data":{"current_fungible_asset_balances":[
			{"owner_address":"0x1","asset_type_v2":"0xt1","amount_v2":1200,"metadata":{"symbol":"DEED","decimals":2}}
		]}}`))
	})

	balances, err := client.FungibleBalances(context.Background(), "0x1", "")
	require.NoError(t, err)
	assert.False(t, withAsset.Load())
	require.Len(t, balances, 1)
	assert.Equal(t, "1200", balances[0].Amount.String())
	assert.Equal(t, "DEED", balances[0].Metadata.Symbol)

	_, err = client.FungibleBalances(context.Background(), "0x1", "0xt1")
	require.NoError(t, err)
	assert.True(t, withAsset.Load())
}

func TestTokenSupply(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected string
	}{
		{name: "sum", body: `{"data":{"current_fungible_asset_balances_aggregate":{"aggregate":{"sum":{"amount_v2":5000}}}}}`, expected: "5000"},
		{name: "no holders", body: `{"data":{"current_fungible_asset_balances_aggregate":{"aggregate":{"sum":{"amount_v2":null}}}}}`, expected: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})
			supply, err := client.TokenSupply(context.Background(), "0xt1")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, supply.String())
		})
	}
}

func TestDoQuery_GraphQLError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errors":[{"message":"field not found"}]}`))
	})

	_, err := client.CollectionTokens(context.Background(), "0xcollection")
	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "field not found", terr.Message)
}

func strPtr(s string) *string {
	return &s
}
