package onchain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
)

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

const fungibleBalanceFields = `
		amount_v2
		asset_type_v2
		owner_address
		metadata {
			decimals
			icon_uri
			maximum_v2
			project_uri
			supply_v2
			symbol
			token_standard
		}`

const collectionTokensQuery = `
	query CollectionTokens($collection_id: String) {
		current_token_datas_v2(
			where: { current_collection: { collection_id: { _eq: $collection_id } } }
		) {
			decimals
			is_deleted_v2
			is_fungible_v2
			token_name
			token_properties
			token_uri
			token_data_id
			collection_id
			description
			current_collection {
				collection_id
				collection_name
				collection_properties
				creator_address
				current_supply
				description
				max_supply
				token_standard
				total_minted_v2
				uri
			}
		}
	}`

const ownerBalancesQuery = `
	query OwnerBalances($owner_address: String) {
		current_fungible_asset_balances(
			where: { owner_address: { _eq: $owner_address } }
		) {` + fungibleBalanceFields + `
		}
	}`

const ownerAssetBalanceQuery = `
	query OwnerAssetBalance($owner_address: String, $asset_type: String) {
		current_fungible_asset_balances(
			where: { owner_address: { _eq: $owner_address }, asset_type_v2: { _eq: $asset_type } }
		) {` + fungibleBalanceFields + `
		}
	}`

const tokenSupplyQuery = `
	query TokenSupply($asset_type: String) {
		current_fungible_asset_balances_aggregate(
			where: { asset_type_v2: { _eq: $asset_type } }
		) {
			aggregate {
				sum {
					amount_v2
				}
			}
		}
	}`

// CollectionTokens lists the token data of every token in a collection.
func (c *Client) CollectionTokens(ctx context.Context, collectionID string) ([]TokenData, error) {
	data, err := c.doQuery(ctx, "collection tokens", collectionTokensQuery, map[string]any{
		"collection_id": collectionID,
	})
	if err != nil {
		return nil, err
	}

	var result struct {
		Tokens []TokenData `json:"current_token_datas_v2"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, &DecodeError{Op: "collection tokens", Err: err}
	}
	return result.Tokens, nil
}

// FungibleBalances lists an owner's fungible asset balances, optionally
// restricted to one asset type.
func (c *Client) FungibleBalances(ctx context.Context, owner, assetType string) ([]FungibleBalance, error) {
	addr, err := NormalizeAddress(owner)
	if err != nil {
		return nil, err
	}

	query := ownerBalancesQuery
	variables := map[string]any{"owner_address": addr}
	if assetType != "" {
		query = ownerAssetBalanceQuery
		variables["asset_type"] = assetType
	}

	data, err := c.doQuery(ctx, "fungible balances", query, variables)
	if err != nil {
		return nil, err
	}

	var result struct {
		Balances []FungibleBalance `json:"current_fungible_asset_balances"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, &DecodeError{Op: "fungible balances", Err: err}
	}
	return result.Balances, nil
}

// TokenSupply sums the raw balances held of an asset type. An asset nobody
// holds sums to zero.
func (c *Client) TokenSupply(ctx context.Context, assetType string) (decimal.Decimal, error) {
	data, err := c.doQuery(ctx, "token supply", tokenSupplyQuery, map[string]any{
		"asset_type": assetType,
	})
	if err != nil {
		return decimal.Zero, err
	}

	var result struct {
		Aggregate struct {
			Aggregate *struct {
				Sum *struct {
					Amount decimal.NullDecimal `json:"amount_v2"`
				} `json:"sum"`
			} `json:"aggregate"`
		} `json:"current_fungible_asset_balances_aggregate"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return decimal.Zero, &DecodeError{Op: "token supply", Err: err}
	}

	agg := result.Aggregate.Aggregate
	if agg == nil || agg.Sum == nil || !agg.Sum.Amount.Valid {
		return decimal.Zero, nil
	}
	return agg.Sum.Amount.Decimal, nil
}

// doQuery posts a GraphQL query to the indexer and returns the data field.
// The first GraphQL error, if any, is returned as a transport error.
func (c *Client) doQuery(ctx context.Context, op, query string, variables map[string]any) (json.RawMessage, error) {
	if c.indexerURL == "" {
		return nil, &TransportError{Op: op, Err: errors.New("indexer url not configured")}
	}

	body, err := c.do(ctx, op, http.MethodPost, c.indexerURL, graphqlRequest{
		Query:     query,
		Variables: variables,
	}, contentTypeJSON)
	if err != nil {
		return nil, err
	}

	var gqlResp graphqlResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return nil, &DecodeError{Op: op, Err: err}
	}
	if len(gqlResp.Errors) > 0 {
		return nil, &TransportError{Op: op, Message: gqlResp.Errors[0].Message, Err: fmt.Errorf("graphql: %s", gqlResp.Errors[0].Message)}
	}
	return gqlResp.Data, nil
}
