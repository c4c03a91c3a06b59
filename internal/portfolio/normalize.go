package portfolio

import (
	"strings"

	"github.com/realstake/realstake-backend/internal/calc"
	"github.com/realstake/realstake-backend/internal/econia"
	"github.com/realstake/realstake-backend/internal/markets"
	"github.com/realstake/realstake-backend/internal/onchain"
	"github.com/shopspring/decimal"
)

// AccountBalanceView is a user's market account in display units. Every
// field is unknown until a balance row exists for the account.
type AccountBalanceView struct {
	BaseTotal      calc.Amount `json:"base_total"`
	BaseAvailable  calc.Amount `json:"base_available"`
	BaseCeiling    calc.Amount `json:"base_ceiling"`
	QuoteTotal     calc.Amount `json:"quote_total"`
	QuoteAvailable calc.Amount `json:"quote_available"`
	QuoteCeiling   calc.Amount `json:"quote_ceiling"`
}

// NormalizeBalances scales the first balance row with the market's base and
// quote decimals. No rows means no market account: every field is unknown.
func NormalizeBalances(rows []econia.RawBalance, market markets.MarketIdentity) AccountBalanceView {
	if len(rows) == 0 {
		return AccountBalanceView{}
	}
	row := rows[0]
	base := market.Base.Decimals
	quote := market.Quote.Decimals
	return AccountBalanceView{
		BaseTotal:      calc.ScaleAmount(row.BaseTotal, base),
		BaseAvailable:  calc.ScaleAmount(row.BaseAvailable, base),
		BaseCeiling:    calc.ScaleAmount(row.BaseCeiling, base),
		QuoteTotal:     calc.ScaleAmount(row.QuoteTotal, quote),
		QuoteAvailable: calc.ScaleAmount(row.QuoteAvailable, quote),
		QuoteCeiling:   calc.ScaleAmount(row.QuoteCeiling, quote),
	}
}

// Holding is one fungible asset balance of a user, joined with the
// collection token it belongs to when there is one.
type Holding struct {
	AssetType    string          `json:"asset_type"`
	Symbol       string          `json:"symbol"`
	TokenName    string          `json:"token_name,omitempty"`
	TokenURI     string          `json:"token_uri,omitempty"`
	CollectionID string          `json:"collection_id,omitempty"`
	IconURI      string          `json:"icon_uri,omitempty"`
	Decimals     *int32          `json:"decimals"`
	RawAmount    decimal.Decimal `json:"raw_amount"`
	Amount       calc.Amount     `json:"amount"`
}

// NormalizeHoldings joins balances with collection tokens by asset type and
// scales each amount. Decimals come from the asset metadata, then from the
// token data; without either the amount is unknown.
func NormalizeHoldings(balances []onchain.FungibleBalance, tokens []onchain.TokenData) []Holding {
	byID := make(map[string]onchain.TokenData, len(tokens))
	for _, t := range tokens {
		byID[strings.ToLower(t.TokenDataID)] = t
	}

	holdings := make([]Holding, 0, len(balances))
	for _, b := range balances {
		h := Holding{
			AssetType: b.AssetType,
			RawAmount: b.Amount,
		}
		if b.Metadata != nil {
			h.Symbol = b.Metadata.Symbol
			h.IconURI = b.Metadata.IconURI
			h.Decimals = b.Metadata.Decimals
		}
		if t, ok := byID[strings.ToLower(b.AssetType)]; ok {
			h.TokenName = t.TokenName
			h.TokenURI = t.TokenURI
			h.CollectionID = t.CollectionID
			if h.Decimals == nil {
				h.Decimals = t.Decimals
			}
		}
		h.Amount = calc.ScaleAmount(b.Amount, h.Decimals)
		holdings = append(holdings, h)
	}
	return holdings
}
