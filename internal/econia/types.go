package econia

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction selects one side of a market's price levels.
type Direction string

const (
	Bid Direction = "bid"
	Ask Direction = "ask"
)

// order returns the sort order that puts the best level first.
func (d Direction) order() string {
	if d == Bid {
		return "price.desc"
	}
	return "price.asc"
}

func (d Direction) Valid() bool {
	return d == Bid || d == Ask
}

// RawPriceLevel is one aggregated row of the price_levels view.
type RawPriceLevel struct {
	MarketID  uint64          `json:"market_id"`
	Direction Direction       `json:"direction"`
	Price     decimal.Decimal `json:"price"`
	TotalSize decimal.Decimal `json:"total_size"`
	Version   uint64          `json:"version"`
}

// RawBalance is a row of rpc/user_balance, in on-chain integer units.
type RawBalance struct {
	BaseTotal      decimal.Decimal `json:"base_total"`
	BaseAvailable  decimal.Decimal `json:"base_available"`
	BaseCeiling    decimal.Decimal `json:"base_ceiling"`
	QuoteTotal     decimal.Decimal `json:"quote_total"`
	QuoteAvailable decimal.Decimal `json:"quote_available"`
	QuoteCeiling   decimal.Decimal `json:"quote_ceiling"`
}

// RawAsset describes a market's base or quote coin. Decimals is nil when the
// service has not resolved the coin's metadata.
type RawAsset struct {
	AccountAddress string `json:"account_address"`
	ModuleName     string `json:"module_name"`
	StructName     string `json:"struct_name"`
	Symbol         string `json:"symbol"`
	Name           string `json:"name"`
	Decimals       *int32 `json:"decimals"`
}

// RawMarket is a row of the markets listing. Base is nil for generic markets.
type RawMarket struct {
	MarketID        uint64          `json:"market_id"`
	Name            string          `json:"name"`
	Base            *RawAsset       `json:"base"`
	BaseNameGeneric string          `json:"base_name_generic"`
	Quote           *RawAsset       `json:"quote"`
	LotSize         decimal.Decimal `json:"lot_size"`
	TickSize        decimal.Decimal `json:"tick_size"`
	MinSize         decimal.Decimal `json:"min_size"`
	UnderwriterID   uint64          `json:"underwriter_id"`
	CreatedAt       time.Time       `json:"created_at"`
}

// RawFill is a row of fill_events_deduped. MakerSide is true when the maker
// was resting on the ask side.
type RawFill struct {
	TxnVersion   uint64          `json:"txn_version"`
	EventIdx     uint64          `json:"event_idx"`
	MarketID     uint64          `json:"market_id"`
	MakerAddress string          `json:"maker_address"`
	TakerAddress string          `json:"taker_address"`
	MakerSide    bool            `json:"maker_side"`
	Price        decimal.Decimal `json:"price"`
	Size         decimal.Decimal `json:"size"`
	Time         time.Time       `json:"time"`
}
