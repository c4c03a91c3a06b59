package markets

import (
	"fmt"

	"github.com/realstake/realstake-backend/internal/econia"
	"github.com/shopspring/decimal"
)

// AssetDescriptor identifies one side of a market. Decimals is nil when the
// asset's precision is not known, which makes every amount scaled with it
// unknown rather than zero.
type AssetDescriptor struct {
	Symbol         string `json:"symbol"`
	Name           string `json:"name"`
	AccountAddress string `json:"account_address,omitempty"`
	ModuleName     string `json:"module_name,omitempty"`
	StructName     string `json:"struct_name,omitempty"`
	Decimals       *int32 `json:"decimals"`
}

// CoinType returns the Move type tag of the asset, or "" for generic assets.
func (a AssetDescriptor) CoinType() string {
	if a.AccountAddress == "" || a.ModuleName == "" || a.StructName == "" {
		return ""
	}
	return fmt.Sprintf("%s::%s::%s", a.AccountAddress, a.ModuleName, a.StructName)
}

// MarketIdentity describes a market. It is built once from the market
// listing and never mutated afterwards.
type MarketIdentity struct {
	MarketID uint64          `json:"market_id"`
	Name     string          `json:"name"`
	Base     AssetDescriptor `json:"base"`
	Quote    AssetDescriptor `json:"quote"`
	LotSize  decimal.Decimal `json:"lot_size"`
	TickSize decimal.Decimal `json:"tick_size"`
	MinSize  decimal.Decimal `json:"min_size"`
}

// FromRaw converts a market row. Generic markets have no base coin and keep
// only the generic asset name.
func FromRaw(raw econia.RawMarket) MarketIdentity {
	m := MarketIdentity{
		MarketID: raw.MarketID,
		Name:     raw.Name,
		Quote:    descriptor(raw.Quote),
		LotSize:  raw.LotSize,
		TickSize: raw.TickSize,
		MinSize:  raw.MinSize,
	}
	if raw.Base != nil {
		m.Base = descriptor(raw.Base)
	} else {
		m.Base = AssetDescriptor{Name: raw.BaseNameGeneric, Symbol: raw.BaseNameGeneric}
	}
	if m.Name == "" {
		m.Name = fmt.Sprintf("%s-%s", m.Base.Symbol, m.Quote.Symbol)
	}
	return m
}

func descriptor(raw *econia.RawAsset) AssetDescriptor {
	if raw == nil {
		return AssetDescriptor{}
	}
	d := AssetDescriptor{
		Symbol:         raw.Symbol,
		Name:           raw.Name,
		AccountAddress: raw.AccountAddress,
		ModuleName:     raw.ModuleName,
		StructName:     raw.StructName,
	}
	if raw.Decimals != nil {
		v := *raw.Decimals
		d.Decimals = &v
	}
	return d
}
