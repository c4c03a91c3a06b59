package calc

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// NoCustodian is the custodian id of a non-delegated market account.
const NoCustodian uint64 = 0

// ScaleAmount converts a raw integer on-chain amount into display units by
// dividing by 10^decimals. Without decimals the result is unknown, never zero.
func ScaleAmount(raw decimal.Decimal, decimals *int32) Amount {
	if decimals == nil {
		return UnknownAmount()
	}
	return NewAmount(raw.Shift(-*decimals))
}

// ScaleRaw parses a raw integer amount as sent over the wire (JSON string or
// number text) and scales it.
func ScaleRaw(raw string, decimals *int32) (Amount, error) {
	d, err := ParseRaw(raw)
	if err != nil {
		return UnknownAmount(), err
	}
	return ScaleAmount(d, decimals), nil
}

// ParseRaw parses an on-chain integer amount. Fractional input is rejected.
func ParseRaw(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	if !d.Equal(d.Truncate(0)) {
		return decimal.Zero, fmt.Errorf("amount %q is not an integer", raw)
	}
	return d, nil
}

// ToOnChain is the inverse of ScaleAmount, truncating sub-unit dust.
func ToOnChain(amount decimal.Decimal, decimals int32) decimal.Decimal {
	return amount.Shift(decimals).Truncate(0)
}

// MarketAccountID packs a market id and custodian id into the u128 key used
// by per-market collateral tables: marketID<<64 | custodianID.
func MarketAccountID(marketID, custodianID uint64) *big.Int {
	id := new(big.Int).SetUint64(marketID)
	id.Lsh(id, 64)
	return id.Or(id, new(big.Int).SetUint64(custodianID))
}

// Decimals is a convenience for building an optional decimals value.
func Decimals(d int32) *int32 {
	return &d
}
