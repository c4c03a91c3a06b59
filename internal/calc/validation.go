package calc

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const MaxDepth = 500

// ValidateDepth checks a requested number of price levels per side
func ValidateDepth(depth int) error {
	if depth <= 0 {
		return fmt.Errorf("invalid depth %d: must be positive", depth)
	}
	if depth > MaxDepth {
		return fmt.Errorf("invalid depth %d: at most %d levels per side", depth, MaxDepth)
	}
	return nil
}

// ValidatePrecision parses a display precision such as "0.01"
func ValidatePrecision(precision string) (decimal.Decimal, error) {
	p, err := decimal.NewFromString(precision)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid precision %q: %w", precision, err)
	}
	if p.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("invalid precision %q: must be positive", precision)
	}
	return p, nil
}

// ValidateDecimals checks an asset's decimals exponent is in a sane range
func ValidateDecimals(decimals int32) error {
	if decimals < 0 || decimals > 32 {
		return fmt.Errorf("invalid decimals %d", decimals)
	}
	return nil
}
