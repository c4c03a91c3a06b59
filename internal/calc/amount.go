package calc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Amount is a decimal quantity that may not be known yet. The zero value is
// unknown, which keeps "no data" distinct from a confirmed zero balance.
type Amount struct {
	value decimal.Decimal
	known bool
}

func NewAmount(d decimal.Decimal) Amount {
	return Amount{value: d, known: true}
}

func UnknownAmount() Amount {
	return Amount{}
}

func (a Amount) IsKnown() bool {
	return a.known
}

// Value returns the decimal and whether it is known.
func (a Amount) Value() (decimal.Decimal, bool) {
	return a.value, a.known
}

// Or returns the value, or fallback when unknown.
func (a Amount) Or(fallback decimal.Decimal) decimal.Decimal {
	if !a.known {
		return fallback
	}
	return a.value
}

func (a Amount) Equal(b Amount) bool {
	if a.known != b.known {
		return false
	}
	return !a.known || a.value.Equal(b.value)
}

func (a Amount) String() string {
	if !a.known {
		return "unknown"
	}
	return a.value.String()
}

// MarshalJSON encodes a known amount as a decimal string and an unknown one as null.
func (a Amount) MarshalJSON() ([]byte, error) {
	if !a.known {
		return []byte("null"), nil
	}
	return json.Marshal(a.value.String())
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = UnknownAmount()
		return nil
	}

	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	*a = NewAmount(d)
	return nil
}
