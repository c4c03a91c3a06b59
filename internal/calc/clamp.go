package calc

import "github.com/shopspring/decimal"

var (
	DefaultClampMin = decimal.Zero
	DefaultClampMax = decimal.NewFromInt(10_000_000)
)

// ClampDisplay renders a value for compact display: "<min" below the range,
// ">max" above it, the plain decimal otherwise. Unknown stays unknown.
func ClampDisplay(a Amount, min, max decimal.Decimal) string {
	v, ok := a.Value()
	if !ok {
		return a.String()
	}
	if v.LessThan(min) {
		return "<" + min.String()
	}
	if v.GreaterThan(max) {
		return ">" + max.String()
	}
	return v.String()
}
