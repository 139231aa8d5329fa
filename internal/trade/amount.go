package trade

import "github.com/shopspring/decimal"

// ToFixed formats value with exactly decimals fractional digits, truncating
// toward zero. Exchange min-size rules reject quantities that are rounded up,
// so 0.019 at 2 decimals must become "0.01", never "0.02".
func ToFixed(value float64, decimals int) string {
	return decimal.NewFromFloat(value).Truncate(int32(decimals)).StringFixed(int32(decimals))
}

// ToFixedFloat is ToFixed for callers that need the truncated value back as a
// number, e.g. to check whether a quantity collapsed to zero.
func ToFixedFloat(value float64, decimals int) float64 {
	f, _ := decimal.NewFromFloat(value).Truncate(int32(decimals)).Float64()
	return f
}
