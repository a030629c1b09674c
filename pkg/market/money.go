package market

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Amounts are integer minor units (cents for USD). Scale is the number of
// minor-unit digits of the currency.

// HourlyTotal prices a window at rate per hour, rounded half away from zero
// to the minor unit.
func HourlyTotal(rate int64, w Interval) int64 {
	minutes := decimal.NewFromInt(int64(w.Minutes()))
	total := decimal.NewFromInt(rate).Mul(minutes).Div(decimal.NewFromInt(60)).Round(0)
	return total.IntPart()
}

// FormatAmount renders minor units as a decimal string, e.g. 4550 -> "45.50".
func FormatAmount(amount int64, scale int) string {
	return decimal.New(amount, int32(-scale)).StringFixed(int32(scale))
}

// ParseAmount converts "45.50" at the given scale to minor units. More
// fractional digits than scale are rejected.
func ParseAmount(s string, scale int) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	shifted := d.Shift(int32(scale))
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("amount %q has more than %d decimal places", s, scale)
	}
	return shifted.IntPart(), nil
}
