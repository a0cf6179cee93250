// Package money represents monetary values as integer minor units.
// Conversion from decimal strings or floats happens at the boundary only;
// all ledger arithmetic runs on int64 cents.
package money

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Amount is a monetary value in minor units (cents).
type Amount int64

// FromMinor wraps an int64 cent value.
func FromMinor(v int64) Amount {
	return Amount(v)
}

// Parse converts a decimal string such as "1234.56" into minor units.
// More than two fractional digits is rejected rather than silently rounded.
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("money: parse %q: %w", s, err)
	}
	shifted := d.Shift(2)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("money: %q has sub-cent precision", s)
	}
	return Amount(shifted.IntPart()), nil
}

// FromDecimal converts a decimal value into minor units, rounding to the
// nearest cent.
func FromDecimal(d decimal.Decimal) Amount {
	return Amount(d.Shift(2).Round(0).IntPart())
}

// FromFloat converts a float major-unit value into minor units.
func FromFloat(f float64) Amount {
	return Amount(math.Round(f * 100))
}

// Minor returns the raw cent value.
func (a Amount) Minor() int64 {
	return int64(a)
}

// Decimal returns the major-unit decimal representation.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -2)
}

// Float returns the major-unit value as float64, for display only.
func (a Amount) Float() float64 {
	return float64(a) / 100
}

// String formats the amount with two fractional digits.
func (a Amount) String() string {
	return a.Decimal().StringFixed(2)
}

// MulQty scales the amount by a quantity, rounding to the nearest cent.
func (a Amount) MulQty(qty float64) Amount {
	return Amount(math.Round(float64(a) * qty))
}

// Abs returns the absolute value.
func (a Amount) Abs() Amount {
	if a < 0 {
		return -a
	}
	return a
}
