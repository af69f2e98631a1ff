// Package fixedpoint converts between on-chain 18-decimal integers and
// decimal values.
package fixedpoint

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Decimals is the number of fractional digits in every amount the perp
// contract stores (sizes, prices, margin).
const Decimals = 18

var ErrTooPrecise = fmt.Errorf("fixedpoint: more than %d fractional digits", Decimals)

var ErrEmpty = errors.New("fixedpoint: empty amount")

// ToDecimal scales a fixed-point integer down to a decimal. nil is zero.
func ToDecimal(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -Decimals)
}

// FromDecimal scales d up to a fixed-point integer. Values that cannot be
// represented exactly are rejected rather than rounded.
func FromDecimal(d decimal.Decimal) (*big.Int, error) {
	scaled := d.Shift(Decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, ErrTooPrecise
	}
	return scaled.BigInt(), nil
}

// ParseUnits parses a decimal string ("1", "0.25") into its fixed-point form.
func ParseUnits(s string) (*big.Int, error) {
	if s == "" {
		return nil, ErrEmpty
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("fixedpoint: parse %q: %w", s, err)
	}
	return FromDecimal(d)
}

// FormatUnits renders a fixed-point integer as a decimal string.
func FormatUnits(v *big.Int) string {
	return ToDecimal(v).String()
}

// Abs returns |v| as a new integer. nil is zero.
func Abs(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Abs(v)
}
