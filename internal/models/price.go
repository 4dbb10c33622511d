// Package models defines the core domain entities: prices, listings, offers, and run statistics.
package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Price is an amount in thousandths of the currency unit ($1.000 == 1000).
// The marketplace quotes offers and accepts new prices in the same unit, so a
// Price is also its own wire encoding. Comparisons are exact at 0.001.
type Price int64

// Tick is the undercut step and the width of one estimated rank ($0.01).
const Tick Price = 10

// ErrInvalidPrice is returned by ParsePrice for input that is not a number.
var ErrInvalidPrice = errors.New("invalid price")

// PriceFromDecimal rounds d to three decimals (half away from zero).
func PriceFromDecimal(d decimal.Decimal) Price {
	return Price(d.Shift(3).Round(0).IntPart())
}

// PriceFromFloat converts a dollar amount as decoded from JSON.
func PriceFromFloat(f float64) Price {
	return PriceFromDecimal(decimal.NewFromFloat(f))
}

// ParsePrice parses operator input such as "9.50" or "$9.5".
func ParsePrice(s string) (Price, error) {
	if len(s) > 0 && s[0] == '$' {
		s = s[1:]
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPrice, s)
	}
	return PriceFromDecimal(d), nil
}

// Decimal returns the price in currency units.
func (p Price) Decimal() decimal.Decimal {
	return decimal.New(int64(p), -3)
}

// Wire returns the integer the remote API expects in set-price and returns in offers.
func (p Price) Wire() int64 {
	return int64(p)
}

func (p Price) String() string {
	return "$" + p.Decimal().StringFixed(3)
}
