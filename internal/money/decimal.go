// Package money provides an exact, arbitrary-precision decimal type for
// dividend amounts.
//
// No third-party decimal library (shopspring/decimal, cockroachdb/apd)
// appears in any retrieved example repo's go.mod — see DESIGN.md. This is
// the one place the module leans on the standard library for a concern
// the rest of the stack would normally hand to a dependency: math/big.Rat
// gives exact base-10 arithmetic without float rounding, which is the
// property that matters here (amounts are compared and persisted, never
// divided into irrational quantities).
package money

import (
	"fmt"
	"math/big"
)

// Decimal is an exact decimal amount, string-backed at the API boundary
// and big.Rat-backed for comparisons.
type Decimal struct {
	r *big.Rat
}

// Parse parses a decimal string such as "1.23" or "0.50".
func Parse(s string) (Decimal, error) {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return Decimal{}, fmt.Errorf("money: invalid decimal %q", s)
	}
	return Decimal{r: r}, nil
}

// MustParse panics on an invalid literal; used for constants.
func MustParse(s string) Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Zero is the additive identity.
func Zero() Decimal { return Decimal{r: new(big.Rat)} }

// IsPositive reports whether d > 0, used to validate Dividend.amount (§3: amount > 0).
func (d Decimal) IsPositive() bool {
	if d.r == nil {
		return false
	}
	return d.r.Sign() > 0
}

// IsZero reports whether d represents an unset/zero value.
func (d Decimal) IsZero() bool {
	return d.r == nil || d.r.Sign() == 0
}

// String renders d rounded to exactly 4 decimal places (sufficient for
// per-share cash amounts from the upstream provider); trailing zeros are
// kept, so 1.23 renders as "1.2300".
func (d Decimal) String() string {
	if d.r == nil {
		return "0"
	}
	return d.r.FloatString(4)
}

// Cmp compares two decimals the way big.Rat.Cmp does.
func (d Decimal) Cmp(other Decimal) int {
	a, b := d.r, other.r
	if a == nil {
		a = new(big.Rat)
	}
	if b == nil {
		b = new(big.Rat)
	}
	return a.Cmp(b)
}
