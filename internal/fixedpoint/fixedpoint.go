// Package fixedpoint provides exact rational arithmetic for on-chain token
// amounts and prices, generalizing the helpers package's scaled-integer
// amount formatting to the full price/PnL arithmetic the trading engine
// needs. Prices and ratios are always carried as *big.Rat; floats only
// appear at the display/logging boundary.
package fixedpoint

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// Amount is a raw token quantity in the smallest unit (lamports for the
// native asset, base units for an SPL token), paired with its decimals so
// it can be converted to a decimal string without the caller needing to
// track scale separately.
type Amount struct {
	Raw      uint64
	Decimals uint8
}

// NewAmount builds an Amount.
func NewAmount(raw uint64, decimals uint8) Amount {
	return Amount{Raw: raw, Decimals: decimals}
}

// Rat returns the amount as an exact rational in whole-token units.
func (a Amount) Rat() *big.Rat {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(a.Decimals)), nil)
	num := new(big.Int).SetUint64(a.Raw)
	return new(big.Rat).SetFrac(num, scale)
}

// String renders the amount with exactly Decimals fractional digits,
// e.g. "1.500000" for 1.5 at 6 decimals.
func (a Amount) String() string {
	r := a.Rat()
	return r.FloatString(int(a.Decimals))
}

// Price is an exact quote/base exchange rate: how much quote asset one
// whole base token is worth. Always kept as a rational so repeated
// multiplication against reserves never accumulates binary-float error.
type Price struct {
	rat *big.Rat
}

// NewPrice wraps a *big.Rat as a Price. rat must be non-nil.
func NewPrice(rat *big.Rat) Price {
	return Price{rat: new(big.Rat).Set(rat)}
}

// PriceFromReserves computes quote-per-base spot price from raw reserve
// balances, honoring each side's decimals:
//
//	price = (quoteRaw / 10^quoteDecimals) / (baseRaw / 10^baseDecimals)
func PriceFromReserves(quoteRaw, baseRaw uint64, quoteDecimals, baseDecimals uint8) (Price, error) {
	if baseRaw == 0 {
		return Price{}, fmt.Errorf("fixedpoint: base reserve is zero")
	}
	quote := NewAmount(quoteRaw, quoteDecimals).Rat()
	base := NewAmount(baseRaw, baseDecimals).Rat()
	return NewPrice(new(big.Rat).Quo(quote, base)), nil
}

// Rat returns the underlying rational.
func (p Price) Rat() *big.Rat {
	if p.rat == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(p.rat)
}

// Mul multiplies the price by a scalar rational (e.g. a take-profit
// multiple) and returns the result as a new Price.
func (p Price) Mul(scalar *big.Rat) Price {
	return NewPrice(new(big.Rat).Mul(p.Rat(), scalar))
}

// MulInt multiplies the price by a whole-number multiple, used by the
// trailing-stop promotion ladder (entry_price * n!).
func (p Price) MulInt(n int64) Price {
	return p.Mul(new(big.Rat).SetInt64(n))
}

// Cmp compares two prices the way big.Rat.Cmp does: -1, 0, or 1.
func (p Price) Cmp(other Price) int {
	return p.Rat().Cmp(other.Rat())
}

// GreaterThan reports whether p > other.
func (p Price) GreaterThan(other Price) bool {
	return p.Cmp(other) > 0
}

// LessThan reports whether p < other.
func (p Price) LessThan(other Price) bool {
	return p.Cmp(other) < 0
}

// Max returns the greater of two prices, used by stop-loss promotion which
// must never move a stop down.
func Max(a, b Price) Price {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Float64 converts to a float64 for display or logging only. Never use the
// result in further price arithmetic.
func (p Price) Float64() float64 {
	f, _ := p.Rat().Float64()
	return f
}

// String renders the price rounded to exactly 12 fractional digits.
func (p Price) String() string {
	return p.Rat().FloatString(12)
}

// MarshalJSON renders the price as its exact rational string (e.g.
// "1/200000"), so persisted positions never round-trip through a float.
func (p Price) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Rat().RatString())
}

// UnmarshalJSON parses a rational string produced by MarshalJSON.
func (p *Price) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		p.rat = nil
		return nil
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return fmt.Errorf("fixedpoint: invalid price %q", s)
	}
	p.rat = r
	return nil
}

// Rational is an exact signed fraction used for cumulative PnL bookkeeping,
// where Price's quote-per-base semantics don't apply.
type Rational struct {
	rat *big.Rat
}

// NewRational wraps a *big.Rat as a Rational.
func NewRational(rat *big.Rat) Rational {
	if rat == nil {
		return Rational{rat: new(big.Rat)}
	}
	return Rational{rat: new(big.Rat).Set(rat)}
}

// Rat returns the underlying rational.
func (r Rational) Rat() *big.Rat {
	if r.rat == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(r.rat)
}

// Add returns r + other.
func (r Rational) Add(other Rational) Rational {
	return NewRational(new(big.Rat).Add(r.Rat(), other.Rat()))
}

// Float64 converts to a float64 for display only.
func (r Rational) Float64() float64 {
	f, _ := r.Rat().Float64()
	return f
}

// String renders the rational rounded to exactly 12 fractional digits.
func (r Rational) String() string {
	return r.Rat().FloatString(12)
}

// MarshalJSON renders the rational as its exact fraction string.
func (r Rational) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Rat().RatString())
}

// UnmarshalJSON parses a fraction string produced by MarshalJSON.
func (r *Rational) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		r.rat = new(big.Rat)
		return nil
	}
	parsed, ok := new(big.Rat).SetString(s)
	if !ok {
		return fmt.Errorf("fixedpoint: invalid rational %q", s)
	}
	r.rat = parsed
	return nil
}

// Factorial returns n! as used by the N-level trailing-stop promotion rule.
func Factorial(n int) int64 {
	result := int64(1)
	for i := int64(2); i <= int64(n); i++ {
		result *= i
	}
	return result
}

// PnLPercent computes the percentage gain or loss of exitPrice relative to
// entryPrice, as an exact rational: (exit - entry) / entry * 100.
func PnLPercent(entry, exit Price) *big.Rat {
	entryRat := entry.Rat()
	if entryRat.Sign() == 0 {
		return new(big.Rat)
	}
	diff := new(big.Rat).Sub(exit.Rat(), entryRat)
	ratio := new(big.Rat).Quo(diff, entryRat)
	return ratio.Mul(ratio, big.NewRat(100, 1))
}
