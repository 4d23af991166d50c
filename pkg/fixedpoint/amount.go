// Package fixedpoint implements integer-based decimal arithmetic with an
// explicit scale. Amounts that represent money never pass through float64.
package fixedpoint

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ErrDivisionByZero is returned when a divisor has zero magnitude
var ErrDivisionByZero = errors.New("division by zero")

// Amount is an integer magnitude with an implicit decimal scale.
// The zero value is 0 at scale 0.
type Amount struct {
	raw      *big.Int
	decimals int32
}

// New creates an amount from raw integer units at the given scale
func New(raw *big.Int, decimals int32) Amount {
	if raw == nil {
		return Amount{decimals: decimals}
	}
	return Amount{raw: new(big.Int).Set(raw), decimals: decimals}
}

// NewFromInt64 creates an amount from raw integer units
func NewFromInt64(raw int64, decimals int32) Amount {
	return Amount{raw: big.NewInt(raw), decimals: decimals}
}

// Zero returns 0 at the given scale
func Zero(decimals int32) Amount {
	return Amount{decimals: decimals}
}

// Expand returns value * 10^decimals at scale decimals, so Expand(1, 18)
// is exactly 1.0 of an 18-decimal asset.
func Expand(value int64, decimals int32) Amount {
	raw := new(big.Int).Mul(big.NewInt(value), pow10(decimals))
	return Amount{raw: raw, decimals: decimals}
}

// Parse converts a decimal string such as "1234.5678" into an amount at the
// given scale. Digits beyond the scale are truncated.
func Parse(s string, decimals int32) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return FromDecimal(d, decimals), nil
}

// ParseRaw converts an integer string of raw units (as returned by contracts
// and indexers) into an amount at the given scale.
func ParseRaw(s string, decimals int32) (Amount, error) {
	raw, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, fmt.Errorf("parse raw amount %q: invalid integer", s)
	}
	return Amount{raw: raw, decimals: decimals}, nil
}

// FromDecimal converts a decimal into raw units at the given scale, truncating
func FromDecimal(d decimal.Decimal, decimals int32) Amount {
	return Amount{raw: d.Shift(decimals).BigInt(), decimals: decimals}
}

// Raw returns a copy of the integer magnitude
func (a Amount) Raw() *big.Int {
	return new(big.Int).Set(a.int())
}

// Decimals returns the scale
func (a Amount) Decimals() int32 {
	return a.decimals
}

// IsZero reports whether the magnitude is zero
func (a Amount) IsZero() bool {
	return a.int().Sign() == 0
}

// Sign returns -1, 0 or 1
func (a Amount) Sign() int {
	return a.int().Sign()
}

// Cmp compares two amounts after aligning their scales
func (a Amount) Cmp(b Amount) int {
	scale := maxScale(a, b)
	return a.rescaled(scale).Cmp(b.rescaled(scale))
}

// Equal reports numeric equality regardless of scale
func (a Amount) Equal(b Amount) bool {
	return a.Cmp(b) == 0
}

// Rescale converts the amount to another scale, truncating toward zero when
// the scale shrinks.
func (a Amount) Rescale(decimals int32) Amount {
	return Amount{raw: a.rescaled(decimals), decimals: decimals}
}

// Add returns a+b at the larger of the two scales
func (a Amount) Add(b Amount) Amount {
	scale := maxScale(a, b)
	return Amount{raw: new(big.Int).Add(a.rescaled(scale), b.rescaled(scale)), decimals: scale}
}

// Sub returns a-b at the larger of the two scales
func (a Amount) Sub(b Amount) Amount {
	scale := maxScale(a, b)
	return Amount{raw: new(big.Int).Sub(a.rescaled(scale), b.rescaled(scale)), decimals: scale}
}

// Mul returns a*b at the larger of the two scales, truncating the extra
// fractional digits.
func (a Amount) Mul(b Amount) Amount {
	scale := maxScale(a, b)
	product := new(big.Int).Mul(a.int(), b.int())
	drop := a.decimals + b.decimals - scale
	return Amount{raw: shift(product, -drop), decimals: scale}
}

// Div returns a/b at the larger of the two scales, truncating toward zero.
func (a Amount) Div(b Amount) (Amount, error) {
	if b.IsZero() {
		return Amount{}, ErrDivisionByZero
	}
	scale := maxScale(a, b)
	num := new(big.Int).Mul(a.rescaled(scale), pow10(scale))
	return Amount{raw: num.Quo(num, b.rescaled(scale)), decimals: scale}, nil
}

// MulInt multiplies the magnitude by n keeping the scale
func (a Amount) MulInt(n int64) Amount {
	return Amount{raw: new(big.Int).Mul(a.int(), big.NewInt(n)), decimals: a.decimals}
}

// DivInt divides the magnitude by n keeping the scale
func (a Amount) DivInt(n int64) (Amount, error) {
	if n == 0 {
		return Amount{}, ErrDivisionByZero
	}
	return Amount{raw: new(big.Int).Quo(a.int(), big.NewInt(n)), decimals: a.decimals}, nil
}

// Neg returns -a
func (a Amount) Neg() Amount {
	return Amount{raw: new(big.Int).Neg(a.int()), decimals: a.decimals}
}

// Decimal returns the exact decimal representation
func (a Amount) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(a.int(), -a.decimals)
}

// String returns the exact decimal representation
func (a Amount) String() string {
	return a.Decimal().String()
}

// MulDiv computes a*b/c on raw integers the way contracts do (truncating).
func MulDiv(a, b, c *big.Int) (*big.Int, error) {
	if c == nil || c.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, c), nil
}

func (a Amount) int() *big.Int {
	if a.raw == nil {
		return new(big.Int)
	}
	return a.raw
}

func (a Amount) rescaled(decimals int32) *big.Int {
	return shift(a.int(), decimals-a.decimals)
}

func maxScale(a, b Amount) int32 {
	if a.decimals > b.decimals {
		return a.decimals
	}
	return b.decimals
}

// shift multiplies by 10^n, or truncates by 10^-n when n is negative
func shift(v *big.Int, n int32) *big.Int {
	switch {
	case n > 0:
		return new(big.Int).Mul(v, pow10(n))
	case n < 0:
		return new(big.Int).Quo(v, pow10(-n))
	default:
		return new(big.Int).Set(v)
	}
}

func pow10(n int32) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
