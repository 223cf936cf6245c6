// Package numeric provides wide-integer arithmetic helpers shared by the
// market and vault engines. All intermediate products are computed in the
// 256-bit domain so that Balance×Balance and Balance×Price never wrap.
package numeric

import (
	"errors"

	"github.com/holiman/uint256"
)

var (
	ErrOverflow  = errors.New("arithmetic overflow")
	ErrDivByZero = errors.New("division by zero")
)

// Mul returns a×b as a 256-bit integer. Never overflows for uint64 inputs.
func Mul(a, b uint64) *uint256.Int {
	var z uint256.Int
	z.Mul(uint256.NewInt(a), uint256.NewInt(b))
	return &z
}

// MulDiv computes floor(a×b/den) with the product taken in 256 bits.
// Returns ErrDivByZero if den == 0 and ErrOverflow if the quotient does not
// fit back into a uint64.
func MulDiv(a, b, den uint64) (uint64, error) {
	if den == 0 {
		return 0, ErrDivByZero
	}
	var z uint256.Int
	z.Div(Mul(a, b), uint256.NewInt(den))
	if !z.IsUint64() {
		return 0, ErrOverflow
	}
	return z.Uint64(), nil
}

// SqrtMul computes floor(sqrt(a×b)). The product is taken in 256 bits, so
// the root always fits into a uint64.
func SqrtMul(a, b uint64) uint64 {
	var z uint256.Int
	z.Sqrt(Mul(a, b))
	return z.Uint64()
}

// CheckedAdd returns a+b or ErrOverflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	s := a + b
	if s < a {
		return 0, ErrOverflow
	}
	return s, nil
}

// CheckedSub returns a-b or ErrOverflow if the result would be negative.
func CheckedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrOverflow
	}
	return a - b, nil
}

// Ratio is a fixed-point rational parameter (fee or rate) expressed as
// numerator/denominator. Risk parameters in the vault position registry and
// the market's swap fee are all Ratios.
type Ratio struct {
	Num uint64 `json:"num"`
	Den uint64 `json:"den"`
}

// Valid reports whether the ratio is well formed.
func (r Ratio) Valid() bool {
	return r.Den != 0
}

// IsProper reports whether the ratio is at most one. Fee ratios must be
// proper so that value - fee never underflows.
func (r Ratio) IsProper() bool {
	return r.Valid() && r.Num <= r.Den
}

// ApplyFloor computes v / Den * Num, dividing first. The division-first
// order matches the on-ledger rate math: the quotient is floored before the
// multiply, and the multiply is checked against uint64 range.
func (r Ratio) ApplyFloor(v uint64) (uint64, error) {
	if r.Den == 0 {
		return 0, ErrDivByZero
	}
	var z uint256.Int
	z.Mul(uint256.NewInt(v/r.Den), uint256.NewInt(r.Num))
	if !z.IsUint64() {
		return 0, ErrOverflow
	}
	return z.Uint64(), nil
}

// ScaleWide computes v / Den * Num in the 256-bit domain, dividing first.
// Used for collateral valuations that may exceed uint64 range.
func (r Ratio) ScaleWide(v *uint256.Int) (*uint256.Int, error) {
	if r.Den == 0 {
		return nil, ErrDivByZero
	}
	var q, z uint256.Int
	q.Div(v, uint256.NewInt(r.Den))
	_, overflow := z.MulOverflow(&q, uint256.NewInt(r.Num))
	if overflow {
		return nil, ErrOverflow
	}
	return &z, nil
}
