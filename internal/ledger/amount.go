// Package ledger provides the fixed-point currency type used for every stake,
// pool, and payout in the engine, together with checked arithmetic and the
// fee-split helpers used at settlement.
//
// Amounts are int64 micro-units (6 decimals). Nothing in this package ever
// converts to floating point; the decimal library is used only to render and
// parse human-readable strings at the API boundary.
package ledger

import (
	"errors"
	"fmt"
	"math"
	"math/bits"

	"github.com/shopspring/decimal"
)

// Scale is the number of micro-units in one whole unit of currency.
const Scale int64 = 1_000_000

// Decimals is the number of fractional digits carried by Amount.
const Decimals = 6

// BpsDenominator is the basis-point base used by every ratio in the engine.
const BpsDenominator int64 = 10_000

var (
	ErrOverflow       = errors.New("ledger: arithmetic overflow")
	ErrNegativeAmount = errors.New("ledger: negative amount")
	ErrDivideByZero   = errors.New("ledger: division by zero")
	ErrPrecision      = errors.New("ledger: more than 6 decimal places")
)

// Amount is a non-negative quantity of the settlement currency expressed in
// micro-units.
type Amount int64

// Units converts a whole-unit count into an Amount. It is intended for
// constants and tests; callers with untrusted input should use ParseAmount.
func Units(n int64) Amount {
	return Amount(n * Scale)
}

// Micro returns the raw micro-unit value.
func (a Amount) Micro() int64 { return int64(a) }

// IsZero reports whether a is zero.
func (a Amount) IsZero() bool { return a == 0 }

// IsPositive reports whether a is strictly greater than zero.
func (a Amount) IsPositive() bool { return a > 0 }

// Add returns a+b or ErrOverflow.
func (a Amount) Add(b Amount) (Amount, error) {
	if a < 0 || b < 0 {
		return 0, ErrNegativeAmount
	}
	if int64(a) > math.MaxInt64-int64(b) {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// Sub returns a-b. Amounts never go negative, so b > a is ErrNegativeAmount.
func (a Amount) Sub(b Amount) (Amount, error) {
	if a < 0 || b < 0 {
		return 0, ErrNegativeAmount
	}
	if b > a {
		return 0, ErrNegativeAmount
	}
	return a - b, nil
}

// Sum adds every amount with overflow checking.
func Sum(amounts ...Amount) (Amount, error) {
	var total Amount
	for _, a := range amounts {
		next, err := total.Add(a)
		if err != nil {
			return 0, err
		}
		total = next
	}
	return total, nil
}

// MulDiv returns floor(a*b/c) computed with a 128-bit intermediate so the
// product never overflows. All operands must be non-negative.
func MulDiv(a, b, c int64) (int64, error) {
	q, _, err := mulDivRem(a, b, c)
	return q, err
}

// MulDivCeil returns ceil(a*b/c) with the same guarantees as MulDiv.
func MulDivCeil(a, b, c int64) (int64, error) {
	q, rem, err := mulDivRem(a, b, c)
	if err != nil {
		return 0, err
	}
	if rem > 0 {
		if q == math.MaxInt64 {
			return 0, ErrOverflow
		}
		q++
	}
	return q, nil
}

func mulDivRem(a, b, c int64) (int64, uint64, error) {
	if a < 0 || b < 0 || c < 0 {
		return 0, 0, ErrNegativeAmount
	}
	if c == 0 {
		return 0, 0, ErrDivideByZero
	}
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi >= uint64(c) {
		return 0, 0, ErrOverflow
	}
	q, rem := bits.Div64(hi, lo, uint64(c))
	if q > math.MaxInt64 {
		return 0, 0, ErrOverflow
	}
	return int64(q), rem, nil
}

// MulBps returns floor(a*bps/10_000).
func (a Amount) MulBps(bps int64) (Amount, error) {
	v, err := MulDiv(int64(a), bps, BpsDenominator)
	return Amount(v), err
}

// MulDiv returns floor(a*num/den) as an Amount.
func (a Amount) MulDiv(num, den int64) (Amount, error) {
	v, err := MulDiv(int64(a), num, den)
	return Amount(v), err
}

// String renders the amount as a decimal string, e.g. "340" or "90.066108".
func (a Amount) String() string {
	return decimal.New(int64(a), -Decimals).String()
}

// Decimal returns the amount as a decimal.Decimal for display purposes.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -Decimals)
}

// ParseAmount parses a human-readable decimal string ("12.5") into an Amount.
// Inputs with more than six fractional digits or a negative sign are rejected.
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("ledger: parse amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, ErrNegativeAmount
	}
	scaled := d.Shift(Decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, ErrPrecision
	}
	if scaled.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, ErrOverflow
	}
	return Amount(scaled.IntPart()), nil
}
