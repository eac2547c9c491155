package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Value is an amount in a single currency. The zero Value has an empty
// currency and is not usable; construct values with New, Zero or One.
type Value struct {
	Amount   decimal.Decimal
	Currency Currency
}

// New creates a Value from a decimal amount.
func New(amount decimal.Decimal, currency Currency) Value {
	return Value{Amount: amount, Currency: currency}
}

// FromString creates a Value from a decimal string.
func FromString(amount string, currency Currency) (Value, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Value{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	return Value{Amount: d, Currency: currency}, nil
}

// Zero creates a zero Value in the given currency.
func Zero(currency Currency) Value {
	return Value{Amount: decimal.Zero, Currency: currency}
}

// One creates a Value of one major unit in the given currency.
func One(currency Currency) Value {
	return Value{Amount: decimal.NewFromInt(1), Currency: currency}
}

// IsZero reports whether the amount is zero.
func (v Value) IsZero() bool { return v.Amount.IsZero() }

// IsNegative reports whether the amount is negative.
func (v Value) IsNegative() bool { return v.Amount.IsNegative() }

// IsPositive reports whether the amount is strictly positive.
func (v Value) IsPositive() bool { return v.Amount.IsPositive() }

func (v Value) String() string {
	return v.Amount.StringFixed(v.Currency.Precision) + " " + v.Currency.Code
}

func (v Value) sameCurrency(other Value, op string) error {
	if v.Currency.Code != other.Currency.Code {
		return fmt.Errorf("%s: currency mismatch: %s vs %s", op, v.Currency.Code, other.Currency.Code)
	}
	return nil
}

// Add returns v + other. The currencies must match.
func (v Value) Add(other Value) (Value, error) {
	if err := v.sameCurrency(other, "add"); err != nil {
		return Value{}, err
	}
	return Value{Amount: v.Amount.Add(other.Amount), Currency: v.Currency}, nil
}

// Sub returns v - other. The currencies must match.
func (v Value) Sub(other Value) (Value, error) {
	if err := v.sameCurrency(other, "sub"); err != nil {
		return Value{}, err
	}
	return Value{Amount: v.Amount.Sub(other.Amount), Currency: v.Currency}, nil
}

// Cmp compares v with other (-1, 0, 1). The currencies must match.
func (v Value) Cmp(other Value) (int, error) {
	if err := v.sameCurrency(other, "cmp"); err != nil {
		return 0, err
	}
	return v.Amount.Cmp(other.Amount), nil
}

// Min returns the smaller of v and other.
func Min(a, b Value) (Value, error) {
	c, err := a.Cmp(b)
	if err != nil {
		return Value{}, err
	}
	if c <= 0 {
		return a, nil
	}
	return b, nil
}

// Max returns the larger of v and other.
func Max(a, b Value) (Value, error) {
	c, err := a.Cmp(b)
	if err != nil {
		return Value{}, err
	}
	if c >= 0 {
		return a, nil
	}
	return b, nil
}

// Convert converts v into the rate's currency. The rate is quoted in
// units of the target currency per one unit of v's currency, so
// result = amount * rate, rounded at the target precision.
//
// This is the single conversion routine used for limits, confirmation
// line items and totals; totals must never recompute with a different
// rounding.
func (v Value) Convert(rate Value) Value {
	amount := v.Amount.Mul(rate.Amount).Round(rate.Currency.Precision)
	return Value{Amount: amount, Currency: rate.Currency}
}

// ConvertInverse converts v into the target currency using the inverse
// of the given rate. The rate is quoted in v's currency per one unit
// of the target, so result = amount / rate, rounded at the target
// precision. Returns an error on a zero rate or a rate quoted in a
// currency other than v's; a mismatched rate would silently relabel
// the magnitude.
func (v Value) ConvertInverse(rate Value, target Currency) (Value, error) {
	if rate.Amount.IsZero() {
		return Value{}, fmt.Errorf("convert inverse: zero rate for %s", rate.Currency.Code)
	}
	if rate.Currency.Code != v.Currency.Code {
		return Value{}, fmt.Errorf("convert inverse: rate in %s cannot convert %s", rate.Currency.Code, v.Currency.Code)
	}
	amount := v.Amount.DivRound(rate.Amount, target.Precision)
	return Value{Amount: amount, Currency: target}, nil
}

// Pair is an exchange-rate pair: Quote units per one Base unit.
type Pair struct {
	Base  Value
	Quote Value
}

// NewPair builds a pair from one unit of base priced at rate.
func NewPair(base Currency, rate Value) Pair {
	return Pair{Base: One(base), Quote: rate}
}

// Inverse returns the pair with base and quote swapped. A zero-rate
// pair inverts to a zero rate.
func (p Pair) Inverse() Pair {
	if p.Quote.Amount.IsZero() {
		return Pair{Base: One(p.Quote.Currency), Quote: Zero(p.Base.Currency)}
	}
	inv := decimal.NewFromInt(1).DivRound(p.Quote.Amount, p.Base.Currency.Precision)
	return Pair{
		Base:  One(p.Quote.Currency),
		Quote: Value{Amount: inv, Currency: p.Base.Currency},
	}
}
