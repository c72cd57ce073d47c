package money

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency is an upper-case ISO 4217 currency code
type Currency string

const (
	USD Currency = "USD"
	EUR Currency = "EUR"
	GBP Currency = "GBP"
)

// ParseCurrency normalizes and validates a currency code
func ParseCurrency(code string) (Currency, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
		}
	}
	return Currency(code), nil
}

// Money is an immutable amount of minor units in a single currency
type Money struct {
	amountCents int64
	currency    Currency
}

// New creates a Money from cents
func New(amountCents int64, currency Currency) Money {
	return Money{amountCents: amountCents, currency: currency}
}

// Zero returns a zero amount in the given currency
func Zero(currency Currency) Money {
	return Money{currency: currency}
}

// AmountCents returns the amount in minor units
func (m Money) AmountCents() int64 {
	return m.amountCents
}

// Currency returns the currency code
func (m Money) Currency() Currency {
	return m.currency
}

// IsZero returns true if the amount is zero
func (m Money) IsZero() bool {
	return m.amountCents == 0
}

// IsNegative returns true if the amount is below zero
func (m Money) IsNegative() bool {
	return m.amountCents < 0
}

// Neg returns the amount with its sign flipped
func (m Money) Neg() (Money, error) {
	if m.amountCents == math.MinInt64 {
		return Money{}, ErrAmountOverflow
	}
	return Money{amountCents: -m.amountCents, currency: m.currency}, nil
}

// Decimal returns the amount in minor units as a decimal
func (m Money) Decimal() decimal.Decimal {
	return decimal.NewFromInt(m.amountCents)
}

// String formats the amount in major units, e.g. "14.00 USD"
func (m Money) String() string {
	return fmt.Sprintf("%s %s", decimal.New(m.amountCents, -2).StringFixed(2), m.currency)
}

// Add adds two amounts of the same currency
func Add(a, b Money) (Money, error) {
	if a.currency != b.currency {
		return Money{}, fmt.Errorf("%w: cannot add %s and %s", ErrCurrencyMismatch, a.currency, b.currency)
	}
	sum := a.amountCents + b.amountCents
	if (b.amountCents > 0 && sum < a.amountCents) || (b.amountCents < 0 && sum > a.amountCents) {
		return Money{}, ErrAmountOverflow
	}
	return Money{amountCents: sum, currency: a.currency}, nil
}

// Sub subtracts b from a
func Sub(a, b Money) (Money, error) {
	if a.currency != b.currency {
		return Money{}, fmt.Errorf("%w: cannot subtract %s and %s", ErrCurrencyMismatch, a.currency, b.currency)
	}
	neg, err := b.Neg()
	if err != nil {
		return Money{}, err
	}
	return Add(a, neg)
}

// Sum adds any number of amounts; an empty list yields zero in the given currency
func Sum(currency Currency, amounts ...Money) (Money, error) {
	total := Zero(currency)
	for _, a := range amounts {
		var err error
		if total, err = Add(total, a); err != nil {
			return Money{}, err
		}
	}
	return total, nil
}

// Cmp compares two amounts of the same currency
func Cmp(a, b Money) (int, error) {
	if a.currency != b.currency {
		return 0, fmt.Errorf("%w: cannot compare %s and %s", ErrCurrencyMismatch, a.currency, b.currency)
	}
	switch {
	case a.amountCents < b.amountCents:
		return -1, nil
	case a.amountCents > b.amountCents:
		return 1, nil
	}
	return 0, nil
}

// maxExactInt is the largest integer a float64 holds without gaps
const maxExactInt = 1 << 53

// Multiply multiplies an amount by a quantity. Integral quantities use integer
// arithmetic; fractional ones are rounded once, half to even.
func Multiply(m Money, quantity float64) (Money, error) {
	if math.IsNaN(quantity) || math.IsInf(quantity, 0) {
		return Money{}, ErrInvalidFactor
	}

	if quantity == math.Trunc(quantity) && math.Abs(quantity) <= maxExactInt {
		q := int64(quantity)
		product := m.amountCents * q
		if m.amountCents != 0 && product/m.amountCents != q {
			return Money{}, ErrAmountOverflow
		}
		return Money{amountCents: product, currency: m.currency}, nil
	}

	cents, err := RoundCents(m.Decimal().Mul(decimal.NewFromFloat(quantity)))
	if err != nil {
		return Money{}, err
	}
	return Money{amountCents: cents, currency: m.currency}, nil
}

var (
	maxCents = decimal.NewFromInt(math.MaxInt64)
	minCents = decimal.NewFromInt(math.MinInt64)
)

// RoundCents rounds a decimal amount of minor units to whole cents using banker's
// rounding and checks that it fits in int64
func RoundCents(d decimal.Decimal) (int64, error) {
	r := d.RoundBank(0)
	if r.GreaterThan(maxCents) || r.LessThan(minCents) {
		return 0, ErrAmountOverflow
	}
	return r.IntPart(), nil
}

// FromDecimal rounds a decimal amount of minor units into Money
func FromDecimal(d decimal.Decimal, currency Currency) (Money, error) {
	cents, err := RoundCents(d)
	if err != nil {
		return Money{}, err
	}
	return Money{amountCents: cents, currency: currency}, nil
}

type moneyJSON struct {
	AmountCents int64    `json:"amount_cents"`
	Currency    Currency `json:"currency"`
}

// MarshalJSON encodes the amount as an integer number of cents
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{AmountCents: m.amountCents, Currency: m.currency})
}

// UnmarshalJSON decodes {"amount_cents": ..., "currency": ...}
func (m *Money) UnmarshalJSON(data []byte) error {
	var v moneyJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("failed to decode money: %w", err)
	}
	currency, err := ParseCurrency(string(v.Currency))
	if err != nil {
		return err
	}
	*m = Money{amountCents: v.AmountCents, currency: currency}
	return nil
}
