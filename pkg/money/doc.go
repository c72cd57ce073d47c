// Package money provides an exact monetary amount type for the pricing engine.
//
// # Overview
//
// A Money value is a signed 64-bit count of minor units (cents) bound to an ISO 4217
// currency code. Amounts are never represented as floating point numbers. Every binary
// operation checks that both operands share a currency and fails with
// ErrCurrencyMismatch otherwise.
//
// # Rounding
//
// Multiplying by an integral quantity is plain integer multiplication. Fractional
// quantities go through shopspring/decimal and are rounded exactly once with banker's
// rounding (half to even):
//
//	price := money.New(999, money.USD)
//	total, err := money.Multiply(price, 3) // 2997 USD
//
// Calculators that accumulate several fractional partial products keep the running
// sum as a decimal and call RoundCents once at the end.
//
// # Serialization
//
// Money marshals to {"amount_cents": 1400, "currency": "USD"}. The amount is always a
// JSON integer, so a round trip reproduces the exact cents.
package money
