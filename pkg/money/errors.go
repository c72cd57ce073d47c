package money

import "errors"

var (
	// ErrCurrencyMismatch is returned when two amounts of different currencies are combined
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrInvalidCurrency is returned for a malformed currency code
	ErrInvalidCurrency = errors.New("invalid currency code")

	// ErrAmountOverflow is returned when a result does not fit in 64-bit cents
	ErrAmountOverflow = errors.New("amount overflows int64 cents")

	// ErrInvalidFactor is returned when multiplying by NaN or an infinity
	ErrInvalidFactor = errors.New("invalid multiplication factor")
)
