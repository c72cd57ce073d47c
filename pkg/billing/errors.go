package billing

import "errors"

var (
	// ErrInvalidState is returned when committing a disabled preview, or a
	// descriptor whose operations differ from the ones recorded for it
	ErrInvalidState = errors.New("invalid commit state")

	// ErrResultNotFound is returned by result stores and Lookup for unknown descriptors
	ErrResultNotFound = errors.New("commit result not found")

	// ErrInvalidSubscription is returned when the current subscription state is unusable
	ErrInvalidSubscription = errors.New("invalid subscription")
)

// Reasons carried by disabled previews
const (
	ReasonTargetPriceNotFound = "target price not found"
	ReasonCurrencyMismatch    = "currency mismatch"
	ReasonItemNotFound        = "subscription item not found"
	ReasonItemExists          = "subscription item already exists"
	ReasonNegativeQuantity    = "quantity cannot be negative"
	ReasonNoChange            = "change has no effect"
	ReasonInvalidCredits      = "credits delta must be positive"
	ReasonUnsupportedSignal   = "unsupported signal"
)
