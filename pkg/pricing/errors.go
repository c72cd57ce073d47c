package pricing

import "errors"

var (
	// ErrInvalidQuantity is returned for a negative or NaN quantity
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrMissingTierConfiguration is returned when a calculator lacks the tiers,
	// package or flat amount its charge kind requires
	ErrMissingTierConfiguration = errors.New("missing tier configuration")

	// ErrInvalidTierConfiguration is returned when raw tiers cannot form a valid table
	ErrInvalidTierConfiguration = errors.New("invalid tier configuration")

	// ErrUnknownChargeKind is returned for an unrecognized charge type tag
	ErrUnknownChargeKind = errors.New("unknown charge kind")
)

// ErrPriceNotFound is returned by price lookups when no price has the requested ID
var ErrPriceNotFound = errors.New("price not found")
