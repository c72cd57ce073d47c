// Package pricing turns a price definition and a quantity into an exact amount.
//
// A PriceSnapshot carries a ChargeKind tag that selects one of four calculators:
//
//   - one_time: flat amount times quantity
//   - graduated: every tier's slice of the quantity billed at its own rate
//   - volume: the whole quantity billed at the rate of the tier it falls into
//   - package: a fixed amount per started bundle beyond the free units
//
// Calculators are pure and safe for concurrent use. Quantities are validated
// and clamped to MaxQuantity before any tier math.
//
//	price, err := pricing.PriceRecord{
//		ID:         "price_api_calls",
//		ChargeType: "graduated",
//		Currency:   "USD",
//		Tiers:      json.RawMessage(`[{"up_to":10,"unit_amount":100},{"up_to":null,"unit_amount":50}]`),
//	}.Snapshot()
//	amount, err := pricing.Calculate(price, 15)
package pricing
