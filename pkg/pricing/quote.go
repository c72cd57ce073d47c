package pricing

import (
	"fmt"

	"github.com/platinummonkey/tariff/pkg/money"
)

// Quote explains the amount charged for a quantity of one price
type Quote struct {
	PriceID    string       `json:"price_id"`
	ChargeKind ChargeKind   `json:"charge_type"`
	Quantity   float64      `json:"quantity"`
	Amount     money.Money  `json:"amount"`
	Tiers      []TierCharge `json:"tiers,omitempty"`
}

// QuotePrice calculates the amount for quantity and, for tiered prices,
// the tiers that produced it
func QuotePrice(price *PriceSnapshot, quantity float64) (*Quote, error) {
	if price == nil {
		return nil, fmt.Errorf("%w: nil price", ErrMissingTierConfiguration)
	}

	q, err := NormalizeQuantity(quantity)
	if err != nil {
		return nil, err
	}

	quote := &Quote{
		PriceID:    price.ID,
		ChargeKind: price.ChargeKind,
		Quantity:   q,
	}

	switch price.ChargeKind {
	case ChargeGraduated:
		charges, amount, err := GraduatedBreakdown(price, q)
		if err != nil {
			return nil, err
		}
		quote.Amount = amount
		quote.Tiers = charges
	case ChargeVolume:
		charge, amount, err := volumeCharge(price, q)
		if err != nil {
			return nil, err
		}
		quote.Amount = amount
		quote.Tiers = []TierCharge{charge}
	default:
		amount, err := Calculate(price, q)
		if err != nil {
			return nil, err
		}
		quote.Amount = amount
	}

	return quote, nil
}
