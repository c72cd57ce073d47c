package billing

import (
	"context"
	"fmt"

	"github.com/platinummonkey/tariff/pkg/money"
)

// Resolve loads every item price of the state and builds a snapshot.
// A missing item price is an error: the state references a price that no
// longer exists.
func (s SubscriptionState) Resolve(ctx context.Context, lookup PriceLookup) (*SubscriptionSnapshot, error) {
	if s.ID == "" {
		return nil, fmt.Errorf("%w: subscription id is required", ErrInvalidSubscription)
	}
	currency, err := money.ParseCurrency(s.Currency)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSubscription, err)
	}

	snap := &SubscriptionSnapshot{
		ID:            s.ID,
		Currency:      currency,
		Items:         make([]SubscriptionItem, 0, len(s.Items)),
		CreditBalance: s.CreditBalance,
	}

	seen := make(map[string]bool, len(s.Items))
	for _, item := range s.Items {
		if item.ID == "" || seen[item.ID] {
			return nil, fmt.Errorf("%w: item ids must be unique and non-empty", ErrInvalidSubscription)
		}
		seen[item.ID] = true

		if item.Quantity < 0 {
			return nil, fmt.Errorf("%w: item %s has a negative quantity", ErrInvalidSubscription, item.ID)
		}

		price, err := lookup.Resolve(ctx, item.PriceID)
		if err != nil {
			return nil, fmt.Errorf("item %s: %w", item.ID, err)
		}
		snap.Items = append(snap.Items, SubscriptionItem{ID: item.ID, Price: price, Quantity: item.Quantity})
	}

	return snap, nil
}
