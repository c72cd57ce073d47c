package billing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tariff/pkg/money"
	"github.com/platinummonkey/tariff/pkg/pricing"
)

func TestSubscriptionState_Resolve(t *testing.T) {
	lookup := testCatalog(t)
	snap := testSubscription(t, lookup)

	assert.Equal(t, "sub_123", snap.ID)
	assert.Equal(t, money.USD, snap.Currency)
	assert.Equal(t, int64(100), snap.CreditBalance)
	require.Len(t, snap.Items, 2)

	item, ok := snap.Item("si_storage")
	require.True(t, ok)
	assert.Equal(t, "price_storage", item.Price.ID)
	assert.Equal(t, int64(16), item.Quantity)

	_, ok = snap.Item("si_missing")
	assert.False(t, ok)
}

func TestSubscriptionState_ResolveErrors(t *testing.T) {
	lookup := testCatalog(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		state SubscriptionState
		want  error
	}{
		{"missing id", SubscriptionState{Currency: "USD"}, ErrInvalidSubscription},
		{"bad currency", SubscriptionState{ID: "sub_1", Currency: "dollars"}, ErrInvalidSubscription},
		{"duplicate item", SubscriptionState{ID: "sub_1", Currency: "USD", Items: []ItemState{
			{ID: "si_1", PriceID: "price_setup", Quantity: 1},
			{ID: "si_1", PriceID: "price_setup", Quantity: 2},
		}}, ErrInvalidSubscription},
		{"negative quantity", SubscriptionState{ID: "sub_1", Currency: "USD", Items: []ItemState{
			{ID: "si_1", PriceID: "price_setup", Quantity: -1},
		}}, ErrInvalidSubscription},
		{"unknown price", SubscriptionState{ID: "sub_1", Currency: "USD", Items: []ItemState{
			{ID: "si_1", PriceID: "price_gone", Quantity: 1},
		}}, pricing.ErrPriceNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.state.Resolve(ctx, lookup)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
