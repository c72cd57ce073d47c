package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tariff/pkg/money"
	"github.com/platinummonkey/tariff/pkg/pricing"
)

const standardTiers = `[
	{"up_to": 10, "unit_amount": 100},
	{"up_to": 50, "unit_amount": 80},
	{"up_to": null, "unit_amount": 50}
]`

type mapLookup map[string]*pricing.PriceSnapshot

func (m mapLookup) Resolve(ctx context.Context, id string) (*pricing.PriceSnapshot, error) {
	price, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", pricing.ErrPriceNotFound, id)
	}
	return price, nil
}

func mustPrice(t testing.TB, rec pricing.PriceRecord) *pricing.PriceSnapshot {
	t.Helper()
	price, err := rec.Snapshot()
	require.NoError(t, err)
	return price
}

func flat(cents int64) *int64 { return &cents }

func delta(v int64) *int64 { return &v }

// testCatalog returns seat prices in USD and EUR plus a credit pack price
func testCatalog(t testing.TB) mapLookup {
	return mapLookup{
		"price_seats_graduated": mustPrice(t, pricing.PriceRecord{
			ID: "price_seats_graduated", ChargeType: "graduated", Currency: "USD", Tiers: json.RawMessage(standardTiers),
		}),
		"price_seats_volume": mustPrice(t, pricing.PriceRecord{
			ID: "price_seats_volume", ChargeType: "volume", Currency: "USD", Tiers: json.RawMessage(standardTiers),
		}),
		"price_seats_eur": mustPrice(t, pricing.PriceRecord{
			ID: "price_seats_eur", ChargeType: "volume", Currency: "EUR", Tiers: json.RawMessage(standardTiers),
		}),
		"price_setup": mustPrice(t, pricing.PriceRecord{
			ID: "price_setup", ChargeType: "one_time", Currency: "USD", FlatAmount: flat(999),
		}),
		"price_storage": mustPrice(t, pricing.PriceRecord{
			ID: "price_storage", ChargeType: "package", Currency: "USD",
			Package: &pricing.PackageConfig{FreeUnits: 5, PackageSize: 10, AmountCents: 500},
		}),
		"price_credits": mustPrice(t, pricing.PriceRecord{
			ID: "price_credits", ChargeType: "one_time", Currency: "USD", FlatAmount: flat(2),
		}),
	}
}

// testSubscription has 15 graduated seats (1400) and 16 storage units (1000)
func testSubscription(t testing.TB, lookup mapLookup) *SubscriptionSnapshot {
	t.Helper()
	state := SubscriptionState{
		ID:       "sub_123",
		Currency: "USD",
		Items: []ItemState{
			{ID: "si_seats", PriceID: "price_seats_graduated", Quantity: 15},
			{ID: "si_storage", PriceID: "price_storage", Quantity: 16},
		},
		CreditBalance: 100,
	}
	snap, err := state.Resolve(context.Background(), lookup)
	require.NoError(t, err)
	return snap
}

func usd(cents int64) money.Money { return money.New(cents, money.USD) }
