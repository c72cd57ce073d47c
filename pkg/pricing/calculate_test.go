package pricing

import (
	"bytes"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tariff/pkg/money"
	"github.com/platinummonkey/tariff/pkg/observability"
)

func tieredPrice(t testing.TB, kind ChargeKind, raw string) *PriceSnapshot {
	t.Helper()
	table, err := ParseTierTable([]byte(raw), money.USD)
	require.NoError(t, err)
	return &PriceSnapshot{ID: "price_" + string(kind), ChargeKind: kind, Currency: money.USD, Tiers: table}
}

func TestCalculate_Graduated(t *testing.T) {
	price := tieredPrice(t, ChargeGraduated, standardTiers)

	tests := []struct {
		quantity float64
		want     int64
	}{
		{0, 0},
		{1, 100},
		{10, 1000},
		{15, 1400},
		{50, 4200},
		{60, 4700},
		{2.5, 250},
		{10.5, 1040},
	}

	for _, tt := range tests {
		amount, err := Calculate(price, tt.quantity)
		require.NoError(t, err)
		assert.Equal(t, tt.want, amount.AmountCents(), "quantity %v", tt.quantity)
		assert.Equal(t, money.USD, amount.Currency())
	}
}

func TestCalculate_GraduatedFlatFeePerEnteredTier(t *testing.T) {
	price := tieredPrice(t, ChargeGraduated, `[
		{"up_to": 10, "unit_amount": 100, "flat_amount": 500},
		{"up_to": null, "unit_amount": 50, "flat_amount": 1000}
	]`)

	amount, err := Calculate(price, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), amount.AmountCents())

	amount, err = Calculate(price, 12)
	require.NoError(t, err)
	assert.Equal(t, int64(500+1000+1000+100), amount.AmountCents())
}

func TestCalculate_GraduatedRoundsOnlyTheTotal(t *testing.T) {
	price := tieredPrice(t, ChargeGraduated, `[
		{"up_to": 1, "unit_amount": 1},
		{"up_to": null, "unit_amount": 1}
	]`)

	// 1 + 0.5 = 1.5 rounds to 2. Rounding each tier would give 1 + 0.
	amount, err := Calculate(price, 1.5)
	require.NoError(t, err)
	assert.Equal(t, int64(2), amount.AmountCents())

	fractional := tieredPrice(t, ChargeGraduated, `[
		{"up_to": 1, "unit_amount": 1},
		{"up_to": 2, "unit_amount": 1},
		{"up_to": null, "unit_amount": 1}
	]`)
	amount, err = Calculate(fractional, 0.4)
	require.NoError(t, err)
	assert.Equal(t, int64(0), amount.AmountCents())
}

func TestGraduatedBreakdown_PartitionsQuantity(t *testing.T) {
	price := tieredPrice(t, ChargeGraduated, `[
		{"up_to": 3, "unit_amount": 700, "flat_amount": 11},
		{"up_to": 10, "unit_amount": 333},
		{"up_to": 25, "unit_amount": 129, "flat_amount": 4},
		{"up_to": null, "unit_amount": 17}
	]`)

	for _, q := range []float64{0, 0.5, 3, 3.25, 9.99, 10, 24, 25, 26, 1000.75} {
		charges, total, err := GraduatedBreakdown(price, q)
		require.NoError(t, err)

		covered := decimal.Zero
		sum := decimal.Zero
		for i, c := range charges {
			if i == 0 {
				assert.True(t, c.Floor.IsZero(), "q=%v first floor %s", q, c.Floor)
			} else {
				prev := charges[i-1]
				assert.True(t, prev.Floor.Add(prev.Quantity).Equal(c.Floor), "q=%v gap before tier %d", q, c.Index)
			}
			assert.True(t, c.Quantity.IsPositive())
			covered = covered.Add(c.Quantity)
			sum = sum.Add(c.Subtotal)
		}

		assert.True(t, covered.Equal(decimal.NewFromFloat(q)), "q=%v covered %s", q, covered)

		cents, err := money.RoundCents(sum)
		require.NoError(t, err)
		assert.Equal(t, cents, total.AmountCents(), "q=%v", q)

		calculated, err := Calculate(price, q)
		require.NoError(t, err)
		assert.Equal(t, calculated, total)
	}
}

func TestCalculate_Volume(t *testing.T) {
	price := tieredPrice(t, ChargeVolume, standardTiers)

	tests := []struct {
		quantity float64
		want     int64
	}{
		{0, 0},
		{10, 1000},
		{11, 880},
		{15, 1200},
		{50, 4000},
		{51, 2550},
	}

	for _, tt := range tests {
		amount, err := Calculate(price, tt.quantity)
		require.NoError(t, err)
		assert.Equal(t, tt.want, amount.AmountCents(), "quantity %v", tt.quantity)
	}
}

func TestCalculate_VolumeSameTierSameRate(t *testing.T) {
	price := tieredPrice(t, ChargeVolume, standardTiers)

	for _, pair := range [][2]float64{{11, 50}, {0.5, 10}, {51, 1e6}} {
		q1, err := QuotePrice(price, pair[0])
		require.NoError(t, err)
		q2, err := QuotePrice(price, pair[1])
		require.NoError(t, err)

		require.Len(t, q1.Tiers, 1)
		require.Len(t, q2.Tiers, 1)
		assert.Equal(t, q1.Tiers[0].Index, q2.Tiers[0].Index)
		assert.Equal(t, q1.Tiers[0].UnitAmountCents, q2.Tiers[0].UnitAmountCents)
	}
}

func TestCalculate_VolumeFallsBackToLastTier(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(observability.NewLogger(observability.DebugLevel, &buf))
	t.Cleanup(func() { SetLogger(nil) })

	// No unbounded tier: 25 units match nothing and are billed at the last rate.
	price := tieredPrice(t, ChargeVolume, `[
		{"up_to": 10, "unit_amount": 100},
		{"up_to": 20, "unit_amount": 80, "flat_amount": 30}
	]`)

	amount, err := Calculate(price, 25)
	require.NoError(t, err)
	assert.Equal(t, int64(25*80+30), amount.AmountCents())
	assert.Contains(t, buf.String(), "volume tier fallback")
	assert.Contains(t, buf.String(), price.ID)

	buf.Reset()
	_, err = Calculate(price, 20)
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), "volume tier fallback")
}

func TestCalculate_Package(t *testing.T) {
	price := &PriceSnapshot{
		ID:         "price_pkg",
		ChargeKind: ChargePackage,
		Currency:   money.EUR,
		Package:    &PackageConfig{FreeUnits: 5, PackageSize: 10, AmountCents: 500},
	}

	tests := []struct {
		quantity float64
		want     int64
	}{
		{0, 0},
		{5, 0},
		{5.5, 500},
		{6, 500},
		{15, 500},
		{16, 1000},
		{105, 5000},
	}

	for _, tt := range tests {
		amount, err := Calculate(price, tt.quantity)
		require.NoError(t, err)
		assert.Equal(t, tt.want, amount.AmountCents(), "quantity %v", tt.quantity)
		assert.Equal(t, money.EUR, amount.Currency())
	}
}

func TestCalculate_OneTime(t *testing.T) {
	price := &PriceSnapshot{ID: "price_setup", ChargeKind: ChargeOneTime, Currency: money.USD, FlatAmountCents: iptr(999)}

	amount, err := Calculate(price, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2997), amount.AmountCents())

	amount, err = Calculate(price, 0.5)
	require.NoError(t, err)
	assert.Equal(t, int64(500), amount.AmountCents())
}

func TestCalculate_InvalidQuantity(t *testing.T) {
	prices := []*PriceSnapshot{
		{ID: "a", ChargeKind: ChargeOneTime, Currency: money.USD, FlatAmountCents: iptr(1)},
		tieredPrice(t, ChargeGraduated, standardTiers),
		tieredPrice(t, ChargeVolume, standardTiers),
		{ID: "d", ChargeKind: ChargePackage, Currency: money.USD, Package: &PackageConfig{PackageSize: 1, AmountCents: 1}},
	}

	for _, price := range prices {
		for _, q := range []float64{-1, -0.0001, math.NaN(), math.Inf(-1)} {
			_, err := Calculate(price, q)
			assert.ErrorIs(t, err, ErrInvalidQuantity, "%s quantity %v", price.ChargeKind, q)
		}
	}
}

func TestCalculate_ClampsQuantity(t *testing.T) {
	price := tieredPrice(t, ChargeGraduated, `[{"up_to": null, "unit_amount": 2}]`)

	amount, err := Calculate(price, math.Inf(1))
	require.NoError(t, err)
	assert.Equal(t, int64(2*MaxQuantity), amount.AmountCents())

	clamped, err := Calculate(price, MaxQuantity*10)
	require.NoError(t, err)
	assert.Equal(t, amount, clamped)
}

func TestCalculate_MissingConfiguration(t *testing.T) {
	tests := []struct {
		name  string
		price *PriceSnapshot
	}{
		{"nil price", nil},
		{"one time without flat", &PriceSnapshot{ID: "a", ChargeKind: ChargeOneTime, Currency: money.USD}},
		{"graduated without tiers", &PriceSnapshot{ID: "b", ChargeKind: ChargeGraduated, Currency: money.USD}},
		{"volume without tiers", &PriceSnapshot{ID: "c", ChargeKind: ChargeVolume, Currency: money.USD}},
		{"package without config", &PriceSnapshot{ID: "d", ChargeKind: ChargePackage, Currency: money.USD}},
		{"package with zero size", &PriceSnapshot{ID: "e", ChargeKind: ChargePackage, Currency: money.USD, Package: &PackageConfig{AmountCents: 100}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Calculate(tt.price, 1)
			assert.ErrorIs(t, err, ErrMissingTierConfiguration)
		})
	}
}

func TestCalculate_UnknownKind(t *testing.T) {
	_, err := Calculate(&PriceSnapshot{ID: "x", ChargeKind: "metered", Currency: money.USD}, 1)
	assert.ErrorIs(t, err, ErrUnknownChargeKind)
}
