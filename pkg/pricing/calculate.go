package pricing

import (
	"fmt"
	"math"
	"math/big"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/platinummonkey/tariff/pkg/money"
	"github.com/platinummonkey/tariff/pkg/observability"
)

// MaxQuantity bounds the quantity used in tier math
const MaxQuantity = 1e12

var logger atomic.Pointer[observability.Logger]

func init() {
	logger.Store(observability.NopLogger())
}

// SetLogger sets the logger used for calculator diagnostics
func SetLogger(l *observability.Logger) {
	if l == nil {
		l = observability.NopLogger()
	}
	logger.Store(l)
}

// NormalizeQuantity rejects negative and NaN quantities and clamps the rest to MaxQuantity
func NormalizeQuantity(quantity float64) (float64, error) {
	if math.IsNaN(quantity) || quantity < 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidQuantity, quantity)
	}
	if quantity > MaxQuantity {
		return MaxQuantity, nil
	}
	return quantity, nil
}

// Calculate prices quantity units of price using the calculator of its charge kind
func Calculate(price *PriceSnapshot, quantity float64) (money.Money, error) {
	if price == nil {
		return money.Money{}, fmt.Errorf("%w: nil price", ErrMissingTierConfiguration)
	}

	switch price.ChargeKind {
	case ChargeOneTime:
		return CalculateOneTime(price, quantity)
	case ChargeGraduated:
		return CalculateGraduated(price, quantity)
	case ChargeVolume:
		return CalculateVolume(price, quantity)
	case ChargePackage:
		return CalculatePackage(price, quantity)
	default:
		return money.Money{}, fmt.Errorf("%w: %q", ErrUnknownChargeKind, price.ChargeKind)
	}
}

// CalculateOneTime charges the flat amount once per unit
func CalculateOneTime(price *PriceSnapshot, quantity float64) (money.Money, error) {
	q, err := NormalizeQuantity(quantity)
	if err != nil {
		return money.Money{}, err
	}
	if price.FlatAmountCents == nil {
		return money.Money{}, fmt.Errorf("%w: price %s has no flat amount", ErrMissingTierConfiguration, price.ID)
	}
	return money.Multiply(money.New(*price.FlatAmountCents, price.Currency), q)
}

// CalculateGraduated charges each tier's slice of the quantity at that tier's rate
func CalculateGraduated(price *PriceSnapshot, quantity float64) (money.Money, error) {
	_, total, err := GraduatedBreakdown(price, quantity)
	return total, err
}

// TierCharge is the portion of a quantity billed within one tier
type TierCharge struct {
	Index           int             `json:"index"`
	Floor           decimal.Decimal `json:"floor"`
	Ceiling         *uint64         `json:"ceiling,omitempty"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitAmountCents int64           `json:"unit_amount"`
	FlatAmountCents int64           `json:"flat_amount"`
	Subtotal        decimal.Decimal `json:"subtotal"`
}

// GraduatedBreakdown walks the tier table and returns each entered tier's charge
// along with the total. Partial sums stay exact; only the total is rounded.
func GraduatedBreakdown(price *PriceSnapshot, quantity float64) ([]TierCharge, money.Money, error) {
	q, err := NormalizeQuantity(quantity)
	if err != nil {
		return nil, money.Money{}, err
	}
	if price.Tiers.Len() == 0 {
		return nil, money.Money{}, fmt.Errorf("%w: price %s has no tiers", ErrMissingTierConfiguration, price.ID)
	}

	remaining := decimal.NewFromFloat(q)
	floor := decimal.Zero
	total := decimal.Zero
	var charges []TierCharge

	for i, tier := range price.Tiers.tiers {
		if !remaining.IsPositive() {
			break
		}

		tierQty := remaining
		if tier.UpTo != nil {
			capacity := fromUint64(*tier.UpTo).Sub(floor)
			if capacity.LessThan(tierQty) {
				tierQty = capacity
			}
		}

		if tierQty.IsPositive() {
			subtotal := decimal.NewFromInt(tier.UnitAmountCents).Mul(tierQty).Add(decimal.NewFromInt(tier.Flat()))
			total = total.Add(subtotal)
			charges = append(charges, TierCharge{
				Index:           i,
				Floor:           floor,
				Ceiling:         tier.clone().UpTo,
				Quantity:        tierQty,
				UnitAmountCents: tier.UnitAmountCents,
				FlatAmountCents: tier.Flat(),
				Subtotal:        subtotal,
			})
		}

		if tier.UpTo != nil {
			floor = fromUint64(*tier.UpTo)
		} else {
			floor = floor.Add(tierQty)
		}
		remaining = remaining.Sub(tierQty)
	}

	amount, err := money.FromDecimal(total, price.Currency)
	if err != nil {
		return nil, money.Money{}, err
	}
	return charges, amount, nil
}

// CalculateVolume charges the whole quantity at the rate of the single tier it falls into
func CalculateVolume(price *PriceSnapshot, quantity float64) (money.Money, error) {
	_, amount, err := volumeCharge(price, quantity)
	return amount, err
}

func volumeCharge(price *PriceSnapshot, quantity float64) (TierCharge, money.Money, error) {
	q, err := NormalizeQuantity(quantity)
	if err != nil {
		return TierCharge{}, money.Money{}, err
	}
	if price.Tiers.Len() == 0 {
		return TierCharge{}, money.Money{}, fmt.Errorf("%w: price %s has no tiers", ErrMissingTierConfiguration, price.ID)
	}

	qty := decimal.NewFromFloat(q)
	index := selectVolumeTier(price.Tiers, qty)
	if index < 0 {
		// No tier covers the quantity. The last tier is used so totals stay
		// stable for existing prices; the configuration still needs fixing.
		index = price.Tiers.Len() - 1
		logger.Load().WithFields(map[string]interface{}{
			"price_id": price.ID,
			"quantity": q,
			"tier":     index,
		}).Debug("volume tier fallback")
	}

	tier := price.Tiers.tiers[index]
	total := decimal.NewFromInt(tier.UnitAmountCents).Mul(qty).Add(decimal.NewFromInt(tier.Flat()))

	amount, err := money.FromDecimal(total, price.Currency)
	if err != nil {
		return TierCharge{}, money.Money{}, err
	}

	floor := decimal.Zero
	if index > 0 {
		floor = fromUint64(*price.Tiers.tiers[index-1].UpTo)
	}
	return TierCharge{
		Index:           index,
		Floor:           floor,
		Ceiling:         tier.clone().UpTo,
		Quantity:        qty,
		UnitAmountCents: tier.UnitAmountCents,
		FlatAmountCents: tier.Flat(),
		Subtotal:        total,
	}, amount, nil
}

// selectVolumeTier returns the first tier whose bound covers qty, or -1
func selectVolumeTier(table *TierTable, qty decimal.Decimal) int {
	for i, tier := range table.tiers {
		if tier.UpTo == nil || fromUint64(*tier.UpTo).GreaterThanOrEqual(qty) {
			return i
		}
	}
	return -1
}

// CalculatePackage charges a fixed amount per started bundle beyond the free units
func CalculatePackage(price *PriceSnapshot, quantity float64) (money.Money, error) {
	q, err := NormalizeQuantity(quantity)
	if err != nil {
		return money.Money{}, err
	}
	cfg := price.Package
	if cfg == nil {
		return money.Money{}, fmt.Errorf("%w: price %s has no package configuration", ErrMissingTierConfiguration, price.ID)
	}
	if cfg.PackageSize == 0 {
		return money.Money{}, fmt.Errorf("%w: price %s has a zero package size", ErrMissingTierConfiguration, price.ID)
	}

	qty := decimal.NewFromFloat(q)
	free := fromUint64(cfg.FreeUnits)
	if qty.LessThanOrEqual(free) {
		return money.Zero(price.Currency), nil
	}

	packages := qty.Sub(free).Div(fromUint64(cfg.PackageSize)).Ceil()
	total := decimal.NewFromInt(cfg.AmountCents).Mul(packages)
	return money.FromDecimal(total, price.Currency)
}

func fromUint64(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}
