package pricing

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/platinummonkey/tariff/pkg/money"
)

// Tier is one quantity range of a graduated or volume price.
// A nil UpTo marks the unbounded last tier.
type Tier struct {
	UpTo            *uint64
	UnitAmountCents int64
	FlatAmountCents *int64
}

// Bounded returns true if the tier has an upper limit
func (t Tier) Bounded() bool {
	return t.UpTo != nil
}

// Flat returns the flat fee of the tier or zero
func (t Tier) Flat() int64 {
	if t.FlatAmountCents == nil {
		return 0
	}
	return *t.FlatAmountCents
}

func (t Tier) clone() Tier {
	out := Tier{UnitAmountCents: t.UnitAmountCents}
	if t.UpTo != nil {
		v := *t.UpTo
		out.UpTo = &v
	}
	if t.FlatAmountCents != nil {
		v := *t.FlatAmountCents
		out.FlatAmountCents = &v
	}
	return out
}

// TierTable is an ordered, validated and immutable list of tiers
type TierTable struct {
	currency money.Currency
	tiers    []Tier
}

// NewTierTable sorts tiers ascending by UpTo (unbounded last) and validates them.
// Unit amounts below zero are clamped to zero.
func NewTierTable(currency money.Currency, tiers []Tier) (*TierTable, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("%w: no tiers", ErrMissingTierConfiguration)
	}

	sorted := make([]Tier, len(tiers))
	for i, t := range tiers {
		sorted[i] = t.clone()
		if sorted[i].UnitAmountCents < 0 {
			sorted[i].UnitAmountCents = 0
		}
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].UpTo, sorted[j].UpTo
		if a == nil {
			return false
		}
		if b == nil {
			return true
		}
		return *a < *b
	})

	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if prev.UpTo == nil {
			return nil, fmt.Errorf("%w: more than one unbounded tier", ErrInvalidTierConfiguration)
		}
		if cur.UpTo != nil && *cur.UpTo == *prev.UpTo {
			return nil, fmt.Errorf("%w: duplicate up_to %d", ErrInvalidTierConfiguration, *cur.UpTo)
		}
	}

	return &TierTable{currency: currency, tiers: sorted}, nil
}

// Currency returns the currency the table was built for
func (t *TierTable) Currency() money.Currency {
	return t.currency
}

// Len returns the number of tiers
func (t *TierTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.tiers)
}

// Tiers returns a copy of the tiers in ascending order
func (t *TierTable) Tiers() []Tier {
	if t == nil {
		return nil
	}
	out := make([]Tier, len(t.tiers))
	for i, tier := range t.tiers {
		out[i] = tier.clone()
	}
	return out
}

// At returns the tier at index i
func (t *TierTable) At(i int) Tier {
	return t.tiers[i].clone()
}

// Last returns the highest tier
func (t *TierTable) Last() Tier {
	return t.tiers[len(t.tiers)-1].clone()
}

// RawTier is the persisted tier format:
// {"up_to": number|null, "unit_amount": integer, "flat_amount": integer|null}
type RawTier struct {
	UpTo       *json.Number `json:"up_to"`
	UnitAmount json.Number  `json:"unit_amount"`
	FlatAmount *json.Number `json:"flat_amount,omitempty"`
	Currency   string       `json:"currency,omitempty"`
}

// ParseTierTable decodes the persisted tier array and builds a validated table.
// Input order is not trusted.
func ParseTierTable(data []byte, currency money.Currency) (*TierTable, error) {
	var raw []RawTier
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTierConfiguration, err)
	}
	return FromRawTiers(raw, currency)
}

// FromRawTiers converts decoded raw tiers into a validated table
func FromRawTiers(raw []RawTier, currency money.Currency) (*TierTable, error) {
	tiers := make([]Tier, 0, len(raw))
	for i, r := range raw {
		if r.Currency != "" {
			c, err := money.ParseCurrency(r.Currency)
			if err != nil {
				return nil, fmt.Errorf("tier %d: %w", i, err)
			}
			if c != currency {
				return nil, fmt.Errorf("tier %d: %w: tier is %s, price is %s", i, money.ErrCurrencyMismatch, c, currency)
			}
		}

		tier := Tier{}
		if r.UpTo != nil {
			upTo, err := parseBound(*r.UpTo)
			if err != nil {
				return nil, fmt.Errorf("tier %d: %w", i, err)
			}
			tier.UpTo = &upTo
		}

		unit, err := parseCents(r.UnitAmount)
		if err != nil {
			return nil, fmt.Errorf("tier %d unit_amount: %w", i, err)
		}
		tier.UnitAmountCents = unit

		if r.FlatAmount != nil {
			flat, err := parseCents(*r.FlatAmount)
			if err != nil {
				return nil, fmt.Errorf("tier %d flat_amount: %w", i, err)
			}
			tier.FlatAmountCents = &flat
		}

		tiers = append(tiers, tier)
	}
	return NewTierTable(currency, tiers)
}

// MarshalJSON writes the table back in the persisted format
func (t *TierTable) MarshalJSON() ([]byte, error) {
	raw := make([]RawTier, 0, len(t.tiers))
	for _, tier := range t.tiers {
		r := RawTier{UnitAmount: json.Number(strconv.FormatInt(tier.UnitAmountCents, 10))}
		if tier.UpTo != nil {
			n := json.Number(strconv.FormatUint(*tier.UpTo, 10))
			r.UpTo = &n
		}
		if tier.FlatAmountCents != nil {
			n := json.Number(strconv.FormatInt(*tier.FlatAmountCents, 10))
			r.FlatAmount = &n
		}
		raw = append(raw, r)
	}
	return json.Marshal(raw)
}

func parseBound(n json.Number) (uint64, error) {
	if v, err := strconv.ParseUint(n.String(), 10, 64); err == nil {
		return v, nil
	}
	f, err := n.Float64()
	if err != nil || f < 0 || f != math.Trunc(f) || f > 1<<53 {
		return 0, fmt.Errorf("%w: up_to %q must be a non-negative integer", ErrInvalidTierConfiguration, n)
	}
	return uint64(f), nil
}

func parseCents(n json.Number) (int64, error) {
	if n == "" {
		return 0, fmt.Errorf("%w: amount is required", ErrInvalidTierConfiguration)
	}
	v, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q must be an integer number of cents", ErrInvalidTierConfiguration, n)
	}
	return v, nil
}
