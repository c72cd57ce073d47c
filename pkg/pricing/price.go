package pricing

import (
	"encoding/json"
	"fmt"

	"github.com/platinummonkey/tariff/pkg/money"
)

// PackageConfig holds the bundle settings of a package price
type PackageConfig struct {
	FreeUnits   uint64 `json:"free_units" yaml:"free_units"`
	PackageSize uint64 `json:"package_size" yaml:"package_size"`
	AmountCents int64  `json:"amount" yaml:"amount"`
}

// PriceSnapshot is the immutable view of a persisted price used for one calculation
type PriceSnapshot struct {
	ID              string
	ChargeKind      ChargeKind
	Currency        money.Currency
	FlatAmountCents *int64
	Tiers           *TierTable
	Package         *PackageConfig
}

// PriceRecord is the persisted shape of a price, as stored in postgres
// or declared in a catalog file.
type PriceRecord struct {
	ID         string          `json:"id"`
	ChargeType string          `json:"charge_type"`
	Currency   string          `json:"currency"`
	FlatAmount *int64          `json:"flat_amount,omitempty"`
	Tiers      json.RawMessage `json:"tiers,omitempty"`
	Package    *PackageConfig  `json:"package,omitempty"`
}

// Snapshot validates the record and builds a PriceSnapshot.
// Tier currency conflicts surface here rather than at calculation time.
func (r PriceRecord) Snapshot() (*PriceSnapshot, error) {
	if r.ID == "" {
		return nil, fmt.Errorf("price id is required")
	}

	kind, err := ParseChargeKind(r.ChargeType)
	if err != nil {
		return nil, fmt.Errorf("price %s: %w", r.ID, err)
	}

	currency, err := money.ParseCurrency(r.Currency)
	if err != nil {
		return nil, fmt.Errorf("price %s: %w", r.ID, err)
	}

	snap := &PriceSnapshot{
		ID:         r.ID,
		ChargeKind: kind,
		Currency:   currency,
	}

	if r.FlatAmount != nil {
		v := *r.FlatAmount
		snap.FlatAmountCents = &v
	}

	if len(r.Tiers) > 0 && string(r.Tiers) != "null" {
		table, err := ParseTierTable(r.Tiers, currency)
		if err != nil {
			return nil, fmt.Errorf("price %s: %w", r.ID, err)
		}
		snap.Tiers = table
	}

	if r.Package != nil {
		pkg := *r.Package
		snap.Package = &pkg
	}

	return snap, nil
}

// Record converts the snapshot back into its persisted shape
func (p *PriceSnapshot) Record() (PriceRecord, error) {
	rec := PriceRecord{
		ID:         p.ID,
		ChargeType: string(p.ChargeKind),
		Currency:   string(p.Currency),
		FlatAmount: p.FlatAmountCents,
		Package:    p.Package,
	}
	if p.Tiers != nil {
		raw, err := json.Marshal(p.Tiers)
		if err != nil {
			return PriceRecord{}, err
		}
		rec.Tiers = raw
	}
	return rec, nil
}
