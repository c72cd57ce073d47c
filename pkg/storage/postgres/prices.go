package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/tariff/pkg/observability"
	"github.com/platinummonkey/tariff/pkg/pricing"
)

// PriceStore reads and writes prices in the prices table. Reads go to a
// replica when the connection manager has one.
type PriceStore struct {
	conns   *ConnectionManager
	metrics *observability.Metrics
	now     func() time.Time
}

// NewPriceStore creates a price store
func NewPriceStore(conns *ConnectionManager, metrics *observability.Metrics) *PriceStore {
	return &PriceStore{conns: conns, metrics: metrics, now: time.Now}
}

// Resolve loads an active price. Unknown and inactive prices wrap
// pricing.ErrPriceNotFound.
func (s *PriceStore) Resolve(ctx context.Context, id string) (price *pricing.PriceSnapshot, err error) {
	start := s.now()
	defer func() {
		if errors.Is(err, pricing.ErrPriceNotFound) {
			s.metrics.RecordStorageOperation("resolve_price", "sql", s.now().Sub(start), nil)
			return
		}
		s.metrics.RecordStorageOperation("resolve_price", "sql", s.now().Sub(start), err)
	}()

	query := `
		SELECT id, charge_type, currency, flat_amount, tiers, package
		FROM prices
		WHERE id = $1 AND active = TRUE
	`

	rec, err := scanPrice(s.conns.Replica().QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", pricing.ErrPriceNotFound, id)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get price: %w", err)
	}

	price, err = rec.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("price %s is misconfigured: %w", id, err)
	}
	return price, nil
}

// Upsert validates and stores a price, reactivating it if it was deactivated
func (s *PriceStore) Upsert(ctx context.Context, rec pricing.PriceRecord) error {
	if _, err := rec.Snapshot(); err != nil {
		return err
	}

	var flat sql.NullInt64
	if rec.FlatAmount != nil {
		flat = sql.NullInt64{Int64: *rec.FlatAmount, Valid: true}
	}
	var tiers, pkg sql.NullString
	if len(rec.Tiers) > 0 {
		tiers = sql.NullString{String: string(rec.Tiers), Valid: true}
	}
	if rec.Package != nil {
		data, err := json.Marshal(rec.Package)
		if err != nil {
			return fmt.Errorf("failed to encode package config: %w", err)
		}
		pkg = sql.NullString{String: string(data), Valid: true}
	}

	query := `
		INSERT INTO prices (id, charge_type, currency, flat_amount, tiers, package, active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7)
		ON CONFLICT (id) DO UPDATE SET
			charge_type = excluded.charge_type,
			currency = excluded.currency,
			flat_amount = excluded.flat_amount,
			tiers = excluded.tiers,
			package = excluded.package,
			active = TRUE,
			updated_at = excluded.updated_at
	`

	start := s.now()
	_, err := s.conns.Primary().ExecContext(ctx, query,
		rec.ID, rec.ChargeType, rec.Currency, flat, tiers, pkg, start.UTC())
	s.metrics.RecordStorageOperation("upsert_price", "sql", s.now().Sub(start), err)
	if err != nil {
		return fmt.Errorf("failed to upsert price: %w", err)
	}
	return nil
}

// Deactivate hides a price from Resolve without deleting it
func (s *PriceStore) Deactivate(ctx context.Context, id string) error {
	res, err := s.conns.Primary().ExecContext(ctx,
		`UPDATE prices SET active = FALSE, updated_at = $1 WHERE id = $2`, s.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to deactivate price: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", pricing.ErrPriceNotFound, id)
	}
	return nil
}

// List returns every active price ordered by id
func (s *PriceStore) List(ctx context.Context) ([]pricing.PriceRecord, error) {
	query := `
		SELECT id, charge_type, currency, flat_amount, tiers, package
		FROM prices
		WHERE active = TRUE
		ORDER BY id
	`

	rows, err := s.conns.Replica().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list prices: %w", err)
	}
	defer rows.Close()

	var records []pricing.PriceRecord
	for rows.Next() {
		rec, err := scanPrice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan price: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPrice(row rowScanner) (pricing.PriceRecord, error) {
	var (
		rec   pricing.PriceRecord
		flat  sql.NullInt64
		tiers sql.NullString
		pkg   sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.ChargeType, &rec.Currency, &flat, &tiers, &pkg); err != nil {
		return rec, err
	}

	if flat.Valid {
		v := flat.Int64
		rec.FlatAmount = &v
	}
	if tiers.Valid && tiers.String != "" {
		rec.Tiers = json.RawMessage(tiers.String)
	}
	if pkg.Valid && pkg.String != "" {
		var cfg pricing.PackageConfig
		if err := json.Unmarshal([]byte(pkg.String), &cfg); err != nil {
			return rec, fmt.Errorf("invalid package config for %s: %w", rec.ID, err)
		}
		rec.Package = &cfg
	}
	return rec, nil
}
