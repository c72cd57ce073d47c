package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tariff/pkg/pricing"
)

// setupSQLite returns a migrated in-memory SQLite database
func setupSQLite(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, Migrate(context.Background(), db))
	return db
}

func int64Ptr(v int64) *int64 { return &v }

func graduatedRecord(id, currency string) pricing.PriceRecord {
	return pricing.PriceRecord{
		ID:         id,
		ChargeType: "graduated",
		Currency:   currency,
		Tiers: json.RawMessage(`[
			{"up_to": 10, "unit_amount": 100},
			{"up_to": 50, "unit_amount": 80},
			{"up_to": null, "unit_amount": 50}
		]`),
	}
}
