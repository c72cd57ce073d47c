package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/platinummonkey/tariff/pkg/billing"
	"github.com/platinummonkey/tariff/pkg/observability"
)

// ResultStore is the SQL idempotency ledger. Final rows are never updated:
// the conflict clause of Save only touches pending rows.
type ResultStore struct {
	db      *sql.DB
	metrics *observability.Metrics
	backend string
}

// NewResultStore creates a ledger on db. backend labels storage metrics.
func NewResultStore(db *sql.DB, backend string, metrics *observability.Metrics) *ResultStore {
	if backend == "" {
		backend = "postgres"
	}
	return &ResultStore{db: db, metrics: metrics, backend: backend}
}

func (s *ResultStore) Get(ctx context.Context, descriptor billing.CommitDescriptor) (*billing.ResultRecord, error) {
	query := `
		SELECT descriptor, operations_hash, result, updated_at
		FROM commit_results
		WHERE descriptor = $1
	`

	start := time.Now()
	var (
		rec  billing.ResultRecord
		data string
	)
	err := s.db.QueryRowContext(ctx, query, string(descriptor)).Scan(&rec.Descriptor, &rec.OperationsHash, &data, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		s.metrics.RecordStorageOperation("get_result", s.backend, time.Since(start), nil)
		return nil, fmt.Errorf("%w: %s", billing.ErrResultNotFound, descriptor)
	}
	s.metrics.RecordStorageOperation("get_result", s.backend, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to get commit result: %w", err)
	}

	if err := json.Unmarshal([]byte(data), &rec.Result); err != nil {
		return nil, fmt.Errorf("failed to decode commit result: %w", err)
	}
	return &rec, nil
}

func (s *ResultStore) Reserve(ctx context.Context, rec billing.ResultRecord) (bool, error) {
	data, err := json.Marshal(rec.Result)
	if err != nil {
		return false, fmt.Errorf("failed to encode commit result: %w", err)
	}

	query := `
		INSERT INTO commit_results (descriptor, operations_hash, status, result, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (descriptor) DO NOTHING
	`

	start := time.Now()
	res, err := s.db.ExecContext(ctx, query,
		string(rec.Descriptor), rec.OperationsHash, string(rec.Result.Status), string(data), rec.UpdatedAt.UTC())
	s.metrics.RecordStorageOperation("reserve_result", s.backend, time.Since(start), err)
	if err != nil {
		return false, fmt.Errorf("failed to reserve commit result: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to reserve commit result: %w", err)
	}
	return n == 1, nil
}

func (s *ResultStore) Save(ctx context.Context, rec billing.ResultRecord) error {
	data, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("failed to encode commit result: %w", err)
	}

	query := `
		INSERT INTO commit_results (descriptor, operations_hash, status, result, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (descriptor) DO UPDATE SET
			operations_hash = excluded.operations_hash,
			status = excluded.status,
			result = excluded.result,
			updated_at = excluded.updated_at
		WHERE commit_results.status NOT IN ('applied', 'failed')
	`

	start := time.Now()
	_, err = s.db.ExecContext(ctx, query,
		string(rec.Descriptor), rec.OperationsHash, string(rec.Result.Status), string(data), rec.UpdatedAt.UTC())
	s.metrics.RecordStorageOperation("save_result", s.backend, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to save commit result: %w", err)
	}
	return nil
}

// Prune deletes final results last updated before cutoff and returns how
// many were removed. Pending rows are kept so they can still be resolved.
func (s *ResultStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM commit_results
		WHERE status IN ('applied', 'failed') AND updated_at < $1
	`

	start := time.Now()
	res, err := s.db.ExecContext(ctx, query, cutoff.UTC())
	s.metrics.RecordStorageOperation("prune_results", s.backend, time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("failed to prune commit results: %w", err)
	}
	return res.RowsAffected()
}
