package billing

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ResultRecord is the ledger entry for one commit descriptor
type ResultRecord struct {
	Descriptor     CommitDescriptor `json:"descriptor"`
	OperationsHash string           `json:"operations_hash"`
	Result         ChangeResult     `json:"result"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// ResultStore is the idempotency ledger of the committer.
//
// Reserve inserts a pending record only if none exists and reports whether it
// did. Save stores rec unless the existing record is already final, so a late
// pending write never hides an applied result. Get returns ErrResultNotFound
// for unknown descriptors.
type ResultStore interface {
	Get(ctx context.Context, descriptor CommitDescriptor) (*ResultRecord, error)
	Reserve(ctx context.Context, rec ResultRecord) (bool, error)
	Save(ctx context.Context, rec ResultRecord) error
}

// MemoryResultStore is a process-local ResultStore
type MemoryResultStore struct {
	mu      sync.RWMutex
	records map[CommitDescriptor]ResultRecord
}

// NewMemoryResultStore creates an empty in-memory ledger
func NewMemoryResultStore() *MemoryResultStore {
	return &MemoryResultStore{records: make(map[CommitDescriptor]ResultRecord)}
}

func (s *MemoryResultStore) Get(ctx context.Context, descriptor CommitDescriptor) (*ResultRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[descriptor]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrResultNotFound, descriptor)
	}
	return &rec, nil
}

func (s *MemoryResultStore) Reserve(ctx context.Context, rec ResultRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.Descriptor]; ok {
		return false, nil
	}
	s.records[rec.Descriptor] = rec
	return true, nil
}

func (s *MemoryResultStore) Save(ctx context.Context, rec ResultRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[rec.Descriptor]; ok && existing.Result.Status.Final() {
		return nil
	}
	s.records[rec.Descriptor] = rec
	return nil
}
