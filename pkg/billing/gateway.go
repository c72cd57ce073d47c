package billing

import (
	"context"
	"sync"
	"time"

	"github.com/platinummonkey/tariff/pkg/money"
)

// OutcomeKind is what the gateway did with a request
type OutcomeKind string

const (
	OutcomeApplied        OutcomeKind = "applied"
	OutcomeAlreadyApplied OutcomeKind = "already_applied"
	OutcomeFailed         OutcomeKind = "failed"
)

// GatewayRequest asks the payment provider to realize a preview
type GatewayRequest struct {
	Descriptor     CommitDescriptor
	SubscriptionID string
	Signal         SignalKind
	Operations     []Operation
	Delta          money.Money
	Action         Action
}

// GatewayOutcome is the provider's answer. Terminal only matters for failures:
// a terminal failure will fail again if resubmitted.
type GatewayOutcome struct {
	Kind      OutcomeKind
	Receipt   *ProviderReceipt
	Reference string
	Terminal  bool
	Message   string
}

// Gateway applies operations at an external provider. Implementations must
// de-duplicate requests that carry the same descriptor.
type Gateway interface {
	Name() string
	Commit(ctx context.Context, req GatewayRequest) (GatewayOutcome, error)
}

// MemoryGateway is an in-process gateway that applies every descriptor once
type MemoryGateway struct {
	mu       sync.Mutex
	applied  map[CommitDescriptor]ProviderReceipt
	charges  int
	latency  time.Duration
	failWith func(GatewayRequest) (GatewayOutcome, error)
	now      func() time.Time
}

// NewMemoryGateway creates an empty in-memory gateway
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		applied: make(map[CommitDescriptor]ProviderReceipt),
		now:     time.Now,
	}
}

// SetLatency delays every commit by d
func (g *MemoryGateway) SetLatency(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.latency = d
}

// FailWith makes every commit return the result of fn until it is reset with nil
func (g *MemoryGateway) FailWith(fn func(GatewayRequest) (GatewayOutcome, error)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failWith = fn
}

// Charges returns how many requests were applied
func (g *MemoryGateway) Charges() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.charges
}

func (g *MemoryGateway) Name() string {
	return "memory"
}

func (g *MemoryGateway) Commit(ctx context.Context, req GatewayRequest) (GatewayOutcome, error) {
	g.mu.Lock()
	latency, failWith := g.latency, g.failWith
	g.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return GatewayOutcome{}, ctx.Err()
		}
	}
	if failWith != nil {
		return failWith(req)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if receipt, ok := g.applied[req.Descriptor]; ok {
		return GatewayOutcome{Kind: OutcomeAlreadyApplied, Receipt: &receipt, Reference: receipt.ID}, nil
	}

	receipt := ProviderReceipt{
		ID:        "rcpt_" + string(req.Descriptor[len(descriptorPrefix):len(descriptorPrefix)+24]),
		Action:    req.Action.Type,
		Amount:    req.Action.Amount,
		CreatedAt: g.now().UTC(),
	}
	g.applied[req.Descriptor] = receipt
	g.charges++

	return GatewayOutcome{Kind: OutcomeApplied, Receipt: &receipt, Reference: receipt.ID}, nil
}
