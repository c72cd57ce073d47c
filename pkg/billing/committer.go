package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/tariff/pkg/async"
	"github.com/platinummonkey/tariff/pkg/observability"
)

const (
	// DefaultCommitTimeout bounds how long Commit waits for the gateway
	DefaultCommitTimeout = 10 * time.Second
	// DefaultLateOutcomeLimit bounds how long a timed out gateway call may keep running
	DefaultLateOutcomeLimit = 2 * time.Minute
)

// CommitterConfig holds committer settings and optional dependencies
type CommitterConfig struct {
	// Timeout is how long Commit waits for the gateway before reporting pending
	Timeout time.Duration
	// LateOutcomeLimit caps the gateway call once the caller stopped waiting
	LateOutcomeLimit time.Duration
	// Signer verifies commit descriptors. Nil uses a per-process random key,
	// which only accepts previews planned in the same process.
	Signer *DescriptorSigner

	Logger      *observability.Logger
	Metrics     *observability.Metrics
	OTelMetrics *observability.OTelMetrics
}

// Committer applies enabled previews exactly once through a gateway
type Committer struct {
	gateway Gateway
	store   ResultStore
	cfg     CommitterConfig
	logger  *observability.Logger
	group   singleflight.Group
	now     func() time.Time
}

// NewCommitter creates a committer backed by gateway and store
func NewCommitter(gateway Gateway, store ResultStore, cfg CommitterConfig) *Committer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCommitTimeout
	}
	if cfg.LateOutcomeLimit < cfg.Timeout {
		cfg.LateOutcomeLimit = DefaultLateOutcomeLimit
		if cfg.LateOutcomeLimit < cfg.Timeout {
			cfg.LateOutcomeLimit = cfg.Timeout
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}
	if cfg.Signer == nil {
		cfg.Signer = defaultSigner()
	}
	return &Committer{
		gateway: gateway,
		store:   store,
		cfg:     cfg,
		logger:  cfg.Logger,
		now:     time.Now,
	}
}

// Commit applies preview through the gateway using its descriptor as the
// idempotency key. Committing a disabled or altered preview fails with
// ErrInvalidState. Gateway failures are reported through the result status,
// never as errors: pending means the same preview may be committed again.
func (c *Committer) Commit(ctx context.Context, preview *ChangePreview) (*ChangeResult, error) {
	if preview == nil || !preview.Enabled {
		return nil, fmt.Errorf("%w: preview is not enabled", ErrInvalidState)
	}
	if err := c.cfg.Signer.Verify(preview); err != nil {
		return nil, err
	}
	opsHash, err := OperationsHash(preview.Operations)
	if err != nil {
		return nil, err
	}

	v, err, _ := c.group.Do(string(preview.CommitDescriptor), func() (interface{}, error) {
		return c.commit(ctx, preview, opsHash)
	})
	if err != nil {
		return nil, err
	}

	result := *v.(*ChangeResult)
	return &result, nil
}

// Lookup returns the recorded result of a descriptor
func (c *Committer) Lookup(ctx context.Context, descriptor CommitDescriptor) (*ChangeResult, error) {
	rec, err := c.store.Get(ctx, descriptor)
	if err != nil {
		return nil, err
	}
	result := rec.Result
	return &result, nil
}

func (c *Committer) commit(ctx context.Context, preview *ChangePreview, opsHash string) (result *ChangeResult, err error) {
	start := c.now()
	descriptor := preview.CommitDescriptor
	replayed := false

	ctx, span := observability.StartSpan(ctx, "billing.Commit",
		attribute.String("commit.descriptor", string(descriptor)),
		attribute.String("change.signal", string(preview.Signal)),
	)
	defer func() {
		if result != nil {
			span.SetAttributes(attribute.String("commit.status", string(result.Status)))
			c.cfg.Metrics.RecordCommit(string(preview.Signal), string(result.Status), replayed, c.now().Sub(start))
			c.cfg.OTelMetrics.RecordCommit(ctx, string(preview.Signal), string(result.Status), c.now().Sub(start))
		}
		observability.EndSpan(span, err)
	}()

	logger := observability.UpdateLoggerWithTraceContext(ctx, c.logger).WithFields(map[string]interface{}{
		"descriptor":      string(descriptor),
		"subscription_id": preview.SubscriptionID,
	})

	existing, err := c.store.Get(ctx, descriptor)
	switch {
	case errors.Is(err, ErrResultNotFound):
		existing = nil
	case err != nil:
		return nil, fmt.Errorf("failed to read commit ledger: %w", err)
	}

	if existing != nil {
		if existing.OperationsHash != opsHash {
			return nil, fmt.Errorf("%w: descriptor %s was recorded with different operations", ErrInvalidState, descriptor)
		}
		if existing.Result.Status.Final() {
			replayed = true
			logger.Debug("replaying recorded commit result")
			return replay(existing.Result), nil
		}
	}

	pending := c.record(descriptor, opsHash, ChangeResult{
		Signal:           preview.Signal,
		Status:           StatusPending,
		CommitDescriptor: descriptor,
		Provider:         &ProviderMeta{Name: c.gateway.Name()},
	})
	if _, err := c.store.Reserve(ctx, pending); err != nil {
		return nil, fmt.Errorf("failed to reserve commit ledger entry: %w", err)
	}

	req := GatewayRequest{
		Descriptor:     descriptor,
		SubscriptionID: preview.SubscriptionID,
		Signal:         preview.Signal,
		Operations:     preview.Operations,
		Delta:          preview.Totals.Delta,
		Action:         actionFor(preview.Totals.Delta),
	}

	call := async.Start(ctx, c.cfg.LateOutcomeLimit, func(callCtx context.Context) (GatewayOutcome, error) {
		return c.gateway.Commit(callCtx, req)
	})

	outcome, done, gatewayErr := call.Wait(ctx, c.cfg.Timeout)
	if !done {
		logger.Warn("gateway call did not finish in time, reporting pending")
		c.recordLate(ctx, call, preview, opsHash, logger)
		res := pending.Result
		res.Message = "commit outcome unknown, query the descriptor later"
		return &res, nil
	}

	res := c.resolve(preview, outcome, gatewayErr)
	if existing != nil && outcome.Kind == OutcomeAlreadyApplied && existing.Result.Receipt != nil && res.Receipt == nil {
		res.Receipt = existing.Result.Receipt
	}

	if err := c.store.Save(ctx, c.record(descriptor, opsHash, *res)); err != nil {
		logger.WithError(err).Error("failed to record commit result")
	}

	logger.WithField("status", string(res.Status)).Info("change committed")
	return res, nil
}

// recordLate waits for a timed out gateway call in the background and stores
// its outcome so Lookup observes it.
func (c *Committer) recordLate(ctx context.Context, call *async.Future[GatewayOutcome], preview *ChangePreview, opsHash string, logger *observability.Logger) {
	async.SafeGo(context.WithoutCancel(ctx), logger, c.cfg.LateOutcomeLimit+5*time.Second, "record late gateway outcome", func(bgCtx context.Context) error {
		select {
		case <-call.Done():
		case <-bgCtx.Done():
			return bgCtx.Err()
		}

		outcome, gatewayErr := call.Result()
		res := c.resolve(preview, outcome, gatewayErr)
		c.cfg.Metrics.RecordLateOutcome(string(res.Status))
		logger.WithField("status", string(res.Status)).Info("recorded late gateway outcome")
		return c.store.Save(bgCtx, c.record(preview.CommitDescriptor, opsHash, *res))
	})
}

// resolve maps a gateway outcome or error onto a result status
func (c *Committer) resolve(preview *ChangePreview, outcome GatewayOutcome, gatewayErr error) *ChangeResult {
	res := &ChangeResult{
		Signal:           preview.Signal,
		CommitDescriptor: preview.CommitDescriptor,
		Provider:         &ProviderMeta{Name: c.gateway.Name(), Reference: outcome.Reference},
	}

	if gatewayErr != nil {
		res.Status = StatusFailed
		if IsRetryable(gatewayErr) {
			res.Status = StatusPending
		}
		res.Message = gatewayErr.Error()
		return res
	}

	switch outcome.Kind {
	case OutcomeApplied:
		res.Status = StatusApplied
		res.Receipt = outcome.Receipt
	case OutcomeAlreadyApplied:
		res.Status = StatusApplied
		res.Receipt = outcome.Receipt
		res.Provider.Replayed = true
	case OutcomeFailed:
		res.Status = StatusPending
		if outcome.Terminal {
			res.Status = StatusFailed
		}
		res.Message = outcome.Message
	default:
		res.Status = StatusFailed
		res.Message = fmt.Sprintf("unknown gateway outcome %q", outcome.Kind)
	}
	return res
}

func (c *Committer) record(descriptor CommitDescriptor, opsHash string, result ChangeResult) ResultRecord {
	return ResultRecord{
		Descriptor:     descriptor,
		OperationsHash: opsHash,
		Result:         result,
		UpdatedAt:      c.now().UTC(),
	}
}

func replay(recorded ChangeResult) *ChangeResult {
	res := recorded
	if res.Provider != nil {
		meta := *res.Provider
		meta.Replayed = true
		res.Provider = &meta
	}
	return &res
}
