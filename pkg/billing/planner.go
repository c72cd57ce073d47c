package billing

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/tariff/pkg/money"
	"github.com/platinummonkey/tariff/pkg/observability"
	"github.com/platinummonkey/tariff/pkg/pricing"
)

// PriceLookup resolves price snapshots by ID. Implementations return an error
// wrapping pricing.ErrPriceNotFound when the price does not exist.
type PriceLookup interface {
	Resolve(ctx context.Context, id string) (*pricing.PriceSnapshot, error)
}

// PriceLookupFunc adapts a function to PriceLookup
type PriceLookupFunc func(ctx context.Context, id string) (*pricing.PriceSnapshot, error)

// Resolve calls f
func (f PriceLookupFunc) Resolve(ctx context.Context, id string) (*pricing.PriceSnapshot, error) {
	return f(ctx, id)
}

// PlannerConfig holds optional planner dependencies
type PlannerConfig struct {
	// Signer mints commit descriptors. Nil uses a per-process random key.
	Signer *DescriptorSigner

	Logger      *observability.Logger
	Metrics     *observability.Metrics
	OTelMetrics *observability.OTelMetrics
}

// Planner turns a change intent into a preview. It reads prices through the
// lookup and never writes anything; it is safe for concurrent use.
type Planner struct {
	lookup      PriceLookup
	signer      *DescriptorSigner
	logger      *observability.Logger
	metrics     *observability.Metrics
	otelMetrics *observability.OTelMetrics
}

// NewPlanner creates a planner
func NewPlanner(lookup PriceLookup, cfg PlannerConfig) *Planner {
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}
	if cfg.Signer == nil {
		cfg.Signer = defaultSigner()
	}
	return &Planner{
		lookup:      lookup,
		signer:      cfg.Signer,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		otelMetrics: cfg.OTelMetrics,
	}
}

// plannedChange is the affected item before and after the intent
type plannedChange struct {
	itemID        string
	before        *SubscriptionItem
	afterPrice    *pricing.PriceSnapshot
	afterQuantity int64
	credits       int64
	operations    []Operation
}

// Plan prices the current state and the state implied by intent and returns
// the preview. Expected refusals come back as disabled previews; malformed
// price configuration and lookup failures are returned as errors.
func (p *Planner) Plan(ctx context.Context, current *SubscriptionSnapshot, intent ChangeIntent) (preview *ChangePreview, err error) {
	if current == nil || current.ID == "" {
		return nil, fmt.Errorf("%w: missing subscription", ErrInvalidSubscription)
	}

	ctx, span := observability.StartSpan(ctx, "billing.Plan",
		attribute.String("subscription.id", current.ID),
		attribute.String("change.signal", string(intent.Signal)),
	)
	defer func() {
		if preview != nil {
			span.SetAttributes(attribute.Bool("change.enabled", preview.Enabled))
			p.metrics.RecordPreview(string(intent.Signal), preview.Enabled)
			delta := int64(0)
			if preview.Totals != nil {
				delta = preview.Totals.Delta.AmountCents()
			}
			p.otelMetrics.RecordPreview(ctx, string(intent.Signal), preview.Enabled, string(current.Currency), delta)
		}
		observability.EndSpan(span, err)
	}()

	change, reason, err := p.resolveChange(ctx, current, intent)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		return p.disabled(ctx, current, intent, reason), nil
	}

	preview, err = p.price(current, intent, change)
	if errors.Is(err, money.ErrCurrencyMismatch) {
		return p.disabled(ctx, current, intent, ReasonCurrencyMismatch), nil
	}
	if err != nil {
		return nil, err
	}
	return preview, nil
}

func (p *Planner) disabled(ctx context.Context, current *SubscriptionSnapshot, intent ChangeIntent, reason string) *ChangePreview {
	observability.UpdateLoggerWithTraceContext(ctx, p.logger).WithFields(map[string]interface{}{
		"subscription_id": current.ID,
		"signal":          string(intent.Signal),
		"reason":          reason,
	}).Debug("change preview disabled")
	return Disabled(intent.Signal, current.ID, reason)
}

// resolveChange validates the intent against the current state and resolves
// the target price. A non-empty reason means the change cannot be planned.
func (p *Planner) resolveChange(ctx context.Context, current *SubscriptionSnapshot, intent ChangeIntent) (*plannedChange, string, error) {
	delta := int64(0)
	if intent.QuantityDelta != nil {
		delta = *intent.QuantityDelta
	}

	switch intent.Signal {
	case SignalChangePrice, SignalChangeQuantity:
		item, ok := current.Item(intent.SubscriptionItemID)
		if !ok {
			return nil, ReasonItemNotFound, nil
		}

		target := item.Price
		if intent.TargetPriceID != "" {
			resolved, reason, err := p.resolveTarget(ctx, current, intent.TargetPriceID)
			if err != nil || reason != "" {
				return nil, reason, err
			}
			target = resolved
		} else if intent.Signal == SignalChangePrice {
			return nil, ReasonTargetPriceNotFound, nil
		}

		quantity, overflow := addQuantity(item.Quantity, delta)
		if overflow {
			return nil, "", fmt.Errorf("%w: quantity of item %s", money.ErrAmountOverflow, item.ID)
		}
		if quantity < 0 {
			return nil, ReasonNegativeQuantity, nil
		}

		priceChanged := item.Price == nil || target.ID != item.Price.ID
		if !priceChanged && delta == 0 {
			return nil, ReasonNoChange, nil
		}

		op := Operation{Type: OpChangeQuantity, SubscriptionItemID: item.ID, PriceID: target.ID, Quantity: int64Ptr(quantity)}
		if priceChanged {
			op.Type = OpChangePrice
		}
		return &plannedChange{
			itemID:        item.ID,
			before:        item,
			afterPrice:    target,
			afterQuantity: quantity,
			operations:    []Operation{op},
		}, "", nil

	case SignalAddItem:
		if intent.SubscriptionItemID != "" {
			if _, exists := current.Item(intent.SubscriptionItemID); exists {
				return nil, ReasonItemExists, nil
			}
		}
		target, reason, err := p.resolveTarget(ctx, current, intent.TargetPriceID)
		if err != nil || reason != "" {
			return nil, reason, err
		}

		quantity := int64(1)
		if intent.QuantityDelta != nil {
			quantity = delta
		}
		if quantity < 0 {
			return nil, ReasonNegativeQuantity, nil
		}
		if quantity == 0 {
			return nil, ReasonNoChange, nil
		}

		return &plannedChange{
			itemID:        intent.SubscriptionItemID,
			afterPrice:    target,
			afterQuantity: quantity,
			operations: []Operation{{
				Type:               OpAddItem,
				SubscriptionItemID: intent.SubscriptionItemID,
				PriceID:            target.ID,
				Quantity:           int64Ptr(quantity),
			}},
		}, "", nil

	case SignalRemoveItem:
		item, ok := current.Item(intent.SubscriptionItemID)
		if !ok {
			return nil, ReasonItemNotFound, nil
		}
		return &plannedChange{
			itemID:     item.ID,
			before:     item,
			operations: []Operation{{Type: OpRemoveItem, SubscriptionItemID: item.ID}},
		}, "", nil

	case SignalAddCredits:
		if intent.CreditsDelta == nil || *intent.CreditsDelta <= 0 {
			return nil, ReasonInvalidCredits, nil
		}
		target, reason, err := p.resolveTarget(ctx, current, intent.TargetPriceID)
		if err != nil || reason != "" {
			return nil, reason, err
		}
		credits := *intent.CreditsDelta
		return &plannedChange{
			afterPrice:    target,
			afterQuantity: credits,
			credits:       credits,
			operations: []Operation{{
				Type:    OpAddCredits,
				PriceID: target.ID,
				Credits: int64Ptr(credits),
			}},
		}, "", nil

	default:
		return nil, ReasonUnsupportedSignal, nil
	}
}

// resolveTarget looks up a target price and checks it bills in the subscription currency
func (p *Planner) resolveTarget(ctx context.Context, current *SubscriptionSnapshot, id string) (*pricing.PriceSnapshot, string, error) {
	if id == "" {
		return nil, ReasonTargetPriceNotFound, nil
	}
	price, err := p.lookup.Resolve(ctx, id)
	if errors.Is(err, pricing.ErrPriceNotFound) || (err == nil && price == nil) {
		return nil, ReasonTargetPriceNotFound, nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve price %s: %w", id, err)
	}
	if price.Currency != current.Currency {
		return nil, ReasonCurrencyMismatch, nil
	}
	return price, "", nil
}

// price computes totals, lines and the descriptor for a validated change
func (p *Planner) price(current *SubscriptionSnapshot, intent ChangeIntent, change *plannedChange) (*ChangePreview, error) {
	currentTotal := money.Zero(current.Currency)
	lineBefore := money.Zero(current.Currency)

	for i := range current.Items {
		item := &current.Items[i]
		amount, err := calculate(item.Price, item.Quantity)
		if err != nil {
			return nil, fmt.Errorf("subscription item %s: %w", item.ID, err)
		}
		if currentTotal, err = money.Add(currentTotal, amount); err != nil {
			return nil, err
		}
		if change.before != nil && item.ID == change.before.ID {
			lineBefore = amount
		}
	}

	line := LineItem{
		SubscriptionItemID: change.itemID,
		AmountBefore:       lineBefore,
		AmountAfter:        money.Zero(current.Currency),
	}
	if change.before != nil {
		line.QuantityBefore = change.before.Quantity
		if change.before.Price != nil {
			line.PriceID = change.before.Price.ID
			line.ChargeKind = change.before.Price.ChargeKind
		}
	}

	if change.afterPrice != nil {
		quote, err := pricing.QuotePrice(change.afterPrice, float64(change.afterQuantity))
		if err != nil {
			return nil, fmt.Errorf("price %s: %w", change.afterPrice.ID, err)
		}
		line.PriceID = change.afterPrice.ID
		line.ChargeKind = change.afterPrice.ChargeKind
		line.QuantityAfter = change.afterQuantity
		line.AmountAfter = quote.Amount
		line.Tiers = quote.Tiers
	}

	proposed, err := money.Sub(currentTotal, lineBefore)
	if err != nil {
		return nil, err
	}
	if proposed, err = money.Add(proposed, line.AmountAfter); err != nil {
		return nil, err
	}
	delta, err := money.Sub(proposed, currentTotal)
	if err != nil {
		return nil, err
	}

	fingerprint, err := StateFingerprint(current)
	if err != nil {
		return nil, err
	}

	effective := &EffectiveSnapshot{
		SubscriptionID:     current.ID,
		SubscriptionItemID: change.itemID,
		PriceID:            line.PriceID,
		Quantity:           change.afterQuantity,
	}
	if intent.EffectiveAt != nil {
		at := intent.EffectiveAt.UTC()
		effective.EffectiveAt = &at
	}
	if change.credits > 0 {
		balance, overflow := addQuantity(current.CreditBalance, change.credits)
		if overflow {
			return nil, fmt.Errorf("%w: credit balance", money.ErrAmountOverflow)
		}
		effective.CreditBalance = &balance
	}

	preview := &ChangePreview{
		Enabled:          true,
		Signal:           intent.Signal,
		SubscriptionID:   current.ID,
		Effective:        effective,
		Totals:           &Totals{Current: currentTotal, Proposed: proposed, Delta: delta},
		Lines:            []LineItem{line},
		Operations:       change.operations,
		Actions:          []Action{actionFor(delta)},
		StateFingerprint: fingerprint,
	}

	if preview.CommitDescriptor, err = p.signer.Compute(preview); err != nil {
		return nil, err
	}
	return preview, nil
}

func calculate(price *pricing.PriceSnapshot, quantity int64) (money.Money, error) {
	return pricing.Calculate(price, float64(quantity))
}

func actionFor(delta money.Money) Action {
	switch {
	case delta.IsNegative():
		amount, _ := delta.Neg()
		return Action{Type: ActionCredit, Amount: amount}
	case delta.IsZero():
		return Action{Type: ActionNone, Amount: delta}
	default:
		return Action{Type: ActionCharge, Amount: delta}
	}
}

func addQuantity(a, b int64) (int64, bool) {
	sum := a + b
	overflow := (b > 0 && sum < a) || (b < 0 && sum > a)
	return sum, overflow
}

func int64Ptr(v int64) *int64 {
	return &v
}
