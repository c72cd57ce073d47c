package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

// StripeGateway applies changes through Stripe. Charges become confirmed
// off-session PaymentIntents against the subscription's default payment
// method; credits become customer balance transactions. Item operations are
// then applied to the subscription items without proration, since the delta
// was already settled. The commit descriptor is sent as the Stripe
// idempotency key, so Stripe de-duplicates resubmissions across processes.
type StripeGateway struct {
	client *client.API
}

// NewStripeGateway creates a gateway for apiKey. backends may be nil to use
// the default Stripe endpoints.
func NewStripeGateway(apiKey string, backends *stripe.Backends) *StripeGateway {
	return &StripeGateway{client: client.New(apiKey, backends)}
}

func (g *StripeGateway) Name() string {
	return "stripe"
}

func (g *StripeGateway) Commit(ctx context.Context, req GatewayRequest) (GatewayOutcome, error) {
	var (
		outcome GatewayOutcome
		err     error
	)
	switch req.Action.Type {
	case ActionCharge:
		outcome, err = g.charge(ctx, req)
	case ActionCredit:
		outcome, err = g.credit(ctx, req)
	default:
		receipt := &ProviderReceipt{
			ID:        "noop_" + string(req.Descriptor[len(descriptorPrefix):len(descriptorPrefix)+24]),
			Action:    ActionNone,
			Amount:    req.Action.Amount,
			CreatedAt: time.Now().UTC(),
		}
		outcome = GatewayOutcome{Kind: OutcomeApplied, Receipt: receipt, Reference: receipt.ID}
	}
	if err != nil || outcome.Kind == OutcomeFailed {
		return outcome, err
	}

	// A declined payment leaves the subscription untouched.
	replayed, err := g.applyItems(ctx, req)
	if err != nil {
		if outcome.Receipt != nil && outcome.Receipt.Action != ActionNone {
			err = fmt.Errorf("%s %s settled but subscription items were not updated: %w", outcome.Receipt.Action, outcome.Reference, err)
		}
		return g.mapItemError(outcome, err)
	}
	if req.Action.Type == ActionNone && replayed && hasItemOperations(req.Operations) {
		outcome.Kind = OutcomeAlreadyApplied
	}
	return outcome, nil
}

// applyItems applies the item operations of req in order. Each call gets its
// own idempotency key derived from the descriptor. It reports whether every
// call was replayed by Stripe.
func (g *StripeGateway) applyItems(ctx context.Context, req GatewayRequest) (replayed bool, err error) {
	replayed = true
	for i, op := range req.Operations {
		key := fmt.Sprintf("%s:item:%d", req.Descriptor, i)

		var item *stripe.SubscriptionItem
		switch op.Type {
		case OpChangeQuantity, OpChangePrice:
			params := itemParams(ctx, req, op, key)
			if op.Type == OpChangePrice {
				params.Price = stripe.String(op.PriceID)
			}
			item, err = g.client.SubscriptionItems.Update(op.SubscriptionItemID, params)
		case OpAddItem:
			params := itemParams(ctx, req, op, key)
			params.Subscription = stripe.String(req.SubscriptionID)
			params.Price = stripe.String(op.PriceID)
			item, err = g.client.SubscriptionItems.New(params)
		case OpRemoveItem:
			params := &stripe.SubscriptionItemParams{ProrationBehavior: stripe.String("none")}
			params.Context = ctx
			params.SetIdempotencyKey(key)
			item, err = g.client.SubscriptionItems.Del(op.SubscriptionItemID, params)
			if isResourceMissing(err) {
				err = nil
				continue
			}
		default:
			continue
		}
		if err != nil {
			return false, fmt.Errorf("%s %s: %w", op.Type, op.SubscriptionItemID, err)
		}
		if outcomeKind(item.LastResponse) != OutcomeAlreadyApplied {
			replayed = false
		}
	}
	return replayed, nil
}

func itemParams(ctx context.Context, req GatewayRequest, op Operation, key string) *stripe.SubscriptionItemParams {
	params := &stripe.SubscriptionItemParams{ProrationBehavior: stripe.String("none")}
	if op.Quantity != nil {
		params.Quantity = stripe.Int64(*op.Quantity)
	}
	params.Context = ctx
	params.SetIdempotencyKey(key)
	params.AddMetadata("commit_descriptor", string(req.Descriptor))
	return params
}

func hasItemOperations(ops []Operation) bool {
	for _, op := range ops {
		switch op.Type {
		case OpChangeQuantity, OpChangePrice, OpAddItem, OpRemoveItem:
			return true
		}
	}
	return false
}

func isResourceMissing(err error) bool {
	var stripeErr *stripe.Error
	return errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing
}

func (g *StripeGateway) charge(ctx context.Context, req GatewayRequest) (GatewayOutcome, error) {
	sub, err := g.subscription(ctx, req.SubscriptionID)
	if err != nil {
		return g.mapError(err)
	}
	if sub.DefaultPaymentMethod == nil || sub.DefaultPaymentMethod.ID == "" {
		return GatewayOutcome{Kind: OutcomeFailed, Terminal: true, Message: "subscription has no default payment method"}, nil
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Action.Amount.AmountCents()),
		Currency:      stripe.String(strings.ToLower(string(req.Action.Amount.Currency()))),
		Customer:      stripe.String(sub.Customer.ID),
		PaymentMethod: stripe.String(sub.DefaultPaymentMethod.ID),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
		Description:   stripe.String(fmt.Sprintf("%s on %s", req.Signal, req.SubscriptionID)),
	}
	params.Context = ctx
	params.SetIdempotencyKey(string(req.Descriptor))
	params.AddMetadata("commit_descriptor", string(req.Descriptor))
	params.AddMetadata("subscription_id", req.SubscriptionID)

	pi, err := g.client.PaymentIntents.New(params)
	if err != nil {
		return g.mapError(err)
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
	case stripe.PaymentIntentStatusProcessing:
		return GatewayOutcome{Kind: OutcomeFailed, Reference: pi.ID, Message: "payment is processing"}, nil
	default:
		return GatewayOutcome{
			Kind:      OutcomeFailed,
			Reference: pi.ID,
			Terminal:  true,
			Message:   fmt.Sprintf("payment intent status is %s", pi.Status),
		}, nil
	}

	receipt := &ProviderReceipt{
		ID:        pi.ID,
		Action:    ActionCharge,
		Amount:    req.Action.Amount,
		CreatedAt: time.Unix(pi.Created, 0).UTC(),
	}
	return GatewayOutcome{Kind: outcomeKind(pi.LastResponse), Receipt: receipt, Reference: pi.ID}, nil
}

func (g *StripeGateway) credit(ctx context.Context, req GatewayRequest) (GatewayOutcome, error) {
	sub, err := g.subscription(ctx, req.SubscriptionID)
	if err != nil {
		return g.mapError(err)
	}

	// Negative balance amounts are credits applied to the customer's next invoice.
	params := &stripe.CustomerBalanceTransactionParams{
		Customer:    stripe.String(sub.Customer.ID),
		Amount:      stripe.Int64(-req.Action.Amount.AmountCents()),
		Currency:    stripe.String(strings.ToLower(string(req.Action.Amount.Currency()))),
		Description: stripe.String(fmt.Sprintf("%s on %s", req.Signal, req.SubscriptionID)),
	}
	params.Context = ctx
	params.SetIdempotencyKey(string(req.Descriptor))
	params.AddMetadata("commit_descriptor", string(req.Descriptor))

	txn, err := g.client.CustomerBalanceTransactions.New(params)
	if err != nil {
		return g.mapError(err)
	}

	receipt := &ProviderReceipt{
		ID:        txn.ID,
		Action:    ActionCredit,
		Amount:    req.Action.Amount,
		CreatedAt: time.Unix(txn.Created, 0).UTC(),
	}
	return GatewayOutcome{Kind: outcomeKind(txn.LastResponse), Receipt: receipt, Reference: txn.ID}, nil
}

func (g *StripeGateway) subscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := g.client.Subscriptions.Get(id, params)
	if err != nil {
		return nil, err
	}
	if sub.Customer == nil || sub.Customer.ID == "" {
		return nil, fmt.Errorf("subscription %s has no customer", id)
	}
	return sub, nil
}

// mapError turns card errors into terminal failures and leaves everything
// else to IsRetryable
func (g *StripeGateway) mapError(err error) (GatewayOutcome, error) {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
		return GatewayOutcome{Kind: OutcomeFailed, Terminal: true, Message: stripeErr.Msg}, nil
	}
	return GatewayOutcome{}, err
}

// mapItemError keeps the settled receipt reference on item failures.
// Retryable errors are returned so the commit stays pending; anything else
// is a terminal failure.
func (g *StripeGateway) mapItemError(outcome GatewayOutcome, err error) (GatewayOutcome, error) {
	if IsRetryable(err) {
		return GatewayOutcome{Reference: outcome.Reference}, err
	}
	return GatewayOutcome{Kind: OutcomeFailed, Terminal: true, Reference: outcome.Reference, Message: err.Error()}, nil
}

func outcomeKind(resp *stripe.APIResponse) OutcomeKind {
	if resp != nil && resp.Header.Get("Idempotent-Replayed") == "true" {
		return OutcomeAlreadyApplied
	}
	return OutcomeApplied
}
