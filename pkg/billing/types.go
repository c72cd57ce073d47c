package billing

import (
	"encoding/json"
	"time"

	"github.com/platinummonkey/tariff/pkg/money"
	"github.com/platinummonkey/tariff/pkg/pricing"
)

// SignalKind names the kind of change requested
type SignalKind string

const (
	SignalChangePrice    SignalKind = "change_price"
	SignalChangeQuantity SignalKind = "change_quantity"
	SignalAddItem        SignalKind = "add_item"
	SignalRemoveItem     SignalKind = "remove_item"
	SignalAddCredits     SignalKind = "add_credits"
)

// Valid reports whether s is a known signal
func (s SignalKind) Valid() bool {
	switch s {
	case SignalChangePrice, SignalChangeQuantity, SignalAddItem, SignalRemoveItem, SignalAddCredits:
		return true
	}
	return false
}

// StatusKind is the outcome of a commit
type StatusKind string

const (
	StatusApplied StatusKind = "applied"
	StatusFailed  StatusKind = "failed"
	StatusPending StatusKind = "pending"
)

// Final reports whether the status can no longer change
func (s StatusKind) Final() bool {
	return s == StatusApplied || s == StatusFailed
}

// ActionKind describes the money movement a commit performs
type ActionKind string

const (
	ActionCharge ActionKind = "charge"
	ActionCredit ActionKind = "credit"
	ActionNone   ActionKind = "none"
)

// OperationType is a subscription item mutation
type OperationType string

const (
	OpAddItem        OperationType = "add_item"
	OpRemoveItem     OperationType = "remove_item"
	OpChangeQuantity OperationType = "change_quantity"
	OpChangePrice    OperationType = "change_price"
	OpAddCredits     OperationType = "add_credits"
)

// SubscriptionItem is one priced line of a subscription
type SubscriptionItem struct {
	ID       string
	Price    *pricing.PriceSnapshot
	Quantity int64
}

// SubscriptionSnapshot is the current state a change is planned against.
// The planner never modifies it.
type SubscriptionSnapshot struct {
	ID            string
	Currency      money.Currency
	Items         []SubscriptionItem
	CreditBalance int64
}

// Item returns the item with the given ID
func (s *SubscriptionSnapshot) Item(id string) (*SubscriptionItem, bool) {
	for i := range s.Items {
		if s.Items[i].ID == id {
			return &s.Items[i], true
		}
	}
	return nil, false
}

// ChangeIntent is a requested change to a subscription
type ChangeIntent struct {
	Signal             SignalKind `json:"signal"`
	SubscriptionItemID string     `json:"subscription_item_id,omitempty"`
	TargetPriceID      string     `json:"target_price_id,omitempty"`
	QuantityDelta      *int64     `json:"quantity_delta,omitempty"`
	CreditsDelta       *int64     `json:"credits_delta,omitempty"`
	EffectiveAt        *time.Time `json:"effective_at,omitempty"`
}

// Totals compares the subscription total before and after a change
type Totals struct {
	Current  money.Money `json:"current"`
	Proposed money.Money `json:"proposed"`
	Delta    money.Money `json:"delta"`
}

// LineItem shows the before and after amounts of one affected item
type LineItem struct {
	SubscriptionItemID string               `json:"subscription_item_id,omitempty"`
	PriceID            string               `json:"price_id"`
	ChargeKind         pricing.ChargeKind   `json:"charge_type"`
	QuantityBefore     int64                `json:"quantity_before"`
	QuantityAfter      int64                `json:"quantity_after"`
	AmountBefore       money.Money          `json:"amount_before"`
	AmountAfter        money.Money          `json:"amount_after"`
	Tiers              []pricing.TierCharge `json:"tiers,omitempty"`
}

// Operation is one subscription item mutation needed to realize a change
type Operation struct {
	Type               OperationType `json:"type"`
	SubscriptionItemID string        `json:"subscription_item_id,omitempty"`
	PriceID            string        `json:"price_id,omitempty"`
	Quantity           *int64        `json:"quantity,omitempty"`
	Credits            *int64        `json:"credits,omitempty"`
}

// Action is the money movement a commit performs
type Action struct {
	Type   ActionKind  `json:"type"`
	Amount money.Money `json:"amount"`
}

// EffectiveSnapshot describes the affected item once the change is applied
type EffectiveSnapshot struct {
	SubscriptionID     string     `json:"subscription_id"`
	SubscriptionItemID string     `json:"subscription_item_id,omitempty"`
	PriceID            string     `json:"price_id,omitempty"`
	Quantity           int64      `json:"quantity"`
	CreditBalance      *int64     `json:"credit_balance,omitempty"`
	EffectiveAt        *time.Time `json:"effective_at,omitempty"`
}

// ChangePreview is the computed, side-effect free plan for a change.
// Disabled previews carry only the signal and a reason.
type ChangePreview struct {
	Enabled          bool               `json:"enabled"`
	Signal           SignalKind         `json:"signal"`
	SubscriptionID   string             `json:"subscription_id,omitempty"`
	Effective        *EffectiveSnapshot `json:"effective,omitempty"`
	Totals           *Totals            `json:"totals,omitempty"`
	Lines            []LineItem         `json:"lines,omitempty"`
	Operations       []Operation        `json:"operations,omitempty"`
	Actions          []Action           `json:"actions,omitempty"`
	CommitDescriptor CommitDescriptor   `json:"commit_descriptor,omitempty"`
	StateFingerprint string             `json:"state_fingerprint,omitempty"`
	Reason           string             `json:"reason,omitempty"`
}

// Disabled builds a preview that cannot be committed
func Disabled(signal SignalKind, subscriptionID, reason string) *ChangePreview {
	return &ChangePreview{
		Enabled:        false,
		Signal:         signal,
		SubscriptionID: subscriptionID,
		Reason:         reason,
	}
}

type disabledJSON struct {
	Enabled        bool       `json:"enabled"`
	Signal         SignalKind `json:"signal,omitempty"`
	SubscriptionID string     `json:"subscription_id,omitempty"`
	Reason         string     `json:"reason"`
}

// MarshalJSON omits every computed field from disabled previews
func (p ChangePreview) MarshalJSON() ([]byte, error) {
	if !p.Enabled {
		return json.Marshal(disabledJSON{
			Signal:         p.Signal,
			SubscriptionID: p.SubscriptionID,
			Reason:         p.Reason,
		})
	}
	type preview ChangePreview
	out := preview(p)
	out.Reason = ""
	return json.Marshal(out)
}

// ProviderReceipt is the gateway's proof that a change was applied
type ProviderReceipt struct {
	ID        string      `json:"id"`
	Action    ActionKind  `json:"action"`
	Amount    money.Money `json:"amount"`
	CreatedAt time.Time   `json:"created_at"`
}

// ProviderMeta identifies the gateway that handled a commit
type ProviderMeta struct {
	Name      string `json:"name"`
	Reference string `json:"reference,omitempty"`
	Replayed  bool   `json:"replayed,omitempty"`
}

// ChangeResult is the outcome of one commit attempt
type ChangeResult struct {
	Signal           SignalKind       `json:"signal"`
	Status           StatusKind       `json:"status"`
	CommitDescriptor CommitDescriptor `json:"commit_descriptor"`
	Receipt          *ProviderReceipt `json:"receipt,omitempty"`
	Provider         *ProviderMeta    `json:"provider,omitempty"`
	Message          string           `json:"message,omitempty"`
}

// SubscriptionPreviewResult wraps a preview for a subscription
type SubscriptionPreviewResult struct {
	SubscriptionID string         `json:"subscription_id"`
	Enabled        bool           `json:"enabled"`
	Reason         string         `json:"reason,omitempty"`
	Preview        *ChangePreview `json:"preview,omitempty"`
}

// NewSubscriptionPreviewResult wraps preview
func NewSubscriptionPreviewResult(subscriptionID string, preview *ChangePreview) SubscriptionPreviewResult {
	return SubscriptionPreviewResult{
		SubscriptionID: subscriptionID,
		Enabled:        preview.Enabled,
		Reason:         preview.Reason,
		Preview:        preview,
	}
}

// MarshalJSON keeps reason for disabled results and drops the nested preview
func (r SubscriptionPreviewResult) MarshalJSON() ([]byte, error) {
	if !r.Enabled {
		return json.Marshal(struct {
			SubscriptionID string `json:"subscription_id"`
			Enabled        bool   `json:"enabled"`
			Reason         string `json:"reason"`
		}{r.SubscriptionID, false, r.Reason})
	}
	type result SubscriptionPreviewResult
	out := result(r)
	out.Reason = ""
	return json.Marshal(out)
}

// ItemState is the persisted form of a subscription item, referencing its price by ID
type ItemState struct {
	ID       string `json:"id"`
	PriceID  string `json:"price_id"`
	Quantity int64  `json:"quantity"`
}

// SubscriptionState is the persisted or client supplied form of a subscription
type SubscriptionState struct {
	ID            string      `json:"id"`
	Currency      string      `json:"currency"`
	Items         []ItemState `json:"items"`
	CreditBalance int64       `json:"credit_balance,omitempty"`
}
