package billing

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// CommitDescriptor is the idempotency key of a preview. It is an HMAC of the
// preview content under a server secret, so only a signer holding that
// secret can mint one.
type CommitDescriptor string

const descriptorPrefix = "cd_"

// MinDescriptorSecretLen is the shortest secret NewDescriptorSigner accepts
const MinDescriptorSecretLen = 16

// Valid reports whether d has the descriptor shape
func (d CommitDescriptor) Valid() bool {
	s := string(d)
	if !strings.HasPrefix(s, descriptorPrefix) || len(s) != len(descriptorPrefix)+sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s[len(descriptorPrefix):])
	return err == nil
}

func (d CommitDescriptor) String() string {
	return string(d)
}

// descriptorInput fixes the field order hashed into a descriptor
type descriptorInput struct {
	Version        int         `json:"v"`
	SubscriptionID string      `json:"subscription_id"`
	Signal         SignalKind  `json:"signal"`
	ItemID         string      `json:"item_id"`
	TargetPriceID  string      `json:"target_price_id"`
	Quantity       int64       `json:"quantity"`
	DeltaCents     int64       `json:"delta_cents"`
	Currency       string      `json:"currency"`
	EffectiveAt    string      `json:"effective_at"`
	Operations     []Operation `json:"operations"`
	State          string      `json:"state"`
}

// DescriptorSigner mints and verifies commit descriptors. Planners and
// committers that exchange previews must share the same secret.
type DescriptorSigner struct {
	key []byte
}

// NewDescriptorSigner creates a signer keyed by secret
func NewDescriptorSigner(secret string) (*DescriptorSigner, error) {
	if len(secret) < MinDescriptorSecretLen {
		return nil, fmt.Errorf("descriptor secret must be at least %d bytes", MinDescriptorSecretLen)
	}
	return &DescriptorSigner{key: []byte(secret)}, nil
}

// NewEphemeralDescriptorSigner creates a signer with a random key. Its
// descriptors only verify within the current process.
func NewEphemeralDescriptorSigner() *DescriptorSigner {
	key := make([]byte, sha256.Size)
	if _, err := rand.Read(key); err != nil {
		panic(fmt.Sprintf("billing: failed to generate descriptor key: %v", err))
	}
	return &DescriptorSigner{key: key}
}

var (
	processSignerOnce sync.Once
	processSigner     *DescriptorSigner
)

// defaultSigner is shared by planners and committers built without a signer
func defaultSigner() *DescriptorSigner {
	processSignerOnce.Do(func() {
		processSigner = NewEphemeralDescriptorSigner()
	})
	return processSigner
}

// Compute derives the descriptor of an enabled preview from its target
// state, delta, operations and the fingerprint of the state it was planned
// against. Identical previews always produce the same descriptor.
func (s *DescriptorSigner) Compute(p *ChangePreview) (CommitDescriptor, error) {
	if p == nil || p.Effective == nil || p.Totals == nil {
		return "", fmt.Errorf("%w: preview has no computed state", ErrInvalidState)
	}

	in := descriptorInput{
		Version:        2,
		SubscriptionID: p.SubscriptionID,
		Signal:         p.Signal,
		ItemID:         p.Effective.SubscriptionItemID,
		TargetPriceID:  p.Effective.PriceID,
		Quantity:       p.Effective.Quantity,
		DeltaCents:     p.Totals.Delta.AmountCents(),
		Currency:       string(p.Totals.Delta.Currency()),
		EffectiveAt:    formatEffectiveAt(p.Effective.EffectiveAt),
		Operations:     p.Operations,
		State:          p.StateFingerprint,
	}
	if in.Operations == nil {
		in.Operations = []Operation{}
	}

	data, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("failed to encode descriptor input: %w", err)
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write(data)
	return CommitDescriptor(descriptorPrefix + hex.EncodeToString(mac.Sum(nil))), nil
}

// Verify recomputes the descriptor of p and compares it with the one it carries
func (s *DescriptorSigner) Verify(p *ChangePreview) error {
	want, err := s.Compute(p)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(want), []byte(p.CommitDescriptor)) {
		return fmt.Errorf("%w: descriptor does not match preview content", ErrInvalidState)
	}
	return nil
}

// OperationsHash identifies an ordered operation list
func OperationsHash(ops []Operation) (string, error) {
	if ops == nil {
		ops = []Operation{}
	}
	return hashJSON(ops)
}

// StateFingerprint identifies a subscription state. It changes whenever an
// item, price, quantity or the credit balance changes.
func StateFingerprint(s *SubscriptionSnapshot) (string, error) {
	type itemState struct {
		ID       string `json:"id"`
		PriceID  string `json:"price_id"`
		Quantity int64  `json:"quantity"`
	}
	items := make([]itemState, 0, len(s.Items))
	for _, it := range s.Items {
		priceID := ""
		if it.Price != nil {
			priceID = it.Price.ID
		}
		items = append(items, itemState{ID: it.ID, PriceID: priceID, Quantity: it.Quantity})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })

	sum, err := hashJSON(struct {
		ID            string      `json:"id"`
		Currency      string      `json:"currency"`
		Items         []itemState `json:"items"`
		CreditBalance int64       `json:"credit_balance"`
	}{s.ID, string(s.Currency), items, s.CreditBalance})
	if err != nil {
		return "", err
	}
	return sum[:32], nil
}

func formatEffectiveAt(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func hashJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode descriptor input: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
