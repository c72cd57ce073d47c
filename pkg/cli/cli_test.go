package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tariff/pkg/billing"
	"github.com/platinummonkey/tariff/pkg/pricing"
)

const testCatalog = `
prices:
  - id: price_seats
    charge_type: graduated
    currency: USD
    tiers:
      - {up_to: 10, unit_amount: 100}
      - {up_to: 50, unit_amount: 80}
      - {up_to: null, unit_amount: 50}
  - id: price_setup
    charge_type: one_time
    currency: USD
    flat_amount: 999
  - id: price_credits
    charge_type: one_time
    currency: USD
    flat_amount: 2
`

const testSubscription = `{
  "id": "sub_123",
  "currency": "USD",
  "items": [{"id": "si_seats", "price_id": "price_seats", "quantity": 15}],
  "credit_balance": 100
}`

type fixture struct {
	dir          string
	catalog      string
	subscription string
	ledger       string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		dir:          dir,
		catalog:      filepath.Join(dir, "prices.yaml"),
		subscription: filepath.Join(dir, "sub.json"),
		ledger:       filepath.Join(dir, "ledger.db"),
	}
	require.NoError(t, os.WriteFile(f.catalog, []byte(testCatalog), 0o644))
	require.NoError(t, os.WriteFile(f.subscription, []byte(testSubscription), 0o644))
	return f
}

// run executes tariff-cli with args and returns stdout
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := NewRootCommand()
	assert.Equal(t, "tariff-cli", root.Name())

	var names []string
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	for _, want := range []string{"quote", "preview", "commit", "tiers"} {
		assert.Contains(t, names, want)
	}
}

func TestRootCommand_InvalidFlags(t *testing.T) {
	f := newFixture(t)

	_, err := run(t, "quote", "--catalog", f.catalog, "--format", "xml", "price_seats", "1")
	assert.ErrorContains(t, err, "invalid format")

	_, err = run(t, "quote", "--catalog", f.catalog, "--log-level", "loud", "price_seats", "1")
	assert.ErrorContains(t, err, "invalid log level")
}

func TestQuote(t *testing.T) {
	f := newFixture(t)

	out, err := run(t, "quote", "--catalog", f.catalog, "price_seats", "15")
	require.NoError(t, err)
	assert.Contains(t, out, "price_seats (graduated) x 15 = 14.00 USD")
	assert.Contains(t, out, "tier 1")
	assert.Contains(t, out, "tier 2")

	out, err = run(t, "quote", "--catalog", f.catalog, "-o", "json", "price_setup", "2")
	require.NoError(t, err)
	var quote map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &quote))
	assert.Equal(t, 1998.0, quote["amount"].(map[string]interface{})["amount_cents"])
}

func TestQuote_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := run(t, "quote", "--catalog", f.catalog, "price_missing", "1")
	assert.ErrorContains(t, err, "price not found")

	_, err = run(t, "quote", "--catalog", f.catalog, "price_seats", "many")
	assert.ErrorContains(t, err, "invalid quantity")

	_, err = run(t, "quote", "--catalog", f.catalog, "price_seats", "-3")
	assert.ErrorContains(t, err, "invalid quantity")
	assert.ErrorIs(t, err, pricing.ErrInvalidQuantity)

	_, err = run(t, "quote", "--catalog", filepath.Join(f.dir, "none.yaml"), "price_seats", "1")
	assert.Error(t, err)

	_, err = run(t, "quote", "--catalog", f.catalog, "price_seats")
	assert.Error(t, err)
}

func TestPreview(t *testing.T) {
	f := newFixture(t)

	out, err := run(t, "preview", "--catalog", f.catalog, "--subscription", f.subscription,
		"--signal", "change_quantity", "--item", "si_seats", "--quantity-delta", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "change_quantity on sub_123")
	assert.Contains(t, out, "si_seats price_seats: 15 -> 20 units")
	assert.Contains(t, out, "delta 4.00 USD")
	assert.Contains(t, out, "descriptor: cd_")
}

func TestPreview_JSON(t *testing.T) {
	f := newFixture(t)

	out, err := run(t, "preview", "--catalog", f.catalog, "--subscription", f.subscription,
		"--signal", "add_credits", "--price", "price_credits", "--credits-delta", "250", "-o", "json")
	require.NoError(t, err)

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, true, result["enabled"])
	assert.Equal(t, "sub_123", result["subscription_id"])
}

func TestPreview_Disabled(t *testing.T) {
	f := newFixture(t)

	out, err := run(t, "preview", "--catalog", f.catalog, "--subscription", f.subscription,
		"--signal", "remove_item", "--item", "si_missing")
	require.NoError(t, err)
	assert.Contains(t, out, "disabled (subscription item not found)")
}

func TestPreview_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := run(t, "preview", "--catalog", f.catalog, "--subscription", f.subscription)
	assert.ErrorContains(t, err, "--signal is required")

	_, err = run(t, "preview", "--catalog", f.catalog, "--signal", "add_item", "--price", "price_setup")
	assert.ErrorContains(t, err, "--subscription is required")

	_, err = run(t, "preview", "--catalog", f.catalog, "--subscription", f.subscription,
		"--signal", "add_item", "--price", "price_setup", "--effective-at", "tomorrow")
	assert.ErrorContains(t, err, "invalid --effective-at")

	bad := filepath.Join(f.dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o644))
	_, err = run(t, "preview", "--catalog", f.catalog, "--subscription", bad, "--signal", "add_item", "--price", "price_setup")
	assert.ErrorContains(t, err, "invalid subscription file")
}

func TestCommit_ReplaysFromLedger(t *testing.T) {
	f := newFixture(t)
	args := []string{"commit", "--catalog", f.catalog, "--subscription", f.subscription, "--ledger", f.ledger,
		"--signal", "change_quantity", "--item", "si_seats", "--quantity-delta", "5"}

	out, err := run(t, args...)
	require.NoError(t, err)
	assert.Contains(t, out, ": applied")
	assert.Contains(t, out, "charge 4.00 USD")
	assert.NotContains(t, out, "replayed")

	// A second process with a fresh gateway replays the ledger entry
	out, err = run(t, args...)
	require.NoError(t, err)
	assert.Contains(t, out, ": applied")
	assert.Contains(t, out, "replayed from memory")
}

func TestCommit_FromPreviewFile(t *testing.T) {
	f := newFixture(t)
	t.Setenv("TARIFF_DESCRIPTOR_SECRET", "cli-test-secret-0123456789")

	out, err := run(t, "preview", "--catalog", f.catalog, "--subscription", f.subscription,
		"--signal", "add_item", "--price", "price_setup", "--quantity-delta", "1", "-o", "json")
	require.NoError(t, err)
	previewPath := filepath.Join(f.dir, "preview.json")
	require.NoError(t, os.WriteFile(previewPath, []byte(out), 0o644))

	_, err = run(t, "commit", "--preview", previewPath, "--ledger", f.ledger,
		"--descriptor-secret", "another-secret-0123456789")
	assert.ErrorIs(t, err, billing.ErrInvalidState)

	out, err = run(t, "commit", "--preview", previewPath, "--ledger", f.ledger, "-o", "json")
	require.NoError(t, err)

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "applied", result["status"])
}

func TestCommit_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := run(t, "commit", "--catalog", f.catalog, "--subscription", f.subscription, "--ledger", f.ledger,
		"--signal", "remove_item", "--item", "si_missing")
	assert.ErrorContains(t, err, "change is disabled")

	_, err = run(t, "commit", "--catalog", f.catalog, "--subscription", f.subscription, "--ledger", f.ledger,
		"--signal", "add_item", "--price", "price_setup", "--gateway", "paypal")
	assert.ErrorContains(t, err, "unknown gateway")

	t.Setenv("TARIFF_STRIPE_API_KEY", "")
	_, err = run(t, "commit", "--catalog", f.catalog, "--subscription", f.subscription, "--ledger", f.ledger,
		"--signal", "add_item", "--price", "price_setup", "--gateway", "stripe")
	assert.ErrorContains(t, err, "stripe-key")

	t.Setenv("TARIFF_DESCRIPTOR_SECRET", "")
	_, err = run(t, "commit", "--preview", filepath.Join(f.dir, "missing.json"), "--ledger", f.ledger)
	assert.ErrorContains(t, err, "descriptor-secret")

	_, err = run(t, "commit", "--preview", filepath.Join(f.dir, "missing.json"), "--ledger", f.ledger,
		"--descriptor-secret", "cli-test-secret-0123456789")
	assert.ErrorContains(t, err, "failed to read preview")

	_, err = run(t, "commit", "--catalog", f.catalog, "--subscription", f.subscription, "--ledger", f.ledger,
		"--signal", "add_item", "--price", "price_setup", "--descriptor-secret", "short")
	assert.ErrorContains(t, err, "descriptor secret must be at least")
}

func TestTiersValidate(t *testing.T) {
	f := newFixture(t)

	out, err := run(t, "tiers", "validate", f.catalog)
	require.NoError(t, err)
	assert.Contains(t, out, "3 prices OK")
	assert.Contains(t, out, "price_credits")

	tiers := filepath.Join(f.dir, "tiers.json")
	require.NoError(t, os.WriteFile(tiers, []byte(`[{"up_to": 10, "unit_amount": 100}, {"up_to": null, "unit_amount": 80}]`), 0o644))
	out, err = run(t, "tiers", "validate", "--currency", "EUR", tiers)
	require.NoError(t, err)
	assert.Contains(t, out, "2 tiers OK")

	bad := filepath.Join(f.dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`[{"up_to": 10, "unit_amount": 100}, {"up_to": 10, "unit_amount": 80}]`), 0o644))
	_, err = run(t, "tiers", "validate", bad)
	assert.Error(t, err)

	_, err = run(t, "tiers", "validate", "--currency", "dollars", tiers)
	assert.Error(t, err)
}
