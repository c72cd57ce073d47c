package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/platinummonkey/tariff/pkg/billing"
	"github.com/platinummonkey/tariff/pkg/storage"
	"github.com/platinummonkey/tariff/pkg/storage/postgres"
)

// Gateways selectable with --gateway
const (
	gatewayMemory = "memory"
	gatewayStripe = "stripe"
)

type commitOptions struct {
	intentFlags

	previewPath string
	ledgerPath  string
	gateway     string
	stripeKey   string
	timeout     time.Duration
}

func newCommitCommand(a *app) *cobra.Command {
	opts := &commitOptions{}
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Commit a subscription change exactly once",
		Long: `commit plans a change (or reads a saved preview with --preview) and applies
it through the gateway. Results are recorded in a local SQLite ledger keyed by
the commit descriptor; committing the same change again replays the recorded
result.`,
		Example: `  tariff-cli commit --subscription sub.json --signal change_quantity --item si_seats --quantity-delta 5
  tariff-cli commit --preview preview.json --descriptor-secret "$SECRET" --gateway stripe`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runCommit(cmd, opts)
		},
	}
	opts.register(cmd)

	flags := cmd.Flags()
	flags.StringVar(&opts.previewPath, "preview", "", "preview JSON file produced by 'preview -o json'")
	flags.StringVar(&opts.ledgerPath, "ledger", envOr("TARIFF_SQLITE_PATH", storage.DefaultConfig().SQLitePath), "SQLite ledger file")
	flags.StringVar(&opts.gateway, "gateway", gatewayMemory, "payment gateway (memory, stripe)")
	flags.StringVar(&opts.stripeKey, "stripe-key", os.Getenv("TARIFF_STRIPE_API_KEY"), "Stripe secret key")
	flags.DurationVar(&opts.timeout, "timeout", billing.DefaultCommitTimeout, "how long to wait for the gateway")
	return cmd
}

func (a *app) runCommit(cmd *cobra.Command, opts *commitOptions) error {
	ctx := cmd.Context()

	gateway, err := opts.newGateway()
	if err != nil {
		return err
	}
	signer, err := a.signer()
	if err != nil {
		return err
	}
	if opts.previewPath != "" && signer == nil {
		return fmt.Errorf("--descriptor-secret or TARIFF_DESCRIPTOR_SECRET is required to commit a saved preview")
	}

	var preview *billing.ChangePreview
	if opts.previewPath != "" {
		preview, err = loadPreview(opts.previewPath)
	} else {
		preview, err = a.plan(ctx, cmd, &opts.intentFlags)
	}
	if err != nil {
		return err
	}
	if !preview.Enabled {
		return fmt.Errorf("change is disabled: %s", preview.Reason)
	}

	db, err := postgres.OpenSQLite(ctx, opts.ledgerPath)
	if err != nil {
		return err
	}
	defer db.Close()

	committer := billing.NewCommitter(gateway, postgres.NewResultStore(db, storage.LedgerSQLite, nil), billing.CommitterConfig{
		Timeout: opts.timeout,
		Signer:  signer,
	})
	result, err := committer.Commit(ctx, preview)
	if err != nil {
		return err
	}

	a.log.WithFields(logrus.Fields{
		"descriptor": result.CommitDescriptor,
		"status":     result.Status,
		"gateway":    gateway.Name(),
	}).Info("commit finished")

	if a.format == FormatJSON {
		if err := printJSON(cmd.OutOrStdout(), result); err != nil {
			return err
		}
	} else {
		printResult(cmd.OutOrStdout(), result)
	}

	if result.Status == billing.StatusFailed {
		return fmt.Errorf("commit failed: %s", result.Message)
	}
	return nil
}

func (o *commitOptions) newGateway() (billing.Gateway, error) {
	switch o.gateway {
	case gatewayMemory:
		return billing.NewMemoryGateway(), nil
	case gatewayStripe:
		if o.stripeKey == "" {
			return nil, fmt.Errorf("--stripe-key or TARIFF_STRIPE_API_KEY is required for the stripe gateway")
		}
		return billing.NewStripeGateway(o.stripeKey, nil), nil
	default:
		return nil, fmt.Errorf("unknown gateway %q (must be memory or stripe)", o.gateway)
	}
}

// loadPreview reads either a bare preview or the wrapped form printed by
// 'preview -o json'
func loadPreview(path string) (*billing.ChangePreview, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read preview: %w", err)
	}

	var wrapped struct {
		Preview *billing.ChangePreview `json:"preview"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Preview != nil {
		return wrapped.Preview, nil
	}

	var preview billing.ChangePreview
	if err := json.Unmarshal(data, &preview); err != nil {
		return nil, fmt.Errorf("invalid preview file %s: %w", path, err)
	}
	return &preview, nil
}

func printResult(w io.Writer, r *billing.ChangeResult) {
	fmt.Fprintf(w, "%s: %s\n", r.CommitDescriptor, r.Status)
	if r.Receipt != nil {
		fmt.Fprintf(w, "  receipt %s: %s %s\n", r.Receipt.ID, r.Receipt.Action, r.Receipt.Amount)
	}
	if r.Provider != nil && r.Provider.Replayed {
		fmt.Fprintf(w, "  replayed from %s\n", r.Provider.Name)
	}
	if r.Message != "" {
		fmt.Fprintf(w, "  %s\n", r.Message)
	}
}
