package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/tariff/pkg/billing"
)

// intentFlags builds a change intent from command line flags
type intentFlags struct {
	subscriptionPath string
	signal           string
	itemID           string
	targetPriceID    string
	quantityDelta    int64
	creditsDelta     int64
	effectiveAt      string
}

func (f *intentFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.subscriptionPath, "subscription", "", "subscription state JSON file")
	flags.StringVar(&f.signal, "signal", "", "change_price, change_quantity, add_item, remove_item or add_credits")
	flags.StringVar(&f.itemID, "item", "", "subscription item id")
	flags.StringVar(&f.targetPriceID, "price", "", "target price id")
	flags.Int64Var(&f.quantityDelta, "quantity-delta", 0, "quantity change")
	flags.Int64Var(&f.creditsDelta, "credits-delta", 0, "credits to add")
	flags.StringVar(&f.effectiveAt, "effective-at", "", "effective time (RFC 3339)")
}

func (f *intentFlags) intent(cmd *cobra.Command) (billing.ChangeIntent, error) {
	intent := billing.ChangeIntent{
		Signal:             billing.SignalKind(f.signal),
		SubscriptionItemID: f.itemID,
		TargetPriceID:      f.targetPriceID,
	}
	if f.signal == "" {
		return intent, fmt.Errorf("--signal is required")
	}
	if cmd.Flags().Changed("quantity-delta") {
		v := f.quantityDelta
		intent.QuantityDelta = &v
	}
	if cmd.Flags().Changed("credits-delta") {
		v := f.creditsDelta
		intent.CreditsDelta = &v
	}
	if f.effectiveAt != "" {
		at, err := time.Parse(time.RFC3339, f.effectiveAt)
		if err != nil {
			return intent, fmt.Errorf("invalid --effective-at: %w", err)
		}
		at = at.UTC()
		intent.EffectiveAt = &at
	}
	return intent, nil
}

func loadSubscription(path string) (billing.SubscriptionState, error) {
	var state billing.SubscriptionState
	if path == "" {
		return state, fmt.Errorf("--subscription is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return state, fmt.Errorf("failed to read subscription: %w", err)
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return state, fmt.Errorf("invalid subscription file %s: %w", path, err)
	}
	return state, nil
}

// plan loads the catalog and subscription and plans the intent given by flags
func (a *app) plan(ctx context.Context, cmd *cobra.Command, f *intentFlags) (*billing.ChangePreview, error) {
	intent, err := f.intent(cmd)
	if err != nil {
		return nil, err
	}
	state, err := loadSubscription(f.subscriptionPath)
	if err != nil {
		return nil, err
	}
	c, err := a.loadCatalog()
	if err != nil {
		return nil, err
	}

	current, err := state.Resolve(ctx, c)
	if err != nil {
		return nil, err
	}
	signer, err := a.signer()
	if err != nil {
		return nil, err
	}
	return billing.NewPlanner(c, billing.PlannerConfig{Signer: signer}).Plan(ctx, current, intent)
}

func newPreviewCommand(a *app) *cobra.Command {
	f := &intentFlags{}
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Preview a subscription change",
		Example: `  tariff-cli preview --subscription sub.json --signal change_quantity --item si_seats --quantity-delta 5
  tariff-cli preview --subscription sub.json --signal add_credits --price price_credits --credits-delta 250 -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			preview, err := a.plan(cmd.Context(), cmd, f)
			if err != nil {
				return err
			}
			a.log.WithField("enabled", preview.Enabled).Debug("change planned")

			if a.format == FormatJSON {
				return printJSON(cmd.OutOrStdout(), billing.NewSubscriptionPreviewResult(preview.SubscriptionID, preview))
			}
			printPreview(cmd.OutOrStdout(), preview)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func printPreview(w io.Writer, p *billing.ChangePreview) {
	if !p.Enabled {
		fmt.Fprintf(w, "%s on %s: disabled (%s)\n", p.Signal, p.SubscriptionID, p.Reason)
		return
	}

	fmt.Fprintf(w, "%s on %s\n", p.Signal, p.SubscriptionID)
	for _, line := range p.Lines {
		label := line.PriceID
		if line.SubscriptionItemID != "" {
			label = line.SubscriptionItemID + " " + label
		}
		fmt.Fprintf(w, "  %s: %d -> %d units, %s -> %s\n",
			label, line.QuantityBefore, line.QuantityAfter, line.AmountBefore, line.AmountAfter)
	}
	fmt.Fprintf(w, "  current %s, proposed %s, delta %s\n", p.Totals.Current, p.Totals.Proposed, p.Totals.Delta)
	for _, action := range p.Actions {
		fmt.Fprintf(w, "  action: %s %s\n", action.Type, action.Amount)
	}
	fmt.Fprintf(w, "  descriptor: %s\n", p.CommitDescriptor)
}
