package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/tariff/pkg/pricing"
)

func newQuoteCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quote PRICE_ID QUANTITY",
		Short: "Price a quantity of a catalog price",
		Example: `  tariff-cli quote price_seats 15
  tariff-cli quote --format json price_storage 42`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			quantity, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid quantity %q", args[1])
			}

			c, err := a.loadCatalog()
			if err != nil {
				return err
			}
			price, err := c.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			quote, err := pricing.QuotePrice(price, quantity)
			if err != nil {
				return fmt.Errorf("quote %s: %w", args[0], err)
			}

			if a.format == FormatJSON {
				return printJSON(cmd.OutOrStdout(), quote)
			}
			printQuote(cmd.OutOrStdout(), quote)
			return nil
		},
	}
	// Flags end at PRICE_ID so a negative QUANTITY reaches validation.
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func printQuote(w io.Writer, q *pricing.Quote) {
	fmt.Fprintf(w, "%s (%s) x %s = %s\n", q.PriceID, q.ChargeKind, strconv.FormatFloat(q.Quantity, 'f', -1, 64), q.Amount)
	for _, tier := range q.Tiers {
		ceiling := "inf"
		if tier.Ceiling != nil {
			ceiling = strconv.FormatUint(*tier.Ceiling, 10)
		}
		fmt.Fprintf(w, "  tier %d (%s-%s]: %s units, subtotal %s\n",
			tier.Index+1, tier.Floor, ceiling, tier.Quantity, tier.Subtotal)
	}
}
