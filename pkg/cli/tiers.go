package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/tariff/pkg/catalog"
	"github.com/platinummonkey/tariff/pkg/money"
	"github.com/platinummonkey/tariff/pkg/pricing"
)

func newTiersCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tiers",
		Short: "Inspect tier configuration",
	}
	cmd.AddCommand(newTiersValidateCommand(a))
	return cmd
}

func newTiersValidateCommand(a *app) *cobra.Command {
	var currency string
	cmd := &cobra.Command{
		Use:   "validate FILE",
		Short: "Validate a catalog (.yaml) or a raw tier array (.json)",
		Example: `  tariff-cli tiers validate prices.yaml
  tariff-cli tiers validate --currency EUR tiers.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			out := cmd.OutOrStdout()

			if strings.EqualFold(filepath.Ext(path), ".json") {
				code, err := money.ParseCurrency(currency)
				if err != nil {
					return err
				}
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("failed to read tiers: %w", err)
				}
				table, err := pricing.ParseTierTable(data, code)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				a.log.WithField("file", path).Debug("tier table valid")
				fmt.Fprintf(out, "%s: %d tiers OK\n", path, table.Len())
				return nil
			}

			c, err := catalog.Load(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: %d prices OK\n", path, c.Len())
			for _, id := range c.IDs() {
				fmt.Fprintf(out, "  %s\n", id)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&currency, "currency", "USD", "currency of a raw tier array")
	return cmd
}
