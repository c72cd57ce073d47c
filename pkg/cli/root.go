package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/platinummonkey/tariff/pkg/billing"
	"github.com/platinummonkey/tariff/pkg/catalog"
)

// Output formats
const (
	FormatText = "text"
	FormatJSON = "json"
)

// app holds the state shared by every command
type app struct {
	log *logrus.Logger

	catalogPath      string
	logLevel         string
	format           string
	descriptorSecret string
}

// NewRootCommand creates the tariff-cli command tree
func NewRootCommand() *cobra.Command {
	a := &app{log: logrus.New()}

	root := &cobra.Command{
		Use:   "tariff-cli",
		Short: "Quote prices and plan subscription changes",
		Long: `tariff-cli prices quantities against a YAML price catalog, previews
subscription changes and commits them through a payment gateway.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.catalogPath, "catalog", envOr("TARIFF_CATALOG_PATH", "prices.yaml"), "price catalog file")
	flags.StringVar(&a.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	flags.StringVarP(&a.format, "format", "o", FormatText, "output format (text, json)")
	flags.StringVar(&a.descriptorSecret, "descriptor-secret", os.Getenv("TARIFF_DESCRIPTOR_SECRET"), "secret shared by preview and commit to sign commit descriptors")

	root.AddCommand(
		newQuoteCommand(a),
		newPreviewCommand(a),
		newCommitCommand(a),
		newTiersCommand(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	level, err := logrus.ParseLevel(a.logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q", a.logLevel)
	}
	a.log.SetLevel(level)
	a.log.SetOutput(cmd.ErrOrStderr())

	switch a.format {
	case FormatText, FormatJSON:
	default:
		return fmt.Errorf("invalid format %q (must be text or json)", a.format)
	}
	return nil
}

func (a *app) loadCatalog() (*catalog.Catalog, error) {
	c, err := catalog.Load(a.catalogPath)
	if err != nil {
		return nil, err
	}
	a.log.WithFields(logrus.Fields{"catalog": a.catalogPath, "prices": c.Len()}).Debug("catalog loaded")
	return c, nil
}

// signer returns the descriptor signer for --descriptor-secret, or nil for a
// per-process key
func (a *app) signer() (*billing.DescriptorSigner, error) {
	if a.descriptorSecret == "" {
		return nil, nil
	}
	return billing.NewDescriptorSigner(a.descriptorSecret)
}

// printJSON writes v as indented JSON
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
