// Command resimport imports resource records from CSV/TSV files without the
// web UI: list resource types, download templates, check files and run
// imports against the configured target.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/ResourceImport/internal/application"
	"github.com/JonMunkholm/ResourceImport/internal/catalog"
	"github.com/JonMunkholm/ResourceImport/internal/config"
	"github.com/JonMunkholm/ResourceImport/internal/logging"
)

type rootOptions struct {
	catalogPath string
	logLevel    string
	logFormat   string
}

func main() {
	// A missing .env file is fine; flags and the environment still apply.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "resimport",
		Short:         "Import resources from CSV or TSV files",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// stdout carries command output; logs go to stderr.
			logging.SetupWriter(cmd.ErrOrStderr(), opts.logLevel, opts.logFormat)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.catalogPath, "catalog", os.Getenv("CATALOG_PATH"), "YAML catalog file (default: built-in catalogs)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "Log format: text or json")

	cmd.AddCommand(
		newTypesCmd(opts),
		newTemplateCmd(opts),
		newValidateCmd(opts),
		newImportCmd(opts),
	)
	return cmd
}

// registry loads the catalogs selected by --catalog.
func (o *rootOptions) registry() (*catalog.Registry, error) {
	return application.LoadRegistry(config.CatalogConfig{Path: o.catalogPath})
}
