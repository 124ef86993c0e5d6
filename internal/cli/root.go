// Package cli implements scrapctl, the operator tool for the settlement
// engines.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ScrapCrafters/scrap_layer/internal/app"
	"github.com/ScrapCrafters/scrap_layer/internal/config"
	"github.com/ScrapCrafters/scrap_layer/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	EnvFile string
	Format  string // "json" | "text"
	Verbose bool

	// open builds the application; tests replace it with an in-memory one.
	open func(ctx context.Context, opts *RootOptions) (*app.Application, func() error, error)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the scrapctl root command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{open: openApplication})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrapctl",
		Short: "Operate the ScrapCrafters settlement engines",
		Long: `scrapctl runs maintenance tasks against the settlement store:
schema migrations, balance reconciliation, payment retries, demo
profiles and the material multiplier table.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:      true,
		SilenceErrors:     true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env", ".env", "optional .env file")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewPaymentsCommand(opts))
	cmd.AddCommand(NewMaterialsCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewCompletionCommand())

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func (o *RootOptions) logger() *logging.Logger {
	level := "warn"
	if o.Verbose {
		level = "debug"
	}
	return logging.NewWithConfig("scrapctl", logging.Config{Level: level, Format: "text", Output: "stderr"})
}

// openApplication connects the configured backends without the background
// retrier.
func openApplication(ctx context.Context, opts *RootOptions) (*app.Application, func() error, error) {
	cfg, err := config.Load(opts.EnvFile)
	if err != nil {
		return nil, nil, err
	}
	log := opts.logger()

	backends, err := app.OpenBackends(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	appOpts, err := app.OptionsFromConfig(cfg, false)
	if err != nil {
		_ = backends.Close()
		return nil, nil, err
	}
	application, err := app.New(backends.Stores, appOpts, log)
	if err != nil {
		_ = backends.Close()
		return nil, nil, err
	}
	return application, backends.Close, nil
}
