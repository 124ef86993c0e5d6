package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/ScrapCrafters/scrap_layer/internal/app"
	"github.com/ScrapCrafters/scrap_layer/internal/config"
	"github.com/ScrapCrafters/scrap_layer/internal/platform/migrations"
)

// MigrateResult lists the schema files applied.
type MigrateResult struct {
	Applied []string `json:"applied"`
	DryRun  bool     `json:"dry_run,omitempty"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	var dsn string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema",
		Long: `Apply the embedded schema files in order. Every file is idempotent,
so migrate is safe to run on each deploy. The connection string defaults
to DATABASE_URL.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, rootOpts, dsn, dryRun)
		},
	}

	cmd.Flags().StringVar(&dsn, "dsn", "", "Postgres connection string (default $DATABASE_URL)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list the files without applying them")
	return cmd
}

func runMigrate(cmd *cobra.Command, opts *RootOptions, dsn string, dryRun bool) error {
	out := newOutput(opts, cmd.OutOrStdout())

	migs, err := migrations.All()
	if err != nil {
		return out.Fail(ExitCommandError, "read migrations", err)
	}

	if dryRun {
		res := MigrateResult{DryRun: true}
		for _, m := range migs {
			res.Applied = append(res.Applied, m.Name)
		}
		if out.JSON() {
			return out.Data(res)
		}
		for _, name := range res.Applied {
			out.Printf("%s\n", name)
		}
		return nil
	}

	if dsn == "" {
		cfg, err := config.Load(opts.EnvFile)
		if err != nil {
			return out.Fail(ExitCommandError, "load config", err)
		}
		dsn = cfg.Store.PostgresDSN
	}
	if dsn == "" {
		return out.Fail(ExitCommandError, "no database", errors.New("set --dsn or DATABASE_URL"))
	}

	ctx := cmd.Context()
	db, err := app.OpenPostgres(ctx, dsn)
	if err != nil {
		return out.Fail(ExitCommandError, "connect", err)
	}
	defer db.Close()

	var bar *ProgressBar
	if !out.JSON() {
		bar = NewProgressBar(cmd.ErrOrStderr(), len(migs), "migrating")
	}
	res := MigrateResult{}
	err = migrations.ApplyEach(ctx, db, func(m migrations.Migration) {
		res.Applied = append(res.Applied, m.Name)
		if bar != nil {
			bar.Increment()
		}
	})
	if err != nil {
		return out.Fail(ExitFailure, "migrate", err)
	}
	if out.JSON() {
		return out.Data(res)
	}
	bar.Finish()
	out.Mark(true, "schema up to date")
	return nil
}
