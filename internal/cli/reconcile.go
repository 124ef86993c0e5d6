package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ScrapCrafters/scrap_layer/services/coins"
)

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile <user-id>...",
		Short: "Compare stored balances with their ledgers",
		Long: `Compare each user's stored Scrap Coin balance with the sum of their
ledger entries. Nothing is written. Exits 1 when any balance drifted.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd, rootOpts, args)
		},
	}
	return cmd
}

func runReconcile(cmd *cobra.Command, opts *RootOptions, userIDs []string) error {
	out := newOutput(opts, cmd.OutOrStdout())
	ctx := cmd.Context()

	application, closeFn, err := opts.open(ctx, opts)
	if err != nil {
		return out.Fail(ExitCommandError, "open store", err)
	}
	defer closeFn()

	results := make([]coins.Reconciliation, 0, len(userIDs))
	drifted := 0
	for _, id := range userIDs {
		rec, err := application.Coins.Reconcile(ctx, id)
		if err != nil {
			return out.Fail(ExitCommandError, "reconcile "+id, err)
		}
		if !rec.Consistent {
			drifted++
		}
		results = append(results, rec)
	}

	if out.JSON() {
		if err := out.Data(results); err != nil {
			return err
		}
	} else {
		for _, rec := range results {
			line := fmt.Sprintf("%s balance=%d ledger=%d entries=%d", rec.UserID, rec.Balance, rec.LedgerTotal, rec.Entries)
			if rec.Consistent {
				out.Mark(true, line)
			} else {
				out.Mark(false, fmt.Sprintf("%s drift=%d", line, rec.Drift))
			}
		}
	}

	if drifted > 0 {
		return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("%d of %d balances drifted", drifted, len(results))}
	}
	return nil
}
