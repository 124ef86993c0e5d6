package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ScrapCrafters/scrap_layer/services/industry"
)

// NewPaymentsCommand creates the payments command group.
func NewPaymentsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payments",
		Short: "Inspect and settle deferred dealer payments",
	}
	cmd.AddCommand(newPaymentsListCommand(rootOpts))
	cmd.AddCommand(newPaymentsRetryCommand(rootOpts))
	return cmd
}

func newPaymentsListCommand(rootOpts *RootOptions) *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List payment tasks",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutput(rootOpts, cmd.OutOrStdout())
			ctx := cmd.Context()

			application, closeFn, err := rootOpts.open(ctx, rootOpts)
			if err != nil {
				return out.Fail(ExitCommandError, "open store", err)
			}
			defer closeFn()

			tasks, err := application.Industry.ListPayments(ctx, industry.PaymentFilter{
				Status: industry.PaymentStatus(status),
				Limit:  limit,
			})
			if err != nil {
				return out.Fail(ExitCommandError, "list payments", err)
			}
			if out.JSON() {
				return out.Data(tasks)
			}
			if len(tasks) == 0 {
				out.Printf("no payment tasks\n")
				return nil
			}
			for _, t := range tasks {
				out.Printf("%s %-8s dealer=%s paid=%d/%d attempts=%d\n",
					t.ID, t.Status, t.DealerID, t.AmountPaid, t.AmountOwed, t.Attempts)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending|settled|failed)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum tasks to list")
	return cmd
}

func newPaymentsRetryCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "retry [task-id]",
		Short: "Settle one payment task or sweep pending ones",
		Long: `With a task id, make one manual settlement attempt on that task.
Without one, sweep up to --limit pending tasks. Exits 1 when a sweep
leaves tasks errored.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutput(rootOpts, cmd.OutOrStdout())
			ctx := cmd.Context()

			application, closeFn, err := rootOpts.open(ctx, rootOpts)
			if err != nil {
				return out.Fail(ExitCommandError, "open store", err)
			}
			defer closeFn()

			if len(args) == 1 {
				res, err := application.Industry.SettlePayment(ctx, args[0])
				if err != nil {
					return out.Fail(ExitFailure, "settle "+args[0], err)
				}
				if out.JSON() {
					return out.Data(res)
				}
				out.Mark(res.Task.Status == industry.PaymentSettled,
					fmt.Sprintf("%s transferred=%d status=%s", res.Task.ID, res.Transferred, res.Task.Status))
				return nil
			}

			sum, err := application.Industry.RetryPending(ctx, limit)
			if err != nil {
				return out.Fail(ExitCommandError, "retry pending", err)
			}
			if out.JSON() {
				if err := out.Data(sum); err != nil {
					return err
				}
			} else {
				out.Printf("scanned=%d settled=%d partial=%d skipped=%d errored=%d\n",
					sum.Scanned, sum.Settled, sum.Partial, sum.Skipped, sum.Errored)
			}
			if sum.Errored > 0 {
				return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("%d payment tasks errored", sum.Errored)}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum pending tasks per sweep")
	return cmd
}
