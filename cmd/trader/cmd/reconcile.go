package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/tradekeeper/account"
	"github.com/rustyeddy/tradekeeper/reconcile"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one reconciliation cycle",
	Long: `Fetch recent fills from each account's broker feed, rebuild open
positions and record every closed position in the ledger.

Accounts are reconciled in parallel. The command fails if any account's
cycle failed; the state of a failed account is left as it was.

Examples:
  trader reconcile
  trader reconcile --account paper`,
	Args: cobra.NoArgs,
	RunE: runReconcile,
}

var reconcileAccount string

func init() {
	rootCmd.AddCommand(reconcileCmd)
	reconcileCmd.Flags().StringVarP(&reconcileAccount, "account", "a", "", "reconcile only this account")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg, err = selectAccounts(cfg, reconcileAccount)
	if err != nil {
		return err
	}
	accts, err := account.OpenAll(cfg, log)
	if err != nil {
		return err
	}
	defer closeAll(accts)

	results, err := reconcileAll(cmd.Context(), accts)
	out := cmd.OutOrStdout()
	for _, res := range results {
		printResult(out, res)
	}
	return err
}

// reconcileAll runs one cycle per account concurrently. A failing account
// does not cancel the others; the errors are joined.
func reconcileAll(ctx context.Context, accts []*account.Account) ([]reconcile.Result, error) {
	results := make([]reconcile.Result, len(accts))
	errs := make([]error, len(accts))

	var g errgroup.Group
	for i, a := range accts {
		g.Go(func() error {
			res, err := a.Reconcile(ctx)
			res.Account = a.ID()
			results[i] = res
			if err != nil {
				errs[i] = fmt.Errorf("account %s: %w", a.ID(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}

// scheduledReconcile is the cron job body. Failures are already logged by
// the engine and the next tick retries.
func scheduledReconcile(log *zap.Logger, a *account.Account) func(context.Context) {
	return func(ctx context.Context) {
		if _, err := a.Reconcile(ctx); errors.Is(err, reconcile.ErrCycleInProgress) {
			log.Warn("reconcile skipped", zap.String("account", a.ID()), zap.Error(err))
		}
	}
}

func printResult(w io.Writer, res reconcile.Result) {
	degraded := ""
	if res.LedgerDegraded {
		degraded = " ledger_degraded"
	}
	fmt.Fprintf(w, "%-12s %-6s fetched=%d applied=%d duplicates=%d stale=%d closed=%d corrected=%d recorded=%d open=%d%s\n",
		res.Account, res.Status, res.Fetched, res.Applied, res.Duplicates, res.Stale,
		res.Closed, res.Corrected, res.Recorded, len(res.Positions), degraded)
}
