package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/tradekeeper/account"
	"github.com/rustyeddy/tradekeeper/config"
	"github.com/rustyeddy/tradekeeper/scheduler"
	"github.com/rustyeddy/tradekeeper/server"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Reconcile every account on its schedule",
	Long: `Run reconciliation for every configured account on its cron schedule
(reconcile.schedule, default "@every 5m") until interrupted.

A cycle that fails is logged and retried on the next tick. With --serve the
HTTP API is started alongside the scheduler.

Example:
  trader run -c trader.yaml --serve`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var (
	runServe       bool
	runSkipInitial bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runServe, "serve", false, "also serve the HTTP API on server.addr")
	runCmd.Flags().BoolVar(&runSkipInitial, "skip-initial", false, "wait for the first tick instead of reconciling at start")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	accts, err := account.OpenAll(cfg, log)
	if err != nil {
		return err
	}
	defer closeAll(accts)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner, err := schedule(ctx, cfg, accts, log)
	if err != nil {
		return err
	}

	if !runSkipInitial {
		if _, err := reconcileAll(ctx, accts); err != nil {
			log.Warn("initial reconcile failed", zap.Error(err))
		}
	}

	runner.Start()
	defer runner.Stop()

	g, gctx := errgroup.WithContext(ctx)
	if runServe {
		srv := newServer(cfg, accts, log)
		g.Go(func() error { return srv.Run(gctx, cfg.Server.Addr) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	return g.Wait()
}

func schedule(ctx context.Context, cfg *config.Config, accts []*account.Account, log *zap.Logger) (*scheduler.Runner, error) {
	runner := scheduler.New(ctx, log)
	for _, a := range accts {
		ac, _ := cfg.Account(a.ID())
		if _, err := runner.Add(ac.Reconcile.Schedule, scheduledReconcile(log, a)); err != nil {
			return nil, fmt.Errorf("account %s: schedule %q: %w", a.ID(), ac.Reconcile.Schedule, err)
		}
		log.Info("reconcile scheduled", zap.String("account", a.ID()), zap.String("schedule", ac.Reconcile.Schedule))
	}
	return runner, nil
}

func newServer(cfg *config.Config, accts []*account.Account, log *zap.Logger) *server.Server {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	return server.New(accts, log)
}
