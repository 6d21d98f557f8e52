package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradekeeper/account"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API without scheduled reconciliation",
	Long: `Serve positions, the ledger and admission over HTTP on server.addr.
Reconciliation runs only when requested through the API.

Example:
  trader serve -c trader.yaml`,
	Args: cobra.NoArgs,
	RunE: runServeCmd,
}

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default server.addr)")
}

func runServeCmd(cmd *cobra.Command, args []string) error {
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

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newServer(cfg, accts, log).Run(ctx, addr)
}
