package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rustyeddy/tradekeeper/account"
	"github.com/rustyeddy/tradekeeper/config"
	"github.com/rustyeddy/tradekeeper/journal"
	"github.com/rustyeddy/tradekeeper/logging"
)

var rootCmd = &cobra.Command{
	Use:   "trader",
	Short: "Reconcile broker fills into a trade ledger and gate new entries",
	Long: `Trader keeps the books for one or more broker accounts.

It provides tools for:
  - Rebuilding open positions from the broker's fill history
  - Recording every closed position in an append-only trade ledger
  - Querying, summarising and exporting the ledger
  - Sizing and admitting new entries against account risk limits
  - Running reconciliation on a schedule behind a small HTTP API`,
	SilenceUsage: true,
}

var (
	configPath string
	logLevel   string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "trader.yaml", "path to config file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level from the config")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// setup loads the config and builds the logger every command shares.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, log, nil
}

// selectAccounts narrows cfg to account id. An empty id keeps every
// account.
func selectAccounts(cfg *config.Config, id string) (*config.Config, error) {
	if id == "" {
		return cfg, nil
	}
	ac, ok := cfg.Account(id)
	if !ok {
		return nil, fmt.Errorf("unknown account %q", id)
	}
	sub := *cfg
	sub.Accounts = []config.AccountConfig{ac}
	return &sub, nil
}

// accountConfig resolves the single account a command works on. The id may
// be omitted when only one account is configured.
func accountConfig(cfg *config.Config, id string) (config.AccountConfig, error) {
	if id == "" {
		if len(cfg.Accounts) != 1 {
			return config.AccountConfig{}, fmt.Errorf("--account is required with %d accounts configured", len(cfg.Accounts))
		}
		return cfg.Accounts[0], nil
	}
	ac, ok := cfg.Account(id)
	if !ok {
		return config.AccountConfig{}, fmt.Errorf("unknown account %q", id)
	}
	return ac, nil
}

func openAccount(cfg *config.Config, id string, log *zap.Logger) (*account.Account, error) {
	ac, err := accountConfig(cfg, id)
	if err != nil {
		return nil, err
	}
	shared, err := account.NewShared(cfg, log)
	if err != nil {
		return nil, err
	}
	return account.Open(cfg, ac, shared)
}

func openLedger(cfg *config.Config, id string, log *zap.Logger) (*journal.Ledger, error) {
	ac, err := accountConfig(cfg, id)
	if err != nil {
		return nil, err
	}
	store, err := journal.OpenStore(ac.Journal.Type, ac.Journal.Path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return journal.NewLedger(store, log.With(zap.String("account", ac.ID))), nil
}

func closeAll(accts []*account.Account) {
	for _, a := range accts {
		_ = a.Close()
	}
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
