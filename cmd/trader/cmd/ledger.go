package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradekeeper/journal"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Query the trade ledger",
	Long: `Query, summarise and export the append-only trade ledger of an account.

Subcommands:
  query   - List trades matching a filter
  stats   - Aggregate statistics for a filter
  export  - Write matching trades as csv, json, jsonl or org
  trade   - Show one trade by ID
  correct - Append a correction for a recorded trade

Filters apply to the exit timestamp. --from is inclusive and --to exclusive;
both accept YYYY-MM-DD (UTC) or RFC3339.

Examples:
  trader ledger query --symbol AAPL --from 2026-01-01
  trader ledger query --day 2026-01-13
  trader ledger stats --strategy breakout
  trader ledger export --format csv -o trades.csv
  trader ledger trade 01JH...`,
}

var ledgerQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "List trades matching a filter",
	Args:  cobra.NoArgs,
	RunE:  runLedgerQuery,
}

var ledgerStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Aggregate statistics for matching trades",
	Args:  cobra.NoArgs,
	RunE:  runLedgerStats,
}

var ledgerExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export matching trades",
	Args:  cobra.NoArgs,
	RunE:  runLedgerExport,
}

var ledgerTradeCmd = &cobra.Command{
	Use:   "trade <trade-id>",
	Short: "Show one trade",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedgerTrade,
}

var ledgerCorrectCmd = &cobra.Command{
	Use:   "correct <trade-id>",
	Short: "Append a correction for a recorded trade",
	Long: `Append a corrected copy of a trade. The original record stays in the
ledger; the correction points at it and replaces it in statistics.

The file holds the corrected trade as JSON, with the same fields the ledger
stores. Metrics are recomputed.

Example:
  trader ledger correct 01JH... --file fixed.json --note "wrong exit price"`,
	Args: cobra.ExactArgs(1),
	RunE: runLedgerCorrect,
}

var (
	ledgerAccount  string
	ledgerSymbol   string
	ledgerStrategy string
	ledgerExitType string
	ledgerFrom     string
	ledgerTo       string
	ledgerDay      string
	ledgerMinPnL   string
	ledgerMaxPnL   string
	ledgerLimit    int
	queryFormat    string
	exportFormat   string
	exportOutput   string
	correctFile    string
	correctNote    string
)

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerQueryCmd, ledgerStatsCmd, ledgerExportCmd, ledgerTradeCmd, ledgerCorrectCmd)

	pf := ledgerCmd.PersistentFlags()
	pf.StringVarP(&ledgerAccount, "account", "a", "", "account whose ledger to read")
	pf.StringVar(&ledgerSymbol, "symbol", "", "only this symbol")
	pf.StringVar(&ledgerStrategy, "strategy", "", "only this strategy")
	pf.StringVar(&ledgerExitType, "exit-type", "", "PLANNED or EMERGENCY")
	pf.StringVar(&ledgerFrom, "from", "", "exit on or after this time")
	pf.StringVar(&ledgerTo, "to", "", "exit before this time")
	pf.StringVar(&ledgerDay, "day", "", "exit on this UTC day (YYYY-MM-DD)")
	pf.StringVar(&ledgerMinPnL, "min-pnl-pct", "", "pnl_pct at least this")
	pf.StringVar(&ledgerMaxPnL, "max-pnl-pct", "", "pnl_pct at most this")
	pf.IntVar(&ledgerLimit, "limit", 0, "at most this many trades (0 = all)")

	ledgerQueryCmd.Flags().StringVarP(&queryFormat, "format", "f", "org", "output format: org, csv, json, jsonl")
	ledgerExportCmd.Flags().StringVarP(&exportFormat, "format", "f", "csv", "output format: csv, json, jsonl, org")
	ledgerExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write to this file instead of stdout")

	ledgerCorrectCmd.Flags().StringVar(&correctFile, "file", "", "corrected trade as JSON (required)")
	ledgerCorrectCmd.Flags().StringVar(&correctNote, "note", "", "reason for the correction (required)")
	_ = ledgerCorrectCmd.MarkFlagRequired("file")
	_ = ledgerCorrectCmd.MarkFlagRequired("note")
}

func ledgerFilter() (journal.Filter, error) {
	f := journal.Filter{
		Symbol:   ledgerSymbol,
		Strategy: ledgerStrategy,
		Limit:    ledgerLimit,
	}
	if ledgerExitType != "" {
		et, err := journal.ParseExitType(ledgerExitType)
		if err != nil {
			return f, err
		}
		f.ExitType = et
	}

	var err error
	if f.From, err = parseWhen(ledgerFrom); err != nil {
		return f, fmt.Errorf("--from: %w", err)
	}
	if f.To, err = parseWhen(ledgerTo); err != nil {
		return f, fmt.Errorf("--to: %w", err)
	}
	if ledgerDay != "" {
		if f.From, f.To, err = dayBounds(ledgerDay); err != nil {
			return f, fmt.Errorf("--day: %w", err)
		}
	}
	if f.MinPnLPct, err = parseDecimal(ledgerMinPnL); err != nil {
		return f, fmt.Errorf("--min-pnl-pct: %w", err)
	}
	if f.MaxPnLPct, err = parseDecimal(ledgerMaxPnL); err != nil {
		return f, fmt.Errorf("--max-pnl-pct: %w", err)
	}
	return f, nil
}

func parseWhen(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither YYYY-MM-DD nor RFC3339", s)
	}
	return t.UTC(), nil
}

func parseDecimal(s string) (*decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func dayBounds(day string) (time.Time, time.Time, error) {
	start, err := time.Parse("2006-01-02", day)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.Add(24 * time.Hour), nil
}

func runLedgerQuery(cmd *cobra.Command, args []string) error {
	return writeTrades(cmd, queryFormat, "")
}

func runLedgerExport(cmd *cobra.Command, args []string) error {
	return writeTrades(cmd, exportFormat, exportOutput)
}

func writeTrades(cmd *cobra.Command, formatName, output string) error {
	format, err := journal.ParseFormat(formatName)
	if err != nil {
		return err
	}
	f, err := ledgerFilter()
	if err != nil {
		return err
	}
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	l, err := openLedger(cfg, ledgerAccount, log)
	if err != nil {
		return err
	}
	defer l.Close()

	data, err := l.Export(cmd.Context(), f, format)
	if err != nil {
		return fmt.Errorf("query trades: %w", err)
	}
	if output == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote %s\n", output)
	return nil
}

func runLedgerStats(cmd *cobra.Command, args []string) error {
	f, err := ledgerFilter()
	if err != nil {
		return err
	}
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	l, err := openLedger(cfg, ledgerAccount, log)
	if err != nil {
		return err
	}
	defer l.Close()

	st, err := l.SummaryStats(cmd.Context(), f)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), journal.FormatStatsOrg("Ledger", st))
	return nil
}

func runLedgerTrade(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	l, err := openLedger(cfg, ledgerAccount, log)
	if err != nil {
		return err
	}
	defer l.Close()

	t, err := l.Get(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("get trade: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), journal.FormatTradeOrg(t))
	return nil
}

func runLedgerCorrect(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(correctFile)
	if err != nil {
		return err
	}
	var corrected journal.Trade
	if err := json.Unmarshal(data, &corrected); err != nil {
		return fmt.Errorf("%s: %w", correctFile, err)
	}

	cfg, log, err := setup()
	if err != nil {
		return err
	}
	l, err := openLedger(cfg, ledgerAccount, log)
	if err != nil {
		return err
	}
	defer l.Close()

	t, err := l.Correct(cmd.Context(), args[0], corrected, correctNote)
	if err != nil {
		return fmt.Errorf("correct trade: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Recorded correction %s for %s\n", t.TradeID, args[0])
	return nil
}
