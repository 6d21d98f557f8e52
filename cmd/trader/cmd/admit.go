package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradekeeper/market"
	"github.com/rustyeddy/tradekeeper/risk"
)

var admitCmd = &cobra.Command{
	Use:   "admit",
	Short: "Evaluate an entry proposal against the account's risk limits",
	Long: `Size a proposed entry and decide whether it may be placed. The decision
(APPROVE, SKIP or BLOCK with a reason code) is printed as JSON.

The context is built from the reconciled positions, the ledger and, for
REST brokers, the broker's account, positions and open orders.

Example proposal:
  {"symbol": "AAPL", "side": "buy", "price": 182.5, "stop_price": 178,
   "strategy": "breakout", "confidence": 0.8, "meta": {"version": 1}}

Market structure (ATR, volatility, excursion since the last entry) can be
given as JSON with --market, derived from a bar file with --candles, or
both. Values in the JSON file take precedence.

Examples:
  trader admit --account paper --proposal proposal.json
  trader admit -p proposal.json --candles aapl_1h.csv`,
	Args: cobra.NoArgs,
	RunE: runAdmit,
}

var (
	admitAccount  string
	admitProposal string
	admitMarket   string
	admitCandles  string
)

func init() {
	rootCmd.AddCommand(admitCmd)
	admitCmd.Flags().StringVarP(&admitAccount, "account", "a", "", "account to admit against")
	admitCmd.Flags().StringVarP(&admitProposal, "proposal", "p", "", "proposal JSON file (required)")
	admitCmd.Flags().StringVarP(&admitMarket, "market", "m", "", "market structure JSON file (atr, volatility, ...)")
	admitCmd.Flags().StringVar(&admitCandles, "candles", "", "bar file (time,open,high,low,close) to derive market structure from")
	_ = admitCmd.MarkFlagRequired("proposal")
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func runAdmit(cmd *cobra.Command, args []string) error {
	var p risk.Proposal
	if err := readJSONFile(admitProposal, &p); err != nil {
		return err
	}
	var mkt risk.Market
	if admitMarket != "" {
		if err := readJSONFile(admitMarket, &mkt); err != nil {
			return err
		}
	}

	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	a, err := openAccount(cfg, admitAccount, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if admitCandles != "" {
		candles, err := market.LoadCandles(admitCandles)
		if err != nil {
			return err
		}
		if mkt, err = a.MarketFromCandles(p.Symbol, candles, mkt); err != nil {
			return err
		}
	}

	d, err := a.Admit(cmd.Context(), p, mkt)
	if err != nil {
		return fmt.Errorf("admission: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), d)
}
