package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rustyeddy/tradekeeper/account"
	"github.com/rustyeddy/tradekeeper/config"
	"github.com/rustyeddy/tradekeeper/journal"
	"github.com/rustyeddy/tradekeeper/risk"
)

// These tests drive the shared command tree and must not run in parallel.

const fills = `{"fill_id":"F-1","order_id":"O-1","symbol":"AAPL","side":"buy","quantity":"50","price":"180","filled_at_utc":"2026-01-10T09:30:00Z"}
{"fill_id":"F-2","order_id":"O-2","symbol":"AAPL","side":"sell","quantity":"50","price":"189","filled_at_utc":"2026-01-13T16:00:00Z"}
`

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// workspace writes a fill feed and a config for one replay account.
func workspace(t *testing.T) (dir, cfgPath string) {
	t.Helper()
	dir = t.TempDir()
	fillsPath := filepath.Join(dir, "fills.jsonl")
	require.NoError(t, os.WriteFile(fillsPath, []byte(fills), 0o644))

	cfg := `log:
  level: error
accounts:
  - id: paper
    state_dir: ` + filepath.Join(dir, "state") + `
    equity: 100000
    fill_source:
      type: replay
      path: ` + fillsPath + `
strategies:
  breakout:
    allows_multiple_entries: true
    max_entries_per_symbol: 3
`
	cfgPath = filepath.Join(dir, "trader.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))
	return dir, cfgPath
}

func TestConfigInitAndValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trader.yaml")

	out, err := execute(t, "config", "init", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Created default configuration")

	_, err = execute(t, "config", "init", "-o", path)
	assert.ErrorContains(t, err, "already exists")
	_, err = execute(t, "config", "init", "-o", path, "--force")
	assert.NoError(t, err)

	out, err = execute(t, "config", "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration valid")
	assert.Contains(t, out, "Account: paper")
	assert.Contains(t, out, "Strategies: breakout")

	_, err = execute(t, "config", "validate", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "validation failed")
}

func TestReconcileAndLedger(t *testing.T) {
	dir, cfg := workspace(t)

	out, err := execute(t, "-c", cfg, "reconcile")
	require.NoError(t, err)
	assert.Contains(t, out, "paper")
	assert.Contains(t, out, "recorded=1")
	assert.Contains(t, out, "open=0")

	// A second cycle over the same feed records nothing new.
	out, err = execute(t, "-c", cfg, "reconcile", "--account", "paper")
	require.NoError(t, err)
	assert.Contains(t, out, "recorded=0")

	out, err = execute(t, "-c", cfg, "ledger", "query", "--format", "json")
	require.NoError(t, err)
	var trades []journal.Trade
	require.NoError(t, json.Unmarshal([]byte(out), &trades))
	require.Len(t, trades, 1)
	tr := trades[0]
	assert.Equal(t, "450", tr.NetPnL.String())

	out, err = execute(t, "-c", cfg, "ledger", "query", "--day", "2026-01-12", "--format", "json")
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(out))

	out, err = execute(t, "-c", cfg, "ledger", "trade", tr.TradeID)
	require.NoError(t, err)
	assert.Contains(t, out, ":TRADE_ID: "+tr.TradeID)
	assert.Contains(t, out, ":PNL_PCT: 5.00")

	exported := filepath.Join(dir, "trades.csv")
	_, err = execute(t, "-c", cfg, "ledger", "export", "-o", exported)
	require.NoError(t, err)
	data, err := os.ReadFile(exported)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 2)

	// Correct the exit price; stats follow the correction.
	tr.ExitPrice = decimal.NewFromInt(190)
	body, err := json.Marshal(tr)
	require.NoError(t, err)
	fixed := filepath.Join(dir, "fixed.json")
	require.NoError(t, os.WriteFile(fixed, body, 0o644))

	out, err = execute(t, "-c", cfg, "ledger", "correct", tr.TradeID, "--file", fixed, "--note", "exit price")
	require.NoError(t, err)
	assert.Contains(t, out, "Recorded correction")

	out, err = execute(t, "-c", cfg, "ledger", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "| Trades | 1 |")
	assert.Contains(t, out, "| Net PnL | 500.00 |")

	_, err = execute(t, "-c", cfg, "ledger", "query", "--from", "last week")
	assert.ErrorContains(t, err, "--from")
}

func TestOrderTagFlowsIntoTrade(t *testing.T) {
	_, cfg := workspace(t)

	out, err := execute(t, "-c", cfg, "order", "tag", "O-1", "--symbol", "AAPL",
		"--strategy", "breakout", "--confidence", "0.7", "--risk", "250")
	require.NoError(t, err)
	assert.Contains(t, out, "Tagged entry order O-1")

	_, err = execute(t, "-c", cfg, "order", "tag", "O-2", "--symbol", "AAPL",
		"--role", "exit", "--exit-type", "emergency", "--reason", "stop hit")
	require.NoError(t, err)

	_, err = execute(t, "-c", cfg, "order", "tag", "O-3", "--symbol", "AAPL", "--confidence", "2")
	assert.ErrorContains(t, err, "confidence")

	_, err = execute(t, "-c", cfg, "reconcile")
	require.NoError(t, err)

	out, err = execute(t, "-c", cfg, "ledger", "query", "--format", "json", "--exit-type", "EMERGENCY")
	require.NoError(t, err)
	var trades []journal.Trade
	require.NoError(t, json.Unmarshal([]byte(out), &trades))
	require.Len(t, trades, 1)
	assert.Equal(t, "breakout", trades[0].Strategy)
	assert.Equal(t, 0.7, trades[0].Confidence)
	assert.Equal(t, 250.0, trades[0].RiskAmount)
	assert.Equal(t, "stop hit", trades[0].ExitReason)
}

func TestAdmit(t *testing.T) {
	dir, cfg := workspace(t)

	proposal := filepath.Join(dir, "proposal.json")
	require.NoError(t, os.WriteFile(proposal, []byte(`{
  "symbol": "AAPL", "side": "buy", "price": 100, "stop_price": 95,
  "strategy": "breakout", "confidence": 1, "meta": {"version": 1}
}`), 0o644))

	out, err := execute(t, "-c", cfg, "admit", "--proposal", proposal)
	require.NoError(t, err)
	var d risk.Decision
	require.NoError(t, json.Unmarshal([]byte(out), &d))
	assert.Equal(t, risk.Approve, d.Status, d.ReasonText)
	assert.InDelta(t, 100.0, d.PositionSize, 1e-9)
	assert.NotEmpty(t, d.OrderID)

	_, err = execute(t, "-c", cfg, "admit")
	assert.Error(t, err, "--proposal is required")

	candles := filepath.Join(dir, "aapl.csv")
	require.NoError(t, os.WriteFile(candles, []byte(`time,open,high,low,close
2026-01-12T14:30:00Z,99,101,98,100
2026-01-12T15:30:00Z,100,102,99,101
`), 0o644))
	proposal2 := strings.Replace(proposal, "proposal.json", "proposal2.json", 1)
	require.NoError(t, os.WriteFile(proposal2, []byte(`{
  "order_id": "O-20", "symbol": "MSFT", "side": "buy", "price": 100, "stop_price": 95,
  "strategy": "breakout", "confidence": 1, "meta": {"version": 1}
}`), 0o644))
	out, err = execute(t, "-c", cfg, "admit", "-p", proposal2, "--candles", candles)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &d))
	assert.Equal(t, risk.Approve, d.Status, d.ReasonText)

	_, err = execute(t, "-c", cfg, "admit", "-p", proposal2, "--candles", filepath.Join(dir, "none.csv"))
	assert.Error(t, err)
}

func TestUnknownAccount(t *testing.T) {
	_, cfg := workspace(t)

	_, err := execute(t, "-c", cfg, "reconcile", "--account", "live")
	assert.ErrorContains(t, err, `unknown account "live"`)

	_, err = execute(t, "-c", cfg, "ledger", "stats", "--account", "live")
	assert.ErrorContains(t, err, `unknown account "live"`)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "trader version "+version)
}

func TestScheduleRejectsBadSpec(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Accounts[0].StateDir = dir
	cfg.Accounts[0].Journal.Path = filepath.Join(dir, "trades.jsonl")

	accts, err := account.OpenAll(cfg, nil)
	require.NoError(t, err)
	defer closeAll(accts)

	runner, err := schedule(context.Background(), cfg, accts, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1, runner.Entries())

	cfg.Accounts[0].Reconcile.Schedule = "every now and then"
	_, err = schedule(context.Background(), cfg, accts, zap.NewNop())
	assert.ErrorContains(t, err, "account paper: schedule")
}
