package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradekeeper/journal"
	"github.com/rustyeddy/tradekeeper/reconcile"
)

var orderCmd = &cobra.Command{
	Use:   "order",
	Short: "Manage metadata of placed orders",
}

var orderTagCmd = &cobra.Command{
	Use:   "tag <order-id>",
	Short: "Attach strategy or exit metadata to an order",
	Long: `Register the metadata of an order placed outside this tool. When the
order's fills are reconciled, an entry tag supplies the trade's strategy,
confidence and risk amount, and an exit tag supplies its exit type and
reason.

Examples:
  trader order tag O-1 --symbol AAPL --role entry --strategy breakout --confidence 0.8 --risk 400
  trader order tag O-2 --symbol AAPL --role exit --exit-type EMERGENCY --reason "stop hit"`,
	Args: cobra.ExactArgs(1),
	RunE: runOrderTag,
}

var (
	tagAccount    string
	tagSymbol     string
	tagRole       string
	tagStrategy   string
	tagConfidence float64
	tagRisk       float64
	tagExitType   string
	tagReason     string
)

func init() {
	rootCmd.AddCommand(orderCmd)
	orderCmd.AddCommand(orderTagCmd)

	f := orderTagCmd.Flags()
	f.StringVarP(&tagAccount, "account", "a", "", "account the order belongs to")
	f.StringVar(&tagSymbol, "symbol", "", "order symbol (required)")
	f.StringVar(&tagRole, "role", "entry", "entry or exit")
	f.StringVar(&tagStrategy, "strategy", "", "strategy that placed the entry")
	f.Float64Var(&tagConfidence, "confidence", 0, "signal confidence in [0,1]")
	f.Float64Var(&tagRisk, "risk", 0, "planned risk amount of the entry")
	f.StringVar(&tagExitType, "exit-type", "", "PLANNED or EMERGENCY")
	f.StringVar(&tagReason, "reason", "", "exit reason")
	_ = orderTagCmd.MarkFlagRequired("symbol")
}

func runOrderTag(cmd *cobra.Command, args []string) error {
	tag := reconcile.OrderTag{
		Version:    reconcile.TagVersion,
		OrderID:    args[0],
		Symbol:     tagSymbol,
		Role:       reconcile.Role(tagRole),
		Strategy:   tagStrategy,
		Confidence: tagConfidence,
		RiskAmount: tagRisk,
		ExitReason: tagReason,
	}
	if tagExitType != "" {
		et, err := journal.ParseExitType(tagExitType)
		if err != nil {
			return err
		}
		tag.ExitType = et
	}
	if err := tag.Validate(); err != nil {
		return err
	}

	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	a, err := openAccount(cfg, tagAccount, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.RegisterOrder(tag); err != nil {
		return fmt.Errorf("register order: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Tagged %s order %s (%s)\n", tag.Role, tag.OrderID, tag.Symbol)
	return nil
}
