package journal

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// FormatTradeOrg renders a trade as an Org-mode entry. Facts go in the
// PROPERTIES drawer; the narrative headings are left for the trader.
func FormatTradeOrg(t Trade) string {
	var b strings.Builder
	fmt.Fprintf(&b, "** Trade: %s %s (%s)\n", t.Symbol, t.ExitType, shortID(t.TradeID))
	b.WriteString(":PROPERTIES:\n")
	fmt.Fprintf(&b, ":TRADE_ID: %s\n", t.TradeID)
	fmt.Fprintf(&b, ":SYMBOL: %s\n", t.Symbol)
	if t.Strategy != "" {
		fmt.Fprintf(&b, ":STRATEGY: %s\n", t.Strategy)
	}
	fmt.Fprintf(&b, ":ENTRY_TIME: %s\n", t.EntryTime.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, ":ENTRY_PRICE: %s\n", t.EntryPrice.String())
	fmt.Fprintf(&b, ":QUANTITY: %s\n", t.ExitQuantity.String())
	fmt.Fprintf(&b, ":EXIT_TIME: %s\n", t.ExitTime.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, ":EXIT_PRICE: %s\n", t.ExitPrice.String())
	fmt.Fprintf(&b, ":EXIT_REASON: %s\n", t.ExitReason)
	fmt.Fprintf(&b, ":HOLDING: %s\n", t.Holding())
	fmt.Fprintf(&b, ":NET_PNL: %s\n", t.NetPnL.StringFixed(2))
	fmt.Fprintf(&b, ":PNL_PCT: %s\n", t.PnLPct.StringFixed(2))
	if t.CorrectsTradeID != "" {
		fmt.Fprintf(&b, ":CORRECTS: %s\n", t.CorrectsTradeID)
		if t.Void {
			b.WriteString(":VOID: t\n")
		}
	}
	b.WriteString(":END:\n\n")
	if t.Note != "" {
		fmt.Fprintf(&b, "%s\n\n", t.Note)
	}
	b.WriteString("*** Thesis\n- \n\n")
	b.WriteString("*** Execution\n- \n\n")
	b.WriteString("*** Review\n- \n")
	return b.String()
}

func FormatTradesOrg(trades []Trade) string {
	var b strings.Builder
	for i, t := range trades {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(FormatTradeOrg(t))
	}
	return b.String()
}

// FormatStatsOrg renders aggregate statistics as an Org heading with a
// summary table.
func FormatStatsOrg(title string, st AggregateStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "* %s\n\n", title)
	b.WriteString("| Metric | Value |\n|-\n")
	fmt.Fprintf(&b, "| Trades | %d |\n", st.Count)
	fmt.Fprintf(&b, "| Wins | %d |\n", st.Wins)
	fmt.Fprintf(&b, "| Losses | %d |\n", st.Losses)
	fmt.Fprintf(&b, "| Win rate | %.2f%% |\n", st.WinRate*100)
	fmt.Fprintf(&b, "| Avg PnL %% | %s |\n", st.AvgPnLPct.StringFixed(2))
	fmt.Fprintf(&b, "| Median PnL %% | %s |\n", st.MedianPnLPct.StringFixed(2))
	fmt.Fprintf(&b, "| Net PnL | %s |\n", st.TotalNetPnL.StringFixed(2))
	fmt.Fprintf(&b, "| Profit factor | %s |\n", st.ProfitFactor.StringFixed(2))
	fmt.Fprintf(&b, "| Avg holding | %s |\n", time.Duration(st.AvgHolding))

	if len(st.ByExitType) > 0 {
		b.WriteString("\n| Exit type | Trades | Win rate | Avg PnL % |\n|-\n")
		keys := make([]string, 0, len(st.ByExitType))
		for k := range st.ByExitType {
			keys = append(keys, string(k))
		}
		sort.Strings(keys)
		for _, k := range keys {
			et := st.ByExitType[ExitType(k)]
			fmt.Fprintf(&b, "| %s | %d | %.2f%% | %s |\n", k, et.Count, et.WinRate*100, et.AvgPnLPct.StringFixed(2))
		}
	}
	return b.String()
}

func shortID(full string) string {
	if len(full) <= 8 {
		return full
	}
	return full[:8]
}
