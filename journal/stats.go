package journal

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type ExitTypeStats struct {
	Count     int             `json:"count"`
	Wins      int             `json:"wins"`
	WinRate   float64         `json:"win_rate"`
	AvgPnLPct decimal.Decimal `json:"avg_pnl_pct"`
}

// AggregateStats summarises a set of trades. ProfitFactor is zero when there
// are no losing trades.
type AggregateStats struct {
	Count        int                        `json:"count"`
	Wins         int                        `json:"wins"`
	Losses       int                        `json:"losses"`
	WinRate      float64                    `json:"win_rate"`
	AvgPnLPct    decimal.Decimal            `json:"avg_pnl_pct"`
	MedianPnLPct decimal.Decimal            `json:"median_pnl_pct"`
	TotalNetPnL  decimal.Decimal            `json:"total_net_pnl"`
	GrossProfit  decimal.Decimal            `json:"gross_profit"`
	GrossLoss    decimal.Decimal            `json:"gross_loss"`
	ProfitFactor decimal.Decimal            `json:"profit_factor"`
	AvgHolding   Duration                   `json:"avg_holding_duration"`
	ByExitType   map[ExitType]ExitTypeStats `json:"by_exit_type"`
}

func ComputeStats(trades []Trade) AggregateStats {
	st := AggregateStats{ByExitType: make(map[ExitType]ExitTypeStats)}
	if len(trades) == 0 {
		return st
	}

	var (
		sumPct  decimal.Decimal
		holding time.Duration
		pcts    = make([]decimal.Decimal, 0, len(trades))
		byType  = make(map[ExitType]decimal.Decimal)
	)
	for _, t := range trades {
		st.Count++
		switch {
		case t.IsWin():
			st.Wins++
			st.GrossProfit = st.GrossProfit.Add(t.NetPnL)
		case t.IsLoss():
			st.Losses++
			st.GrossLoss = st.GrossLoss.Add(t.NetPnL.Neg())
		}
		st.TotalNetPnL = st.TotalNetPnL.Add(t.NetPnL)
		sumPct = sumPct.Add(t.PnLPct)
		pcts = append(pcts, t.PnLPct)
		holding += t.Holding()

		et := st.ByExitType[t.ExitType]
		et.Count++
		if t.IsWin() {
			et.Wins++
		}
		st.ByExitType[t.ExitType] = et
		byType[t.ExitType] = byType[t.ExitType].Add(t.PnLPct)
	}

	n := decimal.NewFromInt(int64(st.Count))
	st.WinRate = float64(st.Wins) / float64(st.Count)
	st.AvgPnLPct = sumPct.DivRound(n, 6)
	st.MedianPnLPct = median(pcts)
	st.AvgHolding = Duration(holding / time.Duration(st.Count))
	if st.GrossLoss.IsPositive() {
		st.ProfitFactor = st.GrossProfit.DivRound(st.GrossLoss, 6)
	}

	for k, et := range st.ByExitType {
		et.WinRate = float64(et.Wins) / float64(et.Count)
		et.AvgPnLPct = byType[k].DivRound(decimal.NewFromInt(int64(et.Count)), 6)
		st.ByExitType[k] = et
	}
	return st
}

func median(vs []decimal.Decimal) decimal.Decimal {
	sort.Slice(vs, func(i, j int) bool { return vs[i].LessThan(vs[j]) })
	mid := len(vs) / 2
	if len(vs)%2 == 1 {
		return vs[mid]
	}
	return vs[mid-1].Add(vs[mid]).Div(decimal.NewFromInt(2))
}

// AccountStats feeds the admission kill switches and daily caps. Daily
// figures cover the UTC calendar day of the evaluation time.
type AccountStats struct {
	ConsecutiveLosses int             `json:"consecutive_losses"`
	DailyRealizedPnL  decimal.Decimal `json:"daily_realized_pnl"`
	DailyExits        int             `json:"daily_exits"`
	DailyEntries      int             `json:"daily_entries"`
}

// ComputeAccountStats expects trades ordered by exit time.
func ComputeAccountStats(trades []Trade, now time.Time) AccountStats {
	var st AccountStats
	day := now.UTC().Truncate(24 * time.Hour)
	next := day.Add(24 * time.Hour)

	inDay := func(t time.Time) bool {
		return !t.Before(day) && t.Before(next)
	}

	for _, t := range trades {
		if inDay(t.ExitTime) {
			st.DailyRealizedPnL = st.DailyRealizedPnL.Add(t.NetPnL)
			st.DailyExits++
		}
		if inDay(t.EntryTime) {
			st.DailyEntries++
		}
	}

	for i := len(trades) - 1; i >= 0; i-- {
		if !trades[i].IsLoss() {
			break
		}
		st.ConsecutiveLosses++
	}
	return st
}
