package journal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeStats(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	win := mkTrade(t, "W", "AAPL", base.Add(time.Hour), "110")   // +10%
	win2 := mkTrade(t, "W2", "AAPL", base.Add(2*time.Hour), "104") // +4%
	loss := mkTrade(t, "L", "MSFT", base.Add(3*time.Hour), "95")   // -5%

	em := loss
	em.TradeID = "E"
	em.ExitType = ExitEmergency
	em.ExitPrice = d("98")
	em.ComputeMetrics() // -2%

	st := ComputeStats([]Trade{win, win2, loss, em})

	assert.Equal(t, 4, st.Count)
	assert.Equal(t, 2, st.Wins)
	assert.Equal(t, 2, st.Losses)
	assert.InDelta(t, 0.5, st.WinRate, 1e-9)
	assert.True(t, st.AvgPnLPct.Equal(d("1.75")), st.AvgPnLPct.String())
	assert.True(t, st.MedianPnLPct.Equal(d("1")), st.MedianPnLPct.String())
	assert.True(t, st.TotalNetPnL.Equal(d("70")))
	assert.True(t, st.GrossProfit.Equal(d("140")))
	assert.True(t, st.GrossLoss.Equal(d("70")))
	assert.True(t, st.ProfitFactor.Equal(d("2")))
	assert.Equal(t, 2*time.Hour, time.Duration(st.AvgHolding))

	require.Contains(t, st.ByExitType, ExitEmergency)
	assert.Equal(t, 1, st.ByExitType[ExitEmergency].Count)
	assert.True(t, st.ByExitType[ExitEmergency].AvgPnLPct.Equal(d("-2")))
	assert.Equal(t, 3, st.ByExitType[ExitPlanned].Count)
	assert.InDelta(t, 2.0/3.0, st.ByExitType[ExitPlanned].WinRate, 1e-9)
}

func TestComputeStatsEmpty(t *testing.T) {
	t.Parallel()

	st := ComputeStats(nil)
	assert.Zero(t, st.Count)
	assert.True(t, st.ProfitFactor.IsZero())
	assert.Empty(t, st.ByExitType)
}

func TestComputeStatsNoLosses(t *testing.T) {
	t.Parallel()

	st := ComputeStats([]Trade{mkTrade(t, "W", "AAPL", time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), "101")})
	assert.Equal(t, 1, st.Wins)
	assert.True(t, st.ProfitFactor.IsZero())
	assert.True(t, st.MedianPnLPct.Equal(d("1")))
}

func TestComputeAccountStatsStreak(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		prices []string
		want   int
	}{
		{"no trades", nil, 0},
		{"last trade wins", []string{"90", "110"}, 0},
		{"three in a row", []string{"110", "90", "95", "99"}, 3},
		{"breakeven breaks streak", []string{"90", "100", "90"}, 1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var trades []Trade
			for i, p := range tt.prices {
				trades = append(trades, mkTrade(t, string(rune('A'+i)), "AAPL", base.Add(time.Duration(i)*time.Hour), p))
			}
			assert.Equal(t, tt.want, ComputeAccountStats(trades, base).ConsecutiveLosses)
		})
	}
}
