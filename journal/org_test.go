package journal

import (
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTradeOrg(t *testing.T) {
	t.Parallel()

	tr, err := NewTrade(aaplTrade())
	require.NoError(t, err)
	tr.TradeID = "trade-12345678-abcd"
	tr.Strategy = "breakout"

	result := FormatTradeOrg(tr)

	assert.Contains(t, result, "** Trade: AAPL PLANNED (trade-12)")
	assert.Contains(t, result, ":PROPERTIES:")
	assert.Contains(t, result, ":TRADE_ID: trade-12345678-abcd")
	assert.Contains(t, result, ":STRATEGY: breakout")
	assert.Contains(t, result, ":ENTRY_TIME: 2026-01-10T09:30:00Z")
	assert.Contains(t, result, ":EXIT_TIME: 2026-01-13T16:00:00Z")
	assert.Contains(t, result, ":HOLDING: 78h30m0s")
	assert.Contains(t, result, ":NET_PNL: 450.00")
	assert.Contains(t, result, ":PNL_PCT: 5.00")
	assert.Contains(t, result, ":END:")
	assert.NotContains(t, result, ":CORRECTS:")

	assert.Contains(t, result, "*** Thesis")
	assert.Contains(t, result, "*** Execution")
	assert.Contains(t, result, "*** Review")
}

func TestFormatTradeOrgCorrection(t *testing.T) {
	t.Parallel()

	tr := aaplTrade()
	tr.TradeID = "short"
	tr.CorrectsTradeID = "T-ORIG"
	tr.Note = "fill price fixed"

	result := FormatTradeOrg(tr)
	assert.Contains(t, result, "(short)")
	assert.Contains(t, result, ":CORRECTS: T-ORIG")
	assert.Contains(t, result, "fill price fixed")
}

func TestFormatTradesOrgSeparates(t *testing.T) {
	t.Parallel()

	a := aaplTrade()
	b := aaplTrade()
	b.Symbol = "MSFT"

	result := FormatTradesOrg([]Trade{a, b})
	assert.Equal(t, 2, strings.Count(result, "** Trade:"))
	assert.Contains(t, result, "- \n\n\n** Trade: MSFT")
	assert.Empty(t, FormatTradesOrg(nil))
}

func TestFormatStatsOrg(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	st := ComputeStats([]Trade{
		mkTrade(t, "A", "AAPL", base, "110"),
		mkTrade(t, "B", "AAPL", base.Add(time.Hour), "95"),
	})

	out := FormatStatsOrg("Ledger summary", st)
	assert.True(t, strings.HasPrefix(out, "* Ledger summary\n"))
	assert.Contains(t, out, "| Trades | 2 |")
	assert.Contains(t, out, "| Win rate | 50.00% |")
	assert.Contains(t, out, "| Profit factor | 2.00 |")
	assert.Contains(t, out, "| PLANNED | 2 | 50.00% | 2.50 |")
}

func TestEncodeCSV(t *testing.T) {
	t.Parallel()

	tr, err := NewTrade(aaplTrade())
	require.NoError(t, err)

	out, err := Encode([]Trade{tr}, FormatCSV)
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(string(out))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, csvHeader, records[0])

	row := map[string]string{}
	for i, h := range records[0] {
		row[h] = records[1][i]
	}
	assert.Equal(t, "2026-01-10T09:30:00Z", row["entry_timestamp_utc"])
	assert.Equal(t, "78h30m0s", row["holding_duration"])
	assert.Equal(t, "5", row["pnl_pct"])
	assert.Equal(t, "PLANNED", row["exit_type"])
}

func TestEncodeEmptyJSON(t *testing.T) {
	t.Parallel()

	out, err := Encode(nil, FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(out))

	out, err = Encode(nil, FormatJSONL)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	f, err := ParseFormat("CSV")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	_, err = ParseFormat("xlsx")
	assert.Error(t, err)
}
