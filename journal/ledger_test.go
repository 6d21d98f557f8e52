package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestLedger(t *testing.T) (*Ledger, *observer.ObservedLogs) {
	t.Helper()
	s, err := OpenFileStore(filepath.Join(t.TempDir(), "trades.jsonl"))
	require.NoError(t, err)
	core, logs := observer.New(zap.DebugLevel)
	l := NewLedger(s, zap.New(core))
	t.Cleanup(func() { _ = l.Close() })
	return l, logs
}

func TestLedgerAppendAndQuery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, logs := newTestLedger(t)

	tr, err := NewTrade(aaplTrade())
	require.NoError(t, err)
	require.NoError(t, l.Append(ctx, tr))
	require.NoError(t, l.Append(ctx, tr), "duplicate append is a no-op")

	got, err := l.Query(ctx, Filter{Symbol: "AAPL"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "5", got[0].PnLPct.String())
	assert.Equal(t, 78*time.Hour+30*time.Minute, got[0].Holding())

	assert.Equal(t, 1, logs.FilterMessage("trade recorded").Len())
	assert.Equal(t, 1, logs.FilterMessage("trade already recorded").Len())
}

func TestLedgerAppendRejectsInvalid(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, _ := newTestLedger(t)

	bad := aaplTrade()
	bad.EntryTime = time.Time{}
	err := l.Append(ctx, bad)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "entry_timestamp_utc", verr.Field)

	all, err := l.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestLedgerCorrect(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, _ := newTestLedger(t)

	orig, err := NewTrade(aaplTrade())
	require.NoError(t, err)
	require.NoError(t, l.Append(ctx, orig))

	fixed := aaplTrade()
	fixed.ExitPrice = d("171")
	fixed.ExitType = ExitEmergency

	_, err = l.Correct(ctx, orig.TradeID, fixed, "")
	require.Error(t, err, "a correction needs a note")

	_, err = l.Correct(ctx, "missing", fixed, "typo")
	require.ErrorIs(t, err, ErrNotFound)

	c, err := l.Correct(ctx, orig.TradeID, fixed, "exit price was mistyped")
	require.NoError(t, err)
	assert.Equal(t, orig.TradeID, c.CorrectsTradeID)
	assert.NotEqual(t, orig.TradeID, c.TradeID)
	assert.True(t, c.NetPnL.Equal(d("-450")))

	// The original record is never rewritten.
	still, err := l.Get(ctx, orig.TradeID)
	require.NoError(t, err)
	assert.True(t, still.ExitPrice.Equal(d("189")))

	all, err := l.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	st, err := l.SummaryStats(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, st.Count, "superseded record is left out of stats")
	assert.Equal(t, 1, st.Losses)

	// Repeating the same correction is reported, not silently dropped.
	_, err = l.Correct(ctx, orig.TradeID, fixed, "exit price was mistyped")
	assert.ErrorIs(t, err, ErrDuplicateCorrection)

	// A different correction under the same note is a new record.
	fixed.ExitPrice = d("172")
	c2, err := l.Correct(ctx, orig.TradeID, fixed, "exit price was mistyped")
	require.NoError(t, err)
	assert.NotEqual(t, c.TradeID, c2.TradeID)
	all, err = l.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestLedgerVoidRetractsTrade(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, _ := newTestLedger(t)

	orig, err := NewTrade(aaplTrade())
	require.NoError(t, err)
	require.NoError(t, l.Append(ctx, orig))

	void := orig
	void.TradeID = orig.TradeID + "-void"
	void.CorrectsTradeID = orig.TradeID
	void.Void = true
	require.NoError(t, l.Append(ctx, void))

	st, err := l.SummaryStats(ctx, Filter{})
	require.NoError(t, err)
	assert.Zero(t, st.Count)

	all, err := l.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2, "both records stay in the log")
}

func TestLedgerAccountStats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, _ := newTestLedger(t)

	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	add := func(id string, entry, exit time.Time, exitPrice string) {
		tr := aaplTrade()
		tr.TradeID = id
		tr.EntryTime = entry
		tr.ExitTime = exit
		tr.ExitPrice = d(exitPrice)
		t2, err := NewTrade(tr)
		require.NoError(t, err)
		require.NoError(t, l.Append(ctx, t2))
	}

	add("A", day.Add(-48*time.Hour), day.Add(-47*time.Hour), "170") // loss, earlier day
	add("B", day.Add(-30*time.Hour), day.Add(-20*time.Hour), "190") // win breaks the streak
	add("C", day.Add(-2*time.Hour), day.Add(1*time.Hour), "179")    // loss, exit today
	add("D", day.Add(2*time.Hour), day.Add(3*time.Hour), "178")     // loss, entered and exited today

	st, err := l.AccountStats(ctx, day.Add(12*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, st.ConsecutiveLosses)
	assert.Equal(t, 2, st.DailyExits)
	assert.Equal(t, 1, st.DailyEntries)
	assert.True(t, st.DailyRealizedPnL.Equal(d("-150")), st.DailyRealizedPnL.String())
}

func TestLedgerExport(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, _ := newTestLedger(t)

	tr, err := NewTrade(aaplTrade())
	require.NoError(t, err)
	require.NoError(t, l.Append(ctx, tr))

	for _, f := range []Format{FormatCSV, FormatJSON, FormatJSONL, FormatOrg} {
		out, err := l.Export(ctx, Filter{}, f)
		require.NoError(t, err, f)
		assert.Contains(t, string(out), "AAPL", f)
	}

	_, err = l.Export(ctx, Filter{}, Format("xml"))
	assert.Error(t, err)
}
