package journal

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFactory struct {
	name string
	open func(t *testing.T, path string) Store
}

var factories = []storeFactory{
	{"jsonl", func(t *testing.T, path string) Store {
		s, err := OpenFileStore(path + ".jsonl")
		require.NoError(t, err)
		return s
	}},
	{"sqlite", func(t *testing.T, path string) Store {
		s, err := NewSQLiteStore(path + ".db")
		require.NoError(t, err)
		return s
	}},
}

func mkTrade(t *testing.T, id, symbol string, exit time.Time, exitPrice string) Trade {
	t.Helper()
	tr, err := NewTrade(Trade{
		TradeID:       id,
		Symbol:        symbol,
		Strategy:      "breakout",
		EntryOrderID:  id + "-in",
		EntryTime:     exit.Add(-2 * time.Hour),
		EntryPrice:    d("100"),
		EntryQuantity: d("10"),
		ExitOrderID:   id + "-out",
		ExitTime:      exit,
		ExitPrice:     d(exitPrice),
		ExitQuantity:  d("10"),
		ExitType:      ExitPlanned,
		ExitReason:    "target",
		Confidence:    0.7,
		RiskAmount:    25,
	})
	require.NoError(t, err)
	return tr
}

func TestStoreAppendGetRoundTrip(t *testing.T) {
	t.Parallel()

	for _, f := range factories {
		f := f
		t.Run(f.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			s := f.open(t, filepath.Join(t.TempDir(), "trades"))
			defer s.Close()

			in := mkTrade(t, "T1", "AAPL", time.Date(2026, 2, 5, 20, 55, 55, 123456789, time.UTC), "104.25")
			added, err := s.Append(ctx, in)
			require.NoError(t, err)
			assert.True(t, added)

			got, err := s.Get(ctx, "T1")
			require.NoError(t, err)
			assert.Equal(t, in.TradeID, got.TradeID)
			assert.True(t, got.ExitTime.Equal(in.ExitTime))
			assert.Equal(t, in.ExitTime.Nanosecond(), got.ExitTime.Nanosecond())
			assert.True(t, got.ExitPrice.Equal(in.ExitPrice))
			assert.True(t, got.PnLPct.Equal(in.PnLPct))
			assert.Equal(t, in.Holding(), got.Holding())
			assert.Equal(t, in.ExitType, got.ExitType)
			assert.InDelta(t, 0.7, got.Confidence, 1e-9)
		})
	}
}

func TestStoreDuplicateAppendIsNoop(t *testing.T) {
	t.Parallel()

	for _, f := range factories {
		f := f
		t.Run(f.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			s := f.open(t, filepath.Join(t.TempDir(), "trades"))
			defer s.Close()

			first := mkTrade(t, "T1", "AAPL", time.Date(2026, 1, 13, 16, 0, 0, 0, time.UTC), "110")
			_, err := s.Append(ctx, first)
			require.NoError(t, err)

			changed := first
			changed.ExitReason = "rewritten"
			added, err := s.Append(ctx, changed)
			require.NoError(t, err)
			assert.False(t, added)

			all, err := s.List(ctx, Filter{})
			require.NoError(t, err)
			require.Len(t, all, 1)
			assert.Equal(t, "target", all[0].ExitReason)
		})
	}
}

func TestStoreGetNotFound(t *testing.T) {
	t.Parallel()

	for _, f := range factories {
		f := f
		t.Run(f.name, func(t *testing.T) {
			t.Parallel()
			s := f.open(t, filepath.Join(t.TempDir(), "trades"))
			defer s.Close()

			_, err := s.Get(context.Background(), "nonexistent")
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestStoreListFiltersAndOrdering(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	for _, f := range factories {
		f := f
		t.Run(f.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			s := f.open(t, filepath.Join(t.TempDir(), "trades"))
			defer s.Close()

			// Inserted out of order on purpose.
			trades := []Trade{
				mkTrade(t, "T3", "MSFT", base.Add(10*time.Hour), "103"),
				mkTrade(t, "T1", "AAPL", base.Add(1*time.Hour), "101"),
				mkTrade(t, "T4", "AAPL", base.Add(24*time.Hour), "95"),
				mkTrade(t, "T2", "AAPL", base.Add(5*time.Hour), "102"),
				mkTrade(t, "T0", "AAPL", base.Add(5*time.Hour), "99"),
			}
			for _, tr := range trades {
				_, err := s.Append(ctx, tr)
				require.NoError(t, err)
			}

			ids := func(ts []Trade) []string {
				out := make([]string, len(ts))
				for i, tr := range ts {
					out[i] = tr.TradeID
				}
				return out
			}

			all, err := s.List(ctx, Filter{})
			require.NoError(t, err)
			assert.Equal(t, []string{"T1", "T0", "T2", "T3", "T4"}, ids(all))

			got, err := s.List(ctx, Filter{From: base.Add(3 * time.Hour), To: base.Add(12 * time.Hour)})
			require.NoError(t, err)
			assert.Equal(t, []string{"T0", "T2", "T3"}, ids(got))

			got, err = s.List(ctx, Filter{To: base.Add(10 * time.Hour)})
			require.NoError(t, err)
			assert.Equal(t, []string{"T1", "T0", "T2"}, ids(got), "To is exclusive")

			got, err = s.List(ctx, Filter{Symbol: "aapl", Limit: 2})
			require.NoError(t, err)
			assert.Equal(t, []string{"T1", "T0"}, ids(got))

			lo := decimal.NewFromInt(1)
			got, err = s.List(ctx, Filter{MinPnLPct: &lo})
			require.NoError(t, err)
			assert.Equal(t, []string{"T1", "T2", "T3"}, ids(got))

			hi := decimal.Zero
			got, err = s.List(ctx, Filter{MaxPnLPct: &hi})
			require.NoError(t, err)
			assert.Equal(t, []string{"T0", "T4"}, ids(got))

			got, err = s.List(ctx, Filter{ExitType: ExitEmergency})
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestFileStoreReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "trades.jsonl")

	s, err := OpenFileStore(path)
	require.NoError(t, err)
	for i, id := range []string{"A", "B"} {
		_, err := s.Append(ctx, mkTrade(t, id, "AAPL", time.Date(2026, 1, 1+i, 0, 0, 0, 0, time.UTC), "101"))
		require.NoError(t, err)
	}

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	s2, err := OpenFileStore(path)
	require.NoError(t, err)
	all, err := s2.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// Re-appending after reopen leaves the file untouched.
	added, err := s2.Append(ctx, all[0])
	require.NoError(t, err)
	assert.False(t, added)
	again, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, raw, again)
}

func TestFileStoreRejectsCorruptLine(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "trades.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"trade_id\":\"A\"}\n{broken\n"), 0o644))

	_, err := OpenFileStore(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ":2:")
}

func TestFileStoreConcurrentReaders(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, err := OpenFileStore(filepath.Join(t.TempDir(), "trades.jsonl"))
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, err := s.List(ctx, Filter{Symbol: "AAPL"})
				assert.NoError(t, err)
			}
		}()
	}
	for i := 0; i < 20; i++ {
		_, err := s.Append(ctx, mkTrade(t, string(rune('a'+i)), "AAPL", base.Add(time.Duration(i)*time.Minute), "101"))
		require.NoError(t, err)
	}
	wg.Wait()

	all, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 20)
}

func TestSQLiteSchemaIsAppendOnly(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "trades.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	_, err = s.Append(context.Background(), mkTrade(t, "T1", "AAPL", time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), "101"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var name string
	require.NoError(t, db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='trades'`).Scan(&name))
	assert.Equal(t, "trades", name)

	_, err = db.Exec(`UPDATE trades SET exit_reason = 'x' WHERE trade_id = 'T1'`)
	assert.ErrorContains(t, err, "append-only")

	_, err = db.Exec(`DELETE FROM trades WHERE trade_id = 'T1'`)
	assert.ErrorContains(t, err, "append-only")
}

func TestStoreKeepsVoidFlag(t *testing.T) {
	t.Parallel()

	for _, f := range factories {
		f := f
		t.Run(f.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			s := f.open(t, filepath.Join(t.TempDir(), "trades"))
			t.Cleanup(func() { _ = s.Close() })

			tr := mkTrade(t, "T1", "AAPL", time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), "101")
			tr.CorrectsTradeID = "T0"
			tr.Void = true
			_, err := s.Append(ctx, tr)
			require.NoError(t, err)

			got, err := s.Get(ctx, "T1")
			require.NoError(t, err)
			assert.True(t, got.Void)
			assert.Equal(t, "T0", got.CorrectsTradeID)
		})
	}
}

func TestSQLiteMigratesOldTable(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE trades (
	trade_id TEXT PRIMARY KEY, account TEXT NOT NULL DEFAULT '', symbol TEXT NOT NULL,
	strategy TEXT NOT NULL DEFAULT '', entry_order_id TEXT NOT NULL, entry_time TEXT NOT NULL,
	entry_price TEXT NOT NULL, entry_quantity TEXT NOT NULL, exit_order_id TEXT NOT NULL,
	exit_time TEXT NOT NULL, exit_price TEXT NOT NULL, exit_quantity TEXT NOT NULL,
	exit_type TEXT NOT NULL, exit_reason TEXT NOT NULL, holding_ns INTEGER NOT NULL,
	gross_pnl TEXT NOT NULL, fees TEXT NOT NULL, net_pnl TEXT NOT NULL, pnl_pct TEXT NOT NULL,
	confidence REAL NOT NULL, risk_amount REAL NOT NULL, note TEXT NOT NULL DEFAULT '',
	corrects_trade_id TEXT NOT NULL DEFAULT '')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	added, err := s.Append(ctx, mkTrade(t, "T1", "AAPL", time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), "101"))
	require.NoError(t, err)
	assert.True(t, added)
	got, err := s.Get(ctx, "T1")
	require.NoError(t, err)
	assert.False(t, got.Void)
}

func TestOpenStoreKinds(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	s, err := OpenStore("", filepath.Join(dir, "a.jsonl"))
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = OpenStore("SQLite", filepath.Join(dir, "b.db"))
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = OpenStore("postgres", "x")
	assert.Error(t, err)
}
