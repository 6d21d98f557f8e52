package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// Schema is the trades table. Timestamps are fixed-width UTC text so string
// order matches time order; money is decimal text. Triggers make the table
// append-only.
const Schema = `
CREATE TABLE IF NOT EXISTS trades (
	trade_id TEXT PRIMARY KEY,
	account TEXT NOT NULL DEFAULT '',
	symbol TEXT NOT NULL,
	strategy TEXT NOT NULL DEFAULT '',
	entry_order_id TEXT NOT NULL,
	entry_time TEXT NOT NULL,
	entry_price TEXT NOT NULL,
	entry_quantity TEXT NOT NULL,
	exit_order_id TEXT NOT NULL,
	exit_time TEXT NOT NULL,
	exit_price TEXT NOT NULL,
	exit_quantity TEXT NOT NULL,
	exit_type TEXT NOT NULL,
	exit_reason TEXT NOT NULL,
	holding_ns INTEGER NOT NULL,
	gross_pnl TEXT NOT NULL,
	fees TEXT NOT NULL,
	net_pnl TEXT NOT NULL,
	pnl_pct TEXT NOT NULL,
	confidence REAL NOT NULL,
	risk_amount REAL NOT NULL,
	note TEXT NOT NULL DEFAULT '',
	corrects_trade_id TEXT NOT NULL DEFAULT '',
	void INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_trades_exit ON trades(exit_time, trade_id);
CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);

CREATE TRIGGER IF NOT EXISTS trades_no_update BEFORE UPDATE ON trades
BEGIN
	SELECT RAISE(ABORT, 'trades are append-only');
END;

CREATE TRIGGER IF NOT EXISTS trades_no_delete BEFORE DELETE ON trades
BEGIN
	SELECT RAISE(ABORT, 'trades are append-only');
END;
`

const timeLayout = "2006-01-02T15:04:05.000000000Z"

const tradeColumns = `trade_id, account, symbol, strategy,
	entry_order_id, entry_time, entry_price, entry_quantity,
	exit_order_id, exit_time, exit_price, exit_quantity,
	exit_type, exit_reason, holding_ns, gross_pnl, fees, net_pnl, pnl_pct,
	confidence, risk_amount, note, corrects_trade_id, void`

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// migrate adds the columns that tables created by older versions lack.
func migrate(db *sql.DB) error {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('trades') WHERE name = 'void'`).Scan(&n)
	if err != nil || n > 0 {
		return err
	}
	_, err = db.Exec(`ALTER TABLE trades ADD COLUMN void INTEGER NOT NULL DEFAULT 0`)
	return err
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func (s *SQLiteStore) Append(ctx context.Context, t Trade) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO trades
		(`+tradeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TradeID, t.Account, t.Symbol, t.Strategy,
		t.EntryOrderID, formatTime(t.EntryTime), t.EntryPrice.String(), t.EntryQuantity.String(),
		t.ExitOrderID, formatTime(t.ExitTime), t.ExitPrice.String(), t.ExitQuantity.String(),
		string(t.ExitType), t.ExitReason, int64(t.HoldingDuration),
		t.GrossPnL.String(), t.Fees.String(), t.NetPnL.String(), t.PnLPct.String(),
		t.Confidence, t.RiskAmount, t.Note, t.CorrectsTradeID, t.Void,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) Get(ctx context.Context, tradeID string) (Trade, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE trade_id = ?`, tradeID)
	t, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Trade{}, fmt.Errorf("%w: %s", ErrNotFound, tradeID)
	}
	return t, err
}

func (s *SQLiteStore) List(ctx context.Context, f Filter) ([]Trade, error) {
	var (
		where []string
		args  []any
	)
	if f.Symbol != "" {
		where = append(where, "symbol = ? COLLATE NOCASE")
		args = append(args, f.Symbol)
	}
	if f.Strategy != "" {
		where = append(where, "strategy = ?")
		args = append(args, f.Strategy)
	}
	if f.ExitType != "" {
		where = append(where, "exit_type = ?")
		args = append(args, string(f.ExitType))
	}
	if !f.From.IsZero() {
		where = append(where, "exit_time >= ?")
		args = append(args, formatTime(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "exit_time < ?")
		args = append(args, formatTime(f.To))
	}

	q := `SELECT ` + tradeColumns + ` FROM trades`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY exit_time ASC, trade_id ASC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// pnl bounds and limit are exact decimal comparisons, done after the scan.
	return f.apply(out), nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTrade(sc scanner) (Trade, error) {
	var (
		t                                        Trade
		entryTime, exitTime, exitType            string
		entryPrice, entryQty, exitPrice, exitQty string
		gross, fees, net, pct                    string
		holding                                  int64
	)
	err := sc.Scan(
		&t.TradeID, &t.Account, &t.Symbol, &t.Strategy,
		&t.EntryOrderID, &entryTime, &entryPrice, &entryQty,
		&t.ExitOrderID, &exitTime, &exitPrice, &exitQty,
		&exitType, &t.ExitReason, &holding, &gross, &fees, &net, &pct,
		&t.Confidence, &t.RiskAmount, &t.Note, &t.CorrectsTradeID, &t.Void,
	)
	if err != nil {
		return Trade{}, err
	}

	if t.EntryTime, err = time.Parse(timeLayout, entryTime); err != nil {
		return Trade{}, err
	}
	if t.ExitTime, err = time.Parse(timeLayout, exitTime); err != nil {
		return Trade{}, err
	}
	t.ExitType = ExitType(exitType)
	t.HoldingDuration = Duration(holding)

	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&t.EntryPrice, entryPrice}, {&t.EntryQuantity, entryQty},
		{&t.ExitPrice, exitPrice}, {&t.ExitQuantity, exitQty},
		{&t.GrossPnL, gross}, {&t.Fees, fees}, {&t.NetPnL, net}, {&t.PnLPct, pct},
	} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return Trade{}, fmt.Errorf("trade %s: %w", t.TradeID, err)
		}
	}
	return t, nil
}
