package journal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("trade not found")

// Store is the durable half of the ledger. Append reports false when a
// record with the same trade_id already exists; the existing record is left
// untouched.
type Store interface {
	Append(ctx context.Context, t Trade) (bool, error)
	List(ctx context.Context, f Filter) ([]Trade, error)
	Get(ctx context.Context, tradeID string) (Trade, error)
	Close() error
}

const (
	StoreJSONL  = "jsonl"
	StoreSQLite = "sqlite"
)

// OpenStore opens the store of the given kind at path.
func OpenStore(kind, path string) (Store, error) {
	switch strings.ToLower(kind) {
	case "", StoreJSONL:
		return OpenFileStore(path)
	case StoreSQLite:
		return NewSQLiteStore(path)
	}
	return nil, fmt.Errorf("unknown journal type %q", kind)
}

// Filter selects trades. Zero fields match everything. The time range
// applies to the exit timestamp and is half open: [From, To).
type Filter struct {
	Symbol    string
	Strategy  string
	ExitType  ExitType
	From      time.Time
	To        time.Time
	MinPnLPct *decimal.Decimal
	MaxPnLPct *decimal.Decimal
	Limit     int
}

func (f Filter) Match(t Trade) bool {
	if f.Symbol != "" && !strings.EqualFold(f.Symbol, t.Symbol) {
		return false
	}
	if f.Strategy != "" && f.Strategy != t.Strategy {
		return false
	}
	if f.ExitType != "" && f.ExitType != t.ExitType {
		return false
	}
	if !f.From.IsZero() && t.ExitTime.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !t.ExitTime.Before(f.To) {
		return false
	}
	if f.MinPnLPct != nil && t.PnLPct.LessThan(*f.MinPnLPct) {
		return false
	}
	if f.MaxPnLPct != nil && t.PnLPct.GreaterThan(*f.MaxPnLPct) {
		return false
	}
	return true
}

// apply filters, orders and limits trades in place.
func (f Filter) apply(trades []Trade) []Trade {
	out := trades[:0]
	for _, t := range trades {
		if f.Match(t) {
			out = append(out, t)
		}
	}
	sortTrades(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// sortTrades orders by exit timestamp, then trade_id.
func sortTrades(trades []Trade) {
	sort.SliceStable(trades, func(i, j int) bool {
		a, b := trades[i], trades[j]
		if !a.ExitTime.Equal(b.ExitTime) {
			return a.ExitTime.Before(b.ExitTime)
		}
		return a.TradeID < b.TradeID
	})
}

// Effective drops records that a later correction supersedes, and void
// records.
func Effective(trades []Trade) []Trade {
	corrected := make(map[string]bool)
	for _, t := range trades {
		if t.CorrectsTradeID != "" {
			corrected[t.CorrectsTradeID] = true
		}
	}
	if len(corrected) == 0 {
		return trades
	}
	out := make([]Trade, 0, len(trades))
	for _, t := range trades {
		if !corrected[t.TradeID] && !t.Void {
			out = append(out, t)
		}
	}
	return out
}
