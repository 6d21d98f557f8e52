package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/tradekeeper/pkg/id"
)

// ErrDuplicateCorrection is returned when an identical correction of the
// same trade is already stored.
var ErrDuplicateCorrection = errors.New("correction already recorded")

// Ledger validates trades before they reach the store and answers the
// questions the admission engine and reports ask of the trade history.
type Ledger struct {
	store Store
	log   *zap.Logger
}

func NewLedger(store Store, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{store: store, log: log.Named("ledger")}
}

// Append records t. A trade_id that is already stored is left as is and
// nil is returned, so replays are harmless.
func (l *Ledger) Append(ctx context.Context, t Trade) error {
	_, err := l.append(ctx, t)
	return err
}

func (l *Ledger) append(ctx context.Context, t Trade) (bool, error) {
	if err := t.Validate(); err != nil {
		return false, err
	}
	added, err := l.store.Append(ctx, t)
	if err != nil {
		return false, fmt.Errorf("ledger append %s: %w", t.TradeID, err)
	}
	if added {
		l.log.Info("trade recorded",
			zap.String("trade_id", t.TradeID),
			zap.String("symbol", t.Symbol),
			zap.String("exit_type", string(t.ExitType)),
			zap.String("net_pnl", t.NetPnL.String()),
			zap.String("pnl_pct", t.PnLPct.String()),
		)
	} else {
		l.log.Debug("trade already recorded", zap.String("trade_id", t.TradeID))
	}
	return added, nil
}

func (l *Ledger) Query(ctx context.Context, f Filter) ([]Trade, error) {
	return l.store.List(ctx, f)
}

func (l *Ledger) Get(ctx context.Context, tradeID string) (Trade, error) {
	return l.store.Get(ctx, tradeID)
}

// SummaryStats aggregates the trades matching f. Records superseded by a
// correction are left out.
func (l *Ledger) SummaryStats(ctx context.Context, f Filter) (AggregateStats, error) {
	trades, err := l.effective(ctx, f)
	if err != nil {
		return AggregateStats{}, err
	}
	return ComputeStats(trades), nil
}

// AccountStats reports loss streak and daily figures as of now.
func (l *Ledger) AccountStats(ctx context.Context, now time.Time) (AccountStats, error) {
	trades, err := l.effective(ctx, Filter{})
	if err != nil {
		return AccountStats{}, err
	}
	return ComputeAccountStats(trades, now), nil
}

func (l *Ledger) effective(ctx context.Context, f Filter) ([]Trade, error) {
	// Corrections can fall outside f, so resolve them over the full history.
	limit := f.Limit
	all, err := l.store.List(ctx, Filter{})
	if err != nil {
		return nil, err
	}
	var out []Trade
	for _, t := range Effective(all) {
		if f.Match(t) {
			out = append(out, t)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *Ledger) Export(ctx context.Context, f Filter, format Format) ([]byte, error) {
	trades, err := l.store.List(ctx, f)
	if err != nil {
		return nil, err
	}
	return Encode(trades, format)
}

// Correct appends corrected as a new record pointing at originalID. The
// original stays in the log. The record id covers the corrected values, so
// repeating the same correction fails with ErrDuplicateCorrection while a
// different one with the same note is stored.
func (l *Ledger) Correct(ctx context.Context, originalID string, corrected Trade, note string) (Trade, error) {
	if strings.TrimSpace(note) == "" {
		return Trade{}, &ValidationError{TradeID: originalID, Field: "note", Reason: "is required for a correction"}
	}
	orig, err := l.store.Get(ctx, originalID)
	if err != nil {
		return Trade{}, err
	}

	corrected.TradeID = "pending"
	corrected.CorrectsTradeID = orig.TradeID
	corrected.Note = note
	if corrected.Account == "" {
		corrected.Account = orig.Account
	}

	t, err := NewTrade(corrected)
	if err != nil {
		return Trade{}, err
	}
	t.TradeID = ""
	body, err := json.Marshal(t)
	if err != nil {
		return Trade{}, err
	}
	t.TradeID = id.Derive(t.EntryTime, "correction", originalID, string(body))

	added, err := l.append(ctx, t)
	if err != nil {
		return Trade{}, err
	}
	if !added {
		return t, fmt.Errorf("%w: %s corrects %s", ErrDuplicateCorrection, t.TradeID, orig.TradeID)
	}
	l.log.Info("trade corrected", zap.String("trade_id", t.TradeID), zap.String("corrects", orig.TradeID))
	return t, nil
}

func (l *Ledger) Close() error {
	return l.store.Close()
}
