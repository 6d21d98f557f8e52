// Package reconcile rebuilds open positions from the broker's fill history
// and turns every completed entry/exit lifecycle into a ledger trade.
package reconcile

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradekeeper/broker"
	"github.com/rustyeddy/tradekeeper/journal"
	"github.com/rustyeddy/tradekeeper/state"
)

var (
	ErrNegativePosition  = errors.New("negative net position")
	ErrSourceUnavailable = errors.New("fill source unavailable")
	ErrCycleInProgress   = errors.New("reconciliation already running for account")
	ErrSnapshotVersion   = errors.New("unsupported snapshot version")
)

// OpenPosition is the current lifecycle of one symbol with a non-zero net
// quantity.
type OpenPosition struct {
	Symbol         string          `json:"symbol"`
	EntryTime      time.Time       `json:"entry_timestamp_utc"`
	EntryPrice     decimal.Decimal `json:"entry_price"`
	Quantity       decimal.Decimal `json:"quantity"`
	LastEntryTime  time.Time       `json:"last_entry_timestamp_utc"`
	LastEntryPrice decimal.Decimal `json:"last_entry_price"`
	EntryCount     int             `json:"entry_count"`
}

// PositionSet maps symbol to its open position. A symbol is present only
// while its net quantity is non-zero.
type PositionSet map[string]OpenPosition

func (ps PositionSet) Symbols() []string {
	out := make([]string, 0, len(ps))
	for s := range ps {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

type Role string

const (
	RoleEntry Role = "entry"
	RoleExit  Role = "exit"
)

// TagVersion is the current OrderTag layout.
const TagVersion = 1

// OrderTag is the metadata the execution layer attaches to an order it
// places. Entry tags feed strategy, confidence and risk into the trade;
// exit tags feed exit type and reason.
type OrderTag struct {
	Version    int              `json:"version"`
	OrderID    string           `json:"order_id"`
	Symbol     string           `json:"symbol"`
	Role       Role             `json:"role"`
	Strategy   string           `json:"strategy,omitempty"`
	Confidence float64          `json:"confidence,omitempty"`
	RiskAmount float64          `json:"risk_amount,omitempty"`
	ExitType   journal.ExitType `json:"exit_type,omitempty"`
	ExitReason string           `json:"exit_reason,omitempty"`
}

func (t OrderTag) Validate() error {
	switch {
	case t.Version != TagVersion:
		return fmt.Errorf("order tag version %d is not %d", t.Version, TagVersion)
	case strings.TrimSpace(t.OrderID) == "":
		return fmt.Errorf("order tag: missing order_id")
	case strings.TrimSpace(t.Symbol) == "":
		return fmt.Errorf("order tag %s: missing symbol", t.OrderID)
	case t.Role != RoleEntry && t.Role != RoleExit:
		return fmt.Errorf("order tag %s: role %q must be entry or exit", t.OrderID, t.Role)
	case t.ExitType != "" && !t.ExitType.Valid():
		return fmt.Errorf("order tag %s: exit_type %q", t.OrderID, t.ExitType)
	case t.Confidence < 0 || t.Confidence > 1:
		return fmt.Errorf("order tag %s: confidence %.4f outside [0,1]", t.OrderID, t.Confidence)
	case t.RiskAmount < 0:
		return fmt.Errorf("order tag %s: negative risk_amount", t.OrderID)
	}
	return nil
}

// PendingEntry describes how the open lifecycle of a symbol started.
type PendingEntry struct {
	Symbol        string          `json:"symbol"`
	OrderID       string          `json:"order_id"`
	FillTimestamp time.Time       `json:"fill_timestamp_utc"`
	FillPrice     decimal.Decimal `json:"fill_price"`
	Quantity      decimal.Decimal `json:"quantity"`
	Strategy      string          `json:"strategy,omitempty"`
	Confidence    float64         `json:"confidence"`
	RiskAmount    float64         `json:"risk_amount"`
}

// ClosedLifecycle is a lifecycle that returned to flat inside the refetch
// window, with the id of the ledger record that currently stands for it.
type ClosedLifecycle struct {
	TradeID string        `json:"trade_id"`
	Fills   []broker.Fill `json:"fills"`
}

func (lc ClosedLifecycle) closing() broker.Fill {
	return lc.Fills[len(lc.Fills)-1]
}

func fillKey(fills []broker.Fill) string {
	ids := make([]string, len(fills))
	for i, f := range fills {
		ids[i] = f.FillID
	}
	return strings.Join(ids, "\x1f")
}

// SnapshotVersion is the current layout of Snapshot.
const SnapshotVersion = 1

// Snapshot is the persisted reconciliation state of one account. Positions
// and cursor live in the same document so one rename commits both. It holds
// no wall-clock values, so reconciling unchanged input rewrites identical
// bytes.
type Snapshot struct {
	Version int          `json:"version"`
	Account string       `json:"account"`
	Cursor  state.Cursor `json:"cursor"`
	// Horizon is the oldest fill time a later fetch may return. It never
	// moves back.
	Horizon time.Time `json:"horizon_utc"`

	Positions PositionSet `json:"positions"`
	// OpenFills are the fills of each symbol's open lifecycle.
	OpenFills map[string][]broker.Fill `json:"open_fills"`
	// Closed holds, per symbol and in order, the lifecycles closed at or
	// after Horizon. A late fill that sorts before one of them is folded
	// back in.
	Closed map[string][]ClosedLifecycle `json:"closed_lifecycles,omitempty"`
	// SeenFillIDs maps fill id to fill time for fills inside the refetch
	// window.
	SeenFillIDs      map[string]time.Time `json:"seen_fill_ids"`
	OrderTags        map[string]OrderTag  `json:"order_tags"`
	UnrecordedTrades []journal.Trade      `json:"unrecorded_trades,omitempty"`
}

func newSnapshot(account string) *Snapshot {
	s := &Snapshot{Version: SnapshotVersion, Account: account}
	s.normalise()
	return s
}

func (s *Snapshot) normalise() {
	if s.Positions == nil {
		s.Positions = PositionSet{}
	}
	if s.OpenFills == nil {
		s.OpenFills = map[string][]broker.Fill{}
	}
	if s.Closed == nil {
		s.Closed = map[string][]ClosedLifecycle{}
	}
	if s.SeenFillIDs == nil {
		s.SeenFillIDs = map[string]time.Time{}
	}
	if s.OrderTags == nil {
		s.OrderTags = map[string]OrderTag{}
	}
	if len(s.UnrecordedTrades) == 0 {
		s.UnrecordedTrades = nil
	}
}

// PendingEntry derives the entry description of symbol's open lifecycle.
func (s *Snapshot) PendingEntry(symbol string) (PendingEntry, bool) {
	for _, f := range s.OpenFills[symbol] {
		if f.Side != broker.Buy {
			continue
		}
		pe := PendingEntry{
			Symbol:        symbol,
			OrderID:       f.OrderID,
			FillTimestamp: f.FilledAt,
			FillPrice:     f.Price,
			Quantity:      f.Quantity,
		}
		if tag, ok := s.OrderTags[f.OrderID]; ok {
			pe.Strategy = tag.Strategy
			pe.Confidence = tag.Confidence
			pe.RiskAmount = tag.RiskAmount
		}
		return pe, true
	}
	return PendingEntry{}, false
}

// OpenRisk sums the tagged risk of every entry order in symbol's open
// lifecycle, scale-ins included. Each order counts once however many fills
// it has.
func (s *Snapshot) OpenRisk(symbol string) float64 {
	seen := make(map[string]bool)
	var total float64
	for _, f := range s.OpenFills[symbol] {
		if f.Side != broker.Buy || seen[f.OrderID] {
			continue
		}
		seen[f.OrderID] = true
		if tag, ok := s.OrderTags[f.OrderID]; ok {
			total += tag.RiskAmount
		}
	}
	return total
}

type Status string

const (
	StatusOK     Status = "OK"
	StatusFailed Status = "FAILED"
)

// Result summarises one reconciliation cycle.
type Result struct {
	Account        string          `json:"account"`
	Status         Status          `json:"status"`
	Fetched        int             `json:"fetched"`
	Duplicates     int             `json:"duplicates"`
	Stale          int             `json:"stale"`
	Applied        int             `json:"applied"`
	Closed         int             `json:"closed"`
	Corrected      int             `json:"corrected"`
	Recorded       int             `json:"recorded"`
	LedgerDegraded bool            `json:"ledger_degraded"`
	Positions      PositionSet     `json:"positions"`
	Cursor         state.Cursor    `json:"cursor"`
	Trades         []journal.Trade `json:"trades,omitempty"`
	Duration       time.Duration   `json:"duration"`
}
