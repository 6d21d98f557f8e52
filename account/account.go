// Package account ties one broker account's reconciliation engine, trade
// ledger and admission gate together.
package account

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/tradekeeper/broker"
	"github.com/rustyeddy/tradekeeper/indicators"
	"github.com/rustyeddy/tradekeeper/journal"
	"github.com/rustyeddy/tradekeeper/market"
	"github.com/rustyeddy/tradekeeper/reconcile"
	"github.com/rustyeddy/tradekeeper/risk"
)

// Snapshots are the optional broker views used by admission. Any of them
// may be nil.
type Snapshots struct {
	Account   broker.AccountSource
	Positions broker.PositionSource
	Orders    broker.OrderSource
}

// Settings are the account-wide admission parameters.
type Settings struct {
	// Equity is used when no account snapshot is available.
	Equity float64
	Limits risk.Limits
	Sizing risk.Sizing
	// SnapshotTimeout bounds each broker snapshot call made while the
	// symbol's admission lock is held. Zero means DefaultSnapshotTimeout.
	SnapshotTimeout time.Duration
}

const DefaultSnapshotTimeout = 10 * time.Second

type Account struct {
	id          string
	settings    Settings
	reconciler  *reconcile.Engine
	ledger      *journal.Ledger
	registry    *risk.Registry
	instruments *market.Instruments
	gate        *risk.Gate
	snaps       Snapshots
	now         func() time.Time
	log         *zap.Logger
}

type Deps struct {
	Reconciler  *reconcile.Engine
	Ledger      *journal.Ledger
	Registry    *risk.Registry
	Instruments *market.Instruments
	Gate        *risk.Gate
	Snapshots   Snapshots
	Log         *zap.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

func New(settings Settings, deps Deps) (*Account, error) {
	if deps.Reconciler == nil || deps.Ledger == nil {
		return nil, fmt.Errorf("account: reconciler and ledger are required")
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if settings.SnapshotTimeout <= 0 {
		settings.SnapshotTimeout = DefaultSnapshotTimeout
	}
	if deps.Gate == nil {
		deps.Gate = risk.NewGate(risk.NewEngine(deps.Log), 0)
	}
	id := deps.Reconciler.Account()
	return &Account{
		id:          id,
		settings:    settings,
		reconciler:  deps.Reconciler,
		ledger:      deps.Ledger,
		registry:    deps.Registry,
		instruments: deps.Instruments,
		gate:        deps.Gate,
		snaps:       deps.Snapshots,
		now:         deps.Now,
		log:         deps.Log.Named("account").With(zap.String("account", id)),
	}, nil
}

func (a *Account) ID() string                    { return a.id }
func (a *Account) Ledger() *journal.Ledger       { return a.ledger }
func (a *Account) Reconciler() *reconcile.Engine { return a.reconciler }

func (a *Account) Positions() (reconcile.PositionSet, error) {
	return a.reconciler.Positions()
}

// Reconcile runs one cycle and releases admission reservations whose
// orders now have fills.
func (a *Account) Reconcile(ctx context.Context) (reconcile.Result, error) {
	res, err := a.reconciler.Reconcile(ctx)
	if err != nil {
		return res, err
	}
	snap, err := a.reconciler.Snapshot()
	if err != nil {
		a.log.Warn("reservations not released", zap.Error(err))
		return res, nil
	}
	a.releaseFilled(snap, res.Trades)
	return res, nil
}

func (a *Account) releaseFilled(snap *reconcile.Snapshot, trades []journal.Trade) {
	filled := map[string]map[string]bool{}
	mark := func(symbol, orderID string) {
		key := strings.ToUpper(symbol)
		if filled[key] == nil {
			filled[key] = map[string]bool{}
		}
		filled[key][orderID] = true
	}
	for sym, fills := range snap.OpenFills {
		for _, f := range fills {
			mark(sym, f.OrderID)
		}
	}
	for sym, lcs := range snap.Closed {
		for _, lc := range lcs {
			for _, f := range lc.Fills {
				mark(sym, f.OrderID)
			}
		}
	}
	for _, t := range trades {
		mark(t.Symbol, t.EntryOrderID)
		mark(t.Symbol, t.ExitOrderID)
	}

	for sym, ids := range filled {
		for _, o := range a.gate.Reservations(sym) {
			if ids[o.OrderID] && a.gate.Release(sym, o.OrderID) {
				a.log.Debug("reservation released by fill",
					zap.String("symbol", sym),
					zap.String("order_id", o.OrderID),
				)
			}
		}
	}
}

// RegisterOrder records the metadata of an order placed for this account.
func (a *Account) RegisterOrder(tag reconcile.OrderTag) error {
	return a.reconciler.RegisterOrder(tag)
}

// Release drops the reservation of an approved order that will not be
// placed.
func (a *Account) Release(symbol, orderID string) bool {
	return a.gate.Release(symbol, orderID)
}

func (a *Account) Reservations(symbol string) []risk.PendingOrder {
	return a.gate.Reservations(symbol)
}

// Admit evaluates p through the account's gate. The context is built under
// the symbol lock so racing proposals see each other's reservations.
func (a *Account) Admit(ctx context.Context, p risk.Proposal, mkt risk.Market) (risk.Decision, error) {
	return a.gate.Admit(p.Symbol, func() (risk.Context, error) {
		return a.BuildContext(ctx, p, mkt)
	})
}

// MarketFromCandles derives the market inputs for symbol from its bars.
// The excursion since the last entry is measured from the open position's
// latest entry fill. Fields already set in given are kept.
func (a *Account) MarketFromCandles(symbol string, candles []market.Candle, given risk.Market) (risk.Market, error) {
	ps, err := a.reconciler.Positions()
	if err != nil {
		return given, fmt.Errorf("load positions: %w", err)
	}
	var lastEntry time.Time
	for sym, pos := range ps {
		if strings.EqualFold(sym, symbol) {
			lastEntry = pos.LastEntryTime
		}
	}
	derived := indicators.Structure(candles, lastEntry, indicators.DefaultStructureParams())
	return indicators.Overlay(given, derived), nil
}

// BuildContext assembles everything the admission pipeline needs from the
// reconciled positions, the ledger and the broker snapshots.
func (a *Account) BuildContext(ctx context.Context, p risk.Proposal, mkt risk.Market) (risk.Context, error) {
	now := a.now().UTC()

	snap, err := a.reconciler.Snapshot()
	if err != nil {
		return risk.Context{}, fmt.Errorf("load positions: %w", err)
	}
	stats, err := a.ledger.AccountStats(ctx, now)
	if err != nil {
		return risk.Context{}, fmt.Errorf("ledger stats: %w", err)
	}
	policy, _ := a.registry.Policy(p.Strategy)

	c := risk.Context{
		Proposal:   p,
		Policy:     policy,
		Market:     mkt,
		Limits:     a.settings.Limits,
		Sizing:     a.settings.Sizing,
		Instrument: a.instruments.Lookup(p.Symbol),
		Now:        now,
	}

	for _, sym := range snap.Positions.Symbols() {
		pos := snap.Positions[sym]
		if strings.EqualFold(sym, p.Symbol) {
			c.Position = positionView(pos)
		}
		c.Positions = append(c.Positions, risk.Exposure{
			Symbol:   sym,
			Quantity: pos.Quantity.InexactFloat64(),
			Price:    pos.EntryPrice.InexactFloat64(),
		})
	}

	equity, err := a.equity(ctx)
	if err != nil {
		return risk.Context{}, err
	}
	c.Account = risk.AccountState{
		Equity:              equity,
		AvailableRiskBudget: a.riskBudget(equity, snap),
		ConsecutiveLosses:   stats.ConsecutiveLosses,
		DailyPnL:            stats.DailyRealizedPnL.InexactFloat64(),
		DailyTradeCount:     stats.DailyEntries + openedOn(snap.Positions, now),
	}

	if c.PendingOrders, err = a.pendingOrders(ctx); err != nil {
		return risk.Context{}, err
	}
	if c.BrokerQuantity, err = a.brokerQuantity(ctx, p.Symbol); err != nil {
		return risk.Context{}, err
	}
	return c, nil
}

func positionView(pos reconcile.OpenPosition) *risk.PositionView {
	return &risk.PositionView{
		Symbol:         pos.Symbol,
		Side:           broker.Buy,
		Quantity:       pos.Quantity.InexactFloat64(),
		AvgEntryPrice:  pos.EntryPrice.InexactFloat64(),
		EntryTime:      pos.EntryTime,
		LastEntryTime:  pos.LastEntryTime,
		LastEntryPrice: pos.LastEntryPrice.InexactFloat64(),
		EntryCount:     pos.EntryCount,
	}
}

// openedOn counts open lifecycles whose first entry falls on now's UTC
// day. Together with the ledger's closed trades entered that day it gives
// the number of trades started today.
func openedOn(ps reconcile.PositionSet, now time.Time) int {
	day := now.UTC().Truncate(24 * time.Hour)
	n := 0
	for _, pos := range ps {
		if !pos.EntryTime.Before(day) && pos.EntryTime.Before(day.Add(24*time.Hour)) {
			n++
		}
	}
	return n
}

// riskBudget is the portfolio heat allowance minus the risk already taken
// by open positions, summed over the entry tags of every scale-in.
func (a *Account) riskBudget(equity float64, snap *reconcile.Snapshot) float64 {
	heat := a.settings.Limits.MaxPortfolioHeatPct
	if heat <= 0 {
		return equity
	}
	budget := equity * heat
	for _, sym := range snap.Positions.Symbols() {
		budget -= snap.OpenRisk(sym)
	}
	if budget < 0 {
		return 0
	}
	return budget
}

func (a *Account) equity(ctx context.Context) (float64, error) {
	if a.snaps.Account == nil {
		return a.settings.Equity, nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.settings.SnapshotTimeout)
	defer cancel()
	acct, err := a.snaps.Account.GetAccount(ctx)
	if err != nil {
		return 0, fmt.Errorf("broker account: %w", err)
	}
	if acct.Equity > 0 {
		return acct.Equity, nil
	}
	return a.settings.Equity, nil
}

func (a *Account) pendingOrders(ctx context.Context) ([]risk.PendingOrder, error) {
	if a.snaps.Orders == nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.settings.SnapshotTimeout)
	defer cancel()
	orders, err := a.snaps.Orders.GetOpenOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("broker open orders: %w", err)
	}
	out := make([]risk.PendingOrder, 0, len(orders))
	for _, o := range orders {
		out = append(out, risk.PendingOrder{
			OrderID:  o.OrderID,
			Symbol:   o.Symbol,
			Side:     o.Side,
			Quantity: o.Quantity.InexactFloat64(),
			Price:    o.Price.InexactFloat64(),
		})
	}
	return out, nil
}

// brokerQuantity is nil when no position snapshot is configured. A symbol
// the broker does not list is held at zero.
func (a *Account) brokerQuantity(ctx context.Context, symbol string) (*float64, error) {
	if a.snaps.Positions == nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.settings.SnapshotTimeout)
	defer cancel()
	positions, err := a.snaps.Positions.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("broker positions: %w", err)
	}
	var qty float64
	for _, p := range positions {
		if strings.EqualFold(p.Symbol, symbol) {
			qty += p.Quantity.InexactFloat64()
		}
	}
	return &qty, nil
}

func (a *Account) Close() error {
	return a.ledger.Close()
}
