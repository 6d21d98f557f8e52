package reconcile

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradekeeper/broker"
	"github.com/rustyeddy/tradekeeper/journal"
	"github.com/rustyeddy/tradekeeper/pkg/id"
)

const priceScale = 8

// Lifecycle is the ordered fills of one symbol from flat back to flat.
type Lifecycle struct {
	Symbol string
	Fills  []broker.Fill
}

func sortFills(fills []broker.Fill) {
	sort.SliceStable(fills, func(i, j int) bool { return fills[i].Before(fills[j]) })
}

// Fold walks the fills of one symbol in (filled_at, fill_id) order. Every
// return to zero net quantity closes a lifecycle; the fills after the last
// close are returned as the open lifecycle. A sell that takes the net
// quantity below zero fails with ErrNegativePosition.
func Fold(symbol string, fills []broker.Fill) (open []broker.Fill, closed []Lifecycle, err error) {
	sorted := make([]broker.Fill, len(fills))
	copy(sorted, fills)
	sortFills(sorted)

	net := decimal.Zero
	var cur []broker.Fill
	for _, f := range sorted {
		switch f.Side {
		case broker.Buy:
			net = net.Add(f.Quantity)
		case broker.Sell:
			net = net.Sub(f.Quantity)
		}
		cur = append(cur, f)

		switch {
		case net.IsNegative():
			return nil, nil, fmt.Errorf("%w: %s net %s after fill %s", ErrNegativePosition, symbol, net, f.FillID)
		case net.IsZero():
			closed = append(closed, Lifecycle{Symbol: symbol, Fills: cur})
			cur = nil
		}
	}
	return cur, closed, nil
}

// Position summarises an open lifecycle. It reports false for an empty or
// flat lifecycle.
func Position(symbol string, fills []broker.Fill) (OpenPosition, bool) {
	var (
		pos      = OpenPosition{Symbol: symbol}
		bought   = decimal.Zero
		cost     = decimal.Zero
		sold     = decimal.Zero
		orderIDs = map[string]bool{}
	)
	for _, f := range fills {
		if f.Side == broker.Sell {
			sold = sold.Add(f.Quantity)
			continue
		}
		if pos.EntryTime.IsZero() {
			pos.EntryTime = f.FilledAt
		}
		bought = bought.Add(f.Quantity)
		cost = cost.Add(f.Notional())
		pos.LastEntryTime = f.FilledAt
		pos.LastEntryPrice = f.Price
		orderIDs[f.OrderID] = true
	}

	pos.Quantity = bought.Sub(sold)
	if !pos.Quantity.IsPositive() {
		return OpenPosition{}, false
	}
	pos.EntryPrice = cost.DivRound(bought, priceScale)
	pos.EntryCount = len(orderIDs)
	return pos, true
}

// TradeFromLifecycle builds the ledger record of a closed lifecycle. The
// entry tag is looked up by the first buy's order, the exit tag by the
// closing fill's order. The trade id depends only on the fills, so the
// same history always yields the same id.
func TradeFromLifecycle(account string, lc Lifecycle, tags map[string]OrderTag) (journal.Trade, error) {
	if len(lc.Fills) == 0 {
		return journal.Trade{}, fmt.Errorf("empty lifecycle for %s", lc.Symbol)
	}
	first := lc.Fills[0]
	closing := lc.Fills[len(lc.Fills)-1]

	var (
		bought, cost   = decimal.Zero, decimal.Zero
		sold, proceeds = decimal.Zero, decimal.Zero
		fees           = decimal.Zero
	)
	for _, f := range lc.Fills {
		fees = fees.Add(f.Fee)
		if f.Side == broker.Buy {
			bought = bought.Add(f.Quantity)
			cost = cost.Add(f.Notional())
		} else {
			sold = sold.Add(f.Quantity)
			proceeds = proceeds.Add(f.Notional())
		}
	}
	if !bought.IsPositive() || !sold.IsPositive() {
		return journal.Trade{}, fmt.Errorf("lifecycle %s/%s has no entry or exit", lc.Symbol, first.FillID)
	}

	t := journal.Trade{
		TradeID:       id.Derive(first.FilledAt, lc.Symbol, first.FillID, closing.FillID),
		Account:       account,
		Symbol:        lc.Symbol,
		EntryOrderID:  first.OrderID,
		EntryTime:     first.FilledAt,
		EntryPrice:    cost.DivRound(bought, priceScale),
		EntryQuantity: bought,
		ExitOrderID:   closing.OrderID,
		ExitTime:      closing.FilledAt,
		ExitPrice:     proceeds.DivRound(sold, priceScale),
		ExitQuantity:  sold,
		ExitType:      journal.ExitPlanned,
		ExitReason:    "position closed",
		Fees:          fees,
	}
	if tag, ok := tags[first.OrderID]; ok {
		t.Strategy = tag.Strategy
		t.Confidence = tag.Confidence
		t.RiskAmount = tag.RiskAmount
	}
	if tag, ok := tags[closing.OrderID]; ok && tag.Role == RoleExit {
		if tag.ExitType != "" {
			t.ExitType = tag.ExitType
		}
		if tag.ExitReason != "" {
			t.ExitReason = tag.ExitReason
		}
	}
	return journal.NewTrade(t)
}
