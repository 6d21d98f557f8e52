package risk

import (
	"strings"
	"sync"
	"time"

	"github.com/rustyeddy/tradekeeper/pkg/id"
	"github.com/rustyeddy/tradekeeper/pkg/keylock"
)

// Gate serialises admission per symbol and remembers approved orders until
// their fills are reconciled. An approval is reserved as a pending order,
// so a racing proposal for the same symbol sees it and is blocked.
type Gate struct {
	engine *Engine
	locks  *keylock.Map
	ttl    time.Duration

	mu       sync.Mutex
	inflight map[string][]reservation
}

type reservation struct {
	order PendingOrder
	at    time.Time
}

// NewGate returns a gate over engine. Reservations older than ttl are
// dropped; zero keeps them until released.
func NewGate(engine *Engine, ttl time.Duration) *Gate {
	if engine == nil {
		engine = NewEngine(nil)
	}
	return &Gate{
		engine:   engine,
		locks:    keylock.New(),
		ttl:      ttl,
		inflight: make(map[string][]reservation),
	}
}

func symbolKey(s string) string { return strings.ToUpper(s) }

// Admit builds the context under the symbol lock, adds in-flight
// reservations to its pending orders and evaluates it. An approval is
// reserved under the decision's OrderID.
func (g *Gate) Admit(symbol string, build func() (Context, error)) (Decision, error) {
	key := symbolKey(symbol)
	unlock := g.locks.Lock(key)
	defer unlock()

	c, err := build()
	if err != nil {
		return Decision{}, err
	}
	c.PendingOrders = append(c.PendingOrders, g.pending(key, c.Now)...)

	d, err := g.engine.Evaluate(c)
	if err != nil || !d.Approved() {
		return d, err
	}

	if d.OrderID == "" {
		d.OrderID = id.New()
	}
	g.mu.Lock()
	g.inflight[key] = append(g.inflight[key], reservation{
		order: PendingOrder{
			OrderID:  d.OrderID,
			Symbol:   c.Proposal.Symbol,
			Side:     c.Proposal.Side,
			Quantity: d.PositionSize,
			Price:    c.Proposal.Price,
		},
		at: c.Now,
	})
	g.mu.Unlock()
	return d, nil
}

// Release drops the reservation for orderID. It reports whether one was
// held.
func (g *Gate) Release(symbol, orderID string) bool {
	key := symbolKey(symbol)
	g.mu.Lock()
	defer g.mu.Unlock()

	rs := g.inflight[key]
	for i, r := range rs {
		if r.order.OrderID == orderID {
			g.inflight[key] = append(rs[:i:i], rs[i+1:]...)
			if len(g.inflight[key]) == 0 {
				delete(g.inflight, key)
			}
			return true
		}
	}
	return false
}

// Reservations lists the in-flight orders for symbol.
func (g *Gate) Reservations(symbol string) []PendingOrder {
	g.mu.Lock()
	defer g.mu.Unlock()
	rs := g.inflight[symbolKey(symbol)]
	out := make([]PendingOrder, len(rs))
	for i, r := range rs {
		out[i] = r.order
	}
	return out
}

func (g *Gate) pending(key string, now time.Time) []PendingOrder {
	g.mu.Lock()
	defer g.mu.Unlock()

	rs := g.inflight[key]
	kept := rs[:0]
	var out []PendingOrder
	for _, r := range rs {
		if g.ttl > 0 && now.Sub(r.at) > g.ttl {
			continue
		}
		kept = append(kept, r)
		out = append(out, r.order)
	}
	if len(kept) == 0 {
		delete(g.inflight, key)
	} else {
		g.inflight[key] = kept
	}
	return out
}
