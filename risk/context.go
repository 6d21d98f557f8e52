package risk

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rustyeddy/tradekeeper/broker"
	"github.com/rustyeddy/tradekeeper/market"
)

// MetaVersion is the current version of ProposalMeta.
const MetaVersion = 1

// ProposalMeta is the fixed, versioned metadata a strategy attaches to a
// proposal. Fields not declared here are not read.
type ProposalMeta struct {
	Version       int      `json:"version"`
	Disqualifiers []string `json:"disqualifiers,omitempty"`
	Note          string   `json:"note,omitempty"`
}

// Proposal is an order a strategy wants to place.
type Proposal struct {
	OrderID    string       `json:"order_id,omitempty"`
	Symbol     string       `json:"symbol"`
	Side       broker.Side  `json:"side"`
	Price      float64      `json:"price"`
	StopPrice  float64      `json:"stop_price,omitempty"`
	Quantity   float64      `json:"quantity,omitempty"`
	Strategy   string       `json:"strategy"`
	Confidence float64      `json:"confidence"`
	Meta       ProposalMeta `json:"meta"`
}

// PositionView is the admission engine's view of the open position for the
// proposal's symbol. Positions are long only.
type PositionView struct {
	Symbol         string      `json:"symbol"`
	Side           broker.Side `json:"side"`
	Quantity       float64     `json:"quantity"`
	AvgEntryPrice  float64     `json:"entry_price"`
	EntryTime      time.Time   `json:"entry_timestamp_utc"`
	LastEntryTime  time.Time   `json:"last_entry_timestamp_utc"`
	LastEntryPrice float64     `json:"last_entry_price"`
	EntryCount     int         `json:"entry_count"`
}

// Exposure is one open position valued at its entry price.
type Exposure struct {
	Symbol   string  `json:"symbol"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
}

func (e Exposure) Notional() float64 { return e.Quantity * e.Price }

type PendingOrder struct {
	OrderID  string      `json:"order_id"`
	Symbol   string      `json:"symbol"`
	Side     broker.Side `json:"side"`
	Quantity float64     `json:"quantity"`
	Price    float64     `json:"price"`
}

type AccountState struct {
	Equity              float64 `json:"equity"`
	AvailableRiskBudget float64 `json:"available_risk_budget"`
	ConsecutiveLosses   int     `json:"consecutive_losses"`
	DailyPnL            float64 `json:"daily_pnl"`
	DailyTradeCount     int     `json:"daily_trade_count"`
}

// Market carries the price structure since the last entry. Zero fields
// disable the rules that need them.
type Market struct {
	BarInterval        time.Duration `json:"bar_interval"`
	ATR                float64       `json:"atr"`
	Volatility         float64       `json:"volatility"`
	VolatilityBaseline float64       `json:"volatility_baseline"`
	LowSinceLastEntry  float64       `json:"low_since_last_entry"`
	HighSinceLastEntry float64       `json:"high_since_last_entry"`
}

// Context is everything one admission decision may look at.
type Context struct {
	Proposal      Proposal
	Policy        ScalingPolicy
	Position      *PositionView
	Positions     []Exposure
	PendingOrders []PendingOrder
	Account       AccountState
	// BrokerQuantity is the last quantity the broker reported for the
	// symbol. Nil skips the mismatch check.
	BrokerQuantity *float64
	Market         Market
	Limits         Limits
	Sizing         Sizing
	Instrument     market.InstrumentMeta
	Now            time.Time
}

var ErrInvalidContext = errors.New("invalid admission context")

func (c Context) validate() error {
	p := c.Proposal
	switch {
	case strings.TrimSpace(p.Symbol) == "":
		return fmt.Errorf("%w: missing symbol", ErrInvalidContext)
	case !p.Side.Valid():
		return fmt.Errorf("%w: side %q", ErrInvalidContext, p.Side)
	case p.Price <= 0:
		return fmt.Errorf("%w: price must be positive", ErrInvalidContext)
	case p.Quantity < 0 || p.StopPrice < 0:
		return fmt.Errorf("%w: quantity and stop must not be negative", ErrInvalidContext)
	case c.Now.IsZero():
		return fmt.Errorf("%w: missing evaluation time", ErrInvalidContext)
	case c.Account.Equity <= 0:
		return fmt.Errorf("%w: equity must be positive", ErrInvalidContext)
	}
	return nil
}

// isScaleIn reports whether the proposal adds to the open position in the
// same direction.
func (c Context) isScaleIn() bool {
	if c.Position == nil || c.Position.Quantity <= 0 {
		return false
	}
	return c.Position.Side == "" || c.Position.Side == c.Proposal.Side
}
