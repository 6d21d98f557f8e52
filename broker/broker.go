package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order or fill.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// ParseSide accepts "buy"/"sell" in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case Buy:
		return Buy, nil
	case Sell:
		return Sell, nil
	}
	return "", fmt.Errorf("unknown side %q", s)
}

func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Fill is one broker-confirmed execution. Fills are never mutated once
// reported; FillID is the deduplication key.
type Fill struct {
	FillID   string          `json:"fill_id"`
	OrderID  string          `json:"order_id"`
	Symbol   string          `json:"symbol"`
	Side     Side            `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Fee      decimal.Decimal `json:"fee"`
	FilledAt time.Time       `json:"filled_at_utc"`
}

var ErrInvalidFill = errors.New("invalid fill")

// Validate rejects fills that cannot be folded. A missing timestamp is an
// error: it is never replaced with the current time.
func (f Fill) Validate() error {
	switch {
	case strings.TrimSpace(f.FillID) == "":
		return fmt.Errorf("%w: missing fill_id", ErrInvalidFill)
	case strings.TrimSpace(f.OrderID) == "":
		return fmt.Errorf("%w: fill %s: missing order_id", ErrInvalidFill, f.FillID)
	case strings.TrimSpace(f.Symbol) == "":
		return fmt.Errorf("%w: fill %s: missing symbol", ErrInvalidFill, f.FillID)
	case !f.Side.Valid():
		return fmt.Errorf("%w: fill %s: side %q", ErrInvalidFill, f.FillID, f.Side)
	case !f.Quantity.IsPositive():
		return fmt.Errorf("%w: fill %s: quantity %s must be positive", ErrInvalidFill, f.FillID, f.Quantity)
	case !f.Price.IsPositive():
		return fmt.Errorf("%w: fill %s: price %s must be positive", ErrInvalidFill, f.FillID, f.Price)
	case f.Fee.IsNegative():
		return fmt.Errorf("%w: fill %s: negative fee", ErrInvalidFill, f.FillID)
	case f.FilledAt.IsZero():
		return fmt.Errorf("%w: fill %s: missing filled_at_utc", ErrInvalidFill, f.FillID)
	}
	return nil
}

// UTC returns a copy with the timestamp expressed in UTC. The instant is
// unchanged; only the location is normalised.
func (f Fill) UTC() Fill {
	f.FilledAt = f.FilledAt.UTC()
	return f
}

// Before orders fills by (FilledAt, FillID).
func (f Fill) Before(o Fill) bool {
	if !f.FilledAt.Equal(o.FilledAt) {
		return f.FilledAt.Before(o.FilledAt)
	}
	return f.FillID < o.FillID
}

// Notional is quantity * price.
func (f Fill) Notional() decimal.Decimal {
	return f.Quantity.Mul(f.Price)
}

// FillSource is the broker's fill feed. Delivery is at-least-once and not
// necessarily time ordered.
type FillSource interface {
	FetchFills(ctx context.Context, since time.Time) ([]Fill, error)
}

type Account struct {
	ID       string  `json:"id"`
	Currency string  `json:"currency"`
	Balance  float64 `json:"balance"`
	Equity   float64 `json:"equity"`
}

// AccountSource reports the broker-side account balance.
type AccountSource interface {
	GetAccount(ctx context.Context) (Account, error)
}

// Position is the broker's own view of a holding.
type Position struct {
	Symbol   string          `json:"symbol"`
	Quantity decimal.Decimal `json:"quantity"`
}

type PositionSource interface {
	GetPositions(ctx context.Context) ([]Position, error)
}

// Order is a submitted order that has not been completely filled.
type Order struct {
	OrderID     string          `json:"order_id"`
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	SubmittedAt time.Time       `json:"submitted_at_utc"`
}

type OrderSource interface {
	GetOpenOrders(ctx context.Context) ([]Order, error)
}
