// Package journal is the append-only trade ledger: one immutable record per
// completed entry/exit lifecycle, with queries, statistics and exports.
package journal

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradekeeper/pkg/id"
)

type ExitType string

const (
	ExitPlanned   ExitType = "PLANNED"
	ExitEmergency ExitType = "EMERGENCY"
)

func ParseExitType(s string) (ExitType, error) {
	switch ExitType(strings.ToUpper(strings.TrimSpace(s))) {
	case ExitPlanned:
		return ExitPlanned, nil
	case ExitEmergency:
		return ExitEmergency, nil
	}
	return "", fmt.Errorf("unknown exit type %q", s)
}

func (e ExitType) Valid() bool {
	return e == ExitPlanned || e == ExitEmergency
}

// Duration encodes as a Go duration string ("78h30m0s") so ledger lines stay
// readable.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Trade is one completed entry->exit lifecycle. Records are never edited
// after they are appended; a correction is a new record that points at the
// original through CorrectsTradeID.
type Trade struct {
	TradeID  string `json:"trade_id"`
	Account  string `json:"account,omitempty"`
	Symbol   string `json:"symbol"`
	Strategy string `json:"strategy,omitempty"`

	EntryOrderID  string          `json:"entry_order_id"`
	EntryTime     time.Time       `json:"entry_timestamp_utc"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	EntryQuantity decimal.Decimal `json:"entry_quantity"`

	ExitOrderID  string          `json:"exit_order_id"`
	ExitTime     time.Time       `json:"exit_timestamp_utc"`
	ExitPrice    decimal.Decimal `json:"exit_price"`
	ExitQuantity decimal.Decimal `json:"exit_quantity"`

	ExitType   ExitType `json:"exit_type"`
	ExitReason string   `json:"exit_reason"`

	HoldingDuration Duration        `json:"holding_duration"`
	GrossPnL        decimal.Decimal `json:"gross_pnl"`
	Fees            decimal.Decimal `json:"fees"`
	NetPnL          decimal.Decimal `json:"net_pnl"`
	PnLPct          decimal.Decimal `json:"pnl_pct"`

	Confidence float64 `json:"confidence"`
	RiskAmount float64 `json:"risk_amount"`

	Note            string `json:"note,omitempty"`
	CorrectsTradeID string `json:"corrects_trade_id,omitempty"`
	// Void marks a correction that retracts CorrectsTradeID without a
	// replacement.
	Void bool `json:"void,omitempty"`
}

// ValidationError reports a trade that cannot be recorded as given.
type ValidationError struct {
	TradeID string
	Field   string
	Reason  string
}

func (e *ValidationError) Error() string {
	if e.TradeID == "" {
		return fmt.Sprintf("invalid trade: %s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid trade %s: %s %s", e.TradeID, e.Field, e.Reason)
}

func (t Trade) invalid(field, reason string) error {
	return &ValidationError{TradeID: t.TradeID, Field: field, Reason: reason}
}

// Validate checks the fields a record must carry. Missing timestamps are
// rejected, never defaulted.
func (t Trade) Validate() error {
	switch {
	case strings.TrimSpace(t.TradeID) == "":
		return t.invalid("trade_id", "is required")
	case strings.TrimSpace(t.Symbol) == "":
		return t.invalid("symbol", "is required")
	case t.EntryTime.IsZero():
		return t.invalid("entry_timestamp_utc", "is required")
	case t.ExitTime.IsZero():
		return t.invalid("exit_timestamp_utc", "is required")
	case t.ExitTime.Before(t.EntryTime):
		return t.invalid("exit_timestamp_utc", "is before entry_timestamp_utc")
	case !t.EntryPrice.IsPositive():
		return t.invalid("entry_price", "must be positive")
	case !t.ExitPrice.IsPositive():
		return t.invalid("exit_price", "must be positive")
	case !t.EntryQuantity.IsPositive():
		return t.invalid("entry_quantity", "must be positive")
	case !t.ExitQuantity.IsPositive():
		return t.invalid("exit_quantity", "must be positive")
	case t.Fees.IsNegative():
		return t.invalid("fees", "must not be negative")
	case !t.ExitType.Valid():
		return t.invalid("exit_type", fmt.Sprintf("%q is not PLANNED or EMERGENCY", t.ExitType))
	}
	return nil
}

var hundred = decimal.NewFromInt(100)

// ComputeMetrics derives holding duration and PnL from the entry/exit
// fields. PnLPct is expressed in percent (5 means +5%).
func (t *Trade) ComputeMetrics() {
	t.EntryTime = t.EntryTime.UTC()
	t.ExitTime = t.ExitTime.UTC()
	t.HoldingDuration = Duration(t.ExitTime.Sub(t.EntryTime))

	t.GrossPnL = t.ExitPrice.Sub(t.EntryPrice).Mul(t.ExitQuantity)
	t.NetPnL = t.GrossPnL.Sub(t.Fees)

	basis := t.EntryPrice.Mul(t.ExitQuantity)
	if basis.IsPositive() {
		t.PnLPct = t.NetPnL.Div(basis).Mul(hundred).Round(6)
	} else {
		t.PnLPct = decimal.Zero
	}
}

// NewTrade validates the entry/exit fields of t, computes its metrics and
// assigns a fresh ID when t has none.
func NewTrade(t Trade) (Trade, error) {
	if t.TradeID == "" {
		t.TradeID = id.New()
	}
	if t.ExitType == "" {
		t.ExitType = ExitPlanned
	}
	if err := t.Validate(); err != nil {
		return Trade{}, err
	}
	t.ComputeMetrics()
	return t, nil
}

func (t Trade) Holding() time.Duration {
	return time.Duration(t.HoldingDuration)
}

func (t Trade) IsWin() bool  { return t.NetPnL.IsPositive() }
func (t Trade) IsLoss() bool { return t.NetPnL.IsNegative() }
