package risk

import "fmt"

type Status string

const (
	Approve Status = "APPROVE"
	Skip    Status = "SKIP"
	Block   Status = "BLOCK"
)

// Reason codes. Blocks are safety violations; skips mean "try again later".
const (
	ReasonConsecutiveLosses = "consecutive_loss_kill_switch"
	ReasonDailyLoss         = "daily_loss_kill_switch"
	ReasonDailyTradeCap     = "daily_trade_cap"
	ReasonMultipleEntries   = "multiple_entries_not_allowed"
	ReasonMaxEntries        = "max_entries_reached"
	ReasonSymbolPosition    = "symbol_position_limit"
	ReasonPortfolioPosition = "portfolio_position_limit"
	ReasonPendingOrder      = "pending_order_conflict"
	ReasonPendingDirection  = "pending_order_direction_conflict"
	ReasonBrokerMismatch    = "broker_ledger_mismatch"
	ReasonRiskBudget        = "risk_budget_exceeded"
	ReasonDirectionConflict = "direction_conflict"
	ReasonCooldown          = "entry_cooldown"
	ReasonBarSpacing        = "bar_spacing"
	ReasonSignalTooWeak     = "signal_too_weak"
	ReasonDisqualified      = "disqualifying_condition"
	ReasonPyramidPrice      = "pyramid_price_not_better"
	ReasonAdverseExtreme    = "adverse_extreme_since_entry"
	ReasonAveragingPrice    = "averaging_price_not_lower"
	ReasonAdverseExcursion  = "adverse_excursion_too_large"
	ReasonVolatilityRegime  = "volatility_below_baseline"
	ReasonBelowMinQuantity  = "below_min_quantity"
	ReasonBelowMinNotional  = "below_min_notional"
	ReasonApproved          = "approved"
)

// Decision is the outcome of one admission evaluation. The metrics are
// filled in whichever status is returned.
type Decision struct {
	Status       Status  `json:"status"`
	ReasonCode   string  `json:"reason_code"`
	ReasonText   string  `json:"reason_text"`
	PositionSize float64 `json:"position_size"`
	OrderID      string  `json:"order_id,omitempty"`

	RiskAmount   float64 `json:"risk_amount"`
	PositionPct  float64 `json:"position_pct"`
	PortfolioPct float64 `json:"portfolio_pct"`
	EntryCount   int     `json:"entry_count"`
}

func (d Decision) Approved() bool { return d.Status == Approve }

func (d *Decision) set(s Status, code, format string, args ...any) {
	d.Status = s
	d.ReasonCode = code
	d.ReasonText = fmt.Sprintf(format, args...)
	if s != Approve {
		d.PositionSize = 0
	}
}
