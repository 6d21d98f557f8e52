package risk

import (
	"fmt"
	"time"
)

type ScalingMode string

const (
	Pyramid ScalingMode = "pyramid"
	Average ScalingMode = "average"
)

// ScalingPolicy is what a strategy declares about adding to an open
// position. Zero values disable the matching rule.
type ScalingPolicy struct {
	AllowsMultipleEntries       bool          `json:"allows_multiple_entries" yaml:"allows_multiple_entries" mapstructure:"allows_multiple_entries"`
	MaxEntriesPerSymbol         int           `json:"max_entries_per_symbol" yaml:"max_entries_per_symbol" mapstructure:"max_entries_per_symbol"`
	MaxTotalPositionPct         float64       `json:"max_total_position_pct" yaml:"max_total_position_pct" mapstructure:"max_total_position_pct"`
	ScalingMode                 ScalingMode   `json:"scaling_mode" yaml:"scaling_mode" mapstructure:"scaling_mode"`
	MinTimeBetweenEntries       time.Duration `json:"min_time_between_entries" yaml:"min_time_between_entries" mapstructure:"min_time_between_entries"`
	MinBarsBetweenEntries       int           `json:"min_bars_between_entries" yaml:"min_bars_between_entries" mapstructure:"min_bars_between_entries"`
	MinSignalStrengthForAdd     float64       `json:"min_signal_strength_for_add" yaml:"min_signal_strength_for_add" mapstructure:"min_signal_strength_for_add"`
	MaxAdverseExcursionMultiple float64       `json:"max_adverse_excursion_multiple" yaml:"max_adverse_excursion_multiple" mapstructure:"max_adverse_excursion_multiple"`
	RequireVolatilityExpansion  bool          `json:"require_volatility_expansion" yaml:"require_volatility_expansion" mapstructure:"require_volatility_expansion"`
}

// DefaultPolicy allows one entry per symbol.
func DefaultPolicy() ScalingPolicy {
	return ScalingPolicy{
		MaxEntriesPerSymbol: 1,
		ScalingMode:         Pyramid,
	}
}

func (p ScalingPolicy) Validate() error {
	switch p.ScalingMode {
	case "", Pyramid, Average:
	default:
		return fmt.Errorf("scaling_mode %q must be pyramid or average", p.ScalingMode)
	}
	if p.MaxEntriesPerSymbol < 0 || p.MinBarsBetweenEntries < 0 {
		return fmt.Errorf("entry counts must not be negative")
	}
	if p.MaxTotalPositionPct < 0 || p.MaxTotalPositionPct > 1 {
		return fmt.Errorf("max_total_position_pct %.4f must be within [0,1]", p.MaxTotalPositionPct)
	}
	if p.MinTimeBetweenEntries < 0 || p.MinSignalStrengthForAdd < 0 || p.MaxAdverseExcursionMultiple < 0 {
		return fmt.Errorf("spacing and signal thresholds must not be negative")
	}
	return nil
}

// Limits are the account-wide hard rules. Fractions are of equity.
type Limits struct {
	MaxConsecutiveLosses    int     `json:"max_consecutive_losses" yaml:"max_consecutive_losses" mapstructure:"max_consecutive_losses"`
	MaxDailyLossPct         float64 `json:"max_daily_loss_pct" yaml:"max_daily_loss_pct" mapstructure:"max_daily_loss_pct"`
	MaxDailyTrades          int     `json:"max_daily_trades" yaml:"max_daily_trades" mapstructure:"max_daily_trades"`
	MaxSymbolPositionPct    float64 `json:"max_symbol_position_pct" yaml:"max_symbol_position_pct" mapstructure:"max_symbol_position_pct"`
	MaxPortfolioPositionPct float64 `json:"max_portfolio_position_pct" yaml:"max_portfolio_position_pct" mapstructure:"max_portfolio_position_pct"`
	MaxPortfolioHeatPct     float64 `json:"max_portfolio_heat_pct" yaml:"max_portfolio_heat_pct" mapstructure:"max_portfolio_heat_pct"`
}

func DefaultLimits() Limits {
	return Limits{
		MaxConsecutiveLosses:    3,
		MaxDailyLossPct:         0.015,
		MaxDailyTrades:          10,
		MaxSymbolPositionPct:    0.25,
		MaxPortfolioPositionPct: 1.0,
		MaxPortfolioHeatPct:     0.06,
	}
}

func (l Limits) Validate() error {
	if l.MaxConsecutiveLosses < 0 || l.MaxDailyTrades < 0 {
		return fmt.Errorf("loss and trade caps must not be negative")
	}
	for name, v := range map[string]float64{
		"max_daily_loss_pct":         l.MaxDailyLossPct,
		"max_symbol_position_pct":    l.MaxSymbolPositionPct,
		"max_portfolio_position_pct": l.MaxPortfolioPositionPct,
		"max_portfolio_heat_pct":     l.MaxPortfolioHeatPct,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s %.4f must be within [0,1]", name, v)
		}
	}
	return nil
}

// Sizing turns equity and confidence into a risk amount. The confidence
// multiplier moves linearly from MinConfidenceMultiplier at confidence 0 to
// MaxConfidenceMultiplier at confidence 1.
type Sizing struct {
	RiskPerTrade            float64 `json:"risk_per_trade" yaml:"risk_per_trade" mapstructure:"risk_per_trade"`
	DefaultStopPct          float64 `json:"default_stop_pct" yaml:"default_stop_pct" mapstructure:"default_stop_pct"`
	MinConfidenceMultiplier float64 `json:"min_confidence_multiplier" yaml:"min_confidence_multiplier" mapstructure:"min_confidence_multiplier"`
	MaxConfidenceMultiplier float64 `json:"max_confidence_multiplier" yaml:"max_confidence_multiplier" mapstructure:"max_confidence_multiplier"`
}

func DefaultSizing() Sizing {
	return Sizing{
		RiskPerTrade:            0.005,
		DefaultStopPct:          0.02,
		MinConfidenceMultiplier: 0.5,
		MaxConfidenceMultiplier: 1.0,
	}
}

func (s Sizing) Validate() error {
	if s.RiskPerTrade <= 0 || s.RiskPerTrade > 1 {
		return fmt.Errorf("risk_per_trade %.4f must be within (0,1]", s.RiskPerTrade)
	}
	if s.DefaultStopPct < 0 || s.DefaultStopPct >= 1 {
		return fmt.Errorf("default_stop_pct %.4f must be within [0,1)", s.DefaultStopPct)
	}
	if s.MinConfidenceMultiplier < 0 || s.MaxConfidenceMultiplier < s.MinConfidenceMultiplier {
		return fmt.Errorf("confidence multipliers must satisfy 0 <= min <= max")
	}
	return nil
}
