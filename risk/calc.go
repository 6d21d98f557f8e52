package risk

import (
	"math"

	"github.com/rustyeddy/tradekeeper/market"
)

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

// PlannedRisk is the loss if the stop is hit.
func PlannedRisk(qty, entry, stop float64) float64 {
	return qty * abs(entry-stop)
}

func RiskPct(plannedRisk, equity float64) float64 {
	if equity <= 0 {
		return math.Inf(1)
	}
	return plannedRisk / equity
}

// ConfidenceMultiplier maps confidence (clamped to [0,1]) onto the sizing
// multiplier range. An unset range means 1.
func (s Sizing) ConfidenceMultiplier(confidence float64) float64 {
	if s.MinConfidenceMultiplier == 0 && s.MaxConfidenceMultiplier == 0 {
		return 1
	}
	c := clamp(confidence, 0, 1)
	return s.MinConfidenceMultiplier + (s.MaxConfidenceMultiplier-s.MinConfidenceMultiplier)*c
}

type Inputs struct {
	Equity      float64
	EntryPrice  float64
	StopPrice   float64 // zero uses Sizing.DefaultStopPct
	Confidence  float64
	MaxQuantity float64 // zero means uncapped
	Sizing      Sizing
	Instrument  market.InstrumentMeta
}

type Result struct {
	Quantity     float64
	StopDistance float64
	TargetRisk   float64 // equity x risk per trade x confidence multiplier
	RiskAmount   float64 // risk actually taken at Quantity
}

// Calculate sizes an entry so that hitting the stop loses the target risk,
// rounded down to the instrument's quantity step.
func Calculate(in Inputs) Result {
	var r Result
	r.TargetRisk = in.Equity * in.Sizing.RiskPerTrade * in.Sizing.ConfidenceMultiplier(in.Confidence)

	if in.StopPrice > 0 {
		r.StopDistance = abs(in.EntryPrice - in.StopPrice)
	} else {
		r.StopDistance = in.EntryPrice * in.Sizing.DefaultStopPct
	}
	if r.StopDistance <= 0 || r.TargetRisk <= 0 {
		return r
	}

	qty := r.TargetRisk / r.StopDistance
	if in.MaxQuantity > 0 && qty > in.MaxQuantity {
		qty = in.MaxQuantity
	}
	r.Quantity = in.Instrument.RoundDown(qty)
	r.RiskAmount = PlannedRisk(r.Quantity, in.EntryPrice, in.EntryPrice-r.StopDistance)
	return r
}
