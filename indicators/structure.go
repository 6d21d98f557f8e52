package indicators

import (
	"sort"
	"time"

	"github.com/rustyeddy/tradekeeper/market"
	"github.com/rustyeddy/tradekeeper/risk"
)

// StructureParams sets the lookbacks used by Structure.
type StructureParams struct {
	ATRPeriod        int
	VolatilityPeriod int
	// BaselinePeriod is the longer window the current volatility is
	// compared against.
	BaselinePeriod int
}

func DefaultStructureParams() StructureParams {
	return StructureParams{ATRPeriod: 14, VolatilityPeriod: 20, BaselinePeriod: 100}
}

// Structure derives the market inputs of an admission decision from the
// symbol's bars. Values that need more history than is available are left
// zero, which the admission checks treat as unknown. The excursion since
// the last entry is only computed when lastEntry is set.
func Structure(candles []market.Candle, lastEntry time.Time, p StructureParams) risk.Market {
	var m risk.Market
	if len(candles) == 0 {
		return m
	}
	m.BarInterval = barInterval(candles)

	if p.ATRPeriod > 0 && len(candles) > p.ATRPeriod {
		m.ATR = Run(NewATR(p.ATRPeriod), candles)
	}
	if p.VolatilityPeriod > 0 && len(candles) > p.VolatilityPeriod {
		m.Volatility = Run(NewVolatility(p.VolatilityPeriod), candles)
	}
	if p.BaselinePeriod > 0 && len(candles) > p.BaselinePeriod {
		m.VolatilityBaseline = Run(NewVolatility(p.BaselinePeriod), candles)
	}

	if !lastEntry.IsZero() {
		first := true
		for _, c := range candles {
			if c.Time.Before(lastEntry) {
				continue
			}
			if first || c.Low < m.LowSinceLastEntry {
				m.LowSinceLastEntry = c.Low
			}
			if first || c.High > m.HighSinceLastEntry {
				m.HighSinceLastEntry = c.High
			}
			first = false
		}
	}
	return m
}

// barInterval is the median gap between consecutive bars, so weekend and
// overnight gaps do not stretch it.
func barInterval(candles []market.Candle) time.Duration {
	if len(candles) < 2 {
		return 0
	}
	gaps := make([]time.Duration, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		if d := candles[i].Time.Sub(candles[i-1].Time); d > 0 {
			gaps = append(gaps, d)
		}
	}
	if len(gaps) == 0 {
		return 0
	}
	sort.Slice(gaps, func(i, j int) bool { return gaps[i] < gaps[j] })
	return gaps[len(gaps)/2]
}

// Overlay fills the zero fields of m from derived. Values supplied by the
// caller win.
func Overlay(m, derived risk.Market) risk.Market {
	if m.BarInterval == 0 {
		m.BarInterval = derived.BarInterval
	}
	if m.ATR == 0 {
		m.ATR = derived.ATR
	}
	if m.Volatility == 0 {
		m.Volatility = derived.Volatility
	}
	if m.VolatilityBaseline == 0 {
		m.VolatilityBaseline = derived.VolatilityBaseline
	}
	if m.LowSinceLastEntry == 0 {
		m.LowSinceLastEntry = derived.LowSinceLastEntry
	}
	if m.HighSinceLastEntry == 0 {
		m.HighSinceLastEntry = derived.HighSinceLastEntry
	}
	return m
}
