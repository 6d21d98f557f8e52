// Package indicators computes bar statistics used as admission inputs.
package indicators

import "github.com/rustyeddy/tradekeeper/market"

// Indicator computes a single streaming value from candles.
type Indicator interface {
	// Name returns a stable identifier like "ATR(14)".
	Name() string

	// Warmup returns how many updates are needed before Ready() can be true.
	Warmup() int

	// Reset clears all internal state.
	Reset()

	// Update consumes the next *closed* candle and updates internal state.
	Update(c market.Candle)

	// Ready reports whether Value() is meaningful (warmup completed).
	Ready() bool

	// Value returns the current value, or 0 before warmup.
	Value() float64
}

// Run feeds candles through ind and returns its final value.
func Run(ind Indicator, candles []market.Candle) float64 {
	for _, c := range candles {
		ind.Update(c)
	}
	return ind.Value()
}
