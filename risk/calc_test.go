package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rustyeddy/tradekeeper/market"
)

func TestConfidenceMultiplier(t *testing.T) {
	t.Parallel()

	s := Sizing{MinConfidenceMultiplier: 0.5, MaxConfidenceMultiplier: 1.5}

	tests := []struct {
		name       string
		confidence float64
		want       float64
	}{
		{"zero", 0, 0.5},
		{"half", 0.5, 1.0},
		{"full", 1, 1.5},
		{"clamped high", 3, 1.5},
		{"clamped low", -1, 0.5},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, s.ConfidenceMultiplier(tt.confidence), 1e-12)
		})
	}

	assert.Equal(t, 1.0, Sizing{}.ConfidenceMultiplier(0.2), "unset range")
}

func TestCalculateWithStop(t *testing.T) {
	t.Parallel()

	got := Calculate(Inputs{
		Equity:     100000,
		EntryPrice: 180,
		StopPrice:  176,
		Confidence: 1,
		Sizing:     Sizing{RiskPerTrade: 0.01, MinConfidenceMultiplier: 0.5, MaxConfidenceMultiplier: 1},
		Instrument: market.InstrumentMeta{QuantityStep: 1},
	})

	assert.InDelta(t, 1000.0, got.TargetRisk, 1e-9)
	assert.InDelta(t, 4.0, got.StopDistance, 1e-9)
	assert.InDelta(t, 250.0, got.Quantity, 1e-9)
	assert.InDelta(t, 1000.0, got.RiskAmount, 1e-9)
}

func TestCalculateDefaultStopAndRounding(t *testing.T) {
	t.Parallel()

	got := Calculate(Inputs{
		Equity:     10000,
		EntryPrice: 120,
		Confidence: 0,
		Sizing:     Sizing{RiskPerTrade: 0.01, DefaultStopPct: 0.05, MinConfidenceMultiplier: 0.5, MaxConfidenceMultiplier: 1},
		Instrument: market.InstrumentMeta{QuantityStep: 0.01},
	})

	// 10000 x 0.01 x 0.5 = 50 risk over a 6.00 stop = 8.333...
	assert.InDelta(t, 6.0, got.StopDistance, 1e-9)
	assert.InDelta(t, 8.33, got.Quantity, 1e-9)
	assert.InDelta(t, 49.98, got.RiskAmount, 1e-9)
}

func TestCalculateCapsAtProposedQuantity(t *testing.T) {
	t.Parallel()

	got := Calculate(Inputs{
		Equity:      100000,
		EntryPrice:  100,
		StopPrice:   99,
		MaxQuantity: 10,
		Sizing:      Sizing{RiskPerTrade: 0.01},
		Instrument:  market.InstrumentMeta{QuantityStep: 1},
	})
	assert.InDelta(t, 10.0, got.Quantity, 1e-9)
	assert.InDelta(t, 10.0, got.RiskAmount, 1e-9)
}

func TestCalculateNoStopDistance(t *testing.T) {
	t.Parallel()

	got := Calculate(Inputs{Equity: 1000, EntryPrice: 50, Sizing: Sizing{RiskPerTrade: 0.01}})
	assert.Zero(t, got.Quantity)
	assert.Zero(t, got.RiskAmount)
}

func TestRiskPct(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0.01, RiskPct(100, 10000), 1e-12)
	assert.True(t, RiskPct(1, 0) > 1e300)
	assert.InDelta(t, 40.0, PlannedRisk(10, 100, 96), 1e-12)
}
