package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	t.Parallel()

	pyr := ScalingPolicy{AllowsMultipleEntries: true, MaxEntriesPerSymbol: 3, ScalingMode: Pyramid, MinTimeBetweenEntries: time.Hour}
	avg := ScalingPolicy{AllowsMultipleEntries: true, MaxEntriesPerSymbol: 2, ScalingMode: Average, MaxAdverseExcursionMultiple: 1.5}

	r, err := NewRegistry(DefaultPolicy(), map[string]ScalingPolicy{"trend": pyr, "meanrev": avg})
	require.NoError(t, err)

	got, ok := r.Policy("trend")
	assert.True(t, ok)
	assert.Equal(t, pyr, got)

	got, ok = r.Policy("MeanRev")
	assert.True(t, ok)
	assert.Equal(t, avg, got)

	got, ok = r.Policy("unknown")
	assert.False(t, ok)
	assert.Equal(t, DefaultPolicy(), got)
	assert.False(t, got.AllowsMultipleEntries)

	assert.Equal(t, []string{"meanrev", "trend"}, r.Strategies())
}

func TestRegistryRejectsInvalidPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		p    ScalingPolicy
	}{
		{"mode", ScalingPolicy{ScalingMode: "martingale"}},
		{"pct", ScalingPolicy{MaxTotalPositionPct: 1.5}},
		{"entries", ScalingPolicy{MaxEntriesPerSymbol: -1}},
		{"spacing", ScalingPolicy{MinTimeBetweenEntries: -time.Second}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewRegistry(DefaultPolicy(), map[string]ScalingPolicy{"bad": tt.p})
			assert.ErrorContains(t, err, `strategy "bad"`)
		})
	}
}

func TestLimitsAndSizingValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, DefaultLimits().Validate())
	assert.NoError(t, DefaultSizing().Validate())

	l := DefaultLimits()
	l.MaxDailyLossPct = 2
	assert.Error(t, l.Validate())

	s := DefaultSizing()
	s.RiskPerTrade = 0
	assert.Error(t, s.Validate())

	s = DefaultSizing()
	s.MaxConfidenceMultiplier = 0.1
	assert.Error(t, s.Validate())
}
