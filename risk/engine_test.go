package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestEngineLogsOneLinePerDecision(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	e := NewEngine(zap.New(core))

	d, err := e.Evaluate(baseContext())
	require.NoError(t, err)
	assert.Equal(t, Approve, d.Status)

	c := baseContext()
	c.Account.ConsecutiveLosses = 9
	d, err = e.Evaluate(c)
	require.NoError(t, err)
	assert.Equal(t, Block, d.Status)

	entries := logs.FilterMessage("admission decision").AllUntimed()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)

	fields := entries[1].ContextMap()
	assert.Equal(t, "AAPL", fields["symbol"])
	assert.Equal(t, "breakout", fields["strategy"])
	assert.Equal(t, ReasonConsecutiveLosses, fields["reason_code"])
	assert.Equal(t, "BLOCK", fields["decision"])
	assert.Contains(t, fields, "entry_count")
	assert.Contains(t, fields, "position_pct")
	assert.Contains(t, fields, "risk_amount")
}

type panicCore struct{ zapcore.Core }

func (panicCore) Enabled(zapcore.Level) bool { return true }
func (c panicCore) With([]zapcore.Field) zapcore.Core { return c }
func (c panicCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	return ce.AddCore(e, c)
}
func (panicCore) Write(zapcore.Entry, []zapcore.Field) error { panic("log sink exploded") }
func (panicCore) Sync() error { return nil }

func TestEngineLoggingCannotChangeDecision(t *testing.T) {
	t.Parallel()

	e := NewEngine(zap.New(panicCore{}))

	var d Decision
	var err error
	assert.NotPanics(t, func() { d, err = e.Evaluate(baseContext()) })
	require.NoError(t, err)
	assert.Equal(t, Approve, d.Status)
}

func TestEngineInvalidContext(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	e := NewEngine(zap.New(core))

	c := baseContext()
	c.Proposal.Symbol = ""
	_, err := e.Evaluate(c)
	require.ErrorIs(t, err, ErrInvalidContext)
	assert.Equal(t, 1, logs.FilterMessage("admission: invalid context").Len())
}
