package risk

import (
	"go.uber.org/zap"
)

// Engine wraps Evaluate with one structured log line per decision.
type Engine struct {
	log *zap.Logger
}

func NewEngine(log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{log: log.Named("admission")}
}

func (e *Engine) Evaluate(c Context) (Decision, error) {
	d, err := Evaluate(c)
	e.logDecision(c, d, err)
	return d, err
}

// logDecision must never affect the returned decision, so a panic in the
// logger is swallowed here.
func (e *Engine) logDecision(c Context, d Decision, err error) {
	defer func() { _ = recover() }()

	p := c.Proposal
	if err != nil {
		e.log.Warn("admission: invalid context",
			zap.String("symbol", p.Symbol),
			zap.String("strategy", p.Strategy),
			zap.Error(err),
		)
		return
	}

	fields := []zap.Field{
		zap.String("symbol", p.Symbol),
		zap.String("strategy", p.Strategy),
		zap.String("side", string(p.Side)),
		zap.String("decision", string(d.Status)),
		zap.String("reason_code", d.ReasonCode),
		zap.String("reason", d.ReasonText),
		zap.Float64("position_size", d.PositionSize),
		zap.Float64("risk_amount", d.RiskAmount),
		zap.Float64("position_pct", d.PositionPct),
		zap.Float64("portfolio_pct", d.PortfolioPct),
		zap.Int("entry_count", d.EntryCount),
		zap.Float64("confidence", p.Confidence),
	}
	if d.Status == Block {
		e.log.Warn("admission decision", fields...)
		return
	}
	e.log.Info("admission decision", fields...)
}
