package risk

import (
	"math"
	"strings"

	"github.com/rustyeddy/tradekeeper/broker"
)

const qtyEpsilon = 1e-9

// Evaluate runs the admission pipeline for c. The first failing check
// decides: hard safety blocks, then direction, then strategy
// qualification skips, then execution feasibility. The error is non-nil
// only when c itself is malformed; policy outcomes are Decisions.
func Evaluate(c Context) (Decision, error) {
	if err := c.validate(); err != nil {
		return Decision{}, err
	}

	p := c.Proposal
	sized := Calculate(Inputs{
		Equity:      c.Account.Equity,
		EntryPrice:  p.Price,
		StopPrice:   p.StopPrice,
		Confidence:  p.Confidence,
		MaxQuantity: p.Quantity,
		Sizing:      c.Sizing,
		Instrument:  c.Instrument,
	})

	d := Decision{
		OrderID:      p.OrderID,
		PositionSize: sized.Quantity,
		RiskAmount:   sized.RiskAmount,
	}

	var existingQty float64
	if c.Position != nil {
		existingQty = c.Position.Quantity
		d.EntryCount = c.Position.EntryCount
	}
	symbolNotional := (existingQty + sized.Quantity) * p.Price
	d.PositionPct = symbolNotional / c.Account.Equity

	portfolio := symbolNotional
	for _, e := range c.Positions {
		if !strings.EqualFold(e.Symbol, p.Symbol) {
			portfolio += e.Notional()
		}
	}
	d.PortfolioPct = portfolio / c.Account.Equity

	for _, check := range []func(Context, *Decision) bool{
		checkHardLimits,
		checkDirection,
		checkQualification,
		checkFeasibility,
	} {
		if check(c, &d) {
			return d, nil
		}
	}

	d.set(Approve, ReasonApproved, "approved %.6g %s", d.PositionSize, p.Symbol)
	return d, nil
}

func checkHardLimits(c Context, d *Decision) bool {
	lim := c.Limits
	acct := c.Account
	p := c.Proposal

	if lim.MaxConsecutiveLosses > 0 && acct.ConsecutiveLosses >= lim.MaxConsecutiveLosses {
		d.set(Block, ReasonConsecutiveLosses, "%d consecutive losses >= max %d", acct.ConsecutiveLosses, lim.MaxConsecutiveLosses)
		return true
	}
	if lim.MaxDailyLossPct > 0 {
		limit := -lim.MaxDailyLossPct * acct.Equity
		if acct.DailyPnL <= limit {
			d.set(Block, ReasonDailyLoss, "daily pnl %.2f <= limit %.2f", acct.DailyPnL, limit)
			return true
		}
	}
	if lim.MaxDailyTrades > 0 && acct.DailyTradeCount >= lim.MaxDailyTrades {
		d.set(Block, ReasonDailyTradeCap, "%d trades today >= cap %d", acct.DailyTradeCount, lim.MaxDailyTrades)
		return true
	}

	if c.isScaleIn() {
		if !c.Policy.AllowsMultipleEntries {
			d.set(Block, ReasonMultipleEntries, "strategy %q does not allow adding to %s", p.Strategy, p.Symbol)
			return true
		}
		if maxEntries := c.Policy.MaxEntriesPerSymbol; maxEntries > 0 && d.EntryCount >= maxEntries {
			d.set(Block, ReasonMaxEntries, "%d entries in %s >= max %d", d.EntryCount, p.Symbol, maxEntries)
			return true
		}
	}

	symbolCap := c.Policy.MaxTotalPositionPct
	if symbolCap == 0 {
		symbolCap = lim.MaxSymbolPositionPct
	}
	if symbolCap > 0 && d.PositionPct > symbolCap+qtyEpsilon {
		d.set(Block, ReasonSymbolPosition, "position %.2f%% of equity exceeds %.2f%%", 100*d.PositionPct, 100*symbolCap)
		return true
	}
	if lim.MaxPortfolioPositionPct > 0 && d.PortfolioPct > lim.MaxPortfolioPositionPct+qtyEpsilon {
		d.set(Block, ReasonPortfolioPosition, "portfolio %.2f%% of equity exceeds %.2f%%", 100*d.PortfolioPct, 100*lim.MaxPortfolioPositionPct)
		return true
	}

	for _, o := range c.PendingOrders {
		if !strings.EqualFold(o.Symbol, p.Symbol) {
			continue
		}
		if o.Side == p.Side {
			d.set(Block, ReasonPendingOrder, "pending %s order %s for %s", o.Side, o.OrderID, p.Symbol)
		} else {
			d.set(Block, ReasonPendingDirection, "pending %s order %s conflicts with %s", o.Side, o.OrderID, p.Side)
		}
		return true
	}

	if c.BrokerQuantity != nil {
		var local float64
		if c.Position != nil {
			local = c.Position.Quantity
		}
		if math.Abs(local-*c.BrokerQuantity) > qtyEpsilon {
			d.set(Block, ReasonBrokerMismatch, "local quantity %.6g differs from broker %.6g for %s", local, *c.BrokerQuantity, p.Symbol)
			return true
		}
	}

	if d.RiskAmount > acct.AvailableRiskBudget+qtyEpsilon {
		d.set(Block, ReasonRiskBudget, "risk %.2f exceeds available budget %.2f", d.RiskAmount, acct.AvailableRiskBudget)
		return true
	}
	return false
}

// checkDirection rejects a proposal against the open position's side.
// Short positions are not supported, so a sell never opens or adds.
func checkDirection(c Context, d *Decision) bool {
	p := c.Proposal
	if c.Position != nil && c.Position.Side != "" && p.Side != c.Position.Side {
		d.set(Block, ReasonDirectionConflict, "%s proposal against open %s position in %s", p.Side, c.Position.Side, p.Symbol)
		return true
	}
	if p.Side != broker.Buy {
		d.set(Block, ReasonDirectionConflict, "short entries are not supported (%s %s)", p.Side, p.Symbol)
		return true
	}
	return false
}

func checkQualification(c Context, d *Decision) bool {
	p := c.Proposal
	pol := c.Policy
	mkt := c.Market

	if c.isScaleIn() {
		pos := c.Position
		since := c.Now.Sub(pos.LastEntryTime)

		if pol.MinTimeBetweenEntries > 0 && since < pol.MinTimeBetweenEntries {
			d.set(Skip, ReasonCooldown, "%s since last entry < %s", since, pol.MinTimeBetweenEntries)
			return true
		}
		if pol.MinBarsBetweenEntries > 0 && mkt.BarInterval > 0 {
			bars := int(since / mkt.BarInterval)
			if bars < pol.MinBarsBetweenEntries {
				d.set(Skip, ReasonBarSpacing, "%d bars since last entry < %d", bars, pol.MinBarsBetweenEntries)
				return true
			}
		}
		if pol.MinSignalStrengthForAdd > 0 && p.Confidence < pol.MinSignalStrengthForAdd {
			d.set(Skip, ReasonSignalTooWeak, "confidence %.2f < %.2f required to add", p.Confidence, pol.MinSignalStrengthForAdd)
			return true
		}
		if len(p.Meta.Disqualifiers) > 0 {
			d.set(Skip, ReasonDisqualified, "disqualified: %s", strings.Join(p.Meta.Disqualifiers, ", "))
			return true
		}

		switch pol.ScalingMode {
		case Average:
			if p.Price >= pos.LastEntryPrice {
				d.set(Skip, ReasonAveragingPrice, "price %.4f not below last entry %.4f", p.Price, pos.LastEntryPrice)
				return true
			}
			if pol.MaxAdverseExcursionMultiple > 0 && mkt.ATR > 0 {
				excursion := pos.LastEntryPrice - p.Price
				if limit := pol.MaxAdverseExcursionMultiple * mkt.ATR; excursion > limit {
					d.set(Skip, ReasonAdverseExcursion, "excursion %.4f > %.2f x ATR (%.4f)", excursion, pol.MaxAdverseExcursionMultiple, limit)
					return true
				}
			}
		default:
			if p.Price <= pos.LastEntryPrice {
				d.set(Skip, ReasonPyramidPrice, "price %.4f not above last entry %.4f", p.Price, pos.LastEntryPrice)
				return true
			}
			if mkt.LowSinceLastEntry > 0 && mkt.LowSinceLastEntry < pos.AvgEntryPrice {
				d.set(Skip, ReasonAdverseExtreme, "low %.4f since last entry is below average entry %.4f", mkt.LowSinceLastEntry, pos.AvgEntryPrice)
				return true
			}
		}
	}

	if pol.RequireVolatilityExpansion && mkt.VolatilityBaseline > 0 && mkt.Volatility < mkt.VolatilityBaseline {
		d.set(Skip, ReasonVolatilityRegime, "volatility %.4f below baseline %.4f", mkt.Volatility, mkt.VolatilityBaseline)
		return true
	}
	return false
}

func checkFeasibility(c Context, d *Decision) bool {
	in := c.Instrument
	if d.PositionSize <= 0 || (in.MinQuantity > 0 && d.PositionSize < in.MinQuantity-qtyEpsilon) {
		d.set(Block, ReasonBelowMinQuantity, "size %.6g below minimum %.6g", d.PositionSize, in.MinQuantity)
		return true
	}
	if notional := d.PositionSize * c.Proposal.Price; in.MinNotional > 0 && notional < in.MinNotional {
		d.set(Block, ReasonBelowMinNotional, "notional %.2f below minimum %.2f", notional, in.MinNotional)
		return true
	}
	return false
}
