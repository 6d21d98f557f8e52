package indicators

import (
	"fmt"
	"math"

	"github.com/rustyeddy/tradekeeper/market"
)

// Volatility is the population standard deviation of the last period
// close-to-close returns.
type Volatility struct {
	period    int
	returns   []float64
	prevClose float64
}

func NewVolatility(period int) *Volatility {
	return &Volatility{period: period, returns: make([]float64, 0, period)}
}

func (v *Volatility) Name() string {
	return fmt.Sprintf("VOL(%d)", v.period)
}

func (v *Volatility) Warmup() int {
	return v.period + 1
}

func (v *Volatility) Reset() {
	v.returns = v.returns[:0]
	v.prevClose = 0
}

func (v *Volatility) Update(c market.Candle) {
	if v.prevClose > 0 {
		v.returns = append(v.returns, c.Close/v.prevClose-1)
		if len(v.returns) > v.period {
			v.returns = v.returns[1:]
		}
	}
	v.prevClose = c.Close
}

func (v *Volatility) Ready() bool {
	return v.period > 0 && len(v.returns) >= v.period
}

func (v *Volatility) Value() float64 {
	if !v.Ready() {
		return 0
	}
	var mean float64
	for _, r := range v.returns {
		mean += r
	}
	mean /= float64(len(v.returns))

	var ss float64
	for _, r := range v.returns {
		ss += (r - mean) * (r - mean)
	}
	return math.Sqrt(ss / float64(len(v.returns)))
}
