// market/instruments.go
package market

import (
	"fmt"
	"math"
	"strings"
)

// InstrumentMeta carries the execution constraints of a tradable symbol.
type InstrumentMeta struct {
	Symbol       string  `json:"symbol" yaml:"symbol" mapstructure:"symbol"`
	QuantityStep float64 `json:"quantity_step" yaml:"quantity_step" mapstructure:"quantity_step"`
	MinQuantity  float64 `json:"min_quantity" yaml:"min_quantity" mapstructure:"min_quantity"`
	MinNotional  float64 `json:"min_notional" yaml:"min_notional" mapstructure:"min_notional"`
}

// RoundDown truncates qty to the instrument's quantity step. A zero step
// leaves qty unchanged.
func (m InstrumentMeta) RoundDown(qty float64) float64 {
	if m.QuantityStep <= 0 || qty <= 0 {
		return math.Max(qty, 0)
	}
	steps := math.Floor(qty/m.QuantityStep + 1e-9)
	return steps * m.QuantityStep
}

func (m InstrumentMeta) Validate() error {
	if strings.TrimSpace(m.Symbol) == "" {
		return fmt.Errorf("instrument symbol is required")
	}
	if m.QuantityStep < 0 || m.MinQuantity < 0 || m.MinNotional < 0 {
		return fmt.Errorf("instrument %s: step and minimums must not be negative", m.Symbol)
	}
	return nil
}

// Instruments is a symbol-keyed catalogue. Unknown symbols resolve to
// Default with the symbol filled in.
type Instruments struct {
	Default InstrumentMeta
	bySym   map[string]InstrumentMeta
}

func NewInstruments(def InstrumentMeta, metas ...InstrumentMeta) *Instruments {
	in := &Instruments{Default: def, bySym: make(map[string]InstrumentMeta, len(metas))}
	for _, m := range metas {
		in.bySym[strings.ToUpper(m.Symbol)] = m
	}
	return in
}

func (in *Instruments) Lookup(symbol string) InstrumentMeta {
	if in != nil {
		if m, ok := in.bySym[strings.ToUpper(symbol)]; ok {
			return m
		}
	}
	var def InstrumentMeta
	if in != nil {
		def = in.Default
	}
	def.Symbol = symbol
	return def
}
