package broker

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validFill() Fill {
	return Fill{
		FillID:   "F1",
		OrderID:  "O1",
		Symbol:   "AAPL",
		Side:     Buy,
		Quantity: decimal.RequireFromString("50"),
		Price:    decimal.RequireFromString("180.00"),
		FilledAt: time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC),
	}
}

func TestParseSide(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Side
		wantErr bool
	}{
		{"buy", Buy, false},
		{"SELL", Sell, false},
		{" Buy ", Buy, false},
		{"short", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSide(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFillValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Fill)
		errMsg string
	}{
		{"valid", func(*Fill) {}, ""},
		{"missing id", func(f *Fill) { f.FillID = "" }, "missing fill_id"},
		{"missing order", func(f *Fill) { f.OrderID = " " }, "missing order_id"},
		{"missing symbol", func(f *Fill) { f.Symbol = "" }, "missing symbol"},
		{"bad side", func(f *Fill) { f.Side = "hold" }, "side"},
		{"zero quantity", func(f *Fill) { f.Quantity = decimal.Zero }, "quantity"},
		{"negative price", func(f *Fill) { f.Price = decimal.NewFromInt(-1) }, "price"},
		{"negative fee", func(f *Fill) { f.Fee = decimal.NewFromInt(-1) }, "negative fee"},
		{"missing timestamp", func(f *Fill) { f.FilledAt = time.Time{} }, "missing filled_at_utc"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := validFill()
			tt.mutate(&f)
			err := f.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidFill)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestFillOrdering(t *testing.T) {
	t.Parallel()

	a := validFill()
	b := validFill()
	b.FillID = "F2"
	assert.True(t, a.Before(b), "same time falls back to fill id")
	assert.False(t, b.Before(a))

	c := validFill()
	c.FillID = "F0"
	c.FilledAt = a.FilledAt.Add(time.Nanosecond)
	assert.True(t, a.Before(c), "time wins over fill id")
}

func TestFillJSONKeepsUTCInstant(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("EST", -5*3600)
	f := validFill()
	f.FilledAt = time.Date(2026, 2, 5, 15, 55, 55, 0, loc)

	data, err := json.Marshal(f.UTC())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"filled_at_utc":"2026-02-05T20:55:55Z"`)

	var back Fill
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.FilledAt.Equal(f.FilledAt))
	assert.Equal(t, "50", back.Quantity.String())
}

func TestSideOpposite(t *testing.T) {
	t.Parallel()
	assert.Equal(t, Sell, Buy.Opposite())
	assert.Equal(t, Buy, Sell.Opposite())
}
