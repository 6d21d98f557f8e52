package journal

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatOrg   Format = "org"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatCSV, FormatJSON, FormatJSONL, FormatOrg:
		return f, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

var csvHeader = []string{
	"trade_id", "account", "symbol", "strategy",
	"entry_order_id", "entry_timestamp_utc", "entry_price", "entry_quantity",
	"exit_order_id", "exit_timestamp_utc", "exit_price", "exit_quantity",
	"exit_type", "exit_reason", "holding_duration",
	"gross_pnl", "fees", "net_pnl", "pnl_pct",
	"confidence", "risk_amount", "note", "corrects_trade_id", "void",
}

// Encode renders trades in the given format.
func Encode(trades []Trade, f Format) ([]byte, error) {
	var buf bytes.Buffer
	switch f {
	case FormatCSV:
		w := csv.NewWriter(&buf)
		if err := w.Write(csvHeader); err != nil {
			return nil, err
		}
		for _, t := range trades {
			if err := w.Write(csvRow(t)); err != nil {
				return nil, err
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, err
		}

	case FormatJSON:
		if trades == nil {
			trades = []Trade{}
		}
		data, err := json.MarshalIndent(trades, "", "  ")
		if err != nil {
			return nil, err
		}
		buf.Write(data)
		buf.WriteByte('\n')

	case FormatJSONL:
		enc := json.NewEncoder(&buf)
		for _, t := range trades {
			if err := enc.Encode(t); err != nil {
				return nil, err
			}
		}

	case FormatOrg:
		buf.WriteString(FormatTradesOrg(trades))

	default:
		return nil, fmt.Errorf("unknown export format %q", f)
	}
	return buf.Bytes(), nil
}

func csvRow(t Trade) []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return []string{
		t.TradeID, t.Account, t.Symbol, t.Strategy,
		t.EntryOrderID, t.EntryTime.UTC().Format(time.RFC3339Nano), t.EntryPrice.String(), t.EntryQuantity.String(),
		t.ExitOrderID, t.ExitTime.UTC().Format(time.RFC3339Nano), t.ExitPrice.String(), t.ExitQuantity.String(),
		string(t.ExitType), t.ExitReason, t.Holding().String(),
		t.GrossPnL.String(), t.Fees.String(), t.NetPnL.String(), t.PnLPct.String(),
		f(t.Confidence), f(t.RiskAmount), t.Note, t.CorrectsTradeID,
		strconv.FormatBool(t.Void),
	}
}
