// Package replay serves broker fills from local files or memory, for
// offline reconciliation and tests.
package replay

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradekeeper/broker"
)

// File reads fills from a JSON-lines file (one fill object per line) or a
// CSV file with the header
//
//	fill_id,order_id,symbol,side,quantity,price,fee,filled_at_utc
//
// The format is chosen by extension; anything that is not .csv is JSON lines.
// The file is re-read on every fetch so an external writer may keep appending.
type File struct {
	Path string
}

var _ broker.FillSource = (*File)(nil)

func (f *File) FetchFills(ctx context.Context, since time.Time) ([]broker.Fill, error) {
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open fills: %w", err)
	}
	defer fh.Close()

	var all []broker.Fill
	if strings.EqualFold(filepath.Ext(f.Path), ".csv") {
		all, err = readCSV(fh)
	} else {
		all, err = readJSONL(ctx, fh)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Path, err)
	}
	return filterSince(all, since), nil
}

func readJSONL(ctx context.Context, r io.Reader) ([]broker.Fill, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	var out []broker.Fill
	line := 0
	for sc.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var fl broker.Fill
		if err := json.Unmarshal([]byte(text), &fl); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, fl)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

var csvHeader = []string{"fill_id", "order_id", "symbol", "side", "quantity", "price", "fee", "filled_at_utc"}

func readCSV(r io.Reader) ([]broker.Fill, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	var out []broker.Fill
	sawFirst := false
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(row) == 0 {
			continue
		}
		if !sawFirst {
			sawFirst = true
			if strings.EqualFold(strings.TrimSpace(row[0]), csvHeader[0]) {
				continue
			}
		}
		fl, err := parseCSVRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, fl)
	}
	return out, nil
}

func parseCSVRow(row []string) (broker.Fill, error) {
	if len(row) < len(csvHeader) {
		return broker.Fill{}, fmt.Errorf("row %v: want %d columns, got %d", row, len(csvHeader), len(row))
	}
	for i := range row {
		row[i] = strings.TrimSpace(row[i])
	}

	side, err := broker.ParseSide(row[3])
	if err != nil {
		return broker.Fill{}, err
	}
	qty, err := decimal.NewFromString(row[4])
	if err != nil {
		return broker.Fill{}, fmt.Errorf("fill %s quantity: %w", row[0], err)
	}
	price, err := decimal.NewFromString(row[5])
	if err != nil {
		return broker.Fill{}, fmt.Errorf("fill %s price: %w", row[0], err)
	}
	fee := decimal.Zero
	if row[6] != "" {
		if fee, err = decimal.NewFromString(row[6]); err != nil {
			return broker.Fill{}, fmt.Errorf("fill %s fee: %w", row[0], err)
		}
	}
	ts, err := time.Parse(time.RFC3339Nano, row[7])
	if err != nil {
		return broker.Fill{}, fmt.Errorf("fill %s filled_at_utc: %w", row[0], err)
	}

	return broker.Fill{
		FillID:   row[0],
		OrderID:  row[1],
		Symbol:   row[2],
		Side:     side,
		Quantity: qty,
		Price:    price,
		Fee:      fee,
		FilledAt: ts,
	}, nil
}

func filterSince(fills []broker.Fill, since time.Time) []broker.Fill {
	if since.IsZero() {
		return fills
	}
	out := fills[:0]
	for _, fl := range fills {
		// Fills without a timestamp are passed through so validation rejects them.
		if fl.FilledAt.IsZero() || !fl.FilledAt.Before(since) {
			out = append(out, fl)
		}
	}
	return out
}

// Memory is an in-process fill source. It is safe for concurrent use.
type Memory struct {
	mu    sync.Mutex
	fills []broker.Fill
	err   error
	calls int
}

var _ broker.FillSource = (*Memory)(nil)

// Add appends fills to the feed. Re-adding a fill simulates duplicate delivery.
func (m *Memory) Add(fills ...broker.Fill) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fills = append(m.fills, fills...)
}

// Fail makes subsequent fetches return err; nil restores normal operation.
func (m *Memory) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls reports how many fetches were made.
func (m *Memory) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *Memory) FetchFills(ctx context.Context, since time.Time) ([]broker.Fill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}
	cp := make([]broker.Fill, len(m.fills))
	copy(cp, m.fills)
	return filterSince(cp, since), nil
}
