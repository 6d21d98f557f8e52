package market

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

const layout = "20060102 150405"

// LoadCandles reads a candle file. See ReadCandles for the format.
func LoadCandles(path string) ([]Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cs, err := ReadCandles(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cs, nil
}

// ReadCandles parses lines of time,open,high,low,close[,volume]. Fields may
// be separated by commas or semicolons. The time is RFC3339, unix seconds
// or "YYYYMMDD HHMMSS" (UTC). A header line is skipped. The result is sorted
// by time and the first candle of a duplicated time is kept.
func ReadCandles(r io.Reader) ([]Candle, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	seen := make(map[int64]bool)
	var out []Candle
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if line == 1 && strings.HasPrefix(strings.ToLower(text), "time") {
			continue
		}
		c, err := parseCandle(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if seen[c.Time.Unix()] {
			continue
		}
		seen[c.Time.Unix()] = true
		out = append(out, c)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

func parseCandle(text string) (Candle, error) {
	sep := ","
	if strings.Contains(text, ";") {
		sep = ";"
	}
	parts := strings.Split(text, sep)
	if len(parts) < 5 {
		return Candle{}, fmt.Errorf("want at least 5 fields, got %d", len(parts))
	}

	ts, err := parseTime(strings.TrimSpace(parts[0]))
	if err != nil {
		return Candle{}, err
	}
	vals := make([]float64, len(parts)-1)
	for i, p := range parts[1:] {
		if vals[i], err = strconv.ParseFloat(strings.TrimSpace(p), 64); err != nil {
			return Candle{}, fmt.Errorf("field %d: %w", i+2, err)
		}
	}

	c := Candle{Time: ts, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3]}
	if len(vals) > 4 {
		c.Volume = vals[4]
	}
	if c.High < c.Low || c.Low <= 0 {
		return Candle{}, fmt.Errorf("bad range high=%g low=%g", c.High, c.Low)
	}
	return c, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(layout, s); err == nil {
		return t, nil
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}
