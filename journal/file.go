package journal

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/rustyeddy/tradekeeper/state"
)

// FileStore keeps the ledger as JSON lines, one trade per line, in append
// order. Each append replaces the file atomically so readers never observe
// a partial line.
type FileStore struct {
	path string

	mu     sync.RWMutex
	data   []byte
	trades []Trade
	index  map[string]int
}

func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, index: make(map[string]int)}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var t Trade
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		if _, dup := s.index[t.TradeID]; dup {
			continue
		}
		s.index[t.TradeID] = len(s.trades)
		s.trades = append(s.trades, t)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	s.data = data
	if n := len(s.data); n > 0 && s.data[n-1] != '\n' {
		s.data = append(s.data, '\n')
	}
	return s, nil
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Append(ctx context.Context, t Trade) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[t.TradeID]; ok {
		return false, nil
	}

	line, err := json.Marshal(t)
	if err != nil {
		return false, err
	}
	next := make([]byte, 0, len(s.data)+len(line)+1)
	next = append(next, s.data...)
	next = append(next, line...)
	next = append(next, '\n')

	if err := state.WriteFileAtomic(s.path, next, 0o644); err != nil {
		return false, fmt.Errorf("append %s: %w", t.TradeID, err)
	}

	s.data = next
	s.index[t.TradeID] = len(s.trades)
	s.trades = append(s.trades, t)
	return true, nil
}

func (s *FileStore) List(ctx context.Context, f Filter) ([]Trade, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]Trade, len(s.trades))
	copy(out, s.trades)
	s.mu.RUnlock()

	return f.apply(out), nil
}

func (s *FileStore) Get(ctx context.Context, tradeID string) (Trade, error) {
	if err := ctx.Err(); err != nil {
		return Trade{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[tradeID]
	if !ok {
		return Trade{}, fmt.Errorf("%w: %s", ErrNotFound, tradeID)
	}
	return s.trades[i], nil
}

func (s *FileStore) Close() error { return nil }
