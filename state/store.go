// Package state persists reconciliation state as human-readable JSON
// documents. Every write goes to a temp file in the target directory, is
// fsynced, then renamed over the previous file, so a reader sees either the
// old document or the complete new one.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

const (
	SnapshotFile = "positions.json"
	CursorFile   = "cursor.json"
)

// Cursor marks how much of the fill stream has been incorporated.
type Cursor struct {
	LastSeenFillID   string    `json:"last_seen_fill_id"`
	LastSeenFillTime time.Time `json:"last_seen_fill_time_utc"`
}

func (c Cursor) IsZero() bool {
	return c.LastSeenFillID == "" && c.LastSeenFillTime.IsZero()
}

// Advance returns the later of c and (id, at) under (time, id) ordering.
func (c Cursor) Advance(id string, at time.Time) Cursor {
	at = at.UTC()
	if c.IsZero() || at.After(c.LastSeenFillTime) || (at.Equal(c.LastSeenFillTime) && id > c.LastSeenFillID) {
		return Cursor{LastSeenFillID: id, LastSeenFillTime: at}
	}
	return c
}

// Since is the lower bound for the next fetch: the cursor time minus the
// safety window. A zero cursor fetches everything.
func (c Cursor) Since(window time.Duration) time.Time {
	if c.LastSeenFillTime.IsZero() {
		return time.Time{}
	}
	return c.LastSeenFillTime.Add(-window)
}

// Store reads and writes the documents of one account under Dir.
type Store struct {
	Dir string

	// beforeRename runs after the temp file is synced; tests use it to
	// simulate a crash before the rename.
	beforeRename func(tmp string) error
}

func NewStore(dir string) *Store {
	return &Store{Dir: dir}
}

func (s *Store) SnapshotPath() string { return filepath.Join(s.Dir, SnapshotFile) }
func (s *Store) CursorPath() string   { return filepath.Join(s.Dir, CursorFile) }

// LoadSnapshot decodes the snapshot into v. It reports false when no
// snapshot has been written yet.
func (s *Store) LoadSnapshot(v any) (bool, error) {
	return readJSON(s.SnapshotPath(), v)
}

func (s *Store) SaveSnapshot(v any) error {
	return s.writeJSON(s.SnapshotPath(), v)
}

func (s *Store) LoadCursor() (Cursor, error) {
	var c Cursor
	if _, err := readJSON(s.CursorPath(), &c); err != nil {
		return Cursor{}, err
	}
	c.LastSeenFillTime = c.LastSeenFillTime.UTC()
	return c, nil
}

func (s *Store) SaveCursor(c Cursor) error {
	c.LastSeenFillTime = c.LastSeenFillTime.UTC()
	return s.writeJSON(s.CursorPath(), c)
}

// Encode is the canonical document encoding: indented JSON with a trailing
// newline. Map keys are sorted by encoding/json, so equal values encode to
// identical bytes.
func Encode(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func (s *Store) writeJSON(path string, v any) error {
	data, err := Encode(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return writeFileAtomic(path, data, 0o644, s.beforeRename)
}

func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

// WriteFileAtomic replaces path with data via temp file, fsync and rename.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	return writeFileAtomic(path, data, perm, nil)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode, beforeRename func(string) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err = tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err = tmp.Close(); err != nil {
		return err
	}

	if beforeRename != nil {
		if err = beforeRename(tmpName); err != nil {
			return err
		}
	}

	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	// Some filesystems do not support fsync on directories; the rename has
	// already happened, so the error is not reported.
	_ = d.Sync()
	return nil
}
