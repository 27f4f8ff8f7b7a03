// Package store persists the state carried between files and between runs:
// the processed-file set, the previous snapshot row and the unmatched input
// ledger. Every write replaces its file atomically.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/encoding"

	"github.com/sweeney/signal-pairer/internal/csvfmt"
	"github.com/sweeney/signal-pairer/internal/logic"
)

// Ledger and snapshot column names.
const (
	ColumnName = "Name"
	ColumnTime = "TIME"
	ColumnIO   = "IO"
)

// Carried is the state that makes file-by-file processing equivalent to one
// continuous sequence.
type Carried struct {
	Last      map[string]logic.Level
	Open      logic.OpenInputs
	Processed map[string]struct{}
}

// NewCarried returns the all-default state.
func NewCarried() *Carried {
	return &Carried{
		Last:      make(map[string]logic.Level),
		Open:      make(logic.OpenInputs),
		Processed: make(map[string]struct{}),
	}
}

// Clone returns a deep copy.
func (c *Carried) Clone() *Carried {
	out := &Carried{
		Last:      make(map[string]logic.Level, len(c.Last)),
		Open:      c.Open.Clone(),
		Processed: make(map[string]struct{}, len(c.Processed)),
	}
	for k, v := range c.Last {
		out.Last[k] = v
	}
	for k := range c.Processed {
		out.Processed[k] = struct{}{}
	}
	return out
}

// ProcessedList returns the processed set sorted.
func (c *Carried) ProcessedList() []string {
	out := make([]string, 0, len(c.Processed))
	for k := range c.Processed {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Snapshot is the last processed row, kept for the next run's boundary.
type Snapshot struct {
	Time   time.Time
	Values map[string]logic.Level
}

// Paths locates the three state files.
type Paths struct {
	State    string
	Snapshot string
	Ledger   string
}

// Store reads and writes carried state.
type Store struct {
	paths   Paths
	enc     encoding.Encoding
	signals []string
}

// New creates a Store. signals fixes the snapshot column order.
func New(paths Paths, enc encoding.Encoding, signals []string) *Store {
	return &Store{
		paths:   paths,
		enc:     enc,
		signals: signals,
	}
}

// timeLayouts parse the timestamps the store wrote itself. They are
// independent of the layouts configured for snapshot input.
var timeLayouts = csvfmt.DefaultTimeLayouts

// Paths returns the files the store manages.
func (s *Store) Paths() Paths {
	return s.paths
}

// stateFile is the JSON shape of the processed-file record.
type stateFile struct {
	ProcessedPaths []string `json:"processed_paths"`
}

// Load reads all carried state. Missing files yield defaults. A file that
// cannot be parsed is also replaced by defaults; corrupt reports that this
// happened so the caller can surface it.
func (s *Store) Load() (c *Carried, corrupt bool) {
	c = NewCarried()

	if processed, err := s.loadProcessed(); err != nil {
		slog.Warn("store: processed state unreadable, starting empty", "path", s.paths.State, "err", err)
		corrupt = true
	} else {
		c.Processed = processed
	}

	if snap, err := s.LoadSnapshot(); err != nil {
		slog.Warn("store: previous snapshot unreadable, boundary reset to 0", "path", s.paths.Snapshot, "err", err)
		corrupt = true
	} else if snap != nil {
		for _, sig := range s.signals {
			c.Last[sig] = snap.Values[sig]
		}
	}

	if open, bad, err := s.loadLedger(); err != nil {
		slog.Warn("store: unmatched ledger unreadable, open inputs dropped", "path", s.paths.Ledger, "err", err)
		corrupt = true
	} else {
		if bad > 0 {
			slog.Warn("store: unmatched ledger rows unreadable, those open inputs dropped", "path", s.paths.Ledger, "rows", bad)
			corrupt = true
		}
		c.Open = open
	}

	return c, corrupt
}

func (s *Store) loadProcessed() (map[string]struct{}, error) {
	out := make(map[string]struct{})
	data, err := readNonEmpty(s.paths.State)
	if err != nil || data == nil {
		return out, err
	}

	var sf stateFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return out, fmt.Errorf("parse state: %w", err)
	}
	for _, p := range sf.ProcessedPaths {
		out[p] = struct{}{}
	}
	return out, nil
}

// SaveProcessed writes the processed set, sorted.
func (s *Store) SaveProcessed(c *Carried) error {
	data, err := json.MarshalIndent(stateFile{ProcessedPaths: c.ProcessedList()}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	data = append(data, '\n')
	return writeAtomic(s.paths.State, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// LoadSnapshot reads the previous snapshot's last row. It returns nil, nil
// when there is none.
func (s *Store) LoadSnapshot() (*Snapshot, error) {
	data, err := readNonEmpty(s.paths.Snapshot)
	if err != nil || data == nil {
		return nil, err
	}

	rows, err := csvfmt.NewReader(strings.NewReader(string(data)), s.enc).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	if len(rows) < 2 {
		return nil, nil
	}
	idx := csvfmt.HeaderIndex(rows[0])
	last := rows[len(rows)-1]

	snap := &Snapshot{Values: make(map[string]logic.Level)}
	if ti, ok := idx[ColumnTime]; ok {
		// The time is informational; a bad value does not void the row.
		snap.Time, _ = csvfmt.ParseTime(csvfmt.Cell(last, ti), timeLayouts)
	}
	for name, i := range idx {
		if name == ColumnTime {
			continue
		}
		snap.Values[name] = csvfmt.ParseLevel(csvfmt.Cell(last, i))
	}
	return snap, nil
}

// SaveSnapshot writes snap as a single row: TIME then every signal.
func (s *Store) SaveSnapshot(snap Snapshot) error {
	header := append([]string{ColumnTime}, s.signals...)
	row := make([]string, 0, len(header))
	row = append(row, csvfmt.FormatTime(snap.Time))
	for _, sig := range s.signals {
		row = append(row, csvfmt.FormatLevel(snap.Values[sig]))
	}

	return writeAtomic(s.paths.Snapshot, func(w io.Writer) error {
		cw := csvfmt.NewWriter(w, s.enc)
		if err := cw.Write(header); err != nil {
			return err
		}
		if err := cw.Write(row); err != nil {
			return err
		}
		return cw.Flush()
	})
}

// loadLedger reads the open inputs. bad counts rows whose time could not be
// parsed; they are left out of open.
func (s *Store) loadLedger() (open logic.OpenInputs, bad int, err error) {
	open = make(logic.OpenInputs)
	data, err := readNonEmpty(s.paths.Ledger)
	if err != nil || data == nil {
		return open, 0, err
	}

	rows, err := csvfmt.NewReader(strings.NewReader(string(data)), s.enc).ReadAll()
	if err != nil {
		return open, 0, fmt.Errorf("parse ledger: %w", err)
	}
	if len(rows) == 0 {
		return open, 0, nil
	}
	idx := csvfmt.HeaderIndex(rows[0])
	ni, okName := idx[ColumnName]
	ti, okTime := idx[ColumnTime]
	if !okName || !okTime {
		return open, 0, fmt.Errorf("parse ledger: header needs %s and %s", ColumnName, ColumnTime)
	}

	for i, row := range rows[1:] {
		ts, err := csvfmt.ParseTime(csvfmt.Cell(row, ti), timeLayouts)
		if err != nil {
			bad++
			slog.Debug("store: ledger row skipped", "row", i+2, "err", err)
			continue
		}
		name := csvfmt.Cell(row, ni)
		open[name] = append(open[name], ts)
	}
	for name, q := range open {
		sort.SliceStable(q, func(i, j int) bool { return q[i].Before(q[j]) })
		open[name] = q
	}
	return open, bad, nil
}

// SaveLedger writes every open input sorted by (name, time). When nothing is
// open the ledger file is removed.
func (s *Store) SaveLedger(open logic.OpenInputs) error {
	if open.Len() == 0 {
		if err := os.Remove(s.paths.Ledger); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove ledger: %w", err)
		}
		return nil
	}

	return writeAtomic(s.paths.Ledger, func(w io.Writer) error {
		cw := csvfmt.NewWriter(w, s.enc)
		if err := cw.Write([]string{ColumnName, ColumnTime, ColumnIO}); err != nil {
			return err
		}
		for _, name := range open.Names() {
			q := append([]time.Time(nil), open[name]...)
			sort.SliceStable(q, func(i, j int) bool { return q[i].Before(q[j]) })
			for _, ts := range q {
				if err := cw.Write([]string{name, csvfmt.FormatTime(ts), string(logic.RoleInput)}); err != nil {
					return err
				}
			}
		}
		return cw.Flush()
	})
}

// Checkpoint holds the raw ledger and snapshot files as they were on disk.
// A nil slice means the file did not exist.
type Checkpoint struct {
	ledger   []byte
	snapshot []byte
}

// Checkpoint captures the ledger and snapshot so a failed commit can put
// them back with Restore.
func (s *Store) Checkpoint() (*Checkpoint, error) {
	ledger, err := readRaw(s.paths.Ledger)
	if err != nil {
		return nil, fmt.Errorf("checkpoint ledger: %w", err)
	}
	snapshot, err := readRaw(s.paths.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("checkpoint snapshot: %w", err)
	}
	return &Checkpoint{ledger: ledger, snapshot: snapshot}, nil
}

// Restore rewrites the ledger and snapshot to their checkpointed content,
// removing files that did not exist then. Both files are attempted.
func (s *Store) Restore(cp *Checkpoint) error {
	return errors.Join(
		restoreFile(s.paths.Ledger, cp.ledger),
		restoreFile(s.paths.Snapshot, cp.snapshot),
	)
}

func restoreFile(path string, data []byte) error {
	if data == nil {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("restore %s: %w", path, err)
		}
		return nil
	}
	return writeAtomic(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// readRaw returns nil, nil for a missing file and a non-nil slice otherwise,
// even when the file is empty.
func readRaw(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// readNonEmpty returns nil, nil for a missing or empty file.
func readNonEmpty(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

// writeAtomic writes path through a temp file in the same directory, syncs it
// and renames it into place. On any failure the old file is left untouched.
func writeAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpPath := tmp.Name()

	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
