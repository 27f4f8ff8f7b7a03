// Package results appends completed pairs to one CSV file per logical name.
package results

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"golang.org/x/text/encoding"

	"github.com/sweeney/signal-pairer/internal/csvfmt"
	"github.com/sweeney/signal-pairer/internal/logic"
)

// Header is written once, when a result file is created.
var Header = []string{"X_TIME", "Y_TIME", "DURATION_MS"}

// Writer appends pairs under Dir.
type Writer struct {
	Dir      string
	Encoding encoding.Encoding
}

// Path returns the result file of name.
func (w *Writer) Path(name string) string {
	return filepath.Join(w.Dir, csvfmt.SanitizeName(name)+".csv")
}

// Append groups pairs by name and appends each group to its file, in name
// order. It returns the number of rows written.
func (w *Writer) Append(pairs []logic.CompletedPair) (int, error) {
	if len(pairs) == 0 {
		return 0, nil
	}
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return 0, fmt.Errorf("create output dir: %w", err)
	}

	byName := make(map[string][]logic.CompletedPair)
	for _, p := range pairs {
		byName[p.Name] = append(byName[p.Name], p)
	}
	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Strings(names)

	written := 0
	for _, name := range names {
		if err := w.appendFile(w.Path(name), byName[name]); err != nil {
			return written, fmt.Errorf("append results for %q: %w", name, err)
		}
		written += len(byName[name])
	}
	return written, nil
}

// Mark records the size of every result file pairs would append to. A size
// of -1 means the file does not exist yet.
type Mark map[string]int64

// Mark captures the result files touched by pairs so Rollback can undo a
// later Append of the same pairs.
func (w *Writer) Mark(pairs []logic.CompletedPair) (Mark, error) {
	m := make(Mark)
	for _, p := range pairs {
		path := w.Path(p.Name)
		if _, ok := m[path]; ok {
			continue
		}
		fi, err := os.Stat(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			m[path] = -1
		case err != nil:
			return nil, err
		default:
			m[path] = fi.Size()
		}
	}
	return m, nil
}

// Rollback truncates every marked file back to its recorded size and removes
// the ones that were created after the mark. Every file is attempted.
func (w *Writer) Rollback(m Mark) error {
	paths := make([]string, 0, len(m))
	for path := range m {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var errs []error
	for _, path := range paths {
		size := m[path]
		if size < 0 {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		if err := os.Truncate(path, size); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *Writer) appendFile(path string, pairs []logic.CompletedPair) error {
	_, err := os.Stat(path)
	isNew := errors.Is(err, os.ErrNotExist)
	if err != nil && !isNew {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}

	cw := csvfmt.NewWriter(f, w.Encoding)
	if isNew {
		cw.Write(Header)
	}
	for _, p := range pairs {
		cw.Write([]string{
			csvfmt.FormatTime(p.XTime),
			csvfmt.FormatTime(p.YTime),
			strconv.FormatInt(p.DurationMs, 10),
		})
	}
	if err := cw.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
