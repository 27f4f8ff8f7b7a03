// Package ingest finds pending snapshot files and loads them into typed frames.
package ingest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/text/encoding"

	"github.com/sweeney/signal-pairer/internal/csvfmt"
	"github.com/sweeney/signal-pairer/internal/logic"
)

// DefaultTimeColumn is the timestamp column of snapshot files.
const DefaultTimeColumn = "TIME"

// ErrNoTimeColumn is returned when a file has no timestamp column.
var ErrNoTimeColumn = errors.New("time column not found")

// Frame is one file's samples for a fixed, sorted list of signals.
type Frame struct {
	// Signals is the signal order shared by every frame of a run.
	Signals []string
	Times   []time.Time
	// Columns[i] holds the samples of Signals[i], nil when the file lacks it.
	Columns [][]logic.Level
	// Missing lists the signals whose column was absent.
	Missing []string
	// SkippedRows counts rows dropped for an unusable timestamp.
	SkippedRows int
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	return len(f.Times)
}

// Column returns the samples of sig and whether the file had the column.
func (f *Frame) Column(sig string) ([]logic.Level, bool) {
	for i, s := range f.Signals {
		if s == sig {
			return f.Columns[i], f.Columns[i] != nil
		}
	}
	return nil, false
}

// LastRow returns the final sample of every present signal.
func (f *Frame) LastRow() map[string]logic.Level {
	row := make(map[string]logic.Level, len(f.Signals))
	if f.Len() == 0 {
		return row
	}
	for i, sig := range f.Signals {
		if col := f.Columns[i]; col != nil {
			row[sig] = col[len(col)-1]
		}
	}
	return row
}

// Reader loads snapshot files.
type Reader struct {
	Encoding    encoding.Encoding
	HeaderRow   int // lines before the header line
	TimeColumn  string
	TimeLayouts []string
}

// Read loads path, keeping only the time column and the given signals.
// Rows whose timestamp cannot be parsed are dropped and counted.
func (r *Reader) Read(path string, signals []string) (*Frame, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer fh.Close()

	frame, err := r.decode(fh, signals)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	return frame, nil
}

func (r *Reader) decode(src io.Reader, signals []string) (*Frame, error) {
	// Lines are skipped after decoding so multi-byte encodings split on the
	// real line breaks.
	br := bufio.NewReader(csvfmt.Decode(src, r.Encoding))
	for i := 0; i < r.HeaderRow; i++ {
		if _, err := br.ReadString('\n'); err != nil {
			if err == io.EOF {
				return r.empty(signals), nil
			}
			return nil, err
		}
	}

	cr := csvfmt.NewDecodedReader(br)
	header, err := cr.Read()
	if err == io.EOF {
		return r.empty(signals), nil
	}
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}

	idx := csvfmt.HeaderIndex(header)
	timeCol := r.TimeColumn
	if timeCol == "" {
		timeCol = DefaultTimeColumn
	}
	ti, ok := idx[timeCol]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoTimeColumn, timeCol)
	}

	frame := r.empty(signals)
	colIdx := make([]int, len(signals))
	for i, sig := range signals {
		ci, ok := idx[sig]
		if !ok {
			colIdx[i] = -1
			frame.Missing = append(frame.Missing, sig)
			continue
		}
		colIdx[i] = ci
		frame.Columns[i] = []logic.Level{}
	}

	line := 0
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++

		if isBlank(row) {
			continue
		}
		ts, err := csvfmt.ParseTime(csvfmt.Cell(row, ti), r.TimeLayouts)
		if err != nil {
			frame.SkippedRows++
			slog.Debug("ingest: skipping row", "row", line, "err", err)
			continue
		}

		frame.Times = append(frame.Times, ts)
		for i, ci := range colIdx {
			if ci < 0 {
				continue
			}
			frame.Columns[i] = append(frame.Columns[i], csvfmt.ParseLevel(csvfmt.Cell(row, ci)))
		}
	}

	// A header-only file has no samples; present columns stay non-nil but empty.
	return frame, nil
}

func (r *Reader) empty(signals []string) *Frame {
	return &Frame{
		Signals: signals,
		Columns: make([][]logic.Level, len(signals)),
	}
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
