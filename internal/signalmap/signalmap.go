// Package signalmap builds the static signal -> name bindings from the
// association table (one row per name with its input and output signal).
package signalmap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding"

	"github.com/sweeney/signal-pairer/internal/csvfmt"
)

// Required association table columns.
const (
	ColumnName = "name"
	ColumnX    = "x"
	ColumnY    = "y"
)

// ConfigError reports an association table that cannot be used.
type ConfigError struct {
	Path    string
	Missing []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("association table %s: missing columns %s (need %s, %s, %s)",
		e.Path, strings.Join(e.Missing, ", "), ColumnName, ColumnX, ColumnY)
}

// Association is one row of the table: name is triggered by X and closed by Y.
type Association struct {
	Name string
	X    string
	Y    string
}

// Map resolves signals to the names they open (X) or close (Y).
// It is immutable after Build.
type Map struct {
	inputs  map[string][]string
	outputs map[string][]string
	signals []string
	names   []string
}

// Build creates a Map. A blank X or Y binds nothing for that role.
func Build(rows []Association) *Map {
	m := &Map{
		inputs:  make(map[string][]string),
		outputs: make(map[string][]string),
	}
	sigSet := make(map[string]struct{})
	nameSet := make(map[string]struct{})

	for _, r := range rows {
		name := strings.TrimSpace(r.Name)
		x := strings.TrimSpace(r.X)
		y := strings.TrimSpace(r.Y)
		if x != "" {
			m.inputs[x] = append(m.inputs[x], name)
			sigSet[x] = struct{}{}
		}
		if y != "" {
			m.outputs[y] = append(m.outputs[y], name)
			sigSet[y] = struct{}{}
		}
		if x != "" || y != "" {
			nameSet[name] = struct{}{}
		}
	}

	for s := range sigSet {
		m.signals = append(m.signals, s)
	}
	sort.Strings(m.signals)
	for n := range nameSet {
		m.names = append(m.names, n)
	}
	sort.Strings(m.names)
	return m
}

// InputsOf returns the names sig opens, in table order.
func (m *Map) InputsOf(sig string) []string {
	return m.inputs[sig]
}

// OutputsOf returns the names sig closes, in table order.
func (m *Map) OutputsOf(sig string) []string {
	return m.outputs[sig]
}

// Signals returns every bound signal id, sorted.
func (m *Map) Signals() []string {
	return append([]string(nil), m.signals...)
}

// Names returns every bound name, sorted.
func (m *Map) Names() []string {
	return append([]string(nil), m.names...)
}

// Load reads an association table from an .xlsx workbook (first sheet) or a
// delimited text file in enc.
func Load(path string, enc encoding.Encoding) ([]Association, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		rows, err = readWorkbook(path)
	default:
		rows, err = readCSV(path, enc)
	}
	if err != nil {
		return nil, fmt.Errorf("read association table: %w", err)
	}
	return parseRows(path, rows)
}

func readWorkbook(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	return f.GetRows(sheets[0])
}

func readCSV(path string, enc encoding.Encoding) ([][]string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	return csvfmt.NewReader(fh, enc).ReadAll()
}

func parseRows(path string, rows [][]string) ([]Association, error) {
	if len(rows) == 0 {
		return nil, &ConfigError{Path: path, Missing: []string{ColumnName, ColumnX, ColumnY}}
	}

	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}
	idx := csvfmt.HeaderIndex(header)

	var missing []string
	for _, col := range []string{ColumnName, ColumnX, ColumnY} {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &ConfigError{Path: path, Missing: missing}
	}

	var out []Association
	for _, row := range rows[1:] {
		a := Association{
			Name: strings.TrimSpace(csvfmt.Cell(row, idx[ColumnName])),
			X:    strings.TrimSpace(csvfmt.Cell(row, idx[ColumnX])),
			Y:    strings.TrimSpace(csvfmt.Cell(row, idx[ColumnY])),
		}
		if a.Name == "" && a.X == "" && a.Y == "" {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}
