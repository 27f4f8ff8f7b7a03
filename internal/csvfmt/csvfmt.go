// Package csvfmt is the typed boundary between snapshot files and the rest of
// the program: text encodings, timestamp layouts, level coercion and the CSV
// reader/writer setup shared by every file the tool reads or writes.
package csvfmt

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/sweeney/signal-pairer/internal/logic"
)

// TimeLayout is the layout used for every timestamp the tool writes.
const TimeLayout = "2006-01-02 15:04:05.000"

// DefaultTimeLayouts are tried in order when parsing timestamps.
var DefaultTimeLayouts = []string{
	TimeLayout,
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05.000",
	"2006/01/02 15:04:05",
	"2006/1/2 15:04:05.000",
	"2006/1/2 15:04:05",
	"2006/1/2 15:04",
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
}

// aliases covers names Windows tools use that are not WHATWG labels.
var aliases = map[string]encoding.Encoding{
	"cp932":  japanese.ShiftJIS,
	"ms932":  japanese.ShiftJIS,
	"sjis":   japanese.ShiftJIS,
	"utf8":   unicode.UTF8,
	"utf-8":  unicode.UTF8,
	"eucjp":  japanese.EUCJP,
	"euc-jp": japanese.EUCJP,
}

// Encoding resolves an encoding name. Empty means UTF-8.
func Encoding(name string) (encoding.Encoding, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return unicode.UTF8, nil
	}
	if enc, ok := aliases[key]; ok {
		return enc, nil
	}
	enc, err := htmlindex.Get(key)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", name, err)
	}
	return enc, nil
}

// Decode returns r decoded from enc into UTF-8. A UTF-8 or UTF-16 byte order
// mark overrides enc.
func Decode(r io.Reader, enc encoding.Encoding) io.Reader {
	return transform.NewReader(r, unicode.BOMOverride(enc.NewDecoder()))
}

// NewReader returns a CSV reader decoding r from enc, as Decode does.
func NewReader(r io.Reader, enc encoding.Encoding) *csv.Reader {
	return NewDecodedReader(Decode(r, enc))
}

// NewDecodedReader returns a CSV reader over r, which must already be UTF-8.
func NewDecodedReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr
}

// Writer is a CSV writer that encodes to enc. Flush must be called.
type Writer struct {
	*csv.Writer
	tw io.WriteCloser
}

// NewWriter returns a CSV writer encoding into w. Characters enc cannot
// represent are replaced instead of failing the write.
func NewWriter(w io.Writer, enc encoding.Encoding) *Writer {
	tw := transform.NewWriter(w, encoding.ReplaceUnsupported(enc.NewEncoder()))
	return &Writer{Writer: csv.NewWriter(tw), tw: tw}
}

// Flush flushes the CSV buffer and the encoder.
func (w *Writer) Flush() error {
	w.Writer.Flush()
	if err := w.Writer.Error(); err != nil {
		return err
	}
	return w.tw.Close()
}

// ParseTime parses s with the first layout that accepts it.
// Times without a zone are read as UTC.
func ParseTime(s string, layouts []string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if len(layouts) == 0 {
		layouts = DefaultTimeLayouts
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable timestamp %q", s)
}

// FormatTime formats t with millisecond precision.
func FormatTime(t time.Time) string {
	return t.Format(TimeLayout)
}

// ParseLevel coerces a raw cell into a Level. Blank and unrecognized cells
// are Low, any nonzero number or a true boolean is High.
func ParseLevel(s string) logic.Level {
	s = strings.TrimSpace(s)
	if s == "" {
		return logic.Low
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return levelOf(n != 0)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return levelOf(f != 0 && !math.IsNaN(f))
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return levelOf(b)
	}
	return logic.Low
}

func levelOf(b bool) logic.Level {
	if b {
		return logic.High
	}
	return logic.Low
}

// FormatLevel renders a level as "0" or "1".
func FormatLevel(l logic.Level) string {
	if l == logic.High {
		return "1"
	}
	return "0"
}

var unsafeName = regexp.MustCompile(`[\\/:*?"<>|]`)

// SanitizeName turns a logical name into a safe file name stem.
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "noname"
	}
	return unsafeName.ReplaceAllString(name, "_")
}

// HeaderIndex maps trimmed header cells to their column index. The first
// occurrence of a duplicated header wins.
func HeaderIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if _, dup := idx[h]; dup {
			continue
		}
		idx[h] = i
	}
	return idx
}

// Cell returns row[i] or "" when the row is short.
func Cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}
