package results

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/text/encoding/unicode"

	"github.com/sweeney/signal-pairer/internal/logic"
)

var t0 = time.Date(2026, 1, 30, 8, 0, 0, 0, time.UTC)

func pair(name string, xMs, yMs int) logic.CompletedPair {
	x := t0.Add(time.Duration(xMs) * time.Millisecond)
	y := t0.Add(time.Duration(yMs) * time.Millisecond)
	return logic.CompletedPair{Name: name, XTime: x, YTime: y, DurationMs: logic.DurationMs(x, y)}
}

func TestAppendWritesHeaderOnce(t *testing.T) {
	w := &Writer{Dir: filepath.Join(t.TempDir(), "out"), Encoding: unicode.UTF8}

	n, err := w.Append([]logic.CompletedPair{pair("press", 0, 1500)})
	if err != nil || n != 1 {
		t.Fatalf("first append: n=%d err=%v", n, err)
	}
	if _, err := w.Append([]logic.CompletedPair{pair("press", 2000, 2250)}); err != nil {
		t.Fatalf("second append: %v", err)
	}

	data, err := os.ReadFile(w.Path("press"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := "X_TIME,Y_TIME,DURATION_MS\n" +
		"2026-01-30 08:00:00.000,2026-01-30 08:00:01.500,1500\n" +
		"2026-01-30 08:00:02.000,2026-01-30 08:00:02.250,250\n"
	if string(data) != want {
		t.Errorf("file:\ngot  %q\nwant %q", data, want)
	}
}

func TestAppendSplitsByName(t *testing.T) {
	w := &Writer{Dir: t.TempDir(), Encoding: unicode.UTF8}
	n, err := w.Append([]logic.CompletedPair{
		pair("a/b", 0, 10),
		pair("c", 0, 20),
		pair("a/b", 30, 40),
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if n != 3 {
		t.Errorf("written: got %d, want 3", n)
	}
	if filepath.Base(w.Path("a/b")) != "a_b.csv" {
		t.Errorf("path not sanitized: %s", w.Path("a/b"))
	}
	for _, name := range []string{"a/b", "c"} {
		if _, err := os.Stat(w.Path(name)); err != nil {
			t.Errorf("missing result file for %q: %v", name, err)
		}
	}
}

func TestAppendNothingCreatesNothing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	w := &Writer{Dir: dir, Encoding: unicode.UTF8}
	if n, err := w.Append(nil); err != nil || n != 0 {
		t.Errorf("Append(nil): n=%d err=%v", n, err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("output dir should not be created for an empty append")
	}
}

func TestRollbackUndoesAppend(t *testing.T) {
	w := &Writer{Dir: filepath.Join(t.TempDir(), "out"), Encoding: unicode.UTF8}
	if _, err := w.Append([]logic.CompletedPair{pair("press", 0, 1500)}); err != nil {
		t.Fatal(err)
	}
	before, _ := os.ReadFile(w.Path("press"))

	batch := []logic.CompletedPair{pair("press", 2000, 2250), pair("weld", 0, 100)}
	mark, err := w.Mark(batch)
	if err != nil {
		t.Fatalf("Mark: %v", err)
	}
	if _, err := w.Append(batch); err != nil {
		t.Fatal(err)
	}
	if err := w.Rollback(mark); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	after, _ := os.ReadFile(w.Path("press"))
	if string(after) != string(before) {
		t.Errorf("press after rollback:\ngot  %q\nwant %q", after, before)
	}
	if _, err := os.Stat(w.Path("weld")); !os.IsNotExist(err) {
		t.Errorf("weld.csv should be removed, stat err=%v", err)
	}
}
