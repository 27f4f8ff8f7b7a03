package ingest

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"

	"github.com/sweeney/signal-pairer/internal/csvfmt"
	"github.com/sweeney/signal-pairer/internal/logic"
)

func writeSnapshot(t *testing.T, dir, rel, body string, mod time.Time) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
	if !mod.IsZero() {
		if err := os.Chtimes(path, mod, mod); err != nil {
			t.Fatalf("chtimes %s: %v", rel, err)
		}
	}
	return path
}

func TestReadFrame(t *testing.T) {
	body := "plant A\nexported\nTIME,S1,S2,OTHER\n" +
		"2026-01-30 08:00:00.000,0,1,x\n" +
		"2026-01-30 08:00:00.100,1,,x\n" +
		"not a time,1,1,x\n" +
		",,,\n" +
		"2026-01-30 08:00:00.200,1,0,x\n"
	path := writeSnapshot(t, t.TempDir(), "a.csv", body, time.Time{})

	r := &Reader{Encoding: unicode.UTF8, HeaderRow: 2}
	f, err := r.Read(path, []string{"S1", "S2", "S3"})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if f.Len() != 3 {
		t.Fatalf("rows: got %d, want 3", f.Len())
	}
	if f.SkippedRows != 1 {
		t.Errorf("skipped rows: got %d, want 1", f.SkippedRows)
	}
	s1, ok := f.Column("S1")
	if !ok || len(s1) != 3 || s1[0] != logic.Low || s1[1] != logic.High || s1[2] != logic.High {
		t.Errorf("S1: got %v ok=%v", s1, ok)
	}
	s2, _ := f.Column("S2")
	if s2[1] != logic.Low {
		t.Errorf("blank S2 cell should be Low, got %d", s2[1])
	}
	if _, ok := f.Column("S3"); ok {
		t.Error("S3 should be absent")
	}
	if len(f.Missing) != 1 || f.Missing[0] != "S3" {
		t.Errorf("missing: got %v, want [S3]", f.Missing)
	}

	last := f.LastRow()
	if last["S1"] != logic.High || last["S2"] != logic.Low {
		t.Errorf("last row: got %v", last)
	}
	if _, ok := last["S3"]; ok {
		t.Error("absent signal must not appear in last row")
	}
}

func TestReadFrameHeaderOnly(t *testing.T) {
	path := writeSnapshot(t, t.TempDir(), "a.csv", "TIME,S1\n", time.Time{})
	r := &Reader{Encoding: unicode.UTF8}
	f, err := r.Read(path, []string{"S1"})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if f.Len() != 0 {
		t.Errorf("rows: got %d, want 0", f.Len())
	}
}

func TestReadFrameShorterThanHeaderOffset(t *testing.T) {
	path := writeSnapshot(t, t.TempDir(), "a.csv", "only one line", time.Time{})
	r := &Reader{Encoding: unicode.UTF8, HeaderRow: 2}
	f, err := r.Read(path, []string{"S1"})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if f.Len() != 0 {
		t.Errorf("rows: got %d, want 0", f.Len())
	}
}

func TestReadFrameNoTimeColumn(t *testing.T) {
	path := writeSnapshot(t, t.TempDir(), "a.csv", "WHEN,S1\n2026-01-30 08:00:00,1\n", time.Time{})
	r := &Reader{Encoding: unicode.UTF8}
	_, err := r.Read(path, []string{"S1"})
	if !errors.Is(err, ErrNoTimeColumn) {
		t.Errorf("expected ErrNoTimeColumn, got %v", err)
	}
}

func TestReadFrameShiftJIS(t *testing.T) {
	var buf bytes.Buffer
	w := csvfmt.NewWriter(&buf, japanese.ShiftJIS)
	w.Write([]string{"工場"})
	w.Write([]string{"時刻", "S1"})
	w.Write([]string{"2026/01/30 08:00:00", "1"})
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	path := writeSnapshot(t, t.TempDir(), "a.csv", buf.String(), time.Time{})

	r := &Reader{Encoding: japanese.ShiftJIS, HeaderRow: 1, TimeColumn: "時刻"}
	f, err := r.Read(path, []string{"S1"})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if f.Len() != 1 {
		t.Errorf("rows: got %d, want 1", f.Len())
	}
}

func TestReadFrameUTF16HeaderOffset(t *testing.T) {
	body := "plant A\nexported\nTIME,S1\n" +
		"2026-01-30 08:00:00.000,0\n" +
		"2026-01-30 08:00:00.100,1\n"
	le := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

	for _, tc := range []struct {
		name string
		file func() (string, error)
	}{
		{"bom", func() (string, error) {
			return unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().String(body)
		}},
		{"no bom", func() (string, error) { return le.NewEncoder().String(body) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			data, err := tc.file()
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			path := writeSnapshot(t, t.TempDir(), "a.csv", data, time.Time{})

			r := &Reader{Encoding: le, HeaderRow: 2}
			f, err := r.Read(path, []string{"S1"})
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			s1, ok := f.Column("S1")
			if f.Len() != 2 || !ok || s1[1] != logic.High {
				t.Errorf("rows: got %d, S1 %v", f.Len(), s1)
			}
		})
	}
}

func TestDiscoverOrdersByModTime(t *testing.T) {
	base := t.TempDir()
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	writeSnapshot(t, base, "b/late.csv", "", t1.Add(2*time.Hour))
	writeSnapshot(t, base, "a/early.csv", "", t1)
	writeSnapshot(t, base, "a/mid.csv", "", t1.Add(time.Hour))
	writeSnapshot(t, base, "a/done.csv", "", t1)
	writeSnapshot(t, base, "a/notes.txt", "", t1)

	processed := map[string]struct{}{"a/done.csv": {}}
	got, err := Discover(Scan{Base: base, Glob: "*.csv"}, processed, t1)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	want := []string{"a/early.csv", "a/mid.csv", "b/late.csv"}
	if len(got) != len(want) {
		t.Fatalf("got %d files, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		if got[i].Rel != w {
			t.Errorf("file %d: got %s, want %s", i, got[i].Rel, w)
		}
	}
}

func TestDiscoverRecentDays(t *testing.T) {
	base := t.TempDir()
	now := time.Date(2026, 1, 30, 12, 0, 0, 0, time.UTC)
	writeSnapshot(t, base, "20260129/a.csv", "", time.Time{})
	writeSnapshot(t, base, "20260101/b.csv", "", time.Time{})
	writeSnapshot(t, base, "undated/c.csv", "", time.Time{})

	got, err := Discover(Scan{Base: base, RecentDays: 3}, nil, now)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(got) != 1 || got[0].Rel != "20260129/a.csv" {
		t.Errorf("got %+v, want only 20260129/a.csv", got)
	}
}

func TestIsRecent(t *testing.T) {
	now := time.Date(2026, 1, 30, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		rel  string
		days int
		want bool
	}{
		{"log_20260130.csv", 1, true},
		{"log_20260129.csv", 1, false}, // midnight is older than now-24h
		{"log_20260129.csv", 2, true},
		{"log_20261399.csv", 30, false},
		{"log.csv", 30, false},
		{"20260130/log_20200101.csv", 1, true}, // first run wins
	}
	for _, tt := range tests {
		if got := IsRecent(tt.rel, tt.days, now); got != tt.want {
			t.Errorf("IsRecent(%q, %d): got %v, want %v", tt.rel, tt.days, got, tt.want)
		}
	}
}

func TestStable(t *testing.T) {
	path := writeSnapshot(t, t.TempDir(), "a.csv", "TIME\n", time.Time{})

	noSleep := func(context.Context, time.Duration) error { return nil }
	if err := Stable(context.Background(), path, time.Second, noSleep); err != nil {
		t.Errorf("unchanged file: got %v, want nil", err)
	}

	growing := func(context.Context, time.Duration) error {
		return os.WriteFile(path, []byte("TIME\n2026-01-01 00:00:00\n"), 0o644)
	}
	if err := Stable(context.Background(), path, time.Second, growing); !errors.Is(err, ErrUnstable) {
		t.Errorf("growing file: got %v, want ErrUnstable", err)
	}

	if err := Stable(context.Background(), path+".missing", 0, noSleep); !errors.Is(err, ErrUnstable) {
		t.Errorf("missing file: got %v, want ErrUnstable", err)
	}
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}
