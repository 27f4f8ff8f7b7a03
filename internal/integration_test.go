package internal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/text/encoding/unicode"

	"github.com/sweeney/signal-pairer/internal/ingest"
	"github.com/sweeney/signal-pairer/internal/metrics"
	"github.com/sweeney/signal-pairer/internal/mqtt"
	"github.com/sweeney/signal-pairer/internal/results"
	"github.com/sweeney/signal-pairer/internal/signalmap"
	"github.com/sweeney/signal-pairer/internal/status"
	"github.com/sweeney/signal-pairer/internal/store"
	"github.com/sweeney/signal-pairer/internal/stream"
	"github.com/sweeney/signal-pairer/internal/web"
)

// pipeline wires a processor to every observer the watch command uses.
type pipeline struct {
	t       *testing.T
	base    string
	out     string
	paths   store.Paths
	m       *signalmap.Map
	tracker *status.Tracker
	rec     *metrics.Recorder
	pub     *mqtt.FakePublisher
	mod     time.Time
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	root := t.TempDir()
	p := &pipeline{
		t:    t,
		base: filepath.Join(root, "data"),
		out:  filepath.Join(root, "out"),
		paths: store.Paths{
			State:    filepath.Join(root, "state.json"),
			Snapshot: filepath.Join(root, "table", "prev.csv"),
			Ledger:   filepath.Join(root, "unmatched.csv"),
		},
		// SX opens both names; each name is closed by its own output.
		m: signalmap.Build([]signalmap.Association{
			{Name: "press", X: "SX", Y: "SY"},
			{Name: "weld", X: "SX", Y: "SZ"},
		}),
		tracker: status.NewTracker(time.Date(2026, 1, 30, 7, 0, 0, 0, time.UTC), status.Config{DebounceN: 1}),
		rec:     metrics.New(),
		pub:     mqtt.NewFakePublisher(),
		mod:     time.Date(2026, 1, 30, 9, 0, 0, 0, time.UTC),
	}
	if err := os.MkdirAll(p.base, 0o755); err != nil {
		t.Fatal(err)
	}
	return p
}

func (p *pipeline) write(rel, body string) {
	p.t.Helper()
	path := filepath.Join(p.base, rel)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		p.t.Fatal(err)
	}
	p.mod = p.mod.Add(time.Minute)
	if err := os.Chtimes(path, p.mod, p.mod); err != nil {
		p.t.Fatal(err)
	}
}

func (p *pipeline) run() stream.Summary {
	p.t.Helper()
	notifier := mqtt.NewNotifier(p.pub, nil)
	notifier.Status = func(event string) []byte {
		return status.FormatStatusEvent(p.tracker.Snapshot(), event, "")
	}
	proc := stream.New(stream.Config{
		Scan:      ingest.Scan{Base: p.base, Glob: "*.csv"},
		DebounceN: 1,
	}, p.m, stream.Deps{
		Reader:   &ingest.Reader{Encoding: unicode.UTF8, TimeColumn: "TIME"},
		Store:    store.New(p.paths, unicode.UTF8, p.m.Signals()),
		Results:  &results.Writer{Dir: p.out, Encoding: unicode.UTF8},
		Observer: stream.Observers{p.tracker, p.rec, notifier},
	})
	sum, err := proc.Run(context.Background())
	if err != nil {
		p.t.Fatalf("Run: %v", err)
	}
	return sum
}

// TestIntegrationFullFlow follows an input across a file boundary and checks
// every consumer of the run agrees on the outcome.
func TestIntegrationFullFlow(t *testing.T) {
	p := newPipeline(t)
	p.write("a.csv", "TIME,SX,SY,SZ\n"+
		"2026-01-30 08:00:00.000,0,0,0\n"+
		"2026-01-30 08:00:01.000,1,0,0\n"+
		"2026-01-30 08:00:02.000,1,1,0\n"+
		"2026-01-30 08:00:03.000,0,0,0\n")
	p.write("b.csv", "TIME,SX,SY,SZ\n"+
		"2026-01-30 08:00:04.000,1,0,0\n"+
		"2026-01-30 08:00:05.000,1,0,1\n")

	sum := p.run()
	if sum.Committed != 2 || sum.Pairs != 2 || sum.Open != 2 {
		t.Fatalf("summary: %+v", sum)
	}

	// Result files
	press, _ := os.ReadFile(filepath.Join(p.out, "press.csv"))
	if !strings.Contains(string(press), "2026-01-30 08:00:01.000,2026-01-30 08:00:02.000,1000") {
		t.Errorf("press results: %q", press)
	}
	weld, _ := os.ReadFile(filepath.Join(p.out, "weld.csv"))
	if !strings.Contains(string(weld), "2026-01-30 08:00:01.000,2026-01-30 08:00:05.000,4000") {
		t.Errorf("weld results: %q", weld)
	}

	// Ledger keeps the 08:00:04 input for both names.
	ledger, _ := os.ReadFile(p.paths.Ledger)
	wantLedger := "Name,TIME,IO\n" +
		"press,2026-01-30 08:00:04.000,X\n" +
		"weld,2026-01-30 08:00:04.000,X\n"
	if string(ledger) != wantLedger {
		t.Errorf("ledger:\ngot:  %q\nwant: %q", ledger, wantLedger)
	}

	// MQTT
	pairs := p.pub.PublishedPairs()
	if len(pairs) != 2 {
		t.Fatalf("published pairs: %d, want 2", len(pairs))
	}
	var payload mqtt.Payload
	if err := json.Unmarshal(p.pub.Payloads[1], &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.Pair.Name != "weld" || payload.Pair.DurationMs != 4000 || payload.Pair.RunID != sum.RunID {
		t.Errorf("weld payload: %+v", payload.Pair)
	}
	events := p.pub.SystemEventNames()
	if len(events) != 2 || events[0] != mqtt.EventRunStarted || events[1] != mqtt.EventRunFinished {
		t.Errorf("system events: %v", events)
	}
	var finished status.StatusJSON
	if err := json.Unmarshal(p.pub.SystemPayloads[1], &finished); err != nil {
		t.Fatalf("status payload: %v", err)
	}
	if finished.Status.Event != mqtt.EventRunFinished || finished.Status.RunID != sum.RunID {
		t.Errorf("finished status: %+v", finished.Status)
	}

	// Status page and metrics through the HTTP server
	ts := httptest.NewServer(web.New(":0", p.tracker, p.rec.Handler()).Handler())
	defer ts.Close()

	var st status.StatusJSON
	if err := json.Unmarshal([]byte(fetch(t, ts.URL+"/index.json")), &st); err != nil {
		t.Fatalf("status JSON: %v", err)
	}
	if st.Status.Totals.Pairs != 2 || st.Status.OpenInputs != 2 || st.Status.Totals.FilesCommitted != 2 {
		t.Errorf("status: %+v", st.Status)
	}

	body := fetch(t, ts.URL+"/metrics")
	for _, want := range []string{
		`signal_pairer_pairs_total{name="press"} 1`,
		`signal_pairer_pairs_total{name="weld"} 1`,
		`signal_pairer_open_inputs 2`,
		`signal_pairer_files_total{outcome="committed"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

// TestIntegrationRestartResumes checks that a second process picks up the
// carried state left by the first.
func TestIntegrationRestartResumes(t *testing.T) {
	p := newPipeline(t)
	p.write("a.csv", "TIME,SX,SY,SZ\n"+
		"2026-01-30 08:00:00.000,0,0,0\n"+
		"2026-01-30 08:00:01.000,1,0,0\n")
	first := p.run()
	if first.Open != 2 {
		t.Fatalf("first run open inputs: %d, want 2", first.Open)
	}

	p.pub.Reset()
	p.write("b.csv", "TIME,SX,SY,SZ\n"+
		"2026-01-30 08:00:02.000,1,1,1\n")
	second := p.run()

	if second.Pending != 1 || second.Pairs != 2 || second.Open != 0 {
		t.Fatalf("second run: %+v", second)
	}
	if first.RunID == second.RunID {
		t.Error("each run must get its own id")
	}
	for _, pair := range p.pub.PublishedPairs() {
		if pair.DurationMs != 1000 {
			t.Errorf("%s: duration %d, want 1000", pair.Name, pair.DurationMs)
		}
	}
	if _, err := os.Stat(p.paths.Ledger); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("ledger should be removed once nothing is open, stat err=%v", err)
	}
}

// TestIntegrationPublishFailureDoesNotStopRun verifies a broker outage never
// blocks the files from being committed.
func TestIntegrationPublishFailureDoesNotStopRun(t *testing.T) {
	p := newPipeline(t)
	p.pub.PublishError = errors.New("broker down")
	p.pub.PublishSystemError = errors.New("broker down")
	p.write("a.csv", "TIME,SX,SY,SZ\n"+
		"2026-01-30 08:00:00.000,1,0,0\n"+
		"2026-01-30 08:00:00.500,1,1,1\n")

	sum := p.run()
	if sum.Committed != 1 || sum.Pairs != 2 {
		t.Fatalf("summary: %+v", sum)
	}
	if len(p.pub.PublishedPairs()) != 0 {
		t.Error("nothing should be recorded while publishing fails")
	}
	if p.tracker.Snapshot().Pairs != 2 {
		t.Errorf("tracker pairs: %d", p.tracker.Snapshot().Pairs)
	}
}

// TestIntegrationIdleRun verifies a run with nothing new stays off MQTT but
// still counts in status.
func TestIntegrationIdleRun(t *testing.T) {
	p := newPipeline(t)
	sum := p.run()
	if !sum.Idle {
		t.Fatalf("expected idle run, got %+v", sum)
	}
	if n := len(p.pub.SystemEventNames()); n != 0 {
		t.Errorf("idle run published %d system events", n)
	}
	if p.tracker.Snapshot().Runs != 1 {
		t.Errorf("tracker runs: %d", p.tracker.Snapshot().Runs)
	}
}

func fetch(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	return string(data)
}
