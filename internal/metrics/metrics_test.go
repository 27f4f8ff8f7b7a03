package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sweeney/signal-pairer/internal/logic"
	"github.com/sweeney/signal-pairer/internal/stream"
)

func pair(name string, ms int64) logic.CompletedPair {
	x := time.Date(2026, 1, 30, 8, 0, 0, 0, time.UTC)
	return logic.CompletedPair{Name: name, XTime: x, YTime: x.Add(time.Duration(ms) * time.Millisecond), DurationMs: ms}
}

func TestRecorderCounts(t *testing.T) {
	r := New()

	r.RunStarted("r1", 3)
	r.FileCommitted(stream.FileReport{
		Rows:        10,
		SkippedRows: 1,
		Pairs:       []logic.CompletedPair{pair("press", 1500), pair("press", 500), pair("weld", 200)},
		Stats:       logic.PairStats{Inputs: 4, Outputs: 4, Paired: 3, FilteredShort: 1},
		Open:        1,
	})
	r.FileSkipped("b.csv", errors.New("unstable"))
	r.RunFinished(stream.Summary{Open: 1, CorruptState: true})

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"runs", testutil.ToFloat64(r.runs), 1},
		{"pending", testutil.ToFloat64(r.pending), 3},
		{"committed", testutil.ToFloat64(r.files.WithLabelValues("committed")), 1},
		{"skipped", testutil.ToFloat64(r.files.WithLabelValues("skipped")), 1},
		{"rows", testutil.ToFloat64(r.rows), 10},
		{"skipped rows", testutil.ToFloat64(r.skippedRows), 1},
		{"inputs", testutil.ToFloat64(r.edges.WithLabelValues("X")), 4},
		{"press pairs", testutil.ToFloat64(r.pairs.WithLabelValues("press")), 2},
		{"weld pairs", testutil.ToFloat64(r.pairs.WithLabelValues("weld")), 1},
		{"filtered min", testutil.ToFloat64(r.filtered.WithLabelValues("min")), 1},
		{"open", testutil.ToFloat64(r.openInputs), 1},
		{"corrupt", testutil.ToFloat64(r.corruptStates), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, c.got, c.want)
		}
	}
	if testutil.ToFloat64(r.lastRun) == 0 {
		t.Error("last run timestamp should be set")
	}
}

func TestRecordersAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.RunStarted("r", 0)
	if testutil.ToFloat64(b.runs) != 0 {
		t.Error("recorders should not share collectors")
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	r := New()
	r.RunStarted("r", 0)
	r.FileCommitted(stream.FileReport{Pairs: []logic.CompletedPair{pair("press", 100)}})

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		"signal_pairer_runs_total 1",
		`signal_pairer_pairs_total{name="press"} 1`,
		"signal_pairer_pair_duration_seconds_bucket",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("scrape output missing %q", want)
		}
	}
}

var _ stream.Observer = (*Recorder)(nil)
