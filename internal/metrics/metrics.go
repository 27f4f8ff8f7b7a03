// Package metrics exposes processing counters in the Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/signal-pairer/internal/stream"
)

const namespace = "signal_pairer"

// Recorder turns processor callbacks into Prometheus metrics. Each Recorder
// owns an independent registry so tests can create as many as they like.
type Recorder struct {
	registry *prometheus.Registry

	runs          prometheus.Counter
	files         *prometheus.CounterVec
	rows          prometheus.Counter
	skippedRows   prometheus.Counter
	edges         *prometheus.CounterVec
	pairs         *prometheus.CounterVec
	filtered      *prometheus.CounterVec
	orphans       prometheus.Counter
	duration      *prometheus.HistogramVec
	openInputs    prometheus.Gauge
	pending       prometheus.Gauge
	lastRun       prometheus.Gauge
	corruptStates prometheus.Counter
}

// New creates a Recorder with every collector registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "runs_total",
			Help: "Processing runs started, idle runs included.",
		}),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "files_total",
			Help: "Snapshot files by outcome.",
		}, []string{"outcome"}),
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rows_total",
			Help: "Sample rows read from committed files.",
		}),
		skippedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "skipped_rows_total",
			Help: "Rows dropped for an unusable timestamp.",
		}),
		edges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "edges_total",
			Help: "Rising edge events after name expansion, by role.",
		}, []string{"role"}),
		pairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "pairs_total",
			Help: "Completed pairs written, by name.",
		}, []string{"name"}),
		filtered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "filtered_pairs_total",
			Help: "Pairs discarded by the duration filter.",
		}, []string{"bound"}),
		orphans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "orphan_outputs_total",
			Help: "Output edges with no open input.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "pair_duration_seconds",
			Help:    "Elapsed time between paired input and output edges.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"name"}),
		openInputs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "open_inputs",
			Help: "Input edges waiting for an output.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pending_files",
			Help: "Files found pending at the start of the last run.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_run_timestamp_seconds",
			Help: "Unix time the last run finished.",
		}),
		corruptStates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "corrupt_state_total",
			Help: "Runs that had to discard corrupt persisted state.",
		}),
	}

	r.registry.MustRegister(
		r.runs, r.files, r.rows, r.skippedRows, r.edges, r.pairs, r.filtered,
		r.orphans, r.duration, r.openInputs, r.pending, r.lastRun, r.corruptStates,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry returns the registry the collectors live in.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the /metrics scrape endpoint.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) RunStarted(_ string, pending int) {
	r.runs.Inc()
	r.pending.Set(float64(pending))
}

func (r *Recorder) FileCommitted(rep stream.FileReport) {
	r.files.WithLabelValues("committed").Inc()
	r.rows.Add(float64(rep.Rows))
	r.skippedRows.Add(float64(rep.SkippedRows))
	r.edges.WithLabelValues("X").Add(float64(rep.Stats.Inputs))
	r.edges.WithLabelValues("Y").Add(float64(rep.Stats.Outputs))
	r.filtered.WithLabelValues("min").Add(float64(rep.Stats.FilteredShort))
	r.filtered.WithLabelValues("max").Add(float64(rep.Stats.FilteredLong))
	r.orphans.Add(float64(rep.Stats.Orphans))
	for _, p := range rep.Pairs {
		r.pairs.WithLabelValues(p.Name).Inc()
		r.duration.WithLabelValues(p.Name).Observe(float64(p.DurationMs) / 1000)
	}
	r.openInputs.Set(float64(rep.Open))
}

func (r *Recorder) FileSkipped(string, error) {
	r.files.WithLabelValues("skipped").Inc()
}

func (r *Recorder) RunFinished(s stream.Summary) {
	r.openInputs.Set(float64(s.Open))
	r.lastRun.SetToCurrentTime()
	if s.CorruptState {
		r.corruptStates.Inc()
	}
}
