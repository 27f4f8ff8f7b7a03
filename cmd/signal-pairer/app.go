package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding"

	"github.com/sweeney/signal-pairer/internal/config"
	"github.com/sweeney/signal-pairer/internal/csvfmt"
	"github.com/sweeney/signal-pairer/internal/ingest"
	"github.com/sweeney/signal-pairer/internal/results"
	"github.com/sweeney/signal-pairer/internal/signalmap"
	"github.com/sweeney/signal-pairer/internal/store"
	"github.com/sweeney/signal-pairer/internal/stream"
)

// app is everything built from the config file before any snapshot is read.
type app struct {
	cfg      *config.Config
	enc      encoding.Encoding
	bindings *signalmap.Map
	store    *store.Store
	results  *results.Writer
	reader   *ingest.Reader
}

// newLogger builds the slog handler selected by the log section.
func newLogger(w io.Writer, c config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// loadApp reads the config and the association table and prepares the
// output locations. Any error here is fatal before a file is touched.
func loadApp(cfgPath string, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(newLogger(logOut, cfg.Log))

	enc, err := csvfmt.Encoding(cfg.IO.Encoding)
	if err != nil {
		return nil, fmt.Errorf("io.encoding: %w", err)
	}

	rows, err := signalmap.Load(cfg.Paths.AssociationTablePath, enc)
	if err != nil {
		return nil, err
	}
	bindings := signalmap.Build(rows)
	if len(bindings.Signals()) == 0 {
		return nil, fmt.Errorf("association table %s binds no signals", cfg.Paths.AssociationTablePath)
	}

	if err := os.MkdirAll(cfg.Paths.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Paths.PreviousSnapshotPath), 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}

	a := &app{
		cfg:      cfg,
		enc:      enc,
		bindings: bindings,
		store: store.New(store.Paths{
			State:    cfg.Paths.StatePath,
			Snapshot: cfg.Paths.PreviousSnapshotPath,
			Ledger:   cfg.Paths.UnmatchedLedgerPath,
		}, enc, bindings.Signals()),
		results: &results.Writer{Dir: cfg.Paths.OutputDir, Encoding: enc},
		reader: &ingest.Reader{
			Encoding:    enc,
			HeaderRow:   cfg.IO.HeaderRow,
			TimeColumn:  cfg.IO.TimeColumn,
			TimeLayouts: cfg.IO.TimeLayouts,
		},
	}
	slog.Debug("association table loaded",
		"path", cfg.Paths.AssociationTablePath,
		"names", len(bindings.Names()),
		"signals", len(bindings.Signals()))
	return a, nil
}

// processor wires a stream.Processor to the app's collaborators.
func (a *app) processor(obs stream.Observer) *stream.Processor {
	return stream.New(stream.Config{
		Scan: ingest.Scan{
			Base:       a.cfg.Paths.BaseDir,
			Glob:       a.cfg.Paths.FileGlob,
			RecentDays: a.cfg.Logic.RecentDays,
		},
		DebounceN:      a.cfg.Logic.DebounceN,
		MinDurationMs:  a.cfg.Logic.DurationMinMs,
		MaxDurationMs:  a.cfg.Logic.DurationMaxMs,
		WriteGuard:     a.cfg.Logic.WriteGuardEnable,
		WriteGuardWait: a.cfg.Logic.WriteGuardWait(),
	}, a.bindings, stream.Deps{
		Reader:   a.reader,
		Store:    a.store,
		Results:  a.results,
		Observer: obs,
	})
}
