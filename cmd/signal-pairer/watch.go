package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/signal-pairer/internal/metrics"
	"github.com/sweeney/signal-pairer/internal/mqtt"
	"github.com/sweeney/signal-pairer/internal/status"
	"github.com/sweeney/signal-pairer/internal/stream"
	"github.com/sweeney/signal-pairer/internal/watch"
	"github.com/sweeney/signal-pairer/internal/web"
)

func newWatchCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Process snapshots as they appear, serving status over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(opts.configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			var pub *mqtt.RealPublisher
			if a.cfg.MQTT.Broker != "" {
				pub = newPublisher(a)
				defer pub.Close()
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			if pub == nil {
				return runWatch(cmd.Context(), a, nil, nil, sigCh)
			}
			return runWatch(cmd.Context(), a, pub, pub, sigCh)
		},
	}
}

// runWatch serves until a signal arrives or ctx is cancelled. publisher and
// mqttStatus may be nil when MQTT is disabled.
func runWatch(ctx context.Context, a *app, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, sig <-chan os.Signal) error {
	if info, err := os.Stat(a.cfg.Paths.BaseDir); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", stream.ErrMissingBaseDir, a.cfg.Paths.BaseDir)
	}

	tracker := status.NewTracker(time.Now(), status.Config{
		BaseDir:       a.cfg.Paths.BaseDir,
		OutputDir:     a.cfg.Paths.OutputDir,
		DebounceN:     a.cfg.Logic.DebounceN,
		MinDurationMs: a.cfg.Logic.DurationMinMs,
		MaxDurationMs: a.cfg.Logic.DurationMaxMs,
		Broker:        a.cfg.MQTT.Broker,
		HTTPAddr:      a.cfg.Watch.HTTPAddr,
	})
	refresh := func() {
		if mqttStatus != nil {
			tracker.SetMQTTConnected(mqttStatus.IsConnected())
		}
	}
	rec := metrics.New()
	observers := stream.Observers{tracker, rec}

	if publisher != nil {
		notifier := mqtt.NewNotifier(publisher, nil)
		notifier.Status = func(event string) []byte {
			refresh()
			return status.FormatStatusEvent(tracker.Snapshot(), event, "")
		}
		observers = append(observers, notifier)

		snap := tracker.Snapshot()
		startup := mqtt.SystemEvent{
			Timestamp:  snap.Now,
			Event:      mqtt.EventStartup,
			Retained:   true,
			RawPayload: status.FormatStatusEvent(snap, mqtt.EventStartup, ""),
		}
		if err := publisher.PublishSystem(startup); err != nil {
			slog.Warn("failed to publish startup event", "err", err)
		}
	}

	if addr := a.cfg.Watch.HTTPAddr; addr != "" {
		srv := web.New(addr, tracker, rec.Handler())
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("http server error", "err", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		slog.Info("http status server listening", "addr", addr)
	}

	proc := a.processor(observers)
	w := watch.New(watch.Config{
		Root:   a.cfg.Paths.BaseDir,
		Glob:   a.cfg.Paths.FileGlob,
		Settle: a.cfg.Watch.Settle,
		Rescan: a.cfg.Watch.Rescan,
	}, func(ctx context.Context) error {
		refresh()
		sum, err := proc.Run(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				tracker.RunFailed(err)
			}
			return err
		}
		if !sum.Idle {
			slog.Info("run complete", "run_id", sum.RunID, "committed", sum.Committed, "skipped", sum.Skipped, "pairs", sum.Pairs, "open_inputs", sum.Open)
		}
		return nil
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	reason := make(chan string, 1)
	go func() {
		select {
		case s := <-sig:
			slog.Info("shutting down", "signal", s)
			reason <- signalName(s)
			cancel()
		case <-ctx.Done():
		}
	}()

	slog.Info("started", "base_dir", a.cfg.Paths.BaseDir, "debounce_n", a.cfg.Logic.DebounceN, "broker", a.cfg.MQTT.Broker)
	err := w.Run(ctx)

	if publisher != nil {
		why := "CONTEXT"
		select {
		case why = <-reason:
		default:
		}
		refresh()
		snap := tracker.Snapshot()
		shutdown := mqtt.SystemEvent{
			Timestamp:  snap.Now,
			Event:      mqtt.EventShutdown,
			Reason:     why,
			Retained:   true,
			RawPayload: status.FormatStatusEvent(snap, mqtt.EventShutdown, why),
		}
		if err := publisher.PublishSystem(shutdown); err != nil {
			slog.Warn("failed to publish shutdown event", "err", err)
		}
	}
	return err
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
