package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/signal-pairer/internal/mqtt"
	"github.com/sweeney/signal-pairer/internal/stream"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Process every pending snapshot once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(opts.configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var observers stream.Observers
			if a.cfg.MQTT.Broker != "" {
				pub := newPublisher(a)
				defer pub.Close()
				if !pub.WaitConnected(5 * time.Second) {
					slog.Warn("mqtt: broker not reachable yet, buffering", "broker", a.cfg.MQTT.Broker)
				}
				observers = append(observers, mqtt.NewNotifier(pub, nil))
			}

			sum, err := a.processor(observers).Run(ctx)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), sum)
			return nil
		},
	}
}

func newPublisher(a *app) *mqtt.RealPublisher {
	return mqtt.NewRealPublisher(mqtt.Options{
		Broker:      a.cfg.MQTT.Broker,
		ClientID:    a.cfg.MQTT.ClientID,
		Topic:       a.cfg.MQTT.Topic,
		SystemTopic: a.cfg.MQTT.SystemTopic,
	})
}

// printSummary writes the one-line result of a run. "no new files" is kept
// distinct so scripts can tell an idle run apart.
func printSummary(w io.Writer, s stream.Summary) {
	if s.Idle {
		slog.Info("no new files to process")
		fmt.Fprintln(w, "no new files")
		return
	}
	slog.Info("run complete",
		"run_id", s.RunID,
		"committed", s.Committed,
		"skipped", s.Skipped,
		"pairs", s.Pairs,
		"open_inputs", s.Open,
		"orphans", s.Stats.Orphans,
		"filtered_short", s.Stats.FilteredShort,
		"filtered_long", s.Stats.FilteredLong)
	fmt.Fprintf(w, "processed %d of %d files (%d skipped), %d pairs, %d open inputs\n",
		s.Committed, s.Pending, s.Skipped, s.Pairs, s.Open)
}
