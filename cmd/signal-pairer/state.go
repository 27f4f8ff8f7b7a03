package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/sweeney/signal-pairer/internal/csvfmt"
	"github.com/sweeney/signal-pairer/internal/store"
)

func newStateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Show the carried state: processed files, open inputs and the previous snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(opts.configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			c, corrupt := a.store.Load()
			// An unreadable snapshot is already reported through corrupt.
			snap, _ := a.store.LoadSnapshot()
			printState(cmd.OutOrStdout(), c, snap, a.bindings.Signals(), corrupt, time.Now())
			return nil
		},
	}
}

// printState renders the carried state as tables.
func printState(w io.Writer, c *store.Carried, snap *store.Snapshot, signals []string, corrupt bool, now time.Time) {
	if corrupt {
		fmt.Fprintln(w, "warning: part of the stored state could not be read and was reset")
	}
	fmt.Fprintf(w, "processed files: %s\n\n", humanize.Comma(int64(len(c.Processed))))

	open := table.NewWriter()
	open.SetStyle(table.StyleLight)
	open.SetTitle("Open inputs")
	open.AppendHeader(table.Row{"Name", "Open", "Oldest", "Age"})
	for _, name := range c.Open.Names() {
		q := c.Open[name]
		oldest := q[0]
		for _, t := range q[1:] {
			if t.Before(oldest) {
				oldest = t
			}
		}
		open.AppendRow(table.Row{name, len(q), csvfmt.FormatTime(oldest), humanize.RelTime(oldest, now, "ago", "from now")})
	}
	open.AppendFooter(table.Row{"Total", c.Open.Len(), "", ""})
	fmt.Fprintln(w, open.Render())
	fmt.Fprintln(w)

	if snap == nil {
		fmt.Fprintln(w, "previous snapshot: none")
		return
	}
	prev := table.NewWriter()
	prev.SetStyle(table.StyleLight)
	prev.SetTitle("Previous snapshot " + csvfmt.FormatTime(snap.Time))
	prev.AppendHeader(table.Row{"Signal", "Level"})
	for _, sig := range signals {
		prev.AppendRow(table.Row{sig, csvfmt.FormatLevel(snap.Values[sig])})
	}
	fmt.Fprintln(w, prev.Render())
}
