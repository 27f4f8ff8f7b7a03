package mqtt

import (
	"log/slog"
	"time"

	"github.com/sweeney/signal-pairer/internal/stream"
)

// Notifier forwards processing progress to a Publisher. Publish failures are
// logged and never stop processing.
type Notifier struct {
	pub   Publisher
	now   func() time.Time
	runID string

	// Status, if set, renders the full status payload attached to
	// RUN_FINISHED events.
	Status func(event string) []byte
}

// NewNotifier creates a Notifier. now may be nil.
func NewNotifier(pub Publisher, now func() time.Time) *Notifier {
	if now == nil {
		now = time.Now
	}
	return &Notifier{pub: pub, now: now}
}

// RunStarted publishes RUN_STARTED for runs that have work to do. Idle runs
// stay silent so periodic rescans do not flood the system topic.
func (n *Notifier) RunStarted(runID string, pending int) {
	n.runID = runID
	if pending == 0 {
		return
	}
	n.system(SystemEvent{Event: EventRunStarted, RunID: runID})
}

// FileCommitted publishes every pair of the file.
func (n *Notifier) FileCommitted(r stream.FileReport) {
	for _, p := range r.Pairs {
		if err := n.pub.Publish(p, n.runID); err != nil {
			slog.Warn("mqtt: publish pair failed", "name", p.Name, "err", err)
		}
	}
}

// FileSkipped publishes FILE_SKIPPED with the file and the cause.
func (n *Notifier) FileSkipped(rel string, err error) {
	n.system(SystemEvent{Event: EventFileSkipped, RunID: n.runID, Reason: rel + ": " + err.Error()})
}

// RunFinished publishes RUN_FINISHED unless the run was idle.
func (n *Notifier) RunFinished(s stream.Summary) {
	if s.Idle {
		return
	}
	ev := SystemEvent{Event: EventRunFinished, RunID: s.RunID}
	if n.Status != nil {
		ev.RawPayload = n.Status(EventRunFinished)
	}
	n.system(ev)
}

func (n *Notifier) system(ev SystemEvent) {
	ev.Timestamp = n.now()
	if err := n.pub.PublishSystem(ev); err != nil {
		slog.Warn("mqtt: publish system event failed", "event", ev.Event, "err", err)
	}
}
