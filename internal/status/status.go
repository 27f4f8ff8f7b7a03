// Package status provides a thread-safe run tracker for signal-pairer.
// It is fed by the processor as an observer and read by HTTP handlers and
// the MQTT lifecycle events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/signal-pairer/internal/logic"
	"github.com/sweeney/signal-pairer/internal/stream"
)

// Config contains the settings shown on the status page.
type Config struct {
	BaseDir       string
	OutputDir     string
	DebounceN     int
	MinDurationMs int64
	MaxDurationMs int64
	Broker        string
	HTTPAddr      string
}

// Snapshot is a point-in-time view of tracker state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	Running   bool
	RunID     string
	Runs      int
	Pending   int
	Progress  int // files handled in the current or last run
	LastFile  string
	LastRunAt time.Time
	LastError string

	// Totals since start.
	FilesCommitted int
	FilesSkipped   int
	Pairs          int
	Stats          logic.PairStats

	OpenInputs    int
	CorruptState  bool
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the tracker was created.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable run state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// RunStarted marks a run as in progress.
func (t *Tracker) RunStarted(runID string, pending int) {
	t.mu.Lock()
	t.snap.Running = true
	t.snap.RunID = runID
	t.snap.Runs++
	t.snap.Pending = pending
	t.snap.Progress = 0
	t.snap.LastError = ""
	t.mu.Unlock()
}

// FileCommitted adds a committed file to the totals.
func (t *Tracker) FileCommitted(r stream.FileReport) {
	t.mu.Lock()
	t.snap.Progress = r.Index
	t.snap.LastFile = r.Rel
	t.snap.FilesCommitted++
	t.snap.Pairs += len(r.Pairs)
	t.snap.Stats.Add(r.Stats)
	t.snap.OpenInputs = r.Open
	t.mu.Unlock()
}

// FileSkipped records a skipped file.
func (t *Tracker) FileSkipped(rel string, err error) {
	t.mu.Lock()
	t.snap.Progress++
	t.snap.FilesSkipped++
	t.snap.LastError = rel + ": " + err.Error()
	t.mu.Unlock()
}

// RunFinished marks the run as complete.
func (t *Tracker) RunFinished(s stream.Summary) {
	t.mu.Lock()
	t.snap.Running = false
	t.snap.LastRunAt = t.now()
	t.snap.OpenInputs = s.Open
	t.snap.CorruptState = s.CorruptState
	t.mu.Unlock()
}

// RunFailed marks the run as aborted by err.
func (t *Tracker) RunFailed(err error) {
	t.mu.Lock()
	t.snap.Running = false
	t.snap.LastRunAt = t.now()
	t.snap.LastError = err.Error()
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the tracker state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
