// Package stream drives file-by-file processing: load, detect edges, pair,
// commit. Files are handled strictly one after another in modification-time
// order because each file's edges depend on the values the previous file left.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/sweeney/signal-pairer/internal/ingest"
	"github.com/sweeney/signal-pairer/internal/logic"
	"github.com/sweeney/signal-pairer/internal/results"
	"github.com/sweeney/signal-pairer/internal/signalmap"
	"github.com/sweeney/signal-pairer/internal/store"
)

// ErrMissingBaseDir is returned when the snapshot directory does not exist.
var ErrMissingBaseDir = errors.New("base directory does not exist")

// Phase is the processor's position in its per-file state machine.
type Phase string

const (
	PhaseIdle      Phase = "IDLE"
	PhaseLoading   Phase = "LOADING_FILE"
	PhaseDetecting Phase = "DETECTING_EDGES"
	PhasePairing   Phase = "PAIRING"
	PhaseCommit    Phase = "COMMITTING"
	PhaseDone      Phase = "DONE"
)

// Config holds the processing options. It is not modified after New.
type Config struct {
	Scan           ingest.Scan
	DebounceN      int
	MinDurationMs  int64 // 0 disables
	MaxDurationMs  int64 // 0 disables
	WriteGuard     bool
	WriteGuardWait time.Duration
}

// Deps are the collaborators of a Processor. Observer, Now, Sleep and NewID
// are optional.
type Deps struct {
	Reader   *ingest.Reader
	Store    *store.Store
	Results  *results.Writer
	Observer Observer
	Now      func() time.Time
	Sleep    ingest.SleepFunc
	NewID    func() string
}

// Processor runs the pipeline over every pending file.
type Processor struct {
	cfg      Config
	bindings *signalmap.Map
	signals  []string
	reader   *ingest.Reader
	store    *store.Store
	results  *results.Writer
	observer Observer
	now      func() time.Time
	sleep    ingest.SleepFunc
	newID    func() string
}

// New creates a Processor.
func New(cfg Config, bindings *signalmap.Map, deps Deps) *Processor {
	p := &Processor{
		cfg:      cfg,
		bindings: bindings,
		signals:  bindings.Signals(),
		reader:   deps.Reader,
		store:    deps.Store,
		results:  deps.Results,
		observer: deps.Observer,
		now:      deps.Now,
		sleep:    deps.Sleep,
		newID:    deps.NewID,
	}
	if p.observer == nil {
		p.observer = Observers(nil)
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.sleep == nil {
		p.sleep = ingest.Sleep
	}
	if p.newID == nil {
		p.newID = uuid.NewString
	}
	return p
}

// staged is a file that went through detection and pairing on a copy of the
// carried state and waits to be committed.
type staged struct {
	file   ingest.Pending
	next   *store.Carried
	pairs  []logic.CompletedPair
	stats  logic.PairStats
	frame  *ingest.Frame
	lastAt time.Time
}

// Run processes every pending file once. Only a missing base directory, a
// failed scan, a failed commit or a cancelled ctx return an error; a file
// that cannot be read is skipped and stays pending.
func (p *Processor) Run(ctx context.Context) (Summary, error) {
	sum := Summary{RunID: p.newID()}
	p.enter(PhaseIdle, "")

	info, err := os.Stat(p.cfg.Scan.Base)
	if err != nil || !info.IsDir() {
		return sum, fmt.Errorf("%w: %s", ErrMissingBaseDir, p.cfg.Scan.Base)
	}

	carried, corrupt := p.store.Load()
	sum.CorruptState = corrupt
	sum.Open = carried.Open.Len()

	pending, err := ingest.Discover(p.cfg.Scan, carried.Processed, p.now())
	if err != nil {
		return sum, err
	}
	sum.Pending = len(pending)
	p.observer.RunStarted(sum.RunID, sum.Pending)
	if len(pending) == 0 {
		sum.Idle = true
		p.enter(PhaseDone, "")
		p.observer.RunFinished(sum)
		return sum, nil
	}

	for i, f := range pending {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		slog.Info(fmt.Sprintf("[%d/%d] processing", i+1, len(pending)), "file", f.Rel, "size", humanize.Bytes(uint64(f.Size)), "run_id", sum.RunID)

		st, err := p.stage(ctx, f, carried)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return sum, ctxErr
			}
			slog.Warn("skipping file, it stays pending", "file", f.Rel, "err", err)
			sum.Skipped++
			p.observer.FileSkipped(f.Rel, err)
			continue
		}

		if err := p.commit(st); err != nil {
			return sum, fmt.Errorf("commit %s: %w", f.Rel, err)
		}
		carried = st.next

		sum.Committed++
		sum.Pairs += len(st.pairs)
		sum.Stats.Add(st.stats)
		sum.Open = carried.Open.Len()

		p.observer.FileCommitted(FileReport{
			Index:       i + 1,
			Total:       len(pending),
			Rel:         f.Rel,
			Rows:        st.frame.Len(),
			Missing:     st.frame.Missing,
			SkippedRows: st.frame.SkippedRows,
			Pairs:       st.pairs,
			Stats:       st.stats,
			Open:        sum.Open,
		})
	}

	p.enter(PhaseDone, "")
	p.observer.RunFinished(sum)
	return sum, nil
}

// stage loads f and runs detection and pairing against a clone of carried.
// carried itself is never modified.
func (p *Processor) stage(ctx context.Context, f ingest.Pending, carried *store.Carried) (*staged, error) {
	p.enter(PhaseLoading, f.Rel)
	if p.cfg.WriteGuard {
		if err := ingest.Stable(ctx, f.Abs, p.cfg.WriteGuardWait, p.sleep); err != nil {
			return nil, err
		}
	}

	frame, err := p.reader.Read(f.Abs, p.signals)
	if err != nil {
		return nil, err
	}
	if len(frame.Missing) > 0 {
		slog.Debug("signals absent from file", "file", f.Rel, "signals", frame.Missing)
	}
	if frame.SkippedRows > 0 {
		slog.Warn("rows without a usable timestamp dropped", "file", f.Rel, "rows", frame.SkippedRows)
	}

	st := &staged{file: f, next: carried.Clone(), frame: frame}
	if frame.Len() == 0 {
		return st, nil
	}
	st.lastAt = frame.Times[frame.Len()-1]

	p.enter(PhaseDetecting, f.Rel)
	det := logic.NewEdgeDetector(p.cfg.DebounceN, st.next.Last)
	masks := make(map[string][]bool, len(frame.Signals))
	for i, sig := range frame.Signals {
		col := frame.Columns[i]
		if col == nil {
			continue
		}
		masks[sig] = det.Detect(sig, col)
	}

	p.enter(PhasePairing, f.Rel)
	events := logic.Expand(frame.Times, frame.Signals, masks, p.bindings)
	logic.SortEvents(events)
	pairer := logic.NewPairer(st.next.Open, p.cfg.MinDurationMs, p.cfg.MaxDurationMs)
	st.pairs, st.stats = pairer.Pair(events)
	return st, nil
}

// commit makes a staged file durable. The processed set is written last so a
// crash before it leaves the file pending. When any write fails the result
// files, ledger and snapshot are put back as they were before the file, so a
// retry replays it against the same carried state.
func (p *Processor) commit(st *staged) (err error) {
	p.enter(PhaseCommit, st.file.Rel)

	if st.frame.Len() == 0 {
		st.next.Processed[st.file.Rel] = struct{}{}
		return p.store.SaveProcessed(st.next)
	}

	mark, err := p.results.Mark(st.pairs)
	if err != nil {
		return err
	}
	cp, err := p.store.Checkpoint()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			p.rollback(st.file.Rel, mark, cp)
		}
	}()

	if _, err = p.results.Append(st.pairs); err != nil {
		return err
	}
	if err = p.store.SaveLedger(st.next.Open); err != nil {
		return err
	}
	if err = p.store.SaveSnapshot(store.Snapshot{Time: st.lastAt, Values: st.next.Last}); err != nil {
		return err
	}

	st.next.Processed[st.file.Rel] = struct{}{}
	return p.store.SaveProcessed(st.next)
}

func (p *Processor) rollback(rel string, mark results.Mark, cp *store.Checkpoint) {
	if err := p.results.Rollback(mark); err != nil {
		slog.Error("commit failed and result files could not be restored, rows may repeat on retry", "file", rel, "err", err)
	}
	if err := p.store.Restore(cp); err != nil {
		slog.Error("commit failed and carried state could not be restored", "file", rel, "err", err)
	}
}

func (p *Processor) enter(phase Phase, rel string) {
	slog.Debug("phase", "phase", phase, "file", rel)
}
