package logic

import (
	"sort"
	"time"
)

// OpenInputs holds, per name, the input edge times still waiting for an output.
// Queues only grow at the back and shrink at the front.
type OpenInputs map[string][]time.Time

// Push appends an input time to the back of name's queue.
func (o OpenInputs) Push(name string, t time.Time) {
	o[name] = append(o[name], t)
}

// PopOldest removes and returns the front of name's queue.
func (o OpenInputs) PopOldest(name string) (time.Time, bool) {
	q := o[name]
	if len(q) == 0 {
		return time.Time{}, false
	}
	t := q[0]
	if len(q) == 1 {
		delete(o, name)
	} else {
		o[name] = q[1:]
	}
	return t, true
}

// Len returns the number of open inputs across all names.
func (o OpenInputs) Len() int {
	n := 0
	for _, q := range o {
		n += len(q)
	}
	return n
}

// Names returns the names with at least one open input, sorted.
func (o OpenInputs) Names() []string {
	names := make([]string, 0, len(o))
	for name, q := range o {
		if len(q) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy.
func (o OpenInputs) Clone() OpenInputs {
	c := make(OpenInputs, len(o))
	for name, q := range o {
		c[name] = append([]time.Time(nil), q...)
	}
	return c
}

// Expand turns per-signal rising masks into role-tagged events, one per bound
// name. Signals are walked in the given order and the result is not sorted.
func Expand(times []time.Time, signals []string, masks map[string][]bool, b Bindings) []Event {
	var events []Event
	for _, sig := range signals {
		mask := masks[sig]
		if mask == nil {
			continue
		}
		inputs := b.InputsOf(sig)
		outputs := b.OutputsOf(sig)
		if len(inputs) == 0 && len(outputs) == 0 {
			continue
		}
		for i, rising := range mask {
			if !rising {
				continue
			}
			for _, name := range inputs {
				events = append(events, Event{Time: times[i], Name: name, Role: RoleInput})
			}
			for _, name := range outputs {
				events = append(events, Event{Time: times[i], Name: name, Role: RoleOutput})
			}
		}
	}
	return events
}

// SortEvents orders events by time, inputs before outputs at the same instant.
// Equal keys keep their relative order.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.Time.Equal(b.Time) {
			return a.Time.Before(b.Time)
		}
		return a.Role.order() < b.Role.order()
	})
}

// Pairer matches output events to the oldest open input of the same name.
type Pairer struct {
	open  OpenInputs
	minMs int64
	maxMs int64
}

// NewPairer creates a pairer working on open in place.
// A zero minMs or maxMs disables that bound.
func NewPairer(open OpenInputs, minMs, maxMs int64) *Pairer {
	if open == nil {
		open = make(OpenInputs)
	}
	return &Pairer{
		open:  open,
		minMs: minMs,
		maxMs: maxMs,
	}
}

// Open returns the queues the pairer works on.
func (p *Pairer) Open() OpenInputs {
	return p.open
}

// Pair consumes sorted events and returns the pairs that passed the duration
// bounds. Filtered pairs are consumed, not requeued.
func (p *Pairer) Pair(events []Event) ([]CompletedPair, PairStats) {
	var (
		pairs []CompletedPair
		stats PairStats
	)
	for _, e := range events {
		if e.Role == RoleInput {
			stats.Inputs++
			p.open.Push(e.Name, e.Time)
			continue
		}

		stats.Outputs++
		x, ok := p.open.PopOldest(e.Name)
		if !ok {
			stats.Orphans++
			continue
		}

		ms := DurationMs(x, e.Time)
		if p.minMs > 0 && ms < p.minMs {
			stats.FilteredShort++
			continue
		}
		if p.maxMs > 0 && ms > p.maxMs {
			stats.FilteredLong++
			continue
		}

		stats.Paired++
		pairs = append(pairs, CompletedPair{
			Name:       e.Name,
			XTime:      x,
			YTime:      e.Time,
			DurationMs: ms,
		})
	}
	return pairs, stats
}

// DurationMs returns y - x in milliseconds, rounded half away from zero.
func DurationMs(x, y time.Time) int64 {
	return y.Sub(x).Round(time.Millisecond).Milliseconds()
}
