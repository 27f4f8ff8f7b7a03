// Package logic contains the pure edge detection and pairing logic.
// This package has NO external dependencies (no files, MQTT, OS, or time.Sleep).
// Time is always carried in from the sample rows.
package logic

import "time"

// Level is a binary signal sample. Missing samples are Low.
type Level uint8

const (
	Low  Level = 0
	High Level = 1
)

// Role tells which side of a name a signal edge belongs to.
type Role string

const (
	RoleInput  Role = "X"
	RoleOutput Role = "Y"
)

// order returns the sort rank of a role: inputs sort before outputs.
func (r Role) order() int {
	if r == RoleInput {
		return 0
	}
	return 1
}

// Event is a rising edge expanded to one bound name.
type Event struct {
	Time time.Time
	Name string
	Role Role
}

// CompletedPair is an input edge matched with a later output edge.
type CompletedPair struct {
	Name       string
	XTime      time.Time
	YTime      time.Time
	DurationMs int64
}

// PairStats counts what happened to output events during pairing.
type PairStats struct {
	Inputs        int
	Outputs       int
	Paired        int
	FilteredShort int
	FilteredLong  int
	// Orphans are outputs that arrived while no input was open.
	Orphans int
}

// Add accumulates other into s.
func (s *PairStats) Add(other PairStats) {
	s.Inputs += other.Inputs
	s.Outputs += other.Outputs
	s.Paired += other.Paired
	s.FilteredShort += other.FilteredShort
	s.FilteredLong += other.FilteredLong
	s.Orphans += other.Orphans
}

// Bindings resolves which names a signal triggers.
type Bindings interface {
	InputsOf(signal string) []string
	OutputsOf(signal string) []string
}
