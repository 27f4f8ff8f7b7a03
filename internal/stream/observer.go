package stream

import (
	"github.com/sweeney/signal-pairer/internal/logic"
)

// FileReport describes one committed file.
type FileReport struct {
	Index int // 1-based position in this run
	Total int
	Rel   string
	Rows  int
	// Missing lists configured signals absent from the file.
	Missing     []string
	SkippedRows int
	Pairs       []logic.CompletedPair
	Stats       logic.PairStats
	// Open is the number of open inputs after this file.
	Open int
}

// Summary describes a whole run.
type Summary struct {
	RunID string
	// Idle is true when there was nothing new to process.
	Idle      bool
	Pending   int
	Committed int
	Skipped   int
	Pairs     int
	Stats     logic.PairStats
	Open      int
	// CorruptState is true when persisted state had to be discarded.
	CorruptState bool
}

// Observer is told about progress. Calls happen on the processing goroutine.
type Observer interface {
	// RunStarted is called once the pending files are known.
	RunStarted(runID string, pending int)
	FileCommitted(r FileReport)
	FileSkipped(rel string, err error)
	RunFinished(s Summary)
}

// Observers fans every call out to each member in order.
type Observers []Observer

func (o Observers) RunStarted(runID string, pending int) {
	for _, obs := range o {
		obs.RunStarted(runID, pending)
	}
}

func (o Observers) FileCommitted(r FileReport) {
	for _, obs := range o {
		obs.FileCommitted(r)
	}
}

func (o Observers) FileSkipped(rel string, err error) {
	for _, obs := range o {
		obs.FileSkipped(rel, err)
	}
}

func (o Observers) RunFinished(s Summary) {
	for _, obs := range o {
		obs.RunFinished(s)
	}
}
