package domain

import (
	"fmt"
	"time"
)

// RunStatus enumerates how a pipeline run ended.
type RunStatus string

const (
	RunCompleted    RunStatus = "completed"
	RunBusy         RunStatus = "busy"
	RunNoCategories RunStatus = "no_categories"
	RunFailed       RunStatus = "failed"
)

// RunStats accumulates per-run counters.
type RunStats struct {
	Sources        int
	SourceErrors   int
	Seen           int
	Stale          int
	MissingLink    int
	Duplicates     int
	Empty          int
	ClassifyFailed int
	BelowThreshold int
	Uncategorized  int
	EntryErrors    int
	Persisted      int
	Swept          int64
}

// Outcome is the descriptive result of a pipeline run. Runs never fail with
// an error; callers branch on Status.
type Outcome struct {
	RunID    string
	Status   RunStatus
	Message  string
	Stats    RunStats
	Items    []Item
	Started  time.Time
	Finished time.Time
}

// String renders the human readable outcome.
func (o Outcome) String() string {
	switch o.Status {
	case RunBusy:
		return "Already processing"
	case RunNoCategories:
		return "No active categories found"
	case RunFailed:
		return fmt.Sprintf("Error: %s", o.Message)
	default:
		return fmt.Sprintf("Processed %d relevant articles (%d entries seen)", o.Stats.Persisted, o.Stats.Seen)
	}
}

// Duration reports how long the run took.
func (o Outcome) Duration() time.Duration {
	if o.Finished.IsZero() || o.Started.IsZero() {
		return 0
	}
	return o.Finished.Sub(o.Started)
}
