package catalog

import "time"

// RunState is a named state of a sync run.
type RunState string

const (
	StateStart      RunState = "START"
	StateIndexing   RunState = "INDEXING"
	StatePlanning   RunState = "PLANNING"
	StateFetching   RunState = "FETCHING"
	StatePersisting RunState = "PERSISTING"
	StateDone       RunState = "DONE"
	StateFailed     RunState = "FAILED"
)

// Failure is a key that could not be synced in a run.
type Failure struct {
	Key    CanonicalKey
	Reason string
}

// Skip is a sitemap locator that was ignored.
type Skip struct {
	Locator string
	Reason  string
}

// Delisting is a stored key the sitemap no longer lists. RenamedTo is a
// newly discovered key that looks like the same product, if any.
type Delisting struct {
	Key       CanonicalKey
	Category  string
	RenamedTo CanonicalKey
}

// RunSummary is the outcome of one sync run.
type RunSummary struct {
	RunID      string
	State      RunState
	StartedAt  time.Time
	FinishedAt time.Time

	Discovered int
	Planned    int
	Added      int
	Updated    int
	Failed     []Failure
	Skipped    []Skip
	Delisted   []Delisting

	// Cancelled is set when the run stopped early, Remaining planned keys were never attempted.
	Cancelled bool
	Remaining int
	DryRun    bool
}

func (s RunSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
