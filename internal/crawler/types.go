package crawler

import "time"

// Entity is one crawlable unit (a ticker) tracked by the EntityStore.
type Entity struct {
	// Symbol identifies the entity within a crawl run.
	Symbol string `json:"symbol"`
	// DisplayName is informational only (the company column).
	DisplayName string `json:"display_name"`
	// Locator is the address handed to the Fetcher and the completion-state key.
	Locator string `json:"locator"`
	// Done flips to true once all rows for the entity are durably written.
	Done bool `json:"done"`
}

// Record is one dated OHLCV observation for an entity.
type Record struct {
	Symbol   string  `json:"symbol"`
	Date     string  `json:"date"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	AdjClose float64 `json:"adjusted_close"`
	Volume   float64 `json:"volume"`
}

// RawRow carries the untouched cell texts a Fetcher extracted for one row.
// Parsing into a Record happens when the row is appended to a RecordStore.
type RawRow struct {
	Date     string
	Open     string
	High     string
	Low      string
	Close    string
	AdjClose string
	Volume   string
}

// Status is the per-entity state of the crawl state machine.
type Status string

// Entity states. StatusFailed is not terminal: the entity stays pending for the next run.
const (
	StatusPending  Status = "pending"
	StatusFetching Status = "fetching"
	StatusWritten  Status = "written"
	StatusDone     Status = "done"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

// Outcome records what happened to one entity during a run.
type Outcome struct {
	Symbol   string
	Locator  string
	Status   Status
	Rows     int
	Err      error
	Duration time.Duration
}

// RunSummary aggregates the outcomes of one crawl run.
type RunSummary struct {
	RunID    string        `json:"run_id"`
	Done     int           `json:"done"`
	Failed   int           `json:"failed"`
	Skipped  int           `json:"skipped"`
	Failures []Outcome     `json:"-"`
	Duration time.Duration `json:"duration"`
}

// Add folds one outcome into the summary.
func (s *RunSummary) Add(o Outcome) {
	switch o.Status {
	case StatusDone:
		s.Done++
	case StatusSkipped:
		s.Skipped++
	case StatusFailed:
		s.Failed++
		s.Failures = append(s.Failures, o)
	}
}

// Total returns the number of entities that reached a terminal outcome.
func (s RunSummary) Total() int {
	return s.Done + s.Failed + s.Skipped
}

// Stats is a point-in-time snapshot of the store used for progress estimation.
type Stats struct {
	Entities     int64
	Done         int64
	StorageBytes int64
	Tables       int64
}
