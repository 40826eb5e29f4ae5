package core

import "time"

// ItemStatus is the lifecycle status of one item at one stage.
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemInProgress ItemStatus = "in_progress"
	ItemSucceeded  ItemStatus = "succeeded"
	ItemFailed     ItemStatus = "failed"
	ItemSkipped    ItemStatus = "skipped"
)

// Terminal reports whether the status is final for this run. An in_progress
// record found at resume time is not terminal: it marks a crash mid-attempt
// and the item is re-queued as pending.
func (s ItemStatus) Terminal() bool {
	switch s {
	case ItemSucceeded, ItemFailed, ItemSkipped:
		return true
	}
	return false
}

// Done reports whether the item must never be re-attempted on resume.
func (s ItemStatus) Done() bool {
	return s == ItemSucceeded || s == ItemSkipped
}

// ItemKey identifies one unit of work: one source file at one stage.
type ItemKey struct {
	SourcePath string
	Stage      string
}

// ItemRecord is one transition in the checkpoint log. Records are append-only;
// a newer record for the same key supersedes older ones on replay.
type ItemRecord struct {
	ID         string     `json:"id"`
	SourcePath string     `json:"source_path"`
	Stage      string     `json:"stage"`
	Status     ItemStatus `json:"status"`
	Attempt    int        `json:"attempt"`
	ErrorKind  string     `json:"error_kind,omitempty"`
	Error      string     `json:"error,omitempty"`
	Outputs    []string   `json:"outputs,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Key returns the (source path, stage) identity of the record.
func (r *ItemRecord) Key() ItemKey {
	return ItemKey{SourcePath: r.SourcePath, Stage: r.Stage}
}

// Outcome is one per-item result handed to the report renderer.
type Outcome struct {
	SourcePath string        `json:"source_path"`
	Stage      string        `json:"stage"`
	Status     ItemStatus    `json:"status"`
	Attempts   int           `json:"attempts"`
	ErrorKind  string        `json:"error_kind,omitempty"`
	Error      string        `json:"error,omitempty"`
	Outputs    []string      `json:"outputs,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
}
