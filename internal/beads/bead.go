// Package beads tracks pipeline work items as an append-only audit ledger.
//
// Every pipeline step records one or more beads. A bead moves through a
// monotonic lifecycle (pending -> running -> completed/failed/skipped) and
// never leaves a terminal state. Persistence is best-effort: ledger writes
// must never fail the step that produced them.
package beads

import "time"

// Status is a bead lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// canTransition reports whether a bead may move from s to next.
// Transitions are monotonic: pending -> running -> terminal, and
// pending may skip straight to a terminal state.
func (s Status) canTransition(next Status) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case StatusPending:
		return next == StatusRunning || next.Terminal()
	case StatusRunning:
		return next.Terminal()
	}
	return false
}

// Bead categories, matching the pipeline step groups.
const (
	CategoryAnalysis      = "analysis"
	CategorySuggestions   = "suggestions"
	CategoryGit           = "git"
	CategoryExecution     = "execution"
	CategoryReview        = "review"
	CategoryTesting       = "testing"
	CategoryDocumentation = "documentation"
	CategoryLogging       = "logging"
)

// Bead is one ledger entry for a unit of pipeline work.
type Bead struct {
	ID       string `json:"id"`
	RunID    string `json:"run_id"`
	Seq      int    `json:"seq"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Status   Status `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Error    string `json:"error,omitempty"`
	// Meta carries free-form context, such as the improvement a task
	// bead belongs to.
	Meta       map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}

// Duration returns the elapsed time between start and finish,
// or zero if the bead has not both started and finished.
func (b Bead) Duration() time.Duration {
	if b.StartedAt == nil || b.FinishedAt == nil {
		return 0
	}
	return b.FinishedAt.Sub(*b.StartedAt)
}

// Summary aggregates ledger state for a run.
type Summary struct {
	RunID      string         `json:"run_id"`
	Total      int            `json:"total"`
	ByStatus   map[Status]int `json:"by_status"`
	ByCategory map[string]int `json:"by_category"`
}

// Summarize aggregates a bead list, for callers reading a ledger from
// a store or snapshot rather than a live tracker.
func Summarize(runID string, list []Bead) Summary {
	s := Summary{
		RunID:      runID,
		Total:      len(list),
		ByStatus:   map[Status]int{},
		ByCategory: map[string]int{},
	}
	for _, b := range list {
		s.ByStatus[b.Status]++
		s.ByCategory[b.Category]++
	}
	return s
}
