package beads

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Tracker is the in-memory ledger for a single pipeline run. It assigns
// sequential bead IDs and enforces monotonic status transitions. All
// methods are safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	runID   string
	seq     int
	order   []string
	byID    map[string]*Bead
	now     func() time.Time
	persist func(context.Context, Bead)
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source. Workflow code passes a
// deterministic clock here.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithPersist registers a callback invoked after every bead mutation.
// The callback must not fail the caller; errors are handled inside it.
func WithPersist(fn func(context.Context, Bead)) Option {
	return func(t *Tracker) { t.persist = fn }
}

// NewTracker creates a ledger for the given run.
func NewTracker(runID string, opts ...Option) *Tracker {
	t := &Tracker{
		runID: runID,
		byID:  map[string]*Bead{},
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Create appends a new pending bead and returns its ID.
func (t *Tracker) Create(ctx context.Context, name, category string) string {
	return t.CreateWithMeta(ctx, name, category, nil)
}

// CreateWithMeta appends a new pending bead carrying free-form
// metadata, such as the improvement a task bead tracks.
func (t *Tracker) CreateWithMeta(ctx context.Context, name, category string, meta map[string]string) string {
	t.mu.Lock()
	t.seq++
	b := &Bead{
		ID:        fmt.Sprintf("%s-b%02d", t.runID, t.seq),
		RunID:     t.runID,
		Seq:       t.seq,
		Name:      name,
		Category:  category,
		Status:    StatusPending,
		CreatedAt: t.now().UTC(),
	}
	if len(meta) > 0 {
		b.Meta = make(map[string]string, len(meta))
		for k, v := range meta {
			b.Meta[k] = v
		}
	}
	t.byID[b.ID] = b
	t.order = append(t.order, b.ID)
	snapshot := *b
	t.mu.Unlock()

	t.emit(ctx, snapshot)
	return b.ID
}

// Start marks a bead as running. Calling Start on a terminal or already
// running bead is a no-op.
func (t *Tracker) Start(ctx context.Context, id string) {
	t.transition(ctx, id, StatusRunning, "", "")
}

// Complete marks a bead completed with an optional detail message.
// Repeated terminal calls are idempotent.
func (t *Tracker) Complete(ctx context.Context, id, detail string) {
	t.transition(ctx, id, StatusCompleted, detail, "")
}

// Fail marks a bead failed with the causing error message.
func (t *Tracker) Fail(ctx context.Context, id, errMsg string) {
	t.transition(ctx, id, StatusFailed, "", errMsg)
}

// Skip marks a bead skipped with the reason.
func (t *Tracker) Skip(ctx context.Context, id, reason string) {
	t.transition(ctx, id, StatusSkipped, reason, "")
}

func (t *Tracker) transition(ctx context.Context, id string, next Status, detail, errMsg string) {
	t.mu.Lock()
	b, ok := t.byID[id]
	if !ok || !b.Status.canTransition(next) {
		t.mu.Unlock()
		return
	}
	now := t.now().UTC()
	b.Status = next
	switch {
	case next == StatusRunning:
		b.StartedAt = &now
	case next.Terminal():
		b.FinishedAt = &now
		if detail != "" {
			b.Detail = detail
		}
		if errMsg != "" {
			b.Error = errMsg
		}
	}
	snapshot := *b
	t.mu.Unlock()

	t.emit(ctx, snapshot)
}

func (t *Tracker) emit(ctx context.Context, b Bead) {
	if t.persist != nil {
		t.persist(ctx, b)
	}
}

// Get returns a copy of the bead with the given ID.
func (t *Tracker) Get(id string) (Bead, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.byID[id]
	if !ok {
		return Bead{}, false
	}
	return *b, true
}

// List returns copies of all beads in creation order.
func (t *Tracker) List() []Bead {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Bead, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.byID[id])
	}
	return out
}

// Summary aggregates the ledger by status and category.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Summary{
		RunID:      t.runID,
		Total:      len(t.order),
		ByStatus:   map[Status]int{},
		ByCategory: map[string]int{},
	}
	for _, id := range t.order {
		b := t.byID[id]
		s.ByStatus[b.Status]++
		s.ByCategory[b.Category]++
	}
	return s
}
