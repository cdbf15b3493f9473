package beads

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repopilot/internal/logging"
)

// Sink receives bead state changes for persistence.
type Sink interface {
	UpsertBead(ctx context.Context, b Bead) error
}

// MultiSink fans a bead write out to several backends. Each backend
// fails independently: an error is logged as a warning and the
// remaining backends still receive the write. MultiSink itself
// never returns an error to the caller.
type MultiSink struct {
	sinks  []Sink
	logger *logging.Logger
}

// NewMultiSink creates a best-effort composite over the given sinks.
func NewMultiSink(logger *logging.Logger, sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks, logger: logger}
}

// Write delivers the bead to every backend, logging failures.
func (m *MultiSink) Write(ctx context.Context, b Bead) {
	for _, s := range m.sinks {
		if err := s.UpsertBead(ctx, b); err != nil {
			m.logger.Warn(ctx, "bead persistence failed",
				zap.String("bead.id", b.ID),
				zap.String("bead.status", string(b.Status)),
				zap.Error(err),
			)
		}
	}
}
