package activities

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repopilot/internal/logging"
	"github.com/fyrsmithlabs/repopilot/internal/pipeline"
)

// PersistBead mirrors a bead mutation into both stores. Backend
// failures are logged by the sink; the activity never fails so ledger
// writes cannot break a pipeline step.
func (a *Activities) PersistBead(ctx context.Context, in pipeline.PersistBeadInput) error {
	ctx = logging.WithRunID(ctx, in.Bead.RunID)
	a.sink.Write(ctx, in.Bead)
	return nil
}

// PersistRun mirrors the run record into both stores, best-effort.
func (a *Activities) PersistRun(ctx context.Context, in pipeline.PersistRunInput) error {
	ctx = logging.WithRunID(ctx, in.Run.ID)
	if err := a.db.UpsertRun(ctx, in.Run); err != nil {
		a.logger.Warn(ctx, "run persistence failed", zap.String("backend", "sqlite"), zap.Error(err))
	}
	if err := a.files.WriteRun(ctx, in.Run); err != nil {
		a.logger.Warn(ctx, "run persistence failed", zap.String("backend", "files"), zap.Error(err))
	}
	return nil
}

// SaveLog writes the terminal run snapshot. Unlike PersistRun this is
// a pipeline step in its own right, so a write failure is an error.
func (a *Activities) SaveLog(ctx context.Context, in pipeline.SaveLogInput) (pipeline.SaveLogOutput, error) {
	ctx = logging.WithRunID(ctx, in.Run.ID)
	if err := a.files.WriteRun(ctx, in.Run); err != nil {
		return pipeline.SaveLogOutput{}, err
	}
	a.files.Forget(in.Run.ID)
	path := filepath.Join(a.files.Dir(), in.Run.ID+".json")
	a.logger.Info(ctx, "run log saved", zap.String("path", path))
	return pipeline.SaveLogOutput{Path: path}, nil
}
