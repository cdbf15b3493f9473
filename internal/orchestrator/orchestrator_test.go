package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/repopilot/internal/beads"
	"github.com/fyrsmithlabs/repopilot/internal/config"
	"github.com/fyrsmithlabs/repopilot/internal/logging"
	"github.com/fyrsmithlabs/repopilot/internal/pipeline"
	"github.com/fyrsmithlabs/repopilot/internal/store"
)

// slowRegistry is a minimal activity set: the Suggest step blocks
// until released so tests can observe an in-flight run.
func slowRegistry(release chan struct{}) map[string]pipeline.LocalActivity {
	stub := func(out any) pipeline.LocalActivity {
		return func(_ context.Context, _ []byte) (any, error) { return out, nil }
	}
	return map[string]pipeline.LocalActivity{
		pipeline.ActivityAnalyze:     stub(pipeline.AnalyzeOutput{Analysis: "ok"}),
		pipeline.ActivityInitialDocs: stub(pipeline.InitialDocsOutput{Written: true}),
		pipeline.ActivitySuggest: func(_ context.Context, _ []byte) (any, error) {
			<-release
			return pipeline.SuggestOutput{}, nil
		},
		pipeline.ActivitySaveLog:     stub(pipeline.SaveLogOutput{Path: "log.json"}),
		pipeline.ActivityPersistBead: stub(nil),
		pipeline.ActivityPersistRun:  stub(nil),
	}
}

func newTestOrchestrator(t *testing.T, release chan struct{}) (*Orchestrator, *store.SQLite, *store.Files) {
	t.Helper()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	files, err := store.NewFiles(t.TempDir())
	require.NoError(t, err)

	logger := logging.NewTestLogger().Logger
	local := pipeline.NewLocalRunner(slowRegistry(release), logger)
	o := New(config.Default(), nil, local, db, files, logger)
	return o, db, files
}

func TestStartRejectsBadInput(t *testing.T) {
	release := make(chan struct{})
	close(release)
	o, _, _ := newTestOrchestrator(t, release)
	ctx := context.Background()

	_, err := o.Start(ctx, StartRequest{RepoPath: "/does/not/exist", Strategy: pipeline.StrategyLocal})
	assert.ErrorContains(t, err, "not a directory")

	_, err = o.Start(ctx, StartRequest{RepoPath: t.TempDir(), Strategy: "hybrid"})
	assert.ErrorIs(t, err, ErrUnknownStrategy)

	// Default strategy is temporal, which is not configured here.
	_, err = o.Start(ctx, StartRequest{RepoPath: t.TempDir()})
	assert.ErrorContains(t, err, "no temporal client")
}

func TestStartRejectsConcurrentRunOnSameRepo(t *testing.T) {
	release := make(chan struct{})
	o, _, _ := newTestOrchestrator(t, release)
	ctx := context.Background()
	repo := t.TempDir()

	done := make(chan string, 1)
	o.onFinish = func(runID string) { done <- runID }

	first, err := o.Start(ctx, StartRequest{RepoPath: repo, Strategy: pipeline.StrategyLocal})
	require.NoError(t, err)

	_, err = o.Start(ctx, StartRequest{RepoPath: repo, Strategy: pipeline.StrategyLocal})
	require.ErrorIs(t, err, ErrRunInProgress)
	assert.ErrorContains(t, err, first.ID)

	// A trailing separator does not bypass the guard.
	_, err = o.Start(ctx, StartRequest{RepoPath: repo + string(filepath.Separator), Strategy: pipeline.StrategyLocal})
	require.ErrorIs(t, err, ErrRunInProgress)

	// A different repository is unaffected.
	_, err = o.Start(ctx, StartRequest{RepoPath: t.TempDir(), Strategy: pipeline.StrategyLocal})
	require.NoError(t, err)

	close(release)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}

	// The slot frees once the run completes.
	_, err = o.Start(ctx, StartRequest{RepoPath: repo, Strategy: pipeline.StrategyLocal})
	require.NoError(t, err)
}

func TestRunIDFormat(t *testing.T) {
	id := newRunID(time.Date(2025, 6, 1, 12, 30, 45, 0, time.UTC))
	assert.Regexp(t, regexp.MustCompile(`^run-20250601-123045-[0-9a-f]{6}$`), id)

	other := newRunID(time.Date(2025, 6, 1, 12, 30, 45, 0, time.UTC))
	assert.NotEqual(t, id, other)
}

func TestGetRunFallsBackToSnapshot(t *testing.T) {
	release := make(chan struct{})
	close(release)
	o, db, files := newTestOrchestrator(t, release)
	ctx := context.Background()

	// Only in the file store.
	snapOnly := pipeline.Run{ID: "run-snap", Status: pipeline.RunStatusCompleted, StartedAt: time.Now().UTC()}
	require.NoError(t, files.WriteRun(ctx, snapOnly))

	got, err := o.GetRun(ctx, "run-snap")
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunStatusCompleted, got.Status)

	// In both stores the database wins.
	inBoth := pipeline.Run{ID: "run-both", Status: pipeline.RunStatusFailed, StartedAt: time.Now().UTC()}
	require.NoError(t, db.UpsertRun(ctx, inBoth))
	inBoth.Status = pipeline.RunStatusCompleted
	require.NoError(t, files.WriteRun(ctx, inBoth))

	got, err = o.GetRun(ctx, "run-both")
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunStatusFailed, got.Status)

	_, err = o.GetRun(ctx, "run-missing")
	assert.ErrorIs(t, err, ErrNotFound)

	// An unreachable database falls through to the snapshot, not just
	// a missing row.
	require.NoError(t, db.Close())
	got, err = o.GetRun(ctx, "run-snap")
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunStatusCompleted, got.Status)
}

func TestBeadSummaryFallsBackToSnapshot(t *testing.T) {
	release := make(chan struct{})
	close(release)
	o, _, files := newTestOrchestrator(t, release)
	ctx := context.Background()

	now := time.Now().UTC()
	for i, status := range []beads.Status{beads.StatusCompleted, beads.StatusFailed} {
		require.NoError(t, files.UpsertBead(ctx, beads.Bead{
			ID: fmt.Sprintf("run-s-b%02d", i+1), RunID: "run-s", Seq: i + 1,
			Name: "step", Category: beads.CategoryAnalysis,
			Status: status, CreatedAt: now,
		}))
	}

	sum, err := o.BeadSummary(ctx, "run-s")
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 1, sum.ByStatus[beads.StatusCompleted])
	assert.Equal(t, 1, sum.ByStatus[beads.StatusFailed])
}

func TestGetBeadFallsBackToSnapshot(t *testing.T) {
	release := make(chan struct{})
	close(release)
	o, _, files := newTestOrchestrator(t, release)
	ctx := context.Background()

	require.NoError(t, files.UpsertBead(ctx, beads.Bead{
		ID: "run-s-b01", RunID: "run-s", Seq: 1,
		Name: "Analyze Repository", Category: beads.CategoryAnalysis,
		Status: beads.StatusCompleted, CreatedAt: time.Now().UTC(),
	}))

	b, err := o.GetBead(ctx, "run-s-b01")
	require.NoError(t, err)
	assert.Equal(t, "Analyze Repository", b.Name)

	_, err = o.GetBead(ctx, "run-s-b99")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalRunPersistsThroughPipeline(t *testing.T) {
	release := make(chan struct{})
	close(release)

	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	files, err := store.NewFiles(t.TempDir())
	require.NoError(t, err)

	logger := logging.NewTestLogger().Logger
	// Route persistence into the real stores this time.
	registry := slowRegistry(release)
	registry[pipeline.ActivityPersistRun] = func(ctx context.Context, input []byte) (any, error) {
		var in pipeline.PersistRunInput
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, err
		}
		return nil, db.UpsertRun(ctx, in.Run)
	}
	local := pipeline.NewLocalRunner(registry, logger)
	o := New(config.Default(), nil, local, db, files, logger)

	done := make(chan string, 1)
	o.onFinish = func(runID string) { done <- runID }

	run, err := o.Start(context.Background(), StartRequest{RepoPath: t.TempDir(), Strategy: pipeline.StrategyLocal})
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunStatusPending, run.Status)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}

	stored, err := o.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunStatusCompleted, stored.Status)
}
