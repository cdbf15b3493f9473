// Package orchestrator admits pipeline runs and routes them to an
// execution strategy. It also answers run and bead queries, reading
// the relational store first and falling back to file snapshots.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repopilot/internal/beads"
	"github.com/fyrsmithlabs/repopilot/internal/config"
	"github.com/fyrsmithlabs/repopilot/internal/logging"
	"github.com/fyrsmithlabs/repopilot/internal/metrics"
	"github.com/fyrsmithlabs/repopilot/internal/pipeline"
	"github.com/fyrsmithlabs/repopilot/internal/store"
)

var (
	// ErrRunInProgress is returned when the target repository already
	// has an active run.
	ErrRunInProgress = errors.New("run already in progress for repository")
	// ErrUnknownStrategy is returned for strategies other than
	// temporal or local.
	ErrUnknownStrategy = errors.New("unknown execution strategy")
	// ErrNotFound aliases the store sentinel for callers.
	ErrNotFound = store.ErrNotFound
)

// WorkflowStarter is the slice of the Temporal client the orchestrator
// needs. The production value is a client.Client.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow any, args ...any) (client.WorkflowRun, error)
}

// StartRequest asks for a new pipeline run.
type StartRequest struct {
	RepoPath string `json:"repo_path"`
	Strategy string `json:"strategy"`
}

// Orchestrator starts runs and serves queries about them.
type Orchestrator struct {
	cfg      *config.Config
	temporal WorkflowStarter
	local    *pipeline.LocalRunner
	db       *store.SQLite
	files    *store.Files
	logger   *logging.Logger

	mu       sync.Mutex
	inflight map[string]string // repo path -> run ID

	metrics  *metrics.Metrics
	now      func() time.Time
	onFinish func(runID string) // test hook
}

// New creates the orchestrator. temporal may be nil when only the
// local strategy is available.
func New(cfg *config.Config, temporal WorkflowStarter, local *pipeline.LocalRunner, db *store.SQLite, files *store.Files, logger *logging.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		temporal: temporal,
		local:    local,
		db:       db,
		files:    files,
		logger:   logger,
		inflight: map[string]string{},
		now:      time.Now,
	}
}

// WithMetrics attaches run instrumentation.
func (o *Orchestrator) WithMetrics(m *metrics.Metrics) *Orchestrator {
	o.metrics = m
	return o
}

// TemporalAvailable reports whether the durable strategy is wired.
func (o *Orchestrator) TemporalAvailable() bool {
	return o.temporal != nil
}

// newRunID builds a sortable, human-readable run identifier.
func newRunID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("run-%s-%s", now.UTC().Format("20060102-150405"), suffix)
}

// Start admits and launches a run. Only one run per repository may be
// active at a time.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (pipeline.Run, error) {
	// The cleaned path is the admission key: /repo and /repo/ are the
	// same repository.
	req.RepoPath = filepath.Clean(req.RepoPath)
	info, err := os.Stat(req.RepoPath)
	if err != nil || !info.IsDir() {
		return pipeline.Run{}, fmt.Errorf("repository path %q is not a directory", req.RepoPath)
	}

	strategy := req.Strategy
	if strategy == "" {
		strategy = pipeline.StrategyTemporal
	}
	switch strategy {
	case pipeline.StrategyTemporal:
		if o.temporal == nil {
			return pipeline.Run{}, fmt.Errorf("temporal strategy requested but no temporal client is configured")
		}
	case pipeline.StrategyLocal:
	default:
		return pipeline.Run{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}

	now := o.now().UTC()
	runID := newRunID(now)

	o.mu.Lock()
	if active, ok := o.inflight[req.RepoPath]; ok {
		o.mu.Unlock()
		return pipeline.Run{}, fmt.Errorf("%w: %s", ErrRunInProgress, active)
	}
	o.inflight[req.RepoPath] = runID
	o.mu.Unlock()

	input := pipeline.WorkflowInput{
		RunID:    runID,
		RepoPath: req.RepoPath,
		Strategy: strategy,
		StartAt:  now,
		Params: pipeline.Params{
			BranchPrefix:       o.cfg.Pipeline.BranchPrefix,
			AutoMergeThreshold: o.cfg.Pipeline.AutoMergeThreshold,
			StepTimeout:        o.cfg.Pipeline.StepTimeout.Duration(),
		},
	}
	run := pipeline.Run{
		ID:        runID,
		RepoPath:  req.RepoPath,
		Strategy:  strategy,
		Status:    pipeline.RunStatusPending,
		StartedAt: now,
	}
	// Record the admitted run before dispatch; the sequence flips it to
	// running as its first persistence write. Best-effort, like all
	// ledger mirroring.
	if err := o.db.UpsertRun(ctx, run); err != nil {
		o.logger.Warn(ctx, "run persistence failed",
			zap.String("run.id", runID), zap.Error(err))
	}
	if err := o.files.WriteRun(ctx, run); err != nil {
		o.logger.Warn(ctx, "run snapshot failed",
			zap.String("run.id", runID), zap.Error(err))
	}

	if err := o.launch(ctx, input, req.RepoPath); err != nil {
		o.release(req.RepoPath)
		return pipeline.Run{}, err
	}

	if o.metrics != nil {
		o.metrics.RunsStarted.WithLabelValues(strategy).Inc()
		o.metrics.RunsActive.Inc()
	}
	o.logger.Info(ctx, "run started",
		zap.String("run.id", runID),
		zap.String("strategy", strategy),
		zap.String("repo_path", req.RepoPath),
	)
	return run, nil
}

func (o *Orchestrator) launch(ctx context.Context, input pipeline.WorkflowInput, repoPath string) error {
	switch input.Strategy {
	case pipeline.StrategyTemporal:
		wf, err := o.temporal.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
			ID:        input.RunID,
			TaskQueue: o.cfg.Temporal.TaskQueue,
		}, pipeline.WorkflowName, input)
		if err != nil {
			return fmt.Errorf("starting workflow: %w", err)
		}
		go func() {
			// Wait only to release the repository slot; the result is
			// persisted by the workflow itself.
			err := wf.Get(context.Background(), nil)
			if err != nil {
				o.logger.Warn(context.Background(), "run finished with error",
					zap.String("run.id", input.RunID), zap.Error(err))
			}
			o.finish(repoPath, input.RunID, err)
		}()
	case pipeline.StrategyLocal:
		go func() {
			_, err := o.local.Run(context.Background(), input)
			if err != nil {
				o.logger.Warn(context.Background(), "run finished with error",
					zap.String("run.id", input.RunID), zap.Error(err))
			}
			o.finish(repoPath, input.RunID, err)
		}()
	}
	return nil
}

func (o *Orchestrator) release(repoPath string) {
	o.mu.Lock()
	delete(o.inflight, repoPath)
	o.mu.Unlock()
}

func (o *Orchestrator) finish(repoPath, runID string, runErr error) {
	o.release(repoPath)
	if o.metrics != nil {
		o.metrics.RunsActive.Dec()
		outcome := string(pipeline.RunStatusCompleted)
		if runErr != nil {
			outcome = string(pipeline.RunStatusFailed)
		}
		o.metrics.RunsFinished.WithLabelValues(outcome).Inc()
	}
	if o.onFinish != nil {
		o.onFinish(runID)
	}
}

// GetRun returns a run record, preferring the relational store and
// falling back to the file snapshot when the database misses or is
// unreachable. Either mirror may be absent for the whole run.
func (o *Orchestrator) GetRun(ctx context.Context, runID string) (pipeline.Run, error) {
	run, err := o.db.GetRun(ctx, runID)
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		o.logger.Warn(ctx, "run query failed, trying snapshot",
			zap.String("run.id", runID), zap.Error(err))
	}
	snap, snapErr := o.files.ReadRun(ctx, runID)
	if snapErr == nil {
		return snap, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return pipeline.Run{}, snapErr
	}
	return pipeline.Run{}, err
}

// ListRuns returns runs newest first, optionally filtered by status.
func (o *Orchestrator) ListRuns(ctx context.Context, status string, limit int) ([]pipeline.Run, error) {
	return o.db.ListRuns(ctx, status, limit)
}

// BeadsForRun returns the ledger for a run, with optional filters.
func (o *Orchestrator) BeadsForRun(ctx context.Context, runID, status, category string) ([]beads.Bead, error) {
	list, err := o.db.BeadsForRun(ctx, runID, status, category)
	if err != nil {
		return nil, err
	}
	if len(list) > 0 || status != "" || category != "" {
		return list, nil
	}
	// The database may have missed every write for this run; try the
	// snapshot before reporting an empty ledger.
	snapshot, err := o.files.ReadBeads(ctx, runID)
	if errors.Is(err, store.ErrNotFound) {
		return list, nil
	}
	return snapshot, err
}

// BeadSummary aggregates the run's ledger, computing it from the
// snapshot when the database has no beads for the run.
func (o *Orchestrator) BeadSummary(ctx context.Context, runID string) (beads.Summary, error) {
	sum, err := o.db.BeadSummary(ctx, runID)
	if err == nil && sum.Total > 0 {
		return sum, nil
	}
	list, snapErr := o.files.ReadBeads(ctx, runID)
	if snapErr != nil {
		if err != nil {
			return beads.Summary{}, err
		}
		return sum, nil
	}
	return beads.Summarize(runID, list), nil
}

// GetBead returns a single bead by ID. Bead IDs embed their run
// (<run_id>-bNN), so the snapshot ledger can answer when the database
// cannot.
func (o *Orchestrator) GetBead(ctx context.Context, beadID string) (beads.Bead, error) {
	b, err := o.db.GetBead(ctx, beadID)
	if err == nil {
		return b, nil
	}
	if i := strings.LastIndex(beadID, "-b"); i > 0 {
		list, snapErr := o.files.ReadBeads(ctx, beadID[:i])
		if snapErr == nil {
			for _, sb := range list {
				if sb.ID == beadID {
					return sb, nil
				}
			}
		}
	}
	return beads.Bead{}, err
}
