package pipeline

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/repopilot/internal/beads"
)

// fakeExec scripts activity outputs and captures persistence traffic.
type fakeExec struct {
	now      time.Time
	outputs  map[string]any
	failures map[string]error
	calls    []string
	beads    map[string]beads.Bead
	beadLog  []beads.Bead
	runs     []Run
}

func newFakeExec() *fakeExec {
	return &fakeExec{
		now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		outputs: map[string]any{
			ActivityAnalyze:     AnalyzeOutput{Analysis: "solid codebase", FileCount: 12},
			ActivityInitialDocs: InitialDocsOutput{Path: "runs/run-t.analysis.md", Written: true},
			ActivitySuggest: SuggestOutput{Improvements: []Improvement{
				{ID: "IMP-001", Category: "features", Title: "Tidy imports", Priority: "medium", Files: []string{"a.py"}},
				{ID: "IMP-002", Category: "integration", Title: "Add edge case tests"},
			}},
			ActivityCreateBranch: BranchOutput{Branch: "repo-pilot/run-t", BaseBranch: "main"},
			ActivityExecute: ExecuteOutput{Applied: 2, Changes: []CodeChange{
				{ImprovementID: "IMP-001", FilePath: "a.py", Action: "modify", Status: ChangeApplied},
				{ImprovementID: "IMP-002", FilePath: "tests/test_a.py", Action: "create", Status: ChangeApplied},
			}},
			ActivityCommit:        CommitOutput{Commit: "abc1234", Committed: true},
			ActivityReview:        ReviewOutput{Review: ReviewResult{OverallScore: 8.4}},
			ActivityGenerateTests: GenerateTestsOutput{Files: []TestFile{{Path: "tests/test_features.py", Group: "features"}}, Groups: []string{"features"}},
			ActivityRunTests:      RunTestsOutput{Passed: 3, Failed: 0},
			ActivityPushPR:        PushPROutput{PRURL: "https://github.com/acme/w/pull/7", PRNumber: 7},
			ActivityAutoMerge:     AutoMergeOutput{Merged: true, Reason: "review score 8.4 meets threshold 7.0"},
			ActivityUpdateDocs:    UpdateDocsOutput{Updated: true, Path: "IMPROVEMENTS.md"},
			ActivitySaveLog:       SaveLogOutput{Path: "runs/run-t.json"},
		},
		failures: map[string]error{},
		beads:    map[string]beads.Bead{},
	}
}

func (f *fakeExec) Now() time.Time {
	f.now = f.now.Add(time.Second)
	return f.now
}

func (f *fakeExec) Execute(name string, input, output any) error {
	f.calls = append(f.calls, name)

	switch in := input.(type) {
	case PersistBeadInput:
		f.beads[in.Bead.ID] = in.Bead
		f.beadLog = append(f.beadLog, in.Bead)
		return nil
	case PersistRunInput:
		f.runs = append(f.runs, in.Run)
		return nil
	}

	if err := f.failures[name]; err != nil {
		return err
	}
	if output == nil {
		return nil
	}
	raw, err := json.Marshal(f.outputs[name])
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, output)
}

func (f *fakeExec) beadByName(name string) (beads.Bead, bool) {
	for _, b := range f.beads {
		if b.Name == name {
			return b, true
		}
	}
	return beads.Bead{}, false
}

func testInput() WorkflowInput {
	return WorkflowInput{
		RunID:    "run-t",
		RepoPath: "/tmp/repo",
		Strategy: StrategyLocal,
		StartAt:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Params: Params{
			BranchPrefix:       "repo-pilot",
			AutoMergeThreshold: 7.0,
			StepTimeout:        time.Minute,
		},
	}
}

func TestRunSequenceHappyPath(t *testing.T) {
	exec := newFakeExec()

	result, err := RunSequence(exec, testInput())
	require.NoError(t, err)

	assert.Equal(t, "repo-pilot/run-t", result.Branch)
	assert.Equal(t, 2, result.Summary.Improvements)
	assert.Equal(t, 2, result.Summary.ChangesApplied)
	assert.Equal(t, 8.4, result.Summary.ReviewScore)
	assert.Equal(t, 3, result.Summary.TestsPassed)
	assert.True(t, result.Summary.Merged)
	assert.Equal(t, 7, result.Summary.PRNumber)
	assert.True(t, result.Summary.DocsUpdated)
	assert.Equal(t, "runs/run-t.json", result.Summary.LogPath)

	// All 13 steps plus one task bead per improvement appear in the
	// ledger, all terminal completed.
	require.Len(t, exec.beads, 15)
	for _, b := range exec.beads {
		assert.Equal(t, beads.StatusCompleted, b.Status, b.Name)
	}

	task, ok := exec.beadByName("Task: Tidy imports")
	require.True(t, ok)
	assert.Equal(t, "features", task.Category)
	assert.Equal(t, "applied", task.Detail)
	assert.Equal(t, "IMP-001", task.Meta["improvement_id"])
	assert.Equal(t, "medium", task.Meta["priority"])
	assert.Equal(t, "a.py", task.Meta["files"])

	// The final run record is terminal and carries every step's output.
	require.NotEmpty(t, exec.runs)
	final := exec.runs[len(exec.runs)-1]
	assert.Equal(t, RunStatusCompleted, final.Status)
	require.NotNil(t, final.FinishedAt)
	require.NotNil(t, final.Summary)
	assert.True(t, final.Summary.Merged)
	require.NotNil(t, final.Detail)
	assert.Len(t, final.Detail.Improvements, 2)
	assert.Len(t, final.Detail.Changes, 2)
	assert.Equal(t, "abc1234", final.Detail.Commit)
	require.NotNil(t, final.Detail.Review)
	assert.Equal(t, 8.4, final.Detail.Review.OverallScore)
	require.NotNil(t, final.Detail.Merge)
	assert.True(t, final.Detail.Merge.Merged)
	assert.Equal(t, 7, final.Detail.Merge.PRNumber)
}

func TestRunSequenceBeadIDsAreSequential(t *testing.T) {
	exec := newFakeExec()
	_, err := RunSequence(exec, testInput())
	require.NoError(t, err)

	first := exec.beadLog[0]
	assert.Equal(t, "run-t-b01", first.ID)
	assert.Equal(t, StepAnalyze, first.Name)

	saveLog, ok := exec.beadByName(StepSaveLog)
	require.True(t, ok)
	assert.Equal(t, "run-t-b15", saveLog.ID)
	assert.Equal(t, 15, saveLog.Seq)
}

func TestRunSequenceTaskBeadSkippedWithoutChanges(t *testing.T) {
	exec := newFakeExec()
	exec.outputs[ActivityExecute] = ExecuteOutput{Applied: 1, Changes: []CodeChange{
		{ImprovementID: "IMP-001", FilePath: "a.py", Action: "modify", Status: ChangeApplied},
		{ImprovementID: "IMP-002", FilePath: "b.py", Action: "modify", Status: ChangeFailed},
	}}

	_, err := RunSequence(exec, testInput())
	require.NoError(t, err)

	applied, ok := exec.beadByName("Task: Tidy imports")
	require.True(t, ok)
	assert.Equal(t, beads.StatusCompleted, applied.Status)

	// A change record that only failed does not complete its task bead.
	skipped, ok := exec.beadByName("Task: Add edge case tests")
	require.True(t, ok)
	assert.Equal(t, beads.StatusSkipped, skipped.Status)
	assert.Equal(t, "no changes applied", skipped.Detail)
}

func TestRunSequenceBelowThresholdSkipsMerge(t *testing.T) {
	exec := newFakeExec()
	exec.outputs[ActivityReview] = ReviewOutput{Review: ReviewResult{OverallScore: 5.5}}

	result, err := RunSequence(exec, testInput())
	require.NoError(t, err)

	assert.False(t, result.Summary.Merged)
	assert.Contains(t, result.Summary.MergeReason, "below threshold")
	assert.NotContains(t, exec.calls, ActivityAutoMerge)

	b, ok := exec.beadByName(StepAutoMerge)
	require.True(t, ok)
	assert.Equal(t, beads.StatusSkipped, b.Status)
	assert.Contains(t, b.Detail, "below threshold")
}

func TestRunSequenceExactThresholdMerges(t *testing.T) {
	exec := newFakeExec()
	exec.outputs[ActivityReview] = ReviewOutput{Review: ReviewResult{OverallScore: 7.0}}

	result, err := RunSequence(exec, testInput())
	require.NoError(t, err)
	assert.True(t, result.Summary.Merged)
	assert.Contains(t, exec.calls, ActivityAutoMerge)
}

func TestRunSequenceNoImprovements(t *testing.T) {
	exec := newFakeExec()
	exec.outputs[ActivitySuggest] = SuggestOutput{}

	result, err := RunSequence(exec, testInput())
	require.NoError(t, err)

	assert.Equal(t, 0, result.Summary.Improvements)
	assert.False(t, result.Summary.Merged)
	assert.NotContains(t, exec.calls, ActivityCreateBranch)
	assert.NotContains(t, exec.calls, ActivityPushPR)

	// Ledger still shows every step, the unreached ones skipped.
	require.Len(t, exec.beads, 13)
	branch, ok := exec.beadByName(StepCreateBranch)
	require.True(t, ok)
	assert.Equal(t, beads.StatusSkipped, branch.Status)
	assert.Equal(t, "no improvements suggested", branch.Detail)

	saveLog, ok := exec.beadByName(StepSaveLog)
	require.True(t, ok)
	assert.Equal(t, beads.StatusCompleted, saveLog.Status)
}

func TestRunSequenceNothingCommitted(t *testing.T) {
	exec := newFakeExec()
	exec.outputs[ActivityCommit] = CommitOutput{Committed: false}

	result, err := RunSequence(exec, testInput())
	require.NoError(t, err)

	assert.NotContains(t, exec.calls, ActivityReview)
	assert.NotContains(t, exec.calls, ActivityPushPR)
	assert.Empty(t, result.Summary.PRURL)

	review, ok := exec.beadByName(StepReview)
	require.True(t, ok)
	assert.Equal(t, beads.StatusSkipped, review.Status)
	assert.Equal(t, "no changes to commit", review.Detail)
}

func TestRunSequenceStepFailure(t *testing.T) {
	exec := newFakeExec()
	cause := errors.New("dirty worktree")
	exec.failures[ActivityCreateBranch] = cause

	_, err := RunSequence(exec, testInput())
	require.Error(t, err)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepCreateBranch, stepErr.Step)
	assert.ErrorIs(t, err, cause)

	b, ok := exec.beadByName(StepCreateBranch)
	require.True(t, ok)
	assert.Equal(t, beads.StatusFailed, b.Status)
	assert.Equal(t, "dirty worktree", b.Error)

	// Later steps never ran.
	assert.NotContains(t, exec.calls, ActivityExecute)

	final := exec.runs[len(exec.runs)-1]
	assert.Equal(t, RunStatusFailed, final.Status)
	assert.Contains(t, final.Error, "dirty worktree")
}

func TestRunSequenceFailureStillSavesLog(t *testing.T) {
	exec := newFakeExec()
	exec.failures[ActivityReview] = errors.New("model unavailable")

	_, err := RunSequence(exec, testInput())
	require.Error(t, err)

	// The log step runs on the failure path too.
	assert.Contains(t, exec.calls, ActivitySaveLog)
	saveLog, ok := exec.beadByName(StepSaveLog)
	require.True(t, ok)
	assert.Equal(t, beads.StatusCompleted, saveLog.Status)

	final := exec.runs[len(exec.runs)-1]
	assert.Equal(t, RunStatusFailed, final.Status)
	require.NotNil(t, final.Summary)
	assert.Equal(t, "runs/run-t.json", final.Summary.LogPath)
	require.NotNil(t, final.FinishedAt)
}

func TestRunSequenceFailedSaveLogDoesNotMaskStepError(t *testing.T) {
	exec := newFakeExec()
	cause := errors.New("model unavailable")
	exec.failures[ActivityReview] = cause
	exec.failures[ActivitySaveLog] = errors.New("disk full")

	_, err := RunSequence(exec, testInput())

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepReview, stepErr.Step)
	assert.ErrorIs(t, err, cause)

	saveLog, ok := exec.beadByName(StepSaveLog)
	require.True(t, ok)
	assert.Equal(t, beads.StatusFailed, saveLog.Status)
}

// persistFailExec wraps fakeExec and fails every ledger write.
type persistFailExec struct {
	*fakeExec
}

func (p *persistFailExec) Execute(name string, input, output any) error {
	if name == ActivityPersistBead || name == ActivityPersistRun {
		p.calls = append(p.calls, name)
		return errors.New("store unavailable")
	}
	return p.fakeExec.Execute(name, input, output)
}

func TestRunSequencePersistFailuresDoNotFailRun(t *testing.T) {
	exec := &persistFailExec{fakeExec: newFakeExec()}

	result, err := RunSequence(exec, testInput())
	require.NoError(t, err)
	assert.True(t, result.Summary.Merged)
}

func TestRunSequenceBeadTimestampsFromExecutorClock(t *testing.T) {
	exec := newFakeExec()
	_, err := RunSequence(exec, testInput())
	require.NoError(t, err)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for _, b := range exec.beads {
		assert.True(t, b.CreatedAt.After(base), b.Name)
		if b.FinishedAt != nil {
			assert.False(t, b.FinishedAt.Before(b.CreatedAt), b.Name)
		}
	}
}
