package activities

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/repopilot/internal/beads"
	"github.com/fyrsmithlabs/repopilot/internal/config"
	"github.com/fyrsmithlabs/repopilot/internal/logging"
	"github.com/fyrsmithlabs/repopilot/internal/pipeline"
	"github.com/fyrsmithlabs/repopilot/internal/scanner"
	"github.com/fyrsmithlabs/repopilot/internal/store"
	"github.com/fyrsmithlabs/repopilot/internal/vcs"
)

// fakeLLM answers Complete with text and CompleteJSON from a scripted
// queue of JSON payloads.
type fakeLLM struct {
	text      string
	jsonQueue []string
	err       error
	calls     int
}

func (f *fakeLLM) Complete(_ context.Context, _, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func (f *fakeLLM) CompleteJSON(_ context.Context, _, _ string, out any) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	if len(f.jsonQueue) == 0 {
		return errors.New("fakeLLM: queue exhausted")
	}
	payload := f.jsonQueue[0]
	f.jsonQueue = f.jsonQueue[1:]
	return decodeInto(payload, out)
}

func decodeInto(payload string, out any) error {
	return json.Unmarshal([]byte(payload), out)
}

type fakeHost struct {
	pr       vcs.PullRequest
	merged   []int
	mergeErr error
}

func (f *fakeHost) CreatePR(_ context.Context, _, _, _, _ string) (vcs.PullRequest, error) {
	return f.pr, nil
}

func (f *fakeHost) MergePR(_ context.Context, _ string, number int) error {
	if f.mergeErr != nil {
		return f.mergeErr
	}
	f.merged = append(f.merged, number)
	return nil
}

func newTestActivities(t *testing.T, client *fakeLLM) (*Activities, *store.Files) {
	t.Helper()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	files, err := store.NewFiles(t.TempDir())
	require.NoError(t, err)

	logger := logging.NewTestLogger().Logger
	return New(Deps{
		Scanner: scanner.New(config.ScannerConfig{
			Extensions:      []string{".py", ".md"},
			MaxFileSize:     8000,
			MaxContextChars: 60000,
		}),
		LLM:         client,
		Git:         vcs.NewGit(vcs.NewCommandRunner(time.Second), logger),
		Host:        &fakeHost{pr: vcs.PullRequest{URL: "https://github.com/acme/w/pull/5", Number: 5}},
		DB:          db,
		Files:       files,
		Logger:      logger,
		TestCommand: []string{"echo", "2 passed, 1 failed in"},
		TestTimeout: 5 * time.Second,
	}), files
}

func TestSuggestAssignsSequentialIDs(t *testing.T) {
	client := &fakeLLM{jsonQueue: []string{
		`{"improvements": [{"title": "A", "description": "a", "priority": "high",
			"changes": [{"file": "a.py", "description": "tighten parsing", "code_hint": "use int()"}]}]}`,
		`{"improvements": [{"title": "B", "description": "b"}, {"title": "C", "description": "c"}]}`,
		`{"improvements": []}`,
		`{"improvements": [{"title": "D", "description": "d"}]}`,
	}}
	a, _ := newTestActivities(t, client)

	out, err := a.Suggest(context.Background(), pipeline.SuggestInput{RunID: "r", Analysis: "analysis"})
	require.NoError(t, err)

	require.Len(t, out.Improvements, 4)
	assert.Equal(t, "IMP-001", out.Improvements[0].ID)
	assert.Equal(t, "features", out.Improvements[0].Category)
	assert.Equal(t, "IMP-002", out.Improvements[1].ID)
	assert.Equal(t, "security", out.Improvements[1].Category)
	assert.Equal(t, "IMP-004", out.Improvements[3].ID)
	assert.Equal(t, "integration", out.Improvements[3].Category)

	// The per-file change plan rides along on the improvement.
	require.Len(t, out.Improvements[0].Changes, 1)
	assert.Equal(t, "a.py", out.Improvements[0].Changes[0].File)
	assert.Equal(t, "use int()", out.Improvements[0].Changes[0].CodeHint)
}

func TestExecuteChangesCreatesAndModifies(t *testing.T) {
	repo := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(repo, "old.py"), []byte("x = 1\n"), 0o644))

	client := &fakeLLM{
		text:      "print('new')",
		jsonQueue: []string{`{"new_content": "x = 2\n", "summary": "bump constant"}`},
	}
	a, _ := newTestActivities(t, client)

	out, err := a.ExecuteChanges(context.Background(), pipeline.ExecuteInput{
		RunID:    "r",
		RepoPath: repo,
		Improvements: []pipeline.Improvement{
			{ID: "IMP-001", Title: "Add module", Category: "features", Changes: []pipeline.ChangeSpec{
				{File: "pkg/new.py", Description: "add the module", CodeHint: "print"},
				{File: "old.py", Description: "bump the constant"},
			}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Applied)
	// One reasoning call per file change.
	assert.Equal(t, 2, client.calls)

	require.Len(t, out.Changes, 2)
	assert.Equal(t, "create", out.Changes[0].Action)
	assert.Equal(t, pipeline.ChangeApplied, out.Changes[0].Status)
	assert.Equal(t, "modify", out.Changes[1].Action)
	assert.Equal(t, pipeline.ChangeApplied, out.Changes[1].Status)
	assert.Equal(t, "bump constant", out.Changes[1].Summary)

	created, err := os.ReadFile(filepath.Join(repo, "pkg", "new.py"))
	require.NoError(t, err)
	assert.Equal(t, "print('new')", string(created))

	modified, err := os.ReadFile(filepath.Join(repo, "old.py"))
	require.NoError(t, err)
	assert.Equal(t, "x = 2\n", string(modified))
}

func TestExecuteChangesRecordsFailedFileAndKeepsSiblings(t *testing.T) {
	repo := t.TempDir()
	// The second target is a directory, so its write fails after the
	// first sibling has already been applied.
	require.NoError(t, os.MkdirAll(filepath.Join(repo, "blocked"), 0o755))

	client := &fakeLLM{text: "print('ok')"}
	a, _ := newTestActivities(t, client)

	out, err := a.ExecuteChanges(context.Background(), pipeline.ExecuteInput{
		RunID:    "r",
		RepoPath: repo,
		Improvements: []pipeline.Improvement{
			{ID: "IMP-001", Title: "Two files", Changes: []pipeline.ChangeSpec{
				{File: "pkg/ok.py", Description: "add helper"},
				{File: "blocked", Description: "add helper"},
			}},
		},
	})
	require.NoError(t, err)

	require.Len(t, out.Changes, 2)
	assert.Equal(t, pipeline.ChangeApplied, out.Changes[0].Status)
	assert.Equal(t, pipeline.ChangeFailed, out.Changes[1].Status)
	assert.NotEmpty(t, out.Changes[1].Summary)
	assert.Equal(t, 1, out.Applied)
	assert.FileExists(t, filepath.Join(repo, "pkg", "ok.py"))
}

func TestExecuteChangesIsolatesReasoningFailure(t *testing.T) {
	repo := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(repo, "a.py"), []byte("a = 1\n"), 0o644))

	client := &fakeLLM{text: "b = 2", jsonQueue: []string{`not valid json {{{`}}
	a, _ := newTestActivities(t, client)

	out, err := a.ExecuteChanges(context.Background(), pipeline.ExecuteInput{
		RunID:    "r",
		RepoPath: repo,
		Improvements: []pipeline.Improvement{
			{ID: "IMP-001", Title: "Broken", Changes: []pipeline.ChangeSpec{{File: "a.py", Description: "rewrite"}}},
			{ID: "IMP-002", Title: "Fine", Changes: []pipeline.ChangeSpec{{File: "b.py", Description: "create"}}},
		},
	})
	require.NoError(t, err)

	require.Len(t, out.Changes, 2)
	assert.Equal(t, pipeline.ChangeFailed, out.Changes[0].Status)
	assert.Equal(t, pipeline.ChangeApplied, out.Changes[1].Status)
	assert.Equal(t, 1, out.Applied)
	assert.FileExists(t, filepath.Join(repo, "b.py"))
}

func TestExecuteChangesSkipsNoopRewrite(t *testing.T) {
	repo := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(repo, "same.py"), []byte("y = 1\n"), 0o644))

	client := &fakeLLM{jsonQueue: []string{`{"new_content": "y = 1\n", "summary": "no change"}`}}
	a, _ := newTestActivities(t, client)

	out, err := a.ExecuteChanges(context.Background(), pipeline.ExecuteInput{
		RunID:    "r",
		RepoPath: repo,
		Improvements: []pipeline.Improvement{
			{ID: "IMP-001", Title: "Noop", Changes: []pipeline.ChangeSpec{{File: "same.py", Description: "rewrite"}}},
		},
	})
	require.NoError(t, err)

	require.Len(t, out.Changes, 1)
	assert.Equal(t, pipeline.ChangeSkipped, out.Changes[0].Status)
	assert.Equal(t, 0, out.Applied)
}

func TestExecuteChangesWithoutPlanProducesNothing(t *testing.T) {
	a, _ := newTestActivities(t, &fakeLLM{})

	out, err := a.ExecuteChanges(context.Background(), pipeline.ExecuteInput{
		RunID:        "r",
		RepoPath:     t.TempDir(),
		Improvements: []pipeline.Improvement{{ID: "IMP-001", Title: "Vague"}},
	})
	require.NoError(t, err)
	assert.Empty(t, out.Changes)
	assert.Equal(t, 0, out.Applied)
}

func TestResolveInRepoRejectsEscapes(t *testing.T) {
	root := t.TempDir()

	_, err := resolveInRepo(root, "../outside.py")
	assert.Error(t, err)
	_, err = resolveInRepo(root, "/etc/passwd")
	assert.Error(t, err)
	_, err = resolveInRepo(root, "")
	assert.Error(t, err)

	path, err := resolveInRepo(root, "sub/ok.py")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "sub", "ok.py"), path)
}

func TestReviewDerivesOverallScore(t *testing.T) {
	client := &fakeLLM{jsonQueue: []string{
		`{"code_quality": 8, "features": 7, "security": 9, "compliance": 8, "integration": 7, "test_coverage_potential": 9}`,
	}}
	a, _ := newTestActivities(t, client)

	out, err := a.Review(context.Background(), pipeline.ReviewInput{RunID: "r"})
	require.NoError(t, err)
	assert.InDelta(t, 8.0, out.Review.OverallScore, 0.01)
}

func TestGenerateTestsFixedGroups(t *testing.T) {
	repo := t.TempDir()
	client := &fakeLLM{jsonQueue: []string{
		`{"test_file_content": "def test_f(): pass", "test_count": 1, "test_names": ["test_f"]}`,
		`{"test_file_content": "def test_s(): pass", "test_count": 1, "test_names": ["test_s"]}`,
		`{"test_file_content": "def test_c(): pass", "test_count": 1, "test_names": ["test_c"]}`,
		`{"test_file_content": "def test_i(): pass", "test_count": 1, "test_names": ["test_i"]}`,
	}}
	a, _ := newTestActivities(t, client)

	out, err := a.GenerateTests(context.Background(), pipeline.GenerateTestsInput{RunID: "r", RepoPath: repo})
	require.NoError(t, err)

	// One reasoning call per group; group names come from the fixed
	// list, never from the response.
	assert.Equal(t, 4, client.calls)
	assert.Equal(t, []string{"features", "security", "compliance", "integration"}, out.Groups)
	require.Len(t, out.Files, 4)
	assert.Equal(t, "tests/test_features.py", out.Files[0].Path)
	assert.FileExists(t, filepath.Join(repo, "tests", "test_security.py"))
}

func TestGenerateTestsGroupFailureIsolated(t *testing.T) {
	repo := t.TempDir()
	client := &fakeLLM{jsonQueue: []string{
		`{"test_file_content": "def test_f(): pass"}`,
		`not valid json {{{`,
		`{"test_file_content": "def test_c(): pass"}`,
		`{"test_file_content": "def test_i(): pass"}`,
	}}
	a, _ := newTestActivities(t, client)

	out, err := a.GenerateTests(context.Background(), pipeline.GenerateTestsInput{RunID: "r", RepoPath: repo})
	require.NoError(t, err)

	assert.Equal(t, []string{"features", "compliance", "integration"}, out.Groups)
	assert.NoFileExists(t, filepath.Join(repo, "tests", "test_security.py"))
	assert.FileExists(t, filepath.Join(repo, "tests", "test_compliance.py"))
}

func TestRunTestsAggregatesCounts(t *testing.T) {
	a, _ := newTestActivities(t, &fakeLLM{})

	out, err := a.RunTests(context.Background(), pipeline.RunTestsInput{
		RunID:    "r",
		RepoPath: t.TempDir(),
		Groups:   []string{"tests/test_a.py", "tests/test_b.py"},
	})
	require.NoError(t, err)
	require.Len(t, out.Results, 2)
	assert.Equal(t, 4, out.Passed)
	assert.Equal(t, 2, out.Failed)
	// Results stay aligned with the input group order.
	assert.Equal(t, "tests/test_a.py", out.Results[0].Group)
}

func TestRunTestsGroupErrorIsolated(t *testing.T) {
	script := filepath.Join(t.TempDir(), "runner.sh")
	require.NoError(t, os.WriteFile(script, []byte(
		"#!/bin/sh\n"+
			"if [ \"$1\" = \"security\" ]; then echo runner exploded >&2; exit 2; fi\n"+
			"echo \"3 passed in 0.1s\"\n"), 0o755))

	a, _ := newTestActivities(t, &fakeLLM{})
	a.testCommand = []string{script}

	out, err := a.RunTests(context.Background(), pipeline.RunTestsInput{
		RunID:    "r",
		RepoPath: t.TempDir(),
		Groups:   []string{"unit", "integration", "security", "compliance"},
	})
	require.NoError(t, err)

	// The broken group reports its error; the other three keep their
	// counts.
	require.Len(t, out.Results, 4)
	assert.NotEmpty(t, out.Results[2].Err)
	assert.Equal(t, 0, out.Results[2].Passed)
	assert.Equal(t, 3, out.Results[0].Passed)
	assert.Equal(t, 3, out.Results[3].Passed)
	assert.Equal(t, 9, out.Passed)
}

func TestRunTestsArgumentsStayPerGroup(t *testing.T) {
	script := filepath.Join(t.TempDir(), "runner.sh")
	require.NoError(t, os.WriteFile(script, []byte(
		"#!/bin/sh\n"+
			"echo \"group=$2\"\n"+
			"echo \"1 passed\"\n"), 0o755))

	a, _ := newTestActivities(t, &fakeLLM{})
	// Spare capacity in the command slice must not let the concurrent
	// groups overwrite each other's appended argument.
	cmd := make([]string, 0, 8)
	cmd = append(cmd, script, "-q")
	a.testCommand = cmd

	groups := []string{"features", "security", "compliance", "integration"}
	out, err := a.RunTests(context.Background(), pipeline.RunTestsInput{
		RunID:    "r",
		RepoPath: t.TempDir(),
		Groups:   groups,
	})
	require.NoError(t, err)

	require.Len(t, out.Results, 4)
	for i, g := range groups {
		assert.Contains(t, out.Results[i].Output, "group="+g)
	}
}

func TestRunTestsNoGroups(t *testing.T) {
	a, _ := newTestActivities(t, &fakeLLM{})
	out, err := a.RunTests(context.Background(), pipeline.RunTestsInput{RunID: "r", RepoPath: t.TempDir()})
	require.NoError(t, err)
	assert.Empty(t, out.Results)
}

func TestParseTestCounts(t *testing.T) {
	tests := []struct {
		output string
		passed int
		failed int
	}{
		{"===== 12 passed in 0.34s =====", 12, 0},
		{"===== 3 passed, 2 failed in 1.2s =====", 3, 2},
		{"collected 0 items", 0, 0},
		{"1 failed in 0.1s", 0, 1},
	}
	for _, tt := range tests {
		p, f := parseTestCounts(tt.output)
		assert.Equal(t, tt.passed, p, tt.output)
		assert.Equal(t, tt.failed, f, tt.output)
	}
}

func TestAutoMergeRespectsDecision(t *testing.T) {
	host := &fakeHost{}
	a, _ := newTestActivities(t, &fakeLLM{})
	a.host = host

	out, err := a.AutoMerge(context.Background(), pipeline.AutoMergeInput{
		RunID:    "r",
		PRNumber: 9,
		Decision: pipeline.Decision{Merge: false, Reason: "score 5.0 below threshold 7.0"},
	})
	require.NoError(t, err)
	assert.False(t, out.Merged)
	assert.Empty(t, host.merged)

	out, err = a.AutoMerge(context.Background(), pipeline.AutoMergeInput{
		RunID:    "r",
		PRNumber: 9,
		Decision: pipeline.Decision{Merge: true, Reason: "score 8.0 meets threshold 7.0"},
	})
	require.NoError(t, err)
	assert.True(t, out.Merged)
	assert.Equal(t, []int{9}, host.merged)
}

func TestWriteInitialDocs(t *testing.T) {
	a, files := newTestActivities(t, &fakeLLM{})

	out, err := a.WriteInitialDocs(context.Background(), pipeline.InitialDocsInput{
		RunID:    "run-d",
		RepoPath: "/tmp/repo",
		Analysis: "Solid structure, missing tests.",
	})
	require.NoError(t, err)
	assert.True(t, out.Written)
	assert.Equal(t, filepath.Join(files.Dir(), "run-d.analysis.md"), out.Path)

	content, err := os.ReadFile(out.Path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "missing tests")
}

func TestUpdateDocsUnmergedStaysLocal(t *testing.T) {
	client := &fakeLLM{text: "## Run run-u\nImprovements applied."}
	a, files := newTestActivities(t, client)

	out, err := a.UpdateDocs(context.Background(), pipeline.UpdateDocsInput{
		RunID:  "run-u",
		Merged: false,
		Review: pipeline.ReviewResult{OverallScore: 5.5},
		Improvements: []pipeline.Improvement{
			{ID: "IMP-001", Category: "features", Title: "Add flag"},
		},
	})
	require.NoError(t, err)
	assert.False(t, out.Updated)
	assert.Equal(t, filepath.Join(files.Dir(), "run-u.docs.md"), out.Path)
	assert.FileExists(t, out.Path)
}

func TestSaveLogAndPersistRun(t *testing.T) {
	a, files := newTestActivities(t, &fakeLLM{})
	ctx := context.Background()

	now := time.Now().UTC()
	run := pipeline.Run{
		ID:        "run-log",
		RepoPath:  "/tmp/repo",
		Strategy:  pipeline.StrategyLocal,
		Status:    pipeline.RunStatusCompleted,
		StartedAt: now,
		Summary:   &pipeline.RunSummary{ReviewScore: 8.2, Merged: true},
	}

	require.NoError(t, a.PersistRun(ctx, pipeline.PersistRunInput{Run: run}))
	stored, err := a.db.GetRun(ctx, "run-log")
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunStatusCompleted, stored.Status)

	out, err := a.SaveLog(ctx, pipeline.SaveLogInput{Run: run})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(files.Dir(), "run-log.json"), out.Path)

	snapshot, err := files.ReadRun(ctx, "run-log")
	require.NoError(t, err)
	require.NotNil(t, snapshot.Summary)
	assert.Equal(t, 8.2, snapshot.Summary.ReviewScore)
}

func TestPersistBeadBestEffort(t *testing.T) {
	a, files := newTestActivities(t, &fakeLLM{})
	ctx := context.Background()

	b := beads.Bead{
		ID: "run-pb-b01", RunID: "run-pb", Seq: 1,
		Name: pipeline.StepAnalyze, Category: beads.CategoryAnalysis,
		Status: beads.StatusRunning, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, a.PersistBead(ctx, pipeline.PersistBeadInput{Bead: b}))

	fromDB, err := a.db.GetBead(ctx, "run-pb-b01")
	require.NoError(t, err)
	assert.Equal(t, beads.StatusRunning, fromDB.Status)

	fromFiles, err := files.ReadBeads(ctx, "run-pb")
	require.NoError(t, err)
	require.Len(t, fromFiles, 1)
	assert.Equal(t, "run-pb-b01", fromFiles[0].ID)
}

func TestRegistryCoversEveryActivity(t *testing.T) {
	a, _ := newTestActivities(t, &fakeLLM{})
	reg := a.Registry()

	for _, name := range []string{
		pipeline.ActivityAnalyze, pipeline.ActivityInitialDocs, pipeline.ActivitySuggest,
		pipeline.ActivityCreateBranch, pipeline.ActivityExecute, pipeline.ActivityCommit,
		pipeline.ActivityReview, pipeline.ActivityGenerateTests, pipeline.ActivityRunTests,
		pipeline.ActivityPushPR, pipeline.ActivityAutoMerge, pipeline.ActivityUpdateDocs,
		pipeline.ActivitySaveLog, pipeline.ActivityPersistBead, pipeline.ActivityPersistRun,
	} {
		assert.Contains(t, reg, name, fmt.Sprintf("registry missing %s", name))
	}
}
