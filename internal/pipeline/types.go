// Package pipeline defines the ten-step repository improvement sequence
// and the two execution strategies that drive it: a durable Temporal
// workflow and a local in-process runner. Both strategies execute the
// same step sequence with identical semantics.
package pipeline

import "time"

// Execution strategies.
const (
	StrategyTemporal = "temporal"
	StrategyLocal    = "local"
)

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the run has finished.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// Run is the top-level record for one pipeline execution.
type Run struct {
	ID         string      `json:"id"`
	RepoPath   string      `json:"repo_path"`
	Branch     string      `json:"branch,omitempty"`
	Strategy   string      `json:"strategy"`
	Status     RunStatus   `json:"status"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Error      string      `json:"error,omitempty"`
	Summary    *RunSummary `json:"summary,omitempty"`
	Detail     *RunDetail  `json:"detail,omitempty"`
}

// RunDetail accumulates the full output of every step as the run
// progresses, so the saved pipeline log is self-contained. Once the
// run is terminal the detail is immutable.
type RunDetail struct {
	Analysis     *AnalyzeOutput `json:"analysis,omitempty"`
	Improvements []Improvement  `json:"improvements,omitempty"`
	Changes      []CodeChange   `json:"changes,omitempty"`
	Commit       string         `json:"commit,omitempty"`
	Review       *ReviewResult  `json:"review,omitempty"`
	TestFiles    []TestFile     `json:"tests_generated,omitempty"`
	TestResults  []TestResult   `json:"test_results,omitempty"`
	Merge        *MergeResult   `json:"merge,omitempty"`
	DocsPath     string         `json:"docs_path,omitempty"`
}

// RunSummary holds the outcome of a completed run.
type RunSummary struct {
	Improvements   int     `json:"improvements"`
	ChangesApplied int     `json:"changes_applied"`
	ReviewScore    float64 `json:"review_score"`
	TestsPassed    int     `json:"tests_passed"`
	TestsFailed    int     `json:"tests_failed"`
	PRURL          string  `json:"pr_url,omitempty"`
	PRNumber       int     `json:"pr_number,omitempty"`
	Merged         bool    `json:"merged"`
	MergeReason    string  `json:"merge_reason,omitempty"`
	DocsUpdated    bool    `json:"docs_updated"`
	LogPath        string  `json:"log_path,omitempty"`
}

// Improvement is one suggested change produced by the suggestion step.
type Improvement struct {
	ID          string       `json:"id"`
	Category    string       `json:"category"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Files       []string     `json:"files_affected,omitempty"`
	Priority    string       `json:"priority,omitempty"`
	Changes     []ChangeSpec `json:"changes,omitempty"`
}

// ChangeSpec is one planned file change within an improvement. The
// execution step makes one reasoning call per spec.
type ChangeSpec struct {
	File        string `json:"file"`
	Description string `json:"description"`
	CodeHint    string `json:"code_hint,omitempty"`
}

// Statuses recorded on each CodeChange by the execution step.
const (
	ChangeApplied = "applied"
	ChangeFailed  = "failed"
	ChangeSkipped = "skipped"
)

// CodeChange is the outcome of one planned file change. Failed and
// skipped changes stay in the record alongside applied ones.
type CodeChange struct {
	ImprovementID string `json:"improvement_id"`
	FilePath      string `json:"file_path"`
	Action        string `json:"action"` // create, modify
	Status        string `json:"status"`
	Content       string `json:"content,omitempty"`
	Summary       string `json:"summary,omitempty"`
}

// ReviewResult holds the dimensional scores from the code review step.
// All scores are on a 0-10 scale.
type ReviewResult struct {
	CodeQuality           float64  `json:"code_quality"`
	Features              float64  `json:"features"`
	Security              float64  `json:"security"`
	Compliance            float64  `json:"compliance"`
	Integration           float64  `json:"integration"`
	TestCoveragePotential float64  `json:"test_coverage_potential"`
	OverallScore          float64  `json:"overall_score"`
	Summary               string   `json:"summary,omitempty"`
	Concerns              []string `json:"concerns,omitempty"`
}

// TestFile is one generated test file with the group it belongs to.
type TestFile struct {
	Path    string `json:"path"`
	Group   string `json:"group"`
	Content string `json:"content"`
}

// TestResult is the outcome of running one test group.
type TestResult struct {
	Group    string        `json:"group"`
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
	Output   string        `json:"output,omitempty"`
	Err      string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// MergeResult is the outcome of the push/PR/auto-merge step.
type MergeResult struct {
	PRURL    string `json:"pr_url,omitempty"`
	PRNumber int    `json:"pr_number,omitempty"`
	Merged   bool   `json:"merged"`
	Reason   string `json:"reason,omitempty"`
}

// Step names in execution order, with their bead categories. The names
// double as bead names in the ledger.
const (
	StepAnalyze       = "Analyze Repository"
	StepInitialDocs   = "Write Initial Docs"
	StepSuggest       = "Suggest Improvements"
	StepCreateBranch  = "Create Branch"
	StepExecute       = "Execute Code Changes"
	StepCommit        = "Commit Changes"
	StepReview        = "Code Review"
	StepGenerateTests = "Generate Tests"
	StepRunTests      = "Execute Tests"
	StepPushPR        = "Push & Create PR"
	StepAutoMerge     = "Auto-Merge Decision"
	StepUpdateDocs    = "Update Documentation"
	StepSaveLog       = "Save Pipeline Log"
)
