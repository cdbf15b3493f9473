package pipeline

import (
	"time"

	"github.com/fyrsmithlabs/repopilot/internal/beads"
)

// Activity names. Both execution strategies dispatch steps by these
// names; the Temporal worker registers activities under them.
const (
	ActivityAnalyze       = "Analyze"
	ActivityInitialDocs   = "WriteInitialDocs"
	ActivitySuggest       = "Suggest"
	ActivityCreateBranch  = "CreateBranch"
	ActivityExecute       = "ExecuteChanges"
	ActivityCommit        = "Commit"
	ActivityReview        = "Review"
	ActivityGenerateTests = "GenerateTests"
	ActivityRunTests      = "RunTests"
	ActivityPushPR        = "PushPR"
	ActivityAutoMerge     = "AutoMerge"
	ActivityUpdateDocs    = "UpdateDocs"
	ActivitySaveLog       = "SaveLog"
	ActivityPersistBead   = "PersistBead"
	ActivityPersistRun    = "PersistRun"
)

// Params are the tunables a run is started with. They travel in the
// workflow input so workflow code never reads configuration directly.
type Params struct {
	BranchPrefix       string        `json:"branch_prefix"`
	AutoMergeThreshold float64       `json:"auto_merge_threshold"`
	StepTimeout        time.Duration `json:"step_timeout"`
}

// WorkflowInput starts one pipeline run.
type WorkflowInput struct {
	RunID    string    `json:"run_id"`
	RepoPath string    `json:"repo_path"`
	Strategy string    `json:"strategy"`
	StartAt  time.Time `json:"start_at"`
	Params   Params    `json:"params"`
}

// WorkflowResult is the terminal output of a run.
type WorkflowResult struct {
	Branch  string     `json:"branch"`
	Summary RunSummary `json:"summary"`
}

// AnalyzeInput scans the repository and produces an analysis.
type AnalyzeInput struct {
	RunID    string `json:"run_id"`
	RepoPath string `json:"repo_path"`
}

type AnalyzeOutput struct {
	Analysis     string `json:"analysis"`
	Tree         string `json:"tree"`
	FileCount    int    `json:"file_count"`
	ContextChars int    `json:"context_chars"`
}

// InitialDocsInput writes the pre-change analysis document.
type InitialDocsInput struct {
	RunID    string `json:"run_id"`
	RepoPath string `json:"repo_path"`
	Analysis string `json:"analysis"`
}

type InitialDocsOutput struct {
	Path    string `json:"path"`
	Written bool   `json:"written"`
}

// SuggestInput asks for improvement suggestions across categories.
type SuggestInput struct {
	RunID    string `json:"run_id"`
	Analysis string `json:"analysis"`
}

type SuggestOutput struct {
	Improvements []Improvement `json:"improvements"`
}

// BranchInput creates the working branch.
type BranchInput struct {
	RunID        string `json:"run_id"`
	RepoPath     string `json:"repo_path"`
	BranchPrefix string `json:"branch_prefix"`
}

type BranchOutput struct {
	Branch     string `json:"branch"`
	BaseBranch string `json:"base_branch"`
}

// ExecuteInput applies the suggested improvements to the worktree.
type ExecuteInput struct {
	RunID        string        `json:"run_id"`
	RepoPath     string        `json:"repo_path"`
	Improvements []Improvement `json:"improvements"`
}

type ExecuteOutput struct {
	Changes []CodeChange `json:"changes"`
	Applied int          `json:"applied"`
}

// CommitInput commits all staged changes.
type CommitInput struct {
	RunID    string `json:"run_id"`
	RepoPath string `json:"repo_path"`
	Message  string `json:"message"`
}

type CommitOutput struct {
	Commit    string `json:"commit"`
	Committed bool   `json:"committed"`
}

// ReviewInput scores the applied changes.
type ReviewInput struct {
	RunID    string       `json:"run_id"`
	RepoPath string       `json:"repo_path"`
	Changes  []CodeChange `json:"changes"`
}

type ReviewOutput struct {
	Review ReviewResult `json:"review"`
}

// GenerateTestsInput produces test files for the applied changes.
type GenerateTestsInput struct {
	RunID    string       `json:"run_id"`
	RepoPath string       `json:"repo_path"`
	Changes  []CodeChange `json:"changes"`
}

type GenerateTestsOutput struct {
	Files  []TestFile `json:"files"`
	Groups []string   `json:"groups"`
}

// RunTestsInput executes the generated test groups.
type RunTestsInput struct {
	RunID    string   `json:"run_id"`
	RepoPath string   `json:"repo_path"`
	Groups   []string `json:"groups"`
}

type RunTestsOutput struct {
	Results []TestResult `json:"results"`
	Passed  int          `json:"passed"`
	Failed  int          `json:"failed"`
}

// PushPRInput pushes the branch and opens a pull request.
type PushPRInput struct {
	RunID    string `json:"run_id"`
	RepoPath string `json:"repo_path"`
	Branch   string `json:"branch"`
	Title    string `json:"title"`
	Body     string `json:"body"`
}

type PushPROutput struct {
	PRURL    string `json:"pr_url"`
	PRNumber int    `json:"pr_number"`
}

// AutoMergeInput applies the quality-gate decision to the open PR.
type AutoMergeInput struct {
	RunID    string   `json:"run_id"`
	RepoPath string   `json:"repo_path"`
	PRNumber int      `json:"pr_number"`
	Decision Decision `json:"decision"`
}

type AutoMergeOutput struct {
	Merged bool   `json:"merged"`
	Reason string `json:"reason"`
}

// UpdateDocsInput refreshes documentation after the merge decision.
type UpdateDocsInput struct {
	RunID        string        `json:"run_id"`
	RepoPath     string        `json:"repo_path"`
	BaseBranch   string        `json:"base_branch"`
	Merged       bool          `json:"merged"`
	Improvements []Improvement `json:"improvements"`
	Review       ReviewResult  `json:"review"`
}

type UpdateDocsOutput struct {
	Updated bool   `json:"updated"`
	Path    string `json:"path"`
}

// SaveLogInput writes the final run record snapshot.
type SaveLogInput struct {
	Run Run `json:"run"`
}

type SaveLogOutput struct {
	Path string `json:"path"`
}

// PersistBeadInput mirrors one bead mutation into the stores.
type PersistBeadInput struct {
	Bead beads.Bead `json:"bead"`
}

// PersistRunInput mirrors the run record into the stores.
type PersistRunInput struct {
	Run Run `json:"run"`
}
