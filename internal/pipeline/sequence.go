package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/repopilot/internal/beads"
)

// RunSequence drives the full improvement pipeline through the given
// executor. Both strategies call this function, so the step order,
// bead ledger, skip semantics and merge gate behave identically
// whether the run is durable or local.
func RunSequence(exec StepExecutor, in WorkflowInput) (WorkflowResult, error) {
	ctx := context.Background()
	tracker := beads.NewTracker(in.RunID,
		beads.WithClock(exec.Now),
		beads.WithPersist(func(_ context.Context, b beads.Bead) {
			// Ledger writes are best-effort and must not fail the step.
			_ = exec.Execute(ActivityPersistBead, PersistBeadInput{Bead: b}, nil)
		}),
	)

	var detail RunDetail
	run := Run{
		ID:        in.RunID,
		RepoPath:  in.RepoPath,
		Strategy:  in.Strategy,
		Status:    RunStatusRunning,
		StartedAt: in.StartAt,
		Detail:    &detail,
	}
	persistRun := func() {
		_ = exec.Execute(ActivityPersistRun, PersistRunInput{Run: run}, nil)
	}
	persistRun()

	summary := RunSummary{}

	// saveLog runs the final log step as its own bead. It executes on
	// every terminal path, successful or not.
	saveLog := func() (string, error) {
		id := tracker.Create(ctx, StepSaveLog, beads.CategoryLogging)
		tracker.Start(ctx, id)
		var saved SaveLogOutput
		if err := exec.Execute(ActivitySaveLog, SaveLogInput{Run: run}, &saved); err != nil {
			tracker.Fail(ctx, id, err.Error())
			return "", err
		}
		tracker.Complete(ctx, id, saved.Path)
		return saved.Path, nil
	}

	fail := func(step string, err error) (WorkflowResult, error) {
		now := exec.Now().UTC()
		run.Status = RunStatusFailed
		run.FinishedAt = &now
		run.Error = err.Error()
		run.Summary = &summary
		// The log step still runs so the failed run leaves a record;
		// its own failure must not mask the step error.
		if path, logErr := saveLog(); logErr == nil {
			summary.LogPath = path
			run.Summary = &summary
		}
		persistRun()
		return WorkflowResult{}, &StepError{Step: step, Err: err}
	}

	finish := func() (WorkflowResult, error) {
		now := exec.Now().UTC()
		run.Status = RunStatusCompleted
		run.FinishedAt = &now
		run.Summary = &summary
		path, err := saveLog()
		if err != nil {
			run.Status = RunStatusFailed
			run.Error = err.Error()
			persistRun()
			return WorkflowResult{}, &StepError{Step: StepSaveLog, Err: err}
		}
		summary.LogPath = path
		run.Summary = &summary
		persistRun()
		return WorkflowResult{Branch: run.Branch, Summary: summary}, nil
	}

	// do runs one step as a bead: create, start, execute, complete or
	// fail. detail may be nil.
	do := func(beadName, category, activity string, input, output any, detail func() string) error {
		id := tracker.Create(ctx, beadName, category)
		tracker.Start(ctx, id)
		if err := exec.Execute(activity, input, output); err != nil {
			tracker.Fail(ctx, id, err.Error())
			return err
		}
		d := ""
		if detail != nil {
			d = detail()
		}
		tracker.Complete(ctx, id, d)
		return nil
	}

	// skipRest marks the remaining steps as skipped and finishes the
	// run as completed.
	skipRest := func(reason string, remaining ...[2]string) (WorkflowResult, error) {
		for _, step := range remaining {
			id := tracker.Create(ctx, step[0], step[1])
			tracker.Skip(ctx, id, reason)
		}
		return finish()
	}

	// 1. Analyze Repository
	var analysis AnalyzeOutput
	if err := do(StepAnalyze, beads.CategoryAnalysis, ActivityAnalyze,
		AnalyzeInput{RunID: in.RunID, RepoPath: in.RepoPath}, &analysis,
		func() string { return fmt.Sprintf("%d files scanned", analysis.FileCount) }); err != nil {
		return fail(StepAnalyze, err)
	}
	detail.Analysis = &analysis

	// 2. Write Initial Docs
	var initialDocs InitialDocsOutput
	if err := do(StepInitialDocs, beads.CategoryDocumentation, ActivityInitialDocs,
		InitialDocsInput{RunID: in.RunID, RepoPath: in.RepoPath, Analysis: analysis.Analysis}, &initialDocs,
		func() string { return initialDocs.Path }); err != nil {
		return fail(StepInitialDocs, err)
	}

	// 3. Suggest Improvements
	var suggestions SuggestOutput
	if err := do(StepSuggest, beads.CategorySuggestions, ActivitySuggest,
		SuggestInput{RunID: in.RunID, Analysis: analysis.Analysis}, &suggestions,
		func() string { return fmt.Sprintf("%d improvements", len(suggestions.Improvements)) }); err != nil {
		return fail(StepSuggest, err)
	}
	summary.Improvements = len(suggestions.Improvements)
	detail.Improvements = suggestions.Improvements

	if len(suggestions.Improvements) == 0 {
		return skipRest("no improvements suggested",
			[2]string{StepCreateBranch, beads.CategoryGit},
			[2]string{StepExecute, beads.CategoryExecution},
			[2]string{StepCommit, beads.CategoryGit},
			[2]string{StepReview, beads.CategoryReview},
			[2]string{StepGenerateTests, beads.CategoryTesting},
			[2]string{StepRunTests, beads.CategoryTesting},
			[2]string{StepPushPR, beads.CategoryGit},
			[2]string{StepAutoMerge, beads.CategoryGit},
			[2]string{StepUpdateDocs, beads.CategoryDocumentation},
		)
	}

	// One bead per improvement, in the improvement's own category.
	// They stay pending until the execution step reports which
	// improvements produced changes.
	taskBeads := make(map[string]string, len(suggestions.Improvements))
	for _, imp := range suggestions.Improvements {
		meta := map[string]string{"improvement_id": imp.ID}
		if imp.Priority != "" {
			meta["priority"] = imp.Priority
		}
		if len(imp.Files) > 0 {
			meta["files"] = strings.Join(imp.Files, ",")
		}
		taskBeads[imp.ID] = tracker.CreateWithMeta(ctx, "Task: "+imp.Title, imp.Category, meta)
	}

	// 4. Create Branch
	var branch BranchOutput
	if err := do(StepCreateBranch, beads.CategoryGit, ActivityCreateBranch,
		BranchInput{RunID: in.RunID, RepoPath: in.RepoPath, BranchPrefix: in.Params.BranchPrefix}, &branch,
		func() string { return branch.Branch }); err != nil {
		return fail(StepCreateBranch, err)
	}
	run.Branch = branch.Branch
	persistRun()

	// 5. Execute Code Changes
	var executed ExecuteOutput
	if err := do(StepExecute, beads.CategoryExecution, ActivityExecute,
		ExecuteInput{RunID: in.RunID, RepoPath: in.RepoPath, Improvements: suggestions.Improvements}, &executed,
		func() string { return fmt.Sprintf("%d changes applied", executed.Applied) }); err != nil {
		return fail(StepExecute, err)
	}
	summary.ChangesApplied = executed.Applied
	detail.Changes = executed.Changes

	applied := map[string]bool{}
	for _, c := range executed.Changes {
		if c.Status == ChangeApplied {
			applied[c.ImprovementID] = true
		}
	}
	for _, imp := range suggestions.Improvements {
		if applied[imp.ID] {
			tracker.Complete(ctx, taskBeads[imp.ID], "applied")
		} else {
			tracker.Skip(ctx, taskBeads[imp.ID], "no changes applied")
		}
	}

	// 6. Commit Changes
	var commit CommitOutput
	message := fmt.Sprintf("repo-pilot: apply %d improvements (%s)", executed.Applied, in.RunID)
	if err := do(StepCommit, beads.CategoryGit, ActivityCommit,
		CommitInput{RunID: in.RunID, RepoPath: in.RepoPath, Message: message}, &commit,
		func() string { return commit.Commit }); err != nil {
		return fail(StepCommit, err)
	}
	detail.Commit = commit.Commit

	if !commit.Committed {
		return skipRest("no changes to commit",
			[2]string{StepReview, beads.CategoryReview},
			[2]string{StepGenerateTests, beads.CategoryTesting},
			[2]string{StepRunTests, beads.CategoryTesting},
			[2]string{StepPushPR, beads.CategoryGit},
			[2]string{StepAutoMerge, beads.CategoryGit},
			[2]string{StepUpdateDocs, beads.CategoryDocumentation},
		)
	}

	// 7. Code Review
	var review ReviewOutput
	if err := do(StepReview, beads.CategoryReview, ActivityReview,
		ReviewInput{RunID: in.RunID, RepoPath: in.RepoPath, Changes: executed.Changes}, &review,
		func() string { return fmt.Sprintf("score %.1f/10", review.Review.OverallScore) }); err != nil {
		return fail(StepReview, err)
	}
	summary.ReviewScore = review.Review.OverallScore
	detail.Review = &review.Review

	// 8. Generate Tests
	var gen GenerateTestsOutput
	if err := do(StepGenerateTests, beads.CategoryTesting, ActivityGenerateTests,
		GenerateTestsInput{RunID: in.RunID, RepoPath: in.RepoPath, Changes: executed.Changes}, &gen,
		func() string { return fmt.Sprintf("%d test files", len(gen.Files)) }); err != nil {
		return fail(StepGenerateTests, err)
	}
	detail.TestFiles = gen.Files

	// 9. Execute Tests. Failing tests are results, not step errors.
	var testRun RunTestsOutput
	if err := do(StepRunTests, beads.CategoryTesting, ActivityRunTests,
		RunTestsInput{RunID: in.RunID, RepoPath: in.RepoPath, Groups: gen.Groups}, &testRun,
		func() string { return fmt.Sprintf("%d passed, %d failed", testRun.Passed, testRun.Failed) }); err != nil {
		return fail(StepRunTests, err)
	}
	summary.TestsPassed = testRun.Passed
	summary.TestsFailed = testRun.Failed
	detail.TestResults = testRun.Results

	// 10. Push & Create PR
	var pr PushPROutput
	title := fmt.Sprintf("Repo Pilot improvements (%s)", in.RunID)
	body := prBody(in.RunID, suggestions.Improvements, review.Review, testRun)
	if err := do(StepPushPR, beads.CategoryGit, ActivityPushPR,
		PushPRInput{RunID: in.RunID, RepoPath: in.RepoPath, Branch: branch.Branch, Title: title, Body: body}, &pr,
		func() string { return pr.PRURL }); err != nil {
		return fail(StepPushPR, err)
	}
	summary.PRURL = pr.PRURL
	summary.PRNumber = pr.PRNumber

	// 11. Auto-Merge Decision
	decision := Decide(review.Review, in.Params.AutoMergeThreshold)
	summary.MergeReason = decision.Reason
	if decision.Merge {
		var merged AutoMergeOutput
		if err := do(StepAutoMerge, beads.CategoryGit, ActivityAutoMerge,
			AutoMergeInput{RunID: in.RunID, RepoPath: in.RepoPath, PRNumber: pr.PRNumber, Decision: decision}, &merged,
			func() string { return merged.Reason }); err != nil {
			return fail(StepAutoMerge, err)
		}
		summary.Merged = merged.Merged
		summary.MergeReason = merged.Reason
	} else {
		id := tracker.Create(ctx, StepAutoMerge, beads.CategoryGit)
		tracker.Skip(ctx, id, decision.Reason)
	}
	detail.Merge = &MergeResult{
		PRURL:    pr.PRURL,
		PRNumber: pr.PRNumber,
		Merged:   summary.Merged,
		Reason:   summary.MergeReason,
	}

	// 12. Update Documentation
	var docs UpdateDocsOutput
	if err := do(StepUpdateDocs, beads.CategoryDocumentation, ActivityUpdateDocs,
		UpdateDocsInput{
			RunID:        in.RunID,
			RepoPath:     in.RepoPath,
			BaseBranch:   branch.BaseBranch,
			Merged:       summary.Merged,
			Improvements: suggestions.Improvements,
			Review:       review.Review,
		}, &docs,
		func() string { return docs.Path }); err != nil {
		return fail(StepUpdateDocs, err)
	}
	summary.DocsUpdated = docs.Updated
	detail.DocsPath = docs.Path

	return finish()
}

// prBody renders the pull request description.
func prBody(runID string, improvements []Improvement, review ReviewResult, tests RunTestsOutput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Automated improvements from run `%s`.\n\n", runID)

	b.WriteString("## Improvements\n")
	for _, imp := range improvements {
		fmt.Fprintf(&b, "- **%s** [%s]: %s\n", imp.ID, imp.Category, imp.Title)
	}

	b.WriteString("\n## Review\n")
	fmt.Fprintf(&b, "Overall score: %.1f/10\n\n", review.OverallScore)
	fmt.Fprintf(&b, "| Dimension | Score |\n|---|---|\n")
	fmt.Fprintf(&b, "| Code quality | %.1f |\n", review.CodeQuality)
	fmt.Fprintf(&b, "| Features | %.1f |\n", review.Features)
	fmt.Fprintf(&b, "| Security | %.1f |\n", review.Security)
	fmt.Fprintf(&b, "| Compliance | %.1f |\n", review.Compliance)
	fmt.Fprintf(&b, "| Integration | %.1f |\n", review.Integration)
	fmt.Fprintf(&b, "| Test coverage potential | %.1f |\n", review.TestCoveragePotential)

	b.WriteString("\n## Tests\n")
	fmt.Fprintf(&b, "%d passed, %d failed\n", tests.Passed, tests.Failed)
	return b.String()
}
