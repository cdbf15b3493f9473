package activities

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repopilot/internal/logging"
	"github.com/fyrsmithlabs/repopilot/internal/pipeline"
)

// CreateBranch validates the worktree and creates the run's branch.
func (a *Activities) CreateBranch(ctx context.Context, in pipeline.BranchInput) (pipeline.BranchOutput, error) {
	ctx = logging.WithRunID(ctx, in.RunID)

	base, err := a.git.ValidateWorktree(in.RepoPath)
	if err != nil {
		return pipeline.BranchOutput{}, err
	}
	branch := fmt.Sprintf("%s/%s", in.BranchPrefix, in.RunID)
	if err := a.git.CreateBranch(ctx, in.RepoPath, branch); err != nil {
		return pipeline.BranchOutput{}, err
	}
	return pipeline.BranchOutput{Branch: branch, BaseBranch: base}, nil
}

// Commit stages and commits everything in the worktree.
func (a *Activities) Commit(ctx context.Context, in pipeline.CommitInput) (pipeline.CommitOutput, error) {
	ctx = logging.WithRunID(ctx, in.RunID)

	hash, err := a.git.CommitAll(ctx, in.RepoPath, in.Message)
	if err != nil {
		return pipeline.CommitOutput{}, err
	}
	return pipeline.CommitOutput{Commit: hash, Committed: hash != ""}, nil
}

// PushPR pushes the branch and opens a pull request.
func (a *Activities) PushPR(ctx context.Context, in pipeline.PushPRInput) (pipeline.PushPROutput, error) {
	ctx = logging.WithRunID(ctx, in.RunID)

	if err := a.git.Push(ctx, in.RepoPath, in.Branch); err != nil {
		return pipeline.PushPROutput{}, err
	}
	pr, err := a.host.CreatePR(ctx, in.RepoPath, in.Branch, in.Title, in.Body)
	if err != nil {
		return pipeline.PushPROutput{}, err
	}
	a.logger.Info(ctx, "pull request created",
		zap.String("url", pr.URL),
		zap.Int("number", pr.Number),
	)
	return pipeline.PushPROutput{PRURL: pr.URL, PRNumber: pr.Number}, nil
}

// AutoMerge merges the pull request. The gate decision is made by the
// sequence; this activity only executes an approved merge.
func (a *Activities) AutoMerge(ctx context.Context, in pipeline.AutoMergeInput) (pipeline.AutoMergeOutput, error) {
	ctx = logging.WithRunID(ctx, in.RunID)

	if !in.Decision.Merge {
		return pipeline.AutoMergeOutput{Merged: false, Reason: in.Decision.Reason}, nil
	}
	if err := a.host.MergePR(ctx, in.RepoPath, in.PRNumber); err != nil {
		return pipeline.AutoMergeOutput{}, err
	}
	a.logger.Info(ctx, "pull request merged", zap.Int("number", in.PRNumber))
	return pipeline.AutoMergeOutput{Merged: true, Reason: in.Decision.Reason}, nil
}
