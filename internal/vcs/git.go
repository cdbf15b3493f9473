package vcs

import (
	"context"
	"fmt"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repopilot/internal/logging"
)

// Git performs worktree operations on a local repository.
type Git struct {
	runner Runner
	logger *logging.Logger
}

// NewGit creates a Git helper.
func NewGit(runner Runner, logger *logging.Logger) *Git {
	return &Git{runner: runner, logger: logger}
}

// ValidateWorktree checks that path is a git repository with a clean
// worktree and returns the current branch name.
func (g *Git) ValidateWorktree(path string) (string, error) {
	repo, err := gogit.PlainOpen(path)
	if err != nil {
		return "", fmt.Errorf("opening repository at %s: %w", path, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("reading worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("reading worktree status: %w", err)
	}
	if !status.IsClean() {
		return "", fmt.Errorf("worktree at %s has uncommitted changes", path)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("reading HEAD: %w", err)
	}
	return head.Name().Short(), nil
}

// CreateBranch creates and checks out a new branch.
func (g *Git) CreateBranch(ctx context.Context, repoPath, name string) error {
	if _, err := g.runner.Run(ctx, repoPath, "git", "checkout", "-b", name); err != nil {
		return fmt.Errorf("creating branch %s: %w", name, err)
	}
	g.logger.Info(ctx, "branch created", zap.String("branch", name))
	return nil
}

// Checkout switches to an existing branch.
func (g *Git) Checkout(ctx context.Context, repoPath, name string) error {
	if _, err := g.runner.Run(ctx, repoPath, "git", "checkout", name); err != nil {
		return fmt.Errorf("checking out %s: %w", name, err)
	}
	return nil
}

// Pull fast-forwards the current branch from origin.
func (g *Git) Pull(ctx context.Context, repoPath string) error {
	if _, err := g.runner.Run(ctx, repoPath, "git", "pull", "--ff-only"); err != nil {
		return fmt.Errorf("pulling: %w", err)
	}
	return nil
}

// CommitAll stages everything and commits. It returns the new commit
// hash, or an empty string when there was nothing to commit.
func (g *Git) CommitAll(ctx context.Context, repoPath, message string) (string, error) {
	if _, err := g.runner.Run(ctx, repoPath, "git", "add", "-A"); err != nil {
		return "", fmt.Errorf("staging changes: %w", err)
	}
	status, err := g.runner.Run(ctx, repoPath, "git", "status", "--porcelain")
	if err != nil {
		return "", fmt.Errorf("checking status: %w", err)
	}
	if status == "" {
		g.logger.Info(ctx, "nothing to commit")
		return "", nil
	}
	if _, err := g.runner.Run(ctx, repoPath, "git", "commit", "-m", message); err != nil {
		return "", fmt.Errorf("committing: %w", err)
	}
	hash, err := g.runner.Run(ctx, repoPath, "git", "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("reading commit hash: %w", err)
	}
	g.logger.Info(ctx, "changes committed", zap.String("commit", hash))
	return hash, nil
}

// Push pushes the branch to origin, setting upstream.
func (g *Git) Push(ctx context.Context, repoPath, branch string) error {
	if _, err := g.runner.Run(ctx, repoPath, "git", "push", "-u", "origin", branch); err != nil {
		return fmt.Errorf("pushing %s: %w", branch, err)
	}
	return nil
}

// DefaultBranch returns the repository's default branch name,
// falling back to "main".
func (g *Git) DefaultBranch(ctx context.Context, repoPath string) string {
	out, err := g.runner.Run(ctx, repoPath, "git", "symbolic-ref", "refs/remotes/origin/HEAD", "--short")
	if err != nil {
		return "main"
	}
	if _, name, ok := strings.Cut(out, "/"); ok {
		return name
	}
	return "main"
}
