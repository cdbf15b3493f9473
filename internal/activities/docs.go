package activities

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repopilot/internal/logging"
	"github.com/fyrsmithlabs/repopilot/internal/pipeline"
)

// WriteInitialDocs saves the pre-change analysis next to the run
// snapshots. It deliberately does not touch the repository: the
// worktree must stay clean until the branch exists.
func (a *Activities) WriteInitialDocs(ctx context.Context, in pipeline.InitialDocsInput) (pipeline.InitialDocsOutput, error) {
	ctx = logging.WithRunID(ctx, in.RunID)

	path := filepath.Join(a.files.Dir(), in.RunID+".analysis.md")
	content := fmt.Sprintf("# Repository Analysis\n\nRun: %s\nRepository: %s\n\n%s\n",
		in.RunID, in.RepoPath, in.Analysis)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return pipeline.InitialDocsOutput{}, fmt.Errorf("writing analysis document: %w", err)
	}
	a.logger.Info(ctx, "analysis document written", zap.String("path", path))
	return pipeline.InitialDocsOutput{Path: path, Written: true}, nil
}

const updateDocsSystem = `You are a technical writer updating a project changelog.
Write a concise markdown section describing the improvements that were
applied, suitable for appending to an IMPROVEMENTS.md file. Include the
review score. Do not use first person.`

// UpdateDocs refreshes documentation after the merge decision. When
// the pull request merged, the changelog lands on the base branch and
// is pushed; otherwise the section is only saved with the run
// snapshots so nothing moves without review.
func (a *Activities) UpdateDocs(ctx context.Context, in pipeline.UpdateDocsInput) (pipeline.UpdateDocsOutput, error) {
	ctx = logging.WithRunID(ctx, in.RunID)

	var summary strings.Builder
	fmt.Fprintf(&summary, "Run %s, review score %.1f/10, merged: %t\n\nImprovements:\n",
		in.RunID, in.Review.OverallScore, in.Merged)
	for _, imp := range in.Improvements {
		fmt.Fprintf(&summary, "- %s [%s]: %s\n", imp.ID, imp.Category, imp.Title)
	}

	section, err := a.llm.Complete(ctx, updateDocsSystem, summary.String())
	if err != nil {
		return pipeline.UpdateDocsOutput{}, fmt.Errorf("writing changelog section: %w", err)
	}

	if !in.Merged {
		path := filepath.Join(a.files.Dir(), in.RunID+".docs.md")
		if err := os.WriteFile(path, []byte(section+"\n"), 0o644); err != nil {
			return pipeline.UpdateDocsOutput{}, fmt.Errorf("saving changelog section: %w", err)
		}
		a.logger.Info(ctx, "changelog saved without publishing", zap.String("path", path))
		return pipeline.UpdateDocsOutput{Updated: false, Path: path}, nil
	}

	base := in.BaseBranch
	if base == "" {
		base = a.git.DefaultBranch(ctx, in.RepoPath)
	}
	if err := a.git.Checkout(ctx, in.RepoPath, base); err != nil {
		return pipeline.UpdateDocsOutput{}, err
	}
	if err := a.git.Pull(ctx, in.RepoPath); err != nil {
		return pipeline.UpdateDocsOutput{}, err
	}

	docPath := filepath.Join(in.RepoPath, "IMPROVEMENTS.md")
	f, err := os.OpenFile(docPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return pipeline.UpdateDocsOutput{}, fmt.Errorf("opening changelog: %w", err)
	}
	_, writeErr := f.WriteString("\n" + section + "\n")
	closeErr := f.Close()
	if writeErr != nil {
		return pipeline.UpdateDocsOutput{}, fmt.Errorf("appending changelog: %w", writeErr)
	}
	if closeErr != nil {
		return pipeline.UpdateDocsOutput{}, fmt.Errorf("closing changelog: %w", closeErr)
	}

	message := fmt.Sprintf("repo-pilot: update documentation (%s)", in.RunID)
	if _, err := a.git.CommitAll(ctx, in.RepoPath, message); err != nil {
		return pipeline.UpdateDocsOutput{}, err
	}
	if err := a.git.Push(ctx, in.RepoPath, base); err != nil {
		return pipeline.UpdateDocsOutput{}, err
	}

	a.logger.Info(ctx, "documentation updated", zap.String("path", docPath))
	return pipeline.UpdateDocsOutput{Updated: true, Path: docPath}, nil
}
