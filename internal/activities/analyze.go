package activities

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repopilot/internal/logging"
	"github.com/fyrsmithlabs/repopilot/internal/pipeline"
)

const analyzeSystem = `You are a senior software engineer analyzing a repository.
Produce a concise technical analysis covering: purpose, architecture,
main components, code quality observations, and notable gaps. Be
specific and reference actual files.`

// Analyze scans the repository and produces a reasoning analysis of it.
func (a *Activities) Analyze(ctx context.Context, in pipeline.AnalyzeInput) (pipeline.AnalyzeOutput, error) {
	ctx = logging.WithRunID(ctx, in.RunID)

	bundle, err := a.scanner.Scan(in.RepoPath)
	if err != nil {
		return pipeline.AnalyzeOutput{}, err
	}
	a.logger.Info(ctx, "repository scanned",
		zap.Int("files", bundle.Stats.FilesTotal),
		zap.Int("included", bundle.Stats.FilesIncluded),
	)

	prompt := fmt.Sprintf("Analyze this repository:\n\n%s", bundle.PromptContext())
	analysis, err := a.llm.Complete(ctx, analyzeSystem, prompt)
	if err != nil {
		return pipeline.AnalyzeOutput{}, fmt.Errorf("analyzing repository: %w", err)
	}

	return pipeline.AnalyzeOutput{
		Analysis:     analysis,
		Tree:         bundle.Tree,
		FileCount:    bundle.Stats.FilesTotal,
		ContextChars: bundle.Stats.BytesRead,
	}, nil
}
