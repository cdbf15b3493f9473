package activities

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repopilot/internal/logging"
	"github.com/fyrsmithlabs/repopilot/internal/pipeline"
)

const reviewSystem = `You are a principal engineer reviewing automated code
changes. Score each dimension 0-10 and respond with JSON:
{"code_quality": 0, "features": 0, "security": 0, "compliance": 0,
 "integration": 0, "test_coverage_potential": 0, "overall_score": 0,
 "summary": "...", "concerns": ["..."]}
Be strict: overall_score should reflect whether the changes are safe to
merge without human review.`

// Review scores the applied changes across six dimensions.
func (a *Activities) Review(ctx context.Context, in pipeline.ReviewInput) (pipeline.ReviewOutput, error) {
	ctx = logging.WithRunID(ctx, in.RunID)

	var b strings.Builder
	for _, ch := range in.Changes {
		fmt.Fprintf(&b, "--- %s (%s, %s) ---\n%s\n\n", ch.FilePath, ch.Action, ch.ImprovementID, ch.Content)
	}

	var review pipeline.ReviewResult
	if err := a.llm.CompleteJSON(ctx, reviewSystem, "Review these changes:\n\n"+b.String(), &review); err != nil {
		return pipeline.ReviewOutput{}, fmt.Errorf("reviewing changes: %w", err)
	}

	// Models occasionally omit the aggregate; derive it from the
	// dimensional scores.
	if review.OverallScore == 0 {
		review.OverallScore = (review.CodeQuality + review.Features + review.Security +
			review.Compliance + review.Integration + review.TestCoveragePotential) / 6
	}

	a.logger.Info(ctx, "review completed",
		zap.Float64("score", review.OverallScore),
		zap.Int("concerns", len(review.Concerns)),
	)
	return pipeline.ReviewOutput{Review: review}, nil
}
