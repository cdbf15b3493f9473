package activities

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repopilot/internal/logging"
	"github.com/fyrsmithlabs/repopilot/internal/pipeline"
)

// suggestionCategories are queried one at a time so a weak answer in
// one area cannot crowd out the others.
var suggestionCategories = []string{
	"features",
	"security",
	"compliance",
	"integration",
}

var categoryFocus = map[string]string{
	"features":    "missing capabilities, unfinished functionality, and quick wins users would notice",
	"security":    "input validation, secret handling, unsafe defaults, and dependency risks",
	"compliance":  "licensing, documentation obligations, and policy files the project should carry",
	"integration": "CI, packaging, interfaces with external systems, and developer tooling",
}

const suggestSystem = `You are a senior software engineer proposing concrete
improvements to a repository. Respond with JSON:
{"improvements": [{"title": "...", "description": "...", "files_affected": ["..."], "priority": "high|medium|low",
  "changes": [{"file": "...", "description": "what to change", "code_hint": "brief code snippet or approach"}]}]}
Propose at most 3 improvements, each actionable in a single commit.
Every improvement must plan its changes file by file.`

type suggestionPayload struct {
	Improvements []struct {
		Title       string                `json:"title"`
		Description string                `json:"description"`
		Files       []string              `json:"files_affected"`
		Priority    string                `json:"priority"`
		Changes     []pipeline.ChangeSpec `json:"changes"`
	} `json:"improvements"`
}

// Suggest collects improvement suggestions per category and assigns
// stable sequential IDs.
func (a *Activities) Suggest(ctx context.Context, in pipeline.SuggestInput) (pipeline.SuggestOutput, error) {
	ctx = logging.WithRunID(ctx, in.RunID)

	var out pipeline.SuggestOutput
	seq := 0
	for _, category := range suggestionCategories {
		prompt := fmt.Sprintf(
			"Based on this analysis, suggest %s improvements.\nFOCUS: %s\n\n%s",
			category, categoryFocus[category], in.Analysis,
		)
		var payload suggestionPayload
		if err := a.llm.CompleteJSON(ctx, suggestSystem, prompt, &payload); err != nil {
			return pipeline.SuggestOutput{}, fmt.Errorf("suggesting %s improvements: %w", category, err)
		}
		for _, s := range payload.Improvements {
			seq++
			out.Improvements = append(out.Improvements, pipeline.Improvement{
				ID:          fmt.Sprintf("IMP-%03d", seq),
				Category:    category,
				Title:       s.Title,
				Description: s.Description,
				Files:       s.Files,
				Priority:    s.Priority,
				Changes:     s.Changes,
			})
		}
	}

	a.logger.Info(ctx, "improvements suggested", zap.Int("count", len(out.Improvements)))
	return out, nil
}
