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

const newFileSystem = `You are a senior software engineer creating a new file as part of
an approved improvement. Respond with the complete file content and
nothing else: no code fences, no commentary.`

const modifyFileSystem = `You are a senior software engineer modifying one file as part of
an approved improvement. Respond with JSON:
{"new_content": "...", "summary": "..."}
new_content must be the complete updated file content.`

type modifyPayload struct {
	NewContent string `json:"new_content"`
	Summary    string `json:"summary"`
}

// ExecuteChanges implements every planned file change with one
// reasoning call per file. A failed change is recorded and the step
// moves on, so one broken file never discards its applied siblings.
func (a *Activities) ExecuteChanges(ctx context.Context, in pipeline.ExecuteInput) (pipeline.ExecuteOutput, error) {
	ctx = logging.WithRunID(ctx, in.RunID)

	var out pipeline.ExecuteOutput
	for _, imp := range in.Improvements {
		if len(imp.Changes) == 0 {
			a.logger.Warn(ctx, "improvement has no planned changes",
				zap.String("improvement", imp.ID))
			continue
		}
		for _, spec := range imp.Changes {
			change := a.applyPlannedChange(ctx, in.RepoPath, imp, spec)
			out.Changes = append(out.Changes, change)
			if change.Status == pipeline.ChangeApplied {
				out.Applied++
			}
		}
	}

	a.logger.Info(ctx, "changes applied",
		zap.Int("applied", out.Applied),
		zap.Int("total", len(out.Changes)),
	)
	return out, nil
}

// applyPlannedChange produces and writes one file change. New files get
// a plain text completion; existing files get a JSON rewrite carrying
// its own summary. Every outcome is returned as a record, never as an
// error.
func (a *Activities) applyPlannedChange(ctx context.Context, root string, imp pipeline.Improvement, spec pipeline.ChangeSpec) pipeline.CodeChange {
	change := pipeline.CodeChange{ImprovementID: imp.ID, FilePath: spec.File}
	failed := func(err error) pipeline.CodeChange {
		a.logger.Warn(ctx, "change failed",
			zap.String("improvement", imp.ID),
			zap.String("file", spec.File),
			zap.Error(err),
		)
		change.Status = pipeline.ChangeFailed
		change.Summary = err.Error()
		return change
	}

	target, err := resolveInRepo(root, spec.File)
	if err != nil {
		return failed(err)
	}
	original, readErr := os.ReadFile(target)

	if readErr != nil {
		change.Action = "create"
		prompt := fmt.Sprintf(
			"Improvement: %s\n%s\n\nCreate the file %s.\nChange: %s\nApproach: %s",
			imp.Title, imp.Description, spec.File, spec.Description, spec.CodeHint,
		)
		content, err := a.llm.Complete(ctx, newFileSystem, prompt)
		if err != nil {
			return failed(err)
		}
		content = trimFences(content)
		if err := writeInRepo(target, content); err != nil {
			return failed(err)
		}
		change.Status = pipeline.ChangeApplied
		change.Content = content
		change.Summary = "created " + spec.File
		return change
	}

	change.Action = "modify"
	prompt := fmt.Sprintf(
		"Improvement: %s\n%s\n\nModify %s.\nChange: %s\nApproach: %s\n\nCurrent content:\n%s",
		imp.Title, imp.Description, spec.File, spec.Description, spec.CodeHint, original,
	)
	var payload modifyPayload
	if err := a.llm.CompleteJSON(ctx, modifyFileSystem, prompt, &payload); err != nil {
		return failed(err)
	}
	if payload.NewContent == "" || payload.NewContent == string(original) {
		change.Status = pipeline.ChangeSkipped
		change.Summary = "no content change produced"
		return change
	}
	if err := writeInRepo(target, payload.NewContent); err != nil {
		return failed(err)
	}
	change.Status = pipeline.ChangeApplied
	change.Content = payload.NewContent
	change.Summary = payload.Summary
	return change
}

func writeInRepo(target, content string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", filepath.Base(target), err)
	}
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(target), err)
	}
	return nil
}

// trimFences removes a markdown code fence the model may wrap a raw
// file in despite instructions.
func trimFences(content string) string {
	c := strings.TrimSpace(content)
	if !strings.HasPrefix(c, "```") {
		return c
	}
	lines := strings.Split(c, "\n")
	if len(lines) > 0 {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// resolveInRepo joins rel under root and rejects traversal outside it.
func resolveInRepo(root, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("empty file path")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("absolute file path %q not allowed", rel)
	}
	target := filepath.Join(root, filepath.FromSlash(rel))
	cleanRoot := filepath.Clean(root) + string(filepath.Separator)
	if !strings.HasPrefix(target, cleanRoot) {
		return "", fmt.Errorf("file path %q escapes repository", rel)
	}
	return target, nil
}
