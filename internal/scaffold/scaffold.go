// Package scaffold audits a repository against a best-practice file
// checklist and generates the missing files. Generation is isolated
// per file: one failed generation never blocks the rest.
package scaffold

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repopilot/internal/llm"
	"github.com/fyrsmithlabs/repopilot/internal/logging"
	"github.com/fyrsmithlabs/repopilot/internal/scanner"
	"github.com/fyrsmithlabs/repopilot/internal/vcs"
)

// Entry is one checklist item.
type Entry struct {
	Path        string `json:"path"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Note        string `json:"note,omitempty"`
}

// checklist is the set of files a review-ready repository carries.
var checklist = []Entry{
	{Path: "README.md", Category: "docs", Description: "Project overview, setup, usage"},
	{Path: "CONTRIBUTING.md", Category: "docs", Description: "Contribution guidelines"},
	{Path: "SECURITY.md", Category: "docs", Description: "Vulnerability reporting process"},
	{Path: "CODE_OF_CONDUCT.md", Category: "docs", Description: "Community standards"},
	{Path: "CHANGELOG.md", Category: "docs", Description: "Version history"},
	{Path: ".env.example", Category: "config", Description: "Required environment variables"},
	{Path: "Makefile", Category: "tooling", Description: "Common commands"},
	{Path: "docs/architecture.md", Category: "docs", Description: "System architecture"},
	{Path: ".github/workflows/ci.yml", Category: "ci", Description: "CI pipeline"},
	{Path: ".github/PULL_REQUEST_TEMPLATE.md", Category: "ci", Description: "PR template"},
}

// Stack describes the detected project toolchain.
type Stack struct {
	Languages      []string `json:"languages"`
	PackageManager string   `json:"package_manager,omitempty"`
	HasTests       bool     `json:"has_tests"`
	HasCI          bool     `json:"has_ci"`
}

// Result reports what the scaffold run did.
type Result struct {
	Stack    Stack   `json:"stack"`
	Existing []Entry `json:"existing"`
	Missing  []Entry `json:"missing"`
	Created  []string `json:"created"`
	Failed   []string `json:"failed,omitempty"`
	Commit   string  `json:"commit,omitempty"`
}

// Scaffolder generates missing best-practice files.
type Scaffolder struct {
	scanner *scanner.Scanner
	llm     llm.Client
	git     *vcs.Git
	logger  *logging.Logger
}

// New creates a Scaffolder.
func New(sc *scanner.Scanner, client llm.Client, git *vcs.Git, logger *logging.Logger) *Scaffolder {
	return &Scaffolder{scanner: sc, llm: client, git: git, logger: logger}
}

// Run audits the repository, generates every missing checklist file,
// and optionally commits the result.
func (s *Scaffolder) Run(ctx context.Context, repoPath string, commit bool) (Result, error) {
	bundle, err := s.scanner.Scan(repoPath)
	if err != nil {
		return Result{}, err
	}

	result := Result{Stack: detectStack(repoPath, bundle)}
	result.Existing, result.Missing = audit(repoPath)

	if len(result.Missing) == 0 {
		s.logger.Info(ctx, "repository already review-ready")
		return result, nil
	}

	repoContext := fmt.Sprintf("## File tree\n%s\n\n%s", bundle.Tree, bundle.PromptContext())
	for _, entry := range result.Missing {
		content, err := s.generate(ctx, entry, result.Stack, repoContext)
		if err != nil {
			s.logger.Warn(ctx, "scaffold generation failed",
				zap.String("path", entry.Path), zap.Error(err))
			result.Failed = append(result.Failed, entry.Path)
			continue
		}
		target := filepath.Join(repoPath, filepath.FromSlash(entry.Path))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			result.Failed = append(result.Failed, entry.Path)
			continue
		}
		if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
			result.Failed = append(result.Failed, entry.Path)
			continue
		}
		result.Created = append(result.Created, entry.Path)
	}

	s.logger.Info(ctx, "scaffold complete",
		zap.Int("created", len(result.Created)),
		zap.Int("failed", len(result.Failed)),
	)

	if commit && len(result.Created) > 0 {
		hash, err := s.git.CommitAll(ctx, repoPath, fmt.Sprintf("repo-pilot: scaffold %d files", len(result.Created)))
		if err != nil {
			return result, err
		}
		result.Commit = hash
	}
	return result, nil
}

// audit splits the checklist into present and missing entries. A thin
// README counts as missing.
func audit(repoPath string) (existing, missing []Entry) {
	for _, entry := range checklist {
		full := filepath.Join(repoPath, filepath.FromSlash(entry.Path))
		info, err := os.Stat(full)
		if err != nil || info.IsDir() {
			missing = append(missing, entry)
			continue
		}
		if entry.Path == "README.md" {
			if content, err := os.ReadFile(full); err == nil && strings.Count(string(content), "\n") < 20 {
				entry.Note = "exists but thin (<20 lines)"
				missing = append(missing, entry)
				continue
			}
		}
		existing = append(existing, entry)
	}
	return existing, missing
}

// detectStack infers languages and tooling from the scanned tree. CI
// lives under a dot-directory the scanner never visits, so it is
// checked on disk directly.
func detectStack(repoPath string, bundle *scanner.Bundle) Stack {
	counts := map[string]int{}
	has := func(fragment string) bool {
		for _, f := range bundle.Files {
			if strings.Contains(f.Path, fragment) {
				return true
			}
		}
		return false
	}
	for _, f := range bundle.Files {
		counts[filepath.Ext(f.Path)]++
	}

	var stack Stack
	for ext, lang := range map[string]string{
		".py": "python", ".ts": "typescript", ".js": "javascript", ".go": "go", ".rs": "rust",
	} {
		if counts[ext] > 0 {
			stack.Languages = append(stack.Languages, lang)
		}
	}
	switch {
	case has("pyproject.toml"):
		stack.PackageManager = "pyproject.toml"
	case has("requirements.txt"):
		stack.PackageManager = "requirements.txt"
	case has("package.json"):
		stack.PackageManager = "package.json"
	case has("go.mod"):
		stack.PackageManager = "go.mod"
	}
	for _, f := range bundle.Files {
		if strings.Contains(strings.ToLower(f.Path), "test") {
			stack.HasTests = true
			break
		}
	}
	if info, err := os.Stat(filepath.Join(repoPath, ".github", "workflows")); err == nil && info.IsDir() {
		stack.HasCI = true
	}
	return stack
}

func (s *Scaffolder) generate(ctx context.Context, entry Entry, stack Stack, repoContext string) (string, error) {
	if static, ok := staticTemplates[entry.Path]; ok {
		return static, nil
	}

	lang := "python"
	if len(stack.Languages) > 0 {
		lang = stack.Languages[0]
	}
	system := fmt.Sprintf(
		"You are a senior engineer generating %s (%s) for a %s project. %s. "+
			"Output ONLY the file content, no markdown fences.",
		entry.Path, entry.Category, lang, entry.Description,
	)
	content, err := s.llm.Complete(ctx, system, "Generate the file for this repository:\n\n"+repoContext)
	if err != nil {
		return "", err
	}
	return stripFences(content) + "\n", nil
}

// stripFences removes a markdown code fence the model may wrap the
// file in despite instructions.
func stripFences(content string) string {
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
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
