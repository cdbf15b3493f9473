package vcs

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// PullRequest describes a created pull request.
type PullRequest struct {
	URL    string `json:"url"`
	Number int    `json:"number"`
}

// PRHost creates and merges pull requests for a repository.
type PRHost interface {
	CreatePR(ctx context.Context, repoPath, branch, title, body string) (PullRequest, error)
	MergePR(ctx context.Context, repoPath string, number int) error
}

// GHCLI is a PRHost backed by the gh command-line tool. It relies on
// gh's stored authentication and repository detection.
type GHCLI struct {
	runner Runner
}

// NewGHCLI creates the gh-backed host.
func NewGHCLI(runner Runner) *GHCLI {
	return &GHCLI{runner: runner}
}

// CreatePR opens a pull request for the pushed branch.
func (h *GHCLI) CreatePR(ctx context.Context, repoPath, branch, title, body string) (PullRequest, error) {
	out, err := h.runner.Run(ctx, repoPath, "gh", "pr", "create",
		"--head", branch, "--title", title, "--body", body)
	if err != nil {
		return PullRequest{}, fmt.Errorf("creating pull request: %w", err)
	}
	url := lastLine(out)
	number, err := prNumberFromURL(url)
	if err != nil {
		return PullRequest{}, err
	}
	return PullRequest{URL: url, Number: number}, nil
}

// MergePR squash-merges the pull request and deletes its branch.
func (h *GHCLI) MergePR(ctx context.Context, repoPath string, number int) error {
	_, err := h.runner.Run(ctx, repoPath, "gh", "pr", "merge", strconv.Itoa(number),
		"--squash", "--delete-branch")
	if err != nil {
		return fmt.Errorf("merging pull request #%d: %w", number, err)
	}
	return nil
}

// lastLine returns the final non-empty line; gh prints the PR URL last.
func lastLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

// prNumberFromURL extracts the number from .../pull/<n>.
func prNumberFromURL(url string) (int, error) {
	idx := strings.LastIndex(url, "/pull/")
	if idx < 0 {
		return 0, fmt.Errorf("unexpected pull request URL: %q", url)
	}
	tail := url[idx+len("/pull/"):]
	if slash := strings.IndexByte(tail, '/'); slash >= 0 {
		tail = tail[:slash]
	}
	number, err := strconv.Atoi(tail)
	if err != nil {
		return 0, fmt.Errorf("parsing pull request number from %q: %w", url, err)
	}
	return number, nil
}
