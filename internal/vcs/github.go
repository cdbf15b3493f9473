package vcs

import (
	"context"
	"fmt"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// GitHubAPI is a PRHost backed by the GitHub REST API. It resolves the
// owner and repository from the origin remote of the local worktree.
type GitHubAPI struct {
	client *github.Client
	base   string // target branch for new PRs
}

// NewGitHubAPI creates the API-backed host authenticated with token.
func NewGitHubAPI(ctx context.Context, token, baseBranch string) *GitHubAPI {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	if baseBranch == "" {
		baseBranch = "main"
	}
	return &GitHubAPI{
		client: github.NewClient(oauth2.NewClient(ctx, ts)),
		base:   baseBranch,
	}
}

// CreatePR opens a pull request from branch into the base branch.
func (h *GitHubAPI) CreatePR(ctx context.Context, repoPath, branch, title, body string) (PullRequest, error) {
	owner, repo, err := originOwnerRepo(repoPath)
	if err != nil {
		return PullRequest{}, err
	}
	pr, _, err := h.client.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.String(title),
		Body:  github.String(body),
		Head:  github.String(branch),
		Base:  github.String(h.base),
	})
	if err != nil {
		return PullRequest{}, fmt.Errorf("creating pull request: %w", err)
	}
	return PullRequest{URL: pr.GetHTMLURL(), Number: pr.GetNumber()}, nil
}

// MergePR squash-merges the pull request.
func (h *GitHubAPI) MergePR(ctx context.Context, repoPath string, number int) error {
	owner, repo, err := originOwnerRepo(repoPath)
	if err != nil {
		return err
	}
	_, _, err = h.client.PullRequests.Merge(ctx, owner, repo, number, "", &github.PullRequestOptions{
		MergeMethod: "squash",
	})
	if err != nil {
		return fmt.Errorf("merging pull request #%d: %w", number, err)
	}
	return nil
}

// originOwnerRepo reads the origin remote and extracts owner/repo.
func originOwnerRepo(repoPath string) (string, string, error) {
	repo, err := gogit.PlainOpen(repoPath)
	if err != nil {
		return "", "", fmt.Errorf("opening repository at %s: %w", repoPath, err)
	}
	remote, err := repo.Remote("origin")
	if err != nil {
		return "", "", fmt.Errorf("reading origin remote: %w", err)
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return "", "", fmt.Errorf("origin remote has no URL")
	}
	return parseOwnerRepo(urls[0])
}

// parseOwnerRepo handles the common remote URL shapes:
//
//	https://github.com/owner/repo.git
//	git@github.com:owner/repo.git
//	ssh://git@github.com/owner/repo
func parseOwnerRepo(url string) (string, string, error) {
	s := strings.TrimSuffix(url, ".git")
	switch {
	case strings.Contains(s, "github.com/"):
		_, s, _ = strings.Cut(s, "github.com/")
	case strings.Contains(s, "github.com:"):
		_, s, _ = strings.Cut(s, "github.com:")
	default:
		return "", "", fmt.Errorf("unsupported remote URL: %q", url)
	}
	owner, repo, ok := strings.Cut(s, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("unsupported remote URL: %q", url)
	}
	return owner, repo, nil
}
