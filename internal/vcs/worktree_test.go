package vcs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/repopilot/internal/logging"
)

func initRepo(t *testing.T) (string, *gogit.Repository) {
	t.Helper()
	dir := t.TempDir()
	repo, err := gogit.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.py"), []byte("x = 1\n"), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("main.py")
	require.NoError(t, err)
	_, err = wt.Commit("initial", &gogit.CommitOptions{
		Author: &object.Signature{Name: "dev", Email: "dev@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return dir, repo
}

func TestValidateWorktreeClean(t *testing.T) {
	dir, _ := initRepo(t)
	g := NewGit(NewCommandRunner(time.Second), logging.NewTestLogger().Logger)

	branch, err := g.ValidateWorktree(dir)
	require.NoError(t, err)
	assert.Equal(t, "master", branch)
}

func TestValidateWorktreeDirty(t *testing.T) {
	dir, _ := initRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dirty.py"), []byte("y = 2\n"), 0o644))
	g := NewGit(NewCommandRunner(time.Second), logging.NewTestLogger().Logger)

	_, err := g.ValidateWorktree(dir)
	assert.ErrorContains(t, err, "uncommitted changes")
}

func TestValidateWorktreeNotARepo(t *testing.T) {
	g := NewGit(NewCommandRunner(time.Second), logging.NewTestLogger().Logger)
	_, err := g.ValidateWorktree(t.TempDir())
	assert.ErrorContains(t, err, "opening repository")
}
