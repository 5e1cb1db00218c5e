package git_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/akitorahayashi/jlo/internal/git"
)

func TestParseGitHubRepo(t *testing.T) {
	cases := map[string]string{
		"git@github.com:acme/app.git":     "acme/app",
		"https://github.com/acme/app.git": "acme/app",
		"https://github.com/acme/app":     "acme/app",
		"ssh://git@github.com/acme/app":   "acme/app",
	}
	for in, want := range cases {
		got, ok := git.ParseGitHubRepo(in)
		require.True(t, ok, in)
		require.Equal(t, want, got)
	}
	for _, bad := range []string{"https://gitlab.com/acme/app", "git@github.com:acme", ""} {
		_, ok := git.ParseGitHubRepo(bad)
		require.False(t, ok, bad)
	}
}

func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()
	for _, args := range [][]string{
		{"init", "-q", "-b", "main"},
		{"config", "user.email", "dev@example.com"},
		{"config", "user.name", "dev"},
		{"config", "commit.gpgsign", "false"},
	} {
		out, err := exec.Command("git", append([]string{"-C", dir}, args...)...).CombinedOutput()
		require.NoError(t, err, string(out))
	}
	return dir
}

func TestCommandCommitCheckoutAndDelete(t *testing.T) {
	dir := initRepo(t)
	ctx := context.Background()
	g := git.NewCommand(dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644))
	sha, err := g.CommitFiles(ctx, "first", []string{"a.txt"})
	require.NoError(t, err)
	require.Len(t, sha, 40)

	require.NoError(t, g.CheckoutBranch(ctx, "feature", true))
	branch, err := g.CurrentBranch(ctx)
	require.NoError(t, err)
	require.Equal(t, "feature", branch)

	require.NoError(t, os.Remove(filepath.Join(dir, "a.txt")))
	_, err = g.CommitFiles(ctx, "remove a", []string{"a.txt"})
	require.NoError(t, err)

	require.NoError(t, g.CheckoutBranch(ctx, "main", false))
	deleted, err := g.DeleteBranch(ctx, "feature", true)
	require.NoError(t, err)
	require.True(t, deleted)
	deleted, err = g.DeleteBranch(ctx, "feature", true)
	require.NoError(t, err)
	require.False(t, deleted)

	err = g.CheckoutBranch(ctx, "nope", false)
	require.ErrorContains(t, err, "git checkout nope")
}

func TestDetectSourceFallsBackToEnvironmentValue(t *testing.T) {
	dir := initRepo(t)
	src, err := git.DetectSource(context.Background(), git.NewCommand(dir), "acme/app")
	require.NoError(t, err)
	require.Equal(t, "sources/github/acme/app", src)

	_, err = git.DetectSource(context.Background(), git.NewCommand(dir), "")
	require.Error(t, err)
}
