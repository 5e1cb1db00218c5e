package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/akitorahayashi/jlo/internal/apperr"
)

// Client is the version-control port used by dispatchers.
type Client interface {
	Fetch(ctx context.Context, remote string) error
	CheckoutBranch(ctx context.Context, name string, create bool) error
	// CommitFiles stages paths (including deletions) and commits them,
	// returning the new commit sha.
	CommitFiles(ctx context.Context, message string, paths []string) (string, error)
	PushBranch(ctx context.Context, name string, force bool) error
	CurrentBranch(ctx context.Context) (string, error)
	DeleteBranch(ctx context.Context, name string, force bool) (bool, error)
}

// Command runs the git binary against the repository at Root.
type Command struct {
	Root string
}

func NewCommand(root string) *Command {
	return &Command{Root: root}
}

func (g *Command) run(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"-C", g.Root}, args...)
	cmd := exec.CommandContext(ctx, "git", full...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		details := strings.TrimSpace(stderr.String())
		if details == "" {
			details = err.Error()
		}
		return "", apperr.ToolError{Tool: "git", Command: "git " + strings.Join(args, " "), Details: details}
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (g *Command) Fetch(ctx context.Context, remote string) error {
	_, err := g.run(ctx, "fetch", remote)
	return err
}

func (g *Command) CheckoutBranch(ctx context.Context, name string, create bool) error {
	if create {
		_, err := g.run(ctx, "checkout", "-b", name)
		return err
	}
	_, err := g.run(ctx, "checkout", name)
	return err
}

func (g *Command) CommitFiles(ctx context.Context, message string, paths []string) (string, error) {
	if len(paths) == 0 {
		return "", apperr.Validation("no files to commit")
	}
	args := append([]string{"add", "-A", "--"}, paths...)
	if _, err := g.run(ctx, args...); err != nil {
		return "", err
	}
	if _, err := g.run(ctx, "commit", "-m", message); err != nil {
		return "", err
	}
	return g.run(ctx, "rev-parse", "HEAD")
}

func (g *Command) PushBranch(ctx context.Context, name string, force bool) error {
	args := []string{"push", "-u", "origin", name}
	if force {
		args = []string{"push", "--force", "-u", "origin", name}
	}
	_, err := g.run(ctx, args...)
	return err
}

func (g *Command) CurrentBranch(ctx context.Context) (string, error) {
	return g.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

func (g *Command) DeleteBranch(ctx context.Context, name string, force bool) (bool, error) {
	if _, err := g.run(ctx, "rev-parse", "--verify", "--quiet", "refs/heads/"+name); err != nil {
		return false, nil
	}
	flag := "-d"
	if force {
		flag = "-D"
	}
	if _, err := g.run(ctx, "branch", flag, name); err != nil {
		return false, err
	}
	return true, nil
}

// RemoteURL returns the URL of the named remote.
func (g *Command) RemoteURL(ctx context.Context, remote string) (string, error) {
	return g.run(ctx, "remote", "get-url", remote)
}

// ParseGitHubRepo extracts "owner/repo" from an https or ssh GitHub URL.
func ParseGitHubRepo(url string) (string, bool) {
	u := strings.TrimSpace(url)
	u = strings.TrimSuffix(u, ".git")
	for _, prefix := range []string{"git@github.com:", "https://github.com/", "http://github.com/", "ssh://git@github.com/"} {
		if strings.HasPrefix(u, prefix) {
			rest := strings.TrimPrefix(u, prefix)
			parts := strings.Split(rest, "/")
			if len(parts) == 2 && parts[0] != "" && parts[1] != "" {
				return rest, true
			}
			return "", false
		}
	}
	return "", false
}

// DetectSource resolves the session source identifier
// ("sources/github/<owner>/<repo>") from the origin remote, falling back to
// the GITHUB_REPOSITORY value passed in.
func DetectSource(ctx context.Context, g *Command, githubRepository string) (string, error) {
	if url, err := g.RemoteURL(ctx, "origin"); err == nil {
		if repo, ok := ParseGitHubRepo(url); ok {
			return "sources/github/" + repo, nil
		}
	}
	if githubRepository != "" {
		return "sources/github/" + githubRepository, nil
	}
	return "", fmt.Errorf("could not detect repository source: no GitHub origin remote and GITHUB_REPOSITORY unset")
}
