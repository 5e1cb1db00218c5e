package mock

import (
	"os/exec"
	"strings"
	"time"

	"github.com/akitorahayashi/jlo/internal/apperr"
	"github.com/akitorahayashi/jlo/internal/config"
	"github.com/akitorahayashi/jlo/internal/layer"
)

// Config holds what mock runs need to name and target branches.
type Config struct {
	Tag           string
	WorkerBranch  string
	DefaultBranch string
	IssueLabels   []string
}

// NewConfig builds a mock Config from the repository config and environment.
func NewConfig(cfg *config.Config, env config.Env, now time.Time) (Config, error) {
	tag, err := ResolveTag(env, now)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Tag:           tag,
		WorkerBranch:  cfg.WorkerBranch(env),
		DefaultBranch: cfg.Run.DefaultBranch,
		IssueLabels:   append([]string(nil), cfg.IssueLabels...),
	}, nil
}

// BranchName is prefix + tag + "-" + suffix.
func (c Config) BranchName(l layer.Layer, suffix string) string {
	return l.BranchPrefix() + c.Tag + "-" + suffix
}

func (c Config) hasLabel(label string) bool {
	for _, l := range c.IssueLabels {
		if l == label {
			return true
		}
	}
	return false
}

// Timestamp formats t as the UTC branch discriminator.
func Timestamp(t time.Time) string {
	return t.UTC().Format("20060102150405")
}

// ResolveTag picks the mock tag: JULES_MOCK_TAG when set, otherwise a
// timestamped tag marked as CI or local.
func ResolveTag(env config.Env, now time.Time) (string, error) {
	tag := env.MockTag
	if tag == "" {
		prefix := "mock-local-"
		if env.CI {
			prefix = "mock-ci-"
		}
		tag = prefix + Timestamp(now)
	}
	if !strings.Contains(tag, "mock") {
		return "", apperr.Validation("mock tag '%s' must contain 'mock'", tag)
	}
	if !layer.IsSafePathComponent(tag) {
		return "", apperr.Validation("mock tag '%s' must be alphanumeric with hyphens or underscores only", tag)
	}
	return tag, nil
}

// CheckPrerequisites verifies that mock mode can talk to git and GitHub.
// lookPath defaults to exec.LookPath.
func CheckPrerequisites(env config.Env, lookPath func(string) (string, error)) error {
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	if env.GHToken == "" {
		return apperr.MissingArgument("GH_TOKEN is required for mock mode")
	}
	for _, tool := range []string{"git", "gh"} {
		if _, err := lookPath(tool); err != nil {
			return apperr.ToolError{Tool: tool, Details: "not found on PATH"}
		}
	}
	return nil
}
