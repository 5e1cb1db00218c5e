package forge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/akitorahayashi/jlo/internal/apperr"
)

// GH implements Client with the gh CLI. Dir is the repository working
// directory; Token, when set, is passed as GH_TOKEN.
type GH struct {
	Dir   string
	Token string
	// Bin defaults to "gh".
	Bin string
}

func NewGH(dir, token string) *GH {
	return &GH{Dir: dir, Token: token}
}

func (g *GH) run(ctx context.Context, args ...string) (string, error) {
	bin := g.Bin
	if bin == "" {
		bin = "gh"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = g.Dir
	if g.Token != "" {
		cmd.Env = append(cmd.Environ(), "GH_TOKEN="+g.Token)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		details := strings.TrimSpace(stderr.String())
		if details == "" {
			details = err.Error()
		}
		return "", apperr.ToolError{Tool: "gh", Command: "gh " + strings.Join(args, " "), Details: details}
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (g *GH) CreatePullRequest(ctx context.Context, head, base, title, body string) (PullRequest, error) {
	out, err := g.run(ctx, "pr", "create", "--head", head, "--base", base, "--title", title, "--body", body)
	if err != nil {
		return PullRequest{}, err
	}
	url := lastLine(out)
	n, err := numberFromURL(url, "PR URL")
	if err != nil {
		return PullRequest{}, err
	}
	return PullRequest{Number: n, URL: url}, nil
}

func (g *GH) EnableAutoMerge(ctx context.Context, number int) error {
	_, err := g.run(ctx, "pr", "merge", strconv.Itoa(number), "--auto", "--squash", "--delete-branch")
	return err
}

type prView struct {
	Number           int             `json:"number"`
	HeadRefName      string          `json:"headRefName"`
	BaseRefName      string          `json:"baseRefName"`
	IsDraft          bool            `json:"isDraft"`
	AutoMergeRequest json.RawMessage `json:"autoMergeRequest"`
}

func (g *GH) PullRequestDetail(ctx context.Context, number int) (PullRequestDetail, error) {
	out, err := g.run(ctx, "pr", "view", strconv.Itoa(number), "--json", "number,headRefName,baseRefName,isDraft,autoMergeRequest")
	if err != nil {
		return PullRequestDetail{}, err
	}
	return parsePRView(out, number)
}

func parsePRView(out string, number int) (PullRequestDetail, error) {
	var v prView
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		return PullRequestDetail{}, apperr.ParseError{What: "PR detail JSON", Details: err.Error()}
	}
	if v.Number == 0 {
		v.Number = number
	}
	raw := strings.TrimSpace(string(v.AutoMergeRequest))
	return PullRequestDetail{
		Number:           v.Number,
		Head:             v.HeadRefName,
		Base:             v.BaseRefName,
		IsDraft:          v.IsDraft,
		AutoMergeEnabled: raw != "" && raw != "null",
	}, nil
}

func (g *GH) ListPullRequestFiles(ctx context.Context, number int) ([]string, error) {
	out, err := g.run(ctx, "pr", "diff", strconv.Itoa(number), "--name-only")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

func (g *GH) CreateIssue(ctx context.Context, title, body string, labels []string) (Issue, error) {
	args := []string{"issue", "create", "--title", title, "--body", body}
	if len(labels) > 0 {
		args = append(args, "--label", strings.Join(labels, ","))
	}
	out, err := g.run(ctx, args...)
	if err != nil {
		return Issue{}, err
	}
	url := lastLine(out)
	n, err := numberFromURL(url, "issue URL")
	if err != nil {
		return Issue{}, err
	}
	return Issue{Number: n, URL: url}, nil
}

func (g *GH) AddLabelToIssue(ctx context.Context, number int, label string) error {
	_, err := g.run(ctx, "issue", "edit", strconv.Itoa(number), "--add-label", label)
	return err
}

func (g *GH) AddLabelToPullRequest(ctx context.Context, number int, label string) error {
	_, err := g.run(ctx, "pr", "edit", strconv.Itoa(number), "--add-label", label)
	return err
}

func (g *GH) EnsureLabel(ctx context.Context, name, color string) error {
	out, err := g.run(ctx, "label", "list", "--json", "name", "-q", ".[].name")
	if err != nil {
		return err
	}
	for _, existing := range strings.Split(out, "\n") {
		if strings.TrimSpace(existing) == name {
			return nil
		}
	}
	args := []string{"label", "create", name, "--force"}
	if color != "" {
		args = append(args, "--color", color)
	}
	_, err = g.run(ctx, args...)
	return err
}

func lastLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

func numberFromURL(url, what string) (int, error) {
	if !strings.HasPrefix(url, "https://") {
		return 0, apperr.ToolError{Tool: "gh", Details: fmt.Sprintf("unexpected output: %s", url)}
	}
	idx := strings.LastIndex(url, "/")
	n, err := strconv.Atoi(url[idx+1:])
	if err != nil {
		return 0, apperr.ParseError{What: what, Details: fmt.Sprintf("could not extract number from %s", url)}
	}
	return n, nil
}
