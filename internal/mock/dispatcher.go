package mock

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/akitorahayashi/jlo/internal/apperr"
	"github.com/akitorahayashi/jlo/internal/config"
	"github.com/akitorahayashi/jlo/internal/dispatch"
	"github.com/akitorahayashi/jlo/internal/forge"
	"github.com/akitorahayashi/jlo/internal/git"
	"github.com/akitorahayashi/jlo/internal/layer"
	"github.com/akitorahayashi/jlo/internal/logging"
)

// Dispatcher stands in for a remote agent: it produces the same branch and
// pull request shape a real session would, with synthetic content.
type Dispatcher struct {
	Paths    layer.Paths
	Config   Config
	Git      git.Client
	Forge    forge.Client
	Schedule *config.Schedule
	// GitHubOutput is the GITHUB_OUTPUT file, if any.
	GitHubOutput string
	Out          io.Writer
	Logger       *zap.SugaredLogger
	Now          func() time.Time
	// NewID returns a 6-character mock id. Defaults to a clock-derived id.
	NewID func() string
}

var idSeq atomic.Int64

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Dispatcher) id() string {
	if d.NewID != nil {
		return d.NewID()
	}
	ns := d.now().UnixNano() + idSeq.Add(1)
	return fmt.Sprintf("%06x", ns%0xFFFFFF)
}

func (d *Dispatcher) logger() *zap.SugaredLogger { return logging.OrNop(d.Logger) }

func (d *Dispatcher) out() io.Writer {
	if d.Out == nil {
		return os.Stdout
	}
	return d.Out
}

func (d *Dispatcher) Dispatch(ctx context.Context, item layer.WorkItem, opts dispatch.Options) (dispatch.Result, error) {
	var (
		out Output
		err error
	)
	switch item.Layer {
	case layer.Narrator:
		out, err = d.narrator(ctx)
	case layer.Observers:
		out, err = d.observer(ctx, item)
	case layer.Deciders:
		out, err = d.decider(ctx, item)
	case layer.Planners:
		out, err = d.planner(ctx, item)
	case layer.Implementers:
		out, err = d.implementer(ctx, item, opts)
	case layer.Innovators:
		out, err = d.innovator(ctx, item)
	default:
		return dispatch.Result{}, apperr.Validation("unsupported layer %s", item.Layer)
	}
	if err != nil {
		return dispatch.Result{}, err
	}
	if err := out.Emit(d.GitHubOutput, d.out()); err != nil {
		return dispatch.Result{}, err
	}
	d.logger().Infow("mock pull request opened", "item", item.String(), "branch", out.Branch, "pr", out.PRNumber)
	return dispatch.Result{
		Status:   dispatch.StatusDispatched,
		Branch:   out.Branch,
		PRNumber: out.PRNumber,
		PRURL:    out.PRURL,
	}, nil
}

// change is the set of working-tree edits a mock flow commits.
type change struct {
	base    string
	branch  string
	message string
	title   string
	body    string
	// apply performs the edits and returns the repository-relative paths to
	// stage, including deleted ones. It runs on the freshly created branch.
	apply func() ([]string, error)
	// describe, when set, overrides message and title once apply has run.
	describe func() (message, title string)
}

// publish runs the shared branch, commit, push and pull request sequence.
func (d *Dispatcher) publish(ctx context.Context, c change) (Output, error) {
	if err := d.Git.Fetch(ctx, "origin"); err != nil {
		return Output{}, err
	}
	if err := d.Git.CheckoutBranch(ctx, "origin/"+c.base, false); err != nil {
		return Output{}, err
	}
	if err := d.Git.CheckoutBranch(ctx, c.branch, true); err != nil {
		return Output{}, err
	}
	paths, err := c.apply()
	if err != nil {
		return Output{}, err
	}
	if c.describe != nil {
		c.message, c.title = c.describe()
	}
	if _, err := d.Git.CommitFiles(ctx, c.message, paths); err != nil {
		return Output{}, err
	}
	if err := d.Git.PushBranch(ctx, c.branch, false); err != nil {
		return Output{}, err
	}
	body := c.body
	if body == "" {
		body = fmt.Sprintf("Mock run for workflow validation.\n\nMock tag: `%s`", d.Config.Tag)
	}
	pr, err := d.Forge.CreatePullRequest(ctx, c.branch, c.base, c.title, body)
	if err != nil {
		return Output{}, err
	}
	return Output{Branch: c.branch, PRNumber: pr.Number, PRURL: pr.URL, Tag: d.Config.Tag}, nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
