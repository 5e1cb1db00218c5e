package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/akitorahayashi/jlo/internal/automerge"
	"github.com/akitorahayashi/jlo/internal/layer"
	"github.com/akitorahayashi/jlo/internal/mock"
	"github.com/akitorahayashi/jlo/internal/requirement"
)

// Cleanup describes the consolidated requirement cleanup pushed after an
// issue-driven run.
type Cleanup struct {
	Removed   []string          `json:"removed"`
	Branch    string            `json:"branch,omitempty"`
	PRNumber  int               `json:"pr_number,omitempty"`
	PRURL     string            `json:"pr_url,omitempty"`
	AutoMerge *automerge.Output `json:"automerge,omitempty"`
}

// cleanup removes the requirements (and their source events) of every item
// that was dispatched, then pushes all removals as one commit on a worker-sync
// branch and opens a pull request back to the worker branch.
func (o *Orchestrator) cleanup(ctx context.Context, l layer.Layer, outcomes []outcome, rec *recording) (*Cleanup, error) {
	// Every target is resolved before anything is removed, so a bad
	// requirement leaves the worker tree untouched.
	var targets []string
	for _, oc := range outcomes {
		if oc.err != nil || oc.item.Path == "" {
			continue
		}
		t, err := requirement.Targets(o.Paths, oc.item.Path)
		if err != nil {
			return nil, fmt.Errorf("clean %s: %w", o.Paths.Rel(oc.item.Path), err)
		}
		targets = append(targets, t...)
	}
	if len(targets) == 0 {
		return nil, nil
	}
	removed, err := requirement.Remove(o.Paths, targets)
	if err != nil {
		return nil, err
	}
	c := &Cleanup{Removed: removed}

	worker := o.WorkerBranch
	if worker == "" {
		worker = o.Config.Run.JulesBranch
	}
	c.Branch = fmt.Sprintf("%s%s-cleanup-batch-%s", automerge.WorkerSyncPrefix, l, mock.Timestamp(o.now()))

	if err := o.Git.CheckoutBranch(ctx, c.Branch, true); err != nil {
		return c, err
	}
	if _, err := o.Git.CommitFiles(ctx, fmt.Sprintf("jules: clean %s requirements", l), removed); err != nil {
		return c, err
	}
	if err := o.Git.PushBranch(ctx, c.Branch, false); err != nil {
		return c, err
	}
	body := "Removes processed requirements and their source events:\n\n- " + strings.Join(removed, "\n- ")
	pr, err := o.Forge.CreatePullRequest(ctx, c.Branch, worker, fmt.Sprintf("chore: clean %s requirements", l), body)
	if err != nil {
		return c, err
	}
	c.PRNumber, c.PRURL = pr.Number, pr.URL

	out, err := automerge.Apply(ctx, o.Forge, pr.Number)
	if err != nil {
		o.logger().Warnw("auto-merge evaluation failed", "pr", pr.Number, "error", err)
	} else {
		c.AutoMerge = &out
		rec.autoMerge(ctx, out)
		o.logger().Infow("auto-merge evaluated", "pr", pr.Number, "applied", out.Applied, "reason", out.SkippedReason)
	}

	if err := o.Git.CheckoutBranch(ctx, worker, false); err != nil {
		return c, err
	}
	return c, nil
}
