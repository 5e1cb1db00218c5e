package automerge

import (
	"context"
	"fmt"
	"strings"

	"github.com/akitorahayashi/jlo/internal/forge"
	"github.com/akitorahayashi/jlo/internal/layer"
)

// ScopePolicy limits which files an auto-mergeable PR may touch.
type ScopePolicy int

const (
	// JulesOnly requires every changed file to live under .jules/.
	JulesOnly ScopePolicy = iota
	RepositoryWide
)

// BranchPolicy maps an allowed head-branch prefix to its scope.
type BranchPolicy struct {
	Prefix string
	Scope  ScopePolicy
}

// Policies is the allowlist of head-branch prefixes. Implementer branches are
// intentionally absent: their PRs go through human review.
var Policies = []BranchPolicy{
	{Prefix: layer.Narrator.BranchPrefix(), Scope: JulesOnly},
	{Prefix: layer.Observers.BranchPrefix(), Scope: JulesOnly},
	{Prefix: layer.Deciders.BranchPrefix(), Scope: JulesOnly},
	{Prefix: layer.Planners.BranchPrefix(), Scope: JulesOnly},
	{Prefix: layer.Innovators.BranchPrefix(), Scope: JulesOnly},
	{Prefix: PublishProposalsPrefix, Scope: JulesOnly},
	{Prefix: "jules-mock-cleanup-", Scope: JulesOnly},
	{Prefix: WorkerSyncPrefix, Scope: JulesOnly},
}

// WorkerSyncPrefix names branches that push bookkeeping commits back to the
// worker branch.
const WorkerSyncPrefix = "jules-worker-sync-"

// PublishProposalsPrefix names branches that remove innovator proposals once
// they have been published as issues.
const PublishProposalsPrefix = "jules-publish-proposals-"

// Outcome of a gate evaluation.
type Outcome string

const (
	Skip           Outcome = "skip"
	AlreadyEnabled Outcome = "already_enabled"
	Eligible       Outcome = "eligible"
)

// Decision is the gate result. Reason is set for Skip and AlreadyEnabled.
type Decision struct {
	Outcome Outcome
	Reason  string
}

const maxListedPaths = 3

// Evaluate applies the gates in order; the first failing gate decides.
func Evaluate(pr forge.PullRequestDetail, files []string) Decision {
	policy, ok := matchPolicy(pr.Head)
	if !ok {
		return Decision{Outcome: Skip, Reason: fmt.Sprintf("head branch '%s' does not match any allowed Jules prefix", pr.Head)}
	}
	if pr.IsDraft {
		return Decision{Outcome: Skip, Reason: "PR is a draft"}
	}
	if pr.AutoMergeEnabled {
		return Decision{Outcome: AlreadyEnabled, Reason: "auto-merge already enabled"}
	}
	if policy.Scope == JulesOnly {
		if outside := outsideJules(files); len(outside) > 0 {
			if len(outside) > maxListedPaths {
				outside = outside[:maxListedPaths]
			}
			return Decision{Outcome: Skip, Reason: "PR modifies files outside .jules/: " + strings.Join(outside, ", ")}
		}
	}
	return Decision{Outcome: Eligible}
}

// needsFiles reports whether the file list can change the decision.
func needsFiles(pr forge.PullRequestDetail) bool {
	policy, ok := matchPolicy(pr.Head)
	return ok && !pr.IsDraft && !pr.AutoMergeEnabled && policy.Scope == JulesOnly
}

func matchPolicy(head string) (BranchPolicy, bool) {
	for _, p := range Policies {
		if strings.HasPrefix(head, p.Prefix) {
			return p, true
		}
	}
	return BranchPolicy{}, false
}

func outsideJules(files []string) []string {
	var out []string
	for _, f := range files {
		if !strings.HasPrefix(f, layer.JulesDir+"/") {
			out = append(out, f)
		}
	}
	return out
}

// Output reports what Apply did.
type Output struct {
	SchemaVersion  int    `json:"schema_version"`
	Applied        bool   `json:"applied"`
	SkippedReason  string `json:"skipped_reason,omitempty"`
	Target         int    `json:"target"`
	AutoMergeState string `json:"automerge_state,omitempty"`
}

// Forge is the subset of the forge port the gate needs.
type Forge interface {
	PullRequestDetail(ctx context.Context, number int) (forge.PullRequestDetail, error)
	ListPullRequestFiles(ctx context.Context, number int) ([]string, error)
	EnableAutoMerge(ctx context.Context, number int) error
}

// Apply fetches a fresh snapshot of the PR, evaluates the gate, and enables
// auto-merge once when eligible.
func Apply(ctx context.Context, f Forge, number int) (Output, error) {
	out := Output{SchemaVersion: 1, Target: number}
	pr, err := f.PullRequestDetail(ctx, number)
	if err != nil {
		return out, err
	}
	var files []string
	if needsFiles(pr) {
		files, err = f.ListPullRequestFiles(ctx, number)
		if err != nil {
			return out, err
		}
	}
	d := Evaluate(pr, files)
	switch d.Outcome {
	case AlreadyEnabled:
		out.SkippedReason = d.Reason
		out.AutoMergeState = string(AlreadyEnabled)
	case Skip:
		out.SkippedReason = d.Reason
	case Eligible:
		if err := f.EnableAutoMerge(ctx, number); err != nil {
			return out, err
		}
		out.Applied = true
		out.AutoMergeState = "enabled"
	}
	return out, nil
}
