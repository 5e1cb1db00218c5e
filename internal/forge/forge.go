package forge

import "context"

// PullRequest identifies a created pull request.
type PullRequest struct {
	Number int
	URL    string
}

// PullRequestDetail is a point-in-time snapshot of a pull request.
type PullRequestDetail struct {
	Number           int
	Head             string
	Base             string
	IsDraft          bool
	AutoMergeEnabled bool
}

// Issue identifies a created issue.
type Issue struct {
	Number int
	URL    string
}

// Client is the forge (GitHub) port.
type Client interface {
	CreatePullRequest(ctx context.Context, head, base, title, body string) (PullRequest, error)
	EnableAutoMerge(ctx context.Context, number int) error
	PullRequestDetail(ctx context.Context, number int) (PullRequestDetail, error)
	ListPullRequestFiles(ctx context.Context, number int) ([]string, error)
	CreateIssue(ctx context.Context, title, body string, labels []string) (Issue, error)
	AddLabelToIssue(ctx context.Context, number int, label string) error
	AddLabelToPullRequest(ctx context.Context, number int, label string) error
	EnsureLabel(ctx context.Context, name, color string) error
}
