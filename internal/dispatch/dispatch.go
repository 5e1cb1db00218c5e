package dispatch

import (
	"context"

	"github.com/akitorahayashi/jlo/internal/layer"
)

// Item statuses recorded for a dispatched work item.
const (
	StatusDispatched = "dispatched"
	StatusPreviewed  = "previewed"
	StatusFailed     = "failed"
)

// Options are per-run dispatch switches from the CLI.
type Options struct {
	// Branch overrides the starting or base branch.
	Branch string
	// Preview assembles the prompt without creating a session.
	Preview bool
}

// Result is what one dispatch produced.
type Result struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
	Branch    string `json:"branch,omitempty"`
	PRNumber  int    `json:"pr_number,omitempty"`
	PRURL     string `json:"pr_url,omitempty"`
}

// Dispatcher executes a single work item.
type Dispatcher interface {
	Dispatch(ctx context.Context, item layer.WorkItem, opts Options) (Result, error)
}
