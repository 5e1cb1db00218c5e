package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/akitorahayashi/jlo/internal/automerge"
	"github.com/akitorahayashi/jlo/internal/config"
	"github.com/akitorahayashi/jlo/internal/dispatch"
	"github.com/akitorahayashi/jlo/internal/forge"
	"github.com/akitorahayashi/jlo/internal/git"
	"github.com/akitorahayashi/jlo/internal/layer"
	"github.com/akitorahayashi/jlo/internal/ledger"
	"github.com/akitorahayashi/jlo/internal/logging"
)

// Run modes.
const (
	ModeReal = "real"
	ModeMock = "mock"
)

// Recorder persists run outcomes. ledger.Store implements it.
type Recorder interface {
	StartRun(ctx context.Context, layerName, mode string) (ledger.Run, error)
	RecordItem(ctx context.Context, runID, layerName string, it ledger.Item) error
	FinishRun(ctx context.Context, runID, status string, succeeded, failed int, errMsg string) error
	RecordAutoMerge(ctx context.Context, runID string, out automerge.Output) error
}

var _ Recorder = (*ledger.Store)(nil)

// Request is one `jlo run` invocation.
type Request struct {
	Layer       layer.Layer
	Role        string
	Requirement string
	Mock        bool
	Options     dispatch.Options
}

// ItemResult is the outcome of one work item.
type ItemResult struct {
	Item      string `json:"item"`
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
	Branch    string `json:"branch,omitempty"`
	PRNumber  int    `json:"pr_number,omitempty"`
	PRURL     string `json:"pr_url,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Result summarizes a run.
type Result struct {
	RunID     string       `json:"run_id,omitempty"`
	Layer     string       `json:"layer"`
	Mode      string       `json:"mode"`
	StartedAt time.Time    `json:"started_at"`
	Items     []ItemResult `json:"items"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Cleanup   *Cleanup     `json:"cleanup,omitempty"`
}

// Empty reports whether discovery found nothing to do.
func (r Result) Empty() bool { return len(r.Items) == 0 }

// Orchestrator runs one layer: discovery, dispatch and bookkeeping.
type Orchestrator struct {
	Paths        layer.Paths
	Config       *config.Config
	WorkerBranch string
	// Schedule is loaded from .jlo/scheduled.yml when nil.
	Schedule *config.Schedule
	Real     dispatch.Dispatcher
	Mock     dispatch.Dispatcher
	Git      git.Client
	Forge    forge.Client
	Recorder Recorder
	Logger   *zap.SugaredLogger
	Now      func() time.Time
}

func (o *Orchestrator) logger() *zap.SugaredLogger { return logging.OrNop(o.Logger) }

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// outcome pairs a work item with what happened to it.
type outcome struct {
	item   layer.WorkItem
	result dispatch.Result
	err    error
}

// Run executes the requested layer. Multi-role layers stop at the first
// failing item; issue-driven layers run every item and fail only when none
// succeeded.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Result, error) {
	mode := ModeReal
	if req.Mock {
		mode = ModeMock
	}
	res := Result{Layer: req.Layer.String(), Mode: mode, StartedAt: o.now().UTC(), Items: []ItemResult{}}
	rec := o.startRecording(ctx, req.Layer, mode)
	res.RunID = rec.runID

	items, err := o.discoverFor(req)
	if err != nil {
		rec.finish(ctx, ledger.RunFailed, 0, 0, err)
		return res, err
	}
	if len(items) == 0 {
		o.logger().Infow("nothing to do", "layer", req.Layer.String())
		rec.finish(ctx, ledger.RunEmpty, 0, 0, nil)
		return res, nil
	}

	dispatcher := o.Real
	if req.Mock {
		dispatcher = o.Mock
	}

	var outcomes []outcome
	for _, item := range items {
		o.logger().Infow("dispatching", "item", item.String(), "mode", mode)
		r, err := dispatcher.Dispatch(ctx, item, req.Options)
		oc := outcome{item: item, result: r, err: err}
		outcomes = append(outcomes, oc)
		ir := itemResult(oc)
		res.Items = append(res.Items, ir)
		rec.item(ctx, ir)
		if err != nil {
			res.Failed++
			o.logger().Errorw("dispatch failed", "item", item.String(), "error", err)
			if !req.Layer.IsIssueDriven() {
				rec.finish(ctx, ledger.RunFailed, res.Succeeded, res.Failed, err)
				return res, err
			}
			continue
		}
		res.Succeeded++
	}

	if res.Succeeded == 0 {
		first := firstError(outcomes)
		rec.finish(ctx, ledger.RunFailed, res.Succeeded, res.Failed, first)
		return res, first
	}

	if req.Layer.IsIssueDriven() && !req.Mock && !req.Options.Preview {
		cleanup, err := o.cleanup(ctx, req.Layer, outcomes, rec)
		res.Cleanup = cleanup
		if err != nil {
			rec.finish(ctx, ledger.RunFailed, res.Succeeded, res.Failed, err)
			return res, err
		}
	}

	rec.finish(ctx, ledger.RunSucceeded, res.Succeeded, res.Failed, nil)
	return res, nil
}

func (o *Orchestrator) discoverFor(req Request) ([]layer.WorkItem, error) {
	if req.Layer == layer.Deciders && !req.Mock {
		pending, err := o.hasPendingEvents()
		if err != nil {
			return nil, err
		}
		if !pending {
			o.logger().Infow("no pending events", "layer", req.Layer.String())
			return nil, nil
		}
	}
	return o.Discover(req)
}

func itemResult(oc outcome) ItemResult {
	ir := ItemResult{
		Item:      oc.item.String(),
		Status:    oc.result.Status,
		SessionID: oc.result.SessionID,
		Branch:    oc.result.Branch,
		PRNumber:  oc.result.PRNumber,
		PRURL:     oc.result.PRURL,
	}
	if oc.err != nil {
		ir.Status = dispatch.StatusFailed
		ir.Error = oc.err.Error()
	}
	return ir
}

func firstError(outcomes []outcome) error {
	for _, oc := range outcomes {
		if oc.err != nil {
			return oc.err
		}
	}
	return nil
}

// recording forwards to the Recorder, logging and swallowing its failures.
type recording struct {
	o     *Orchestrator
	runID string
	layer string
}

func (o *Orchestrator) startRecording(ctx context.Context, l layer.Layer, mode string) *recording {
	rec := &recording{o: o, layer: l.String()}
	if o.Recorder == nil {
		return rec
	}
	run, err := o.Recorder.StartRun(ctx, rec.layer, mode)
	if err != nil {
		o.logger().Warnw("ledger: start run failed", "error", err)
		return rec
	}
	rec.runID = run.ID
	return rec
}

func (r *recording) active() bool { return r.o.Recorder != nil && r.runID != "" }

func (r *recording) item(ctx context.Context, ir ItemResult) {
	if !r.active() {
		return
	}
	err := r.o.Recorder.RecordItem(ctx, r.runID, r.layer, ledger.Item{
		Item:      ir.Item,
		Status:    ir.Status,
		SessionID: ir.SessionID,
		Branch:    ir.Branch,
		PRNumber:  ir.PRNumber,
		PRURL:     ir.PRURL,
		Error:     ir.Error,
	})
	if err != nil {
		r.o.logger().Warnw("ledger: record item failed", "item", ir.Item, "error", err)
	}
}

func (r *recording) autoMerge(ctx context.Context, out automerge.Output) {
	if r.o.Recorder == nil {
		return
	}
	if err := r.o.Recorder.RecordAutoMerge(ctx, r.runID, out); err != nil {
		r.o.logger().Warnw("ledger: record auto-merge failed", "error", err)
	}
}

func (r *recording) finish(ctx context.Context, status string, succeeded, failed int, runErr error) {
	if !r.active() {
		return
	}
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	if err := r.o.Recorder.FinishRun(ctx, r.runID, status, succeeded, failed, msg); err != nil {
		r.o.logger().Warnw("ledger: finish run failed", "error", err)
	}
}
