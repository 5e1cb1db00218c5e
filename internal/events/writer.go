package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Ledger event types.
const (
	RunStarted         = "run.started"
	ItemDispatched     = "item.dispatched"
	ItemFailed         = "item.failed"
	ItemPreviewed      = "item.previewed"
	RunFinished        = "run.finished"
	AutoMergeEvaluated = "automerge.evaluated"
)

// Types lists every event type, in lifecycle order.
var Types = []string{RunStarted, ItemDispatched, ItemFailed, ItemPreviewed, RunFinished, AutoMergeEvaluated}

// Writer appends ledger events inside the caller's transaction.
type Writer struct {
	Now func() time.Time
}

type Payload map[string]any

// Scope ties an event to a run, layer and work item. All fields are optional.
type Scope struct {
	RunID string
	Layer string
	Item  string
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType string, scope Scope, payload Payload) (int64, error) {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339Nano)
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal event payload: %w", err)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO events(ts,type,run_id,layer,item,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, nullable(scope.RunID), nullable(scope.Layer), nullable(scope.Item), string(data))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
