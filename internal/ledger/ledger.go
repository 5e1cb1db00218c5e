package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/akitorahayashi/jlo/internal/automerge"
	"github.com/akitorahayashi/jlo/internal/db"
	"github.com/akitorahayashi/jlo/internal/events"
	"github.com/akitorahayashi/jlo/internal/migrate"
)

var ErrNotFound = errors.New("not found")

// Run statuses.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
	RunEmpty     = "empty"
)

type Run struct {
	ID         string `json:"id"`
	Layer      string `json:"layer"`
	Mode       string `json:"mode"`
	StartedAt  string `json:"started_at" format:"date-time"`
	FinishedAt string `json:"finished_at,omitempty"`
	Status     string `json:"status"`
	Succeeded  int    `json:"succeeded"`
	Failed     int    `json:"failed"`
	Error      string `json:"error,omitempty"`
	Items      []Item `json:"items,omitempty"`
}

type Item struct {
	ID        int64  `json:"id"`
	RunID     string `json:"run_id"`
	Item      string `json:"item"`
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
	Branch    string `json:"branch,omitempty"`
	PRNumber  int    `json:"pr_number,omitempty"`
	PRURL     string `json:"pr_url,omitempty"`
	Error     string `json:"error,omitempty"`
}

type Event struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts"`
	Type    string `json:"type"`
	RunID   string `json:"run_id,omitempty"`
	Layer   string `json:"layer,omitempty"`
	Item    string `json:"item,omitempty"`
	Payload string `json:"payload_json"`
}

// Store records completed run outcomes in SQLite.
type Store struct {
	DB     *sql.DB
	Events events.Writer
	Now    func() time.Time
}

// Open opens and migrates the ledger under stateDir.
func Open(ctx context.Context, stateDir string) (*Store, error) {
	conn, err := db.Open(ctx, stateDir)
	if err != nil {
		return nil, err
	}
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return New(conn), nil
}

func New(conn *sql.DB) *Store {
	return &Store{DB: conn, Events: events.Writer{}}
}

func (s *Store) Close() error { return s.DB.Close() }

func (s *Store) now() string {
	now := s.Now
	if now == nil {
		now = time.Now
	}
	return now().UTC().Format(time.RFC3339)
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) eventWriter() events.Writer {
	w := s.Events
	if w.Now == nil {
		w.Now = s.Now
	}
	return w
}

// StartRun inserts a running run and returns it.
func (s *Store) StartRun(ctx context.Context, layerName, mode string) (Run, error) {
	run := Run{ID: uuid.NewString(), Layer: layerName, Mode: mode, StartedAt: s.now(), Status: RunRunning}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO runs(id,layer,mode,started_at,status) VALUES (?,?,?,?,?)`,
			run.ID, run.Layer, run.Mode, run.StartedAt, run.Status); err != nil {
			return err
		}
		_, err := s.eventWriter().Append(ctx, tx, events.RunStarted, events.Scope{RunID: run.ID, Layer: layerName},
			events.Payload{"mode": mode})
		return err
	})
	return run, err
}

// RecordItem stores one work-item outcome and its event.
func (s *Store) RecordItem(ctx context.Context, runID, layerName string, it Item) error {
	evtType := events.ItemDispatched
	switch it.Status {
	case "failed":
		evtType = events.ItemFailed
	case "previewed":
		evtType = events.ItemPreviewed
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO run_items(run_id,item,status,session_id,branch,pr_number,pr_url,error) VALUES (?,?,?,?,?,?,?,?)`,
			runID, it.Item, it.Status, nullable(it.SessionID), nullable(it.Branch), nullableInt(it.PRNumber), nullable(it.PRURL), nullable(it.Error)); err != nil {
			return err
		}
		payload := events.Payload{"status": it.Status}
		for k, v := range map[string]string{"session_id": it.SessionID, "branch": it.Branch, "pr_url": it.PRURL, "error": it.Error} {
			if v != "" {
				payload[k] = v
			}
		}
		if it.PRNumber > 0 {
			payload["pr_number"] = it.PRNumber
		}
		_, err := s.eventWriter().Append(ctx, tx, evtType, events.Scope{RunID: runID, Layer: layerName, Item: it.Item}, payload)
		return err
	})
}

// FinishRun closes a run with its aggregate outcome.
func (s *Store) FinishRun(ctx context.Context, runID, status string, succeeded, failed int, errMsg string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var layerName string
		if err := tx.QueryRowContext(ctx, `SELECT layer FROM runs WHERE id=?`, runID).Scan(&layerName); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE runs SET finished_at=?, status=?, succeeded=?, failed=?, error=? WHERE id=?`,
			s.now(), status, succeeded, failed, nullable(errMsg), runID); err != nil {
			return err
		}
		payload := events.Payload{"status": status, "succeeded": succeeded, "failed": failed}
		if errMsg != "" {
			payload["error"] = errMsg
		}
		_, err := s.eventWriter().Append(ctx, tx, events.RunFinished, events.Scope{RunID: runID, Layer: layerName}, payload)
		return err
	})
}

// RecordAutoMerge stores a gate evaluation. runID may be empty for
// evaluations made outside a run.
func (s *Store) RecordAutoMerge(ctx context.Context, runID string, out automerge.Output) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		payload := events.Payload{"target": out.Target, "applied": out.Applied}
		if out.SkippedReason != "" {
			payload["skipped_reason"] = out.SkippedReason
		}
		if out.AutoMergeState != "" {
			payload["automerge_state"] = out.AutoMergeState
		}
		_, err := s.eventWriter().Append(ctx, tx, events.AutoMergeEvaluated, events.Scope{RunID: runID}, payload)
		return err
	})
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id,layer,mode,started_at,COALESCE(finished_at,''),status,succeeded,failed,COALESCE(error,'') FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Layer, &r.Mode, &r.StartedAt, &r.FinishedAt, &r.Status, &r.Succeeded, &r.Failed, &r.Error); err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

// GetRun returns a run with its items.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	var r Run
	err := s.DB.QueryRowContext(ctx, `SELECT id,layer,mode,started_at,COALESCE(finished_at,''),status,succeeded,failed,COALESCE(error,'') FROM runs WHERE id=?`, id).
		Scan(&r.ID, &r.Layer, &r.Mode, &r.StartedAt, &r.FinishedAt, &r.Status, &r.Succeeded, &r.Failed, &r.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return r, ErrNotFound
	}
	if err != nil {
		return r, err
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id,run_id,item,status,COALESCE(session_id,''),COALESCE(branch,''),COALESCE(pr_number,0),COALESCE(pr_url,''),COALESCE(error,'') FROM run_items WHERE run_id=? ORDER BY id ASC`, id)
	if err != nil {
		return r, err
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.RunID, &it.Item, &it.Status, &it.SessionID, &it.Branch, &it.PRNumber, &it.PRURL, &it.Error); err != nil {
			return r, err
		}
		r.Items = append(r.Items, it)
	}
	return r, rows.Err()
}

// EventsAfter returns events with ids greater than cursor in ascending order.
func (s *Store) EventsAfter(ctx context.Context, cursor int64, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id,ts,type,COALESCE(run_id,''),COALESCE(layer,''),COALESCE(item,''),payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.RunID, &e.Layer, &e.Item, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the highest event id, or 0 when empty.
func (s *Store) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := s.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}
