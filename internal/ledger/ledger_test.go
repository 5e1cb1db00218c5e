package ledger_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/akitorahayashi/jlo/internal/automerge"
	"github.com/akitorahayashi/jlo/internal/events"
	"github.com/akitorahayashi/jlo/internal/ledger"
)

func newTestStore(t *testing.T) *ledger.Store {
	t.Helper()
	s, err := ledger.Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	s.Now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return s
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	run, err := s.StartRun(ctx, "planners", "real")
	require.NoError(t, err)
	require.Equal(t, ledger.RunRunning, run.Status)

	require.NoError(t, s.RecordItem(ctx, run.ID, "planners", ledger.Item{Item: "planners:a.yml", Status: "dispatched", SessionID: "s-1"}))
	require.NoError(t, s.RecordItem(ctx, run.ID, "planners", ledger.Item{Item: "planners:b.yml", Status: "failed", Error: "boom"}))
	require.NoError(t, s.FinishRun(ctx, run.ID, ledger.RunSucceeded, 1, 1, ""))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, ledger.RunSucceeded, got.Status)
	require.Equal(t, 1, got.Succeeded)
	require.Equal(t, 1, got.Failed)
	require.Equal(t, "2026-01-02T03:04:05Z", got.FinishedAt)
	require.Len(t, got.Items, 2)
	require.Equal(t, "s-1", got.Items[0].SessionID)
	require.Equal(t, "boom", got.Items[1].Error)

	evs, err := s.EventsAfter(ctx, 0, 10)
	require.NoError(t, err)
	var types []string
	for _, e := range evs {
		types = append(types, e.Type)
		require.Equal(t, run.ID, e.RunID)
	}
	require.Equal(t, []string{events.RunStarted, events.ItemDispatched, events.ItemFailed, events.RunFinished}, types)

	after, err := s.EventsAfter(ctx, evs[1].ID, 10)
	require.NoError(t, err)
	require.Len(t, after, 2)

	latest, err := s.LatestEventID(ctx)
	require.NoError(t, err)
	require.Equal(t, evs[3].ID, latest)
}

func TestGetRunUnknown(t *testing.T) {
	_, err := newTestStore(t).GetRun(context.Background(), "nope")
	require.ErrorIs(t, err, ledger.ErrNotFound)
	err = newTestStore(t).FinishRun(context.Background(), "nope", ledger.RunFailed, 0, 0, "")
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestListRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	first, err := s.StartRun(ctx, "observers", "mock")
	require.NoError(t, err)
	second, err := s.StartRun(ctx, "deciders", "real")
	require.NoError(t, err)

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, second.ID, runs[0].ID)
	require.Equal(t, first.ID, runs[1].ID)

	runs, err = s.ListRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
}

func TestRecordAutoMerge(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.RecordAutoMerge(ctx, "", automerge.Output{SchemaVersion: 1, Target: 9, SkippedReason: "PR is a draft"}))

	evs, err := s.EventsAfter(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, events.AutoMergeEvaluated, evs[0].Type)
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(evs[0].Payload), &payload))
	require.Equal(t, float64(9), payload["target"])
	require.Equal(t, "PR is a draft", payload["skipped_reason"])
}
