package notify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/akitorahayashi/jlo/internal/config"
	"github.com/akitorahayashi/jlo/internal/events"
	"github.com/akitorahayashi/jlo/internal/ledger"
	"github.com/akitorahayashi/jlo/internal/notify"
)

type received struct {
	event    string
	delivery string
	secret   string
	body     map[string]any
}

func hookServer(t *testing.T, status int) (*httptest.Server, func() []received) {
	t.Helper()
	var (
		mu  sync.Mutex
		got []received
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		got = append(got, received{
			event:    r.Header.Get("X-Jlo-Event"),
			delivery: r.Header.Get("X-Jlo-Delivery"),
			secret:   r.Header.Get("X-Jlo-Secret"),
			body:     body,
		})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []received {
		mu.Lock()
		defer mu.Unlock()
		return append([]received(nil), got...)
	}
}

func seed(t *testing.T) (*ledger.Store, int64) {
	t.Helper()
	ctx := context.Background()
	s, err := ledger.Open(ctx, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	_, err = s.StartRun(ctx, "narrator", "mock")
	require.NoError(t, err)
	cursor, err := s.LatestEventID(ctx)
	require.NoError(t, err)

	run, err := s.StartRun(ctx, "observers", "real")
	require.NoError(t, err)
	require.NoError(t, s.RecordItem(ctx, run.ID, "observers", ledger.Item{Item: "observers/qa", Status: "dispatched"}))
	require.NoError(t, s.FinishRun(ctx, run.ID, ledger.RunSucceeded, 1, 0, ""))
	return s, cursor
}

func TestDeliverPostsEventsAfterCursor(t *testing.T) {
	s, cursor := seed(t)
	srv, got := hookServer(t, http.StatusNoContent)

	n := notify.New(s, []config.WebhookConfig{{URL: srv.URL, Secret: "shh"}}, nil)
	n.NewDeliveryID = func() string { return "d-1" }
	require.Equal(t, 3, n.Deliver(context.Background(), cursor))

	calls := got()
	require.Len(t, calls, 3)
	require.Equal(t, events.RunStarted, calls[0].event)
	require.Equal(t, events.RunFinished, calls[2].event)
	require.Equal(t, "shh", calls[0].secret)
	require.Equal(t, "d-1", calls[0].delivery)
	require.Equal(t, "observers", calls[0].body["layer"])
	require.Equal(t, "real", calls[0].body["payload"].(map[string]any)["mode"])
}

func TestDeliverFiltersAndSkipsDisabled(t *testing.T) {
	s, cursor := seed(t)
	srv, got := hookServer(t, http.StatusOK)
	off := false

	n := notify.New(s, []config.WebhookConfig{
		{URL: srv.URL, Events: []string{events.RunFinished}},
		{URL: srv.URL, Enabled: &off},
	}, nil)
	require.Equal(t, 1, n.Deliver(context.Background(), cursor))
	require.Len(t, got(), 1)
	require.Empty(t, got()[0].secret)
}

func TestDeliverStopsHookAtFirstFailure(t *testing.T) {
	s, cursor := seed(t)
	srv, got := hookServer(t, http.StatusInternalServerError)

	n := notify.New(s, []config.WebhookConfig{{URL: srv.URL}}, nil)
	require.Zero(t, n.Deliver(context.Background(), cursor))
	require.Len(t, got(), 1)
}
