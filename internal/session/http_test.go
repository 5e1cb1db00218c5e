package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/akitorahayashi/jlo/internal/apperr"
	"github.com/akitorahayashi/jlo/internal/session"
)

func TestCreateSessionSendsWireContract(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "secret-key", r.Header.Get("X-Goog-Api-Key"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"id":"sess-42"}`))
	}))
	defer srv.Close()

	c := session.NewHTTPClient(srv.URL, "secret-key", 5*time.Second)
	resp, err := c.CreateSession(context.Background(), session.Request{
		Prompt:         "do it",
		Source:         "sources/github/acme/app",
		StartingBranch: "jules",
		AutomationMode: session.AutoCreatePR,
	})
	require.NoError(t, err)
	require.Equal(t, "sess-42", resp.SessionID)
	require.Equal(t, "created", resp.Status)

	require.Equal(t, "do it", got["prompt"])
	require.Equal(t, false, got["requirePlanApproval"])
	require.Equal(t, "AUTO_CREATE_PR", got["automationMode"])
	src := got["sourceContext"].(map[string]any)
	require.Equal(t, "sources/github/acme/app", src["source"])
	require.Equal(t, "jules", src["githubRepoContext"].(map[string]any)["startingBranch"])
}

func TestCreateSessionPrefersSessionID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"sessionId":"s-1","id":"other","status":"queued"}`))
	}))
	defer srv.Close()
	resp, err := session.NewHTTPClient(srv.URL, "k", time.Second).CreateSession(context.Background(), session.Request{})
	require.NoError(t, err)
	require.Equal(t, session.Response{SessionID: "s-1", Status: "queued"}, resp)
}

func TestCreateSessionErrors(t *testing.T) {
	cases := []struct {
		name       string
		status     int
		body       string
		retryAfter string
		want       string
	}{
		{"nested message", 400, `{"error":{"message":"bad prompt"}}`, "", "bad prompt"},
		{"top-level message", 403, `{"message":"denied"}`, "", "denied"},
		{"raw body", 502, `upstream down`, "", "upstream down"},
		{"empty 429", 429, ``, "2", "Rate limited (retry_after_ms=2000)"},
		{"empty 500", 500, ``, "", "Server error"},
		{"empty 404", 404, ``, "", "Jules API request failed"},
		{"missing id", 200, `{"status":"ok"}`, "", "No session ID in response"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tc.retryAfter != "" {
					w.Header().Set("Retry-After", tc.retryAfter)
				}
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()
			_, err := session.NewHTTPClient(srv.URL, "k", time.Second).CreateSession(context.Background(), session.Request{})
			var apiErr apperr.SessionAPIError
			require.True(t, errors.As(err, &apiErr))
			require.Equal(t, tc.want, apiErr.Message)
			require.Equal(t, tc.status, apiErr.Status)
		})
	}
}

func TestCreateSessionTransportFailureHasNoStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := session.NewHTTPClient(url, "k", time.Second).CreateSession(context.Background(), session.Request{})
	var apiErr apperr.SessionAPIError
	require.True(t, errors.As(err, &apiErr))
	require.Zero(t, apiErr.Status)
	require.Contains(t, apiErr.Message, "HTTP request failed")
	require.True(t, session.IsRetryable(err))
}

type failingBody struct{}

func (failingBody) Read([]byte) (int, error) { return 0, errors.New("connection reset mid-body") }

func (failingBody) Close() error { return nil }

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestCreateSessionReportsTruncatedBody(t *testing.T) {
	c := session.NewHTTPClient("http://jules.invalid/v1alpha/sessions", "k", time.Second)
	c.HTTPClient = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusBadGateway, Header: http.Header{}, Body: failingBody{}, Request: r}, nil
	})}

	_, err := c.CreateSession(context.Background(), session.Request{})
	var apiErr apperr.SessionAPIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusBadGateway, apiErr.Status)
	require.Contains(t, apiErr.Message, "Failed to read response")
	require.Contains(t, apiErr.Message, "connection reset mid-body")
}
