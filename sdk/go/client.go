package jlosdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal jlo HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BasePath:    "/v0",
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

// Run is a recorded layer run.
type Run struct {
	ID         string    `json:"id"`
	Layer      string    `json:"layer"`
	Mode       string    `json:"mode"`
	StartedAt  string    `json:"started_at"`
	FinishedAt string    `json:"finished_at,omitempty"`
	Status     string    `json:"status"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Error      string    `json:"error,omitempty"`
	Items      []RunItem `json:"items,omitempty"`
}

// RunItem is the outcome of one work item in a run.
type RunItem struct {
	Item      string `json:"item"`
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
	Branch    string `json:"branch,omitempty"`
	PRNumber  int    `json:"pr_number,omitempty"`
	PRURL     string `json:"pr_url,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Event is a ledger entry. Payload is the raw JSON document.
type Event struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts"`
	Type    string `json:"type"`
	RunID   string `json:"run_id,omitempty"`
	Layer   string `json:"layer,omitempty"`
	Item    string `json:"item,omitempty"`
	Payload string `json:"payload_json"`
}

// PaginatedEvents wraps event listings. NextCursor is zero on the last page.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor int64   `json:"next_cursor"`
}

// AutoMergeResult reports an auto-merge gate evaluation.
type AutoMergeResult struct {
	SchemaVersion  int    `json:"schema_version"`
	Applied        bool   `json:"applied"`
	SkippedReason  string `json:"skipped_reason,omitempty"`
	Target         int    `json:"target"`
	AutoMergeState string `json:"automerge_state,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Health pings the unauthenticated health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "health", nil)
}

// ListRuns returns the most recent runs first.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	endpoint := "runs"
	if limit > 0 {
		endpoint = fmt.Sprintf("runs?limit=%d", limit)
	}
	var resp struct {
		Items []Run `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, &resp)
	return resp.Items, err
}

// GetRun fetches a run with its items.
func (c *Client) GetRun(ctx context.Context, id string) (Run, error) {
	var resp Run
	err := c.do(ctx, http.MethodGet, "runs/"+url.PathEscape(id), &resp)
	return resp, err
}

// EventsPage returns events after cursor.
func (c *Client) EventsPage(ctx context.Context, cursor int64, limit int) (PaginatedEvents, error) {
	q := url.Values{}
	if cursor > 0 {
		q.Set("cursor", fmt.Sprint(cursor))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, &resp)
	return resp, err
}

// EnableAutoMerge asks the server to evaluate the auto-merge gate for a pull
// request and enable auto-merge when it passes.
func (c *Client) EnableAutoMerge(ctx context.Context, number int) (AutoMergeResult, error) {
	var resp AutoMergeResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("pulls/%d/automerge", number), &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(nil))
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
