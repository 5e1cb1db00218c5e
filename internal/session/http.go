package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/akitorahayashi/jlo/internal/apperr"
)

// HTTPClient talks to the session API over HTTP.
type HTTPClient struct {
	APIURL     string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// NewHTTPClient creates a client with the given request timeout.
func NewHTTPClient(apiURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		APIURL:  apiURL,
		APIKey:  apiKey,
		Timeout: timeout,
	}
}

type wireRequest struct {
	Prompt              string            `json:"prompt"`
	SourceContext       wireSourceContext `json:"sourceContext"`
	RequirePlanApproval bool              `json:"requirePlanApproval"`
	AutomationMode      AutomationMode    `json:"automationMode"`
}

type wireSourceContext struct {
	Source            string          `json:"source"`
	GithubRepoContext wireRepoContext `json:"githubRepoContext"`
}

type wireRepoContext struct {
	StartingBranch string `json:"startingBranch"`
}

type wireResponse struct {
	SessionID string `json:"sessionId"`
	ID        string `json:"id"`
	Status    string `json:"status"`
}

type wireError struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

// CreateSession posts req to the API.
func (c *HTTPClient) CreateSession(ctx context.Context, req Request) (Response, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	var buf bytes.Buffer
	body := wireRequest{
		Prompt: req.Prompt,
		SourceContext: wireSourceContext{
			Source:            req.Source,
			GithubRepoContext: wireRepoContext{StartingBranch: req.StartingBranch},
		},
		RequirePlanApproval: req.RequirePlanApproval,
		AutomationMode:      req.AutomationMode,
	}
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return Response{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIURL, &buf)
	if err != nil {
		return Response{}, apperr.SessionAPIError{Message: fmt.Sprintf("HTTP request failed: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Goog-Api-Key", c.APIKey)
	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return Response{}, apperr.SessionAPIError{Message: fmt.Sprintf("HTTP request failed: %v", err)}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Response{}, apperr.SessionAPIError{Message: fmt.Sprintf("Failed to read response: %v", err), Status: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := errorMessage(resp.StatusCode, data)
		if ms, ok := retryAfterMs(resp.Header.Get("Retry-After")); ok {
			msg = fmt.Sprintf("%s (retry_after_ms=%d)", msg, ms)
		}
		return Response{}, apperr.SessionAPIError{Message: msg, Status: resp.StatusCode}
	}
	var out wireResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return Response{}, apperr.SessionAPIError{Message: fmt.Sprintf("Failed to parse response: %v", err), Status: resp.StatusCode}
	}
	id := out.SessionID
	if id == "" {
		id = out.ID
	}
	if id == "" {
		return Response{}, apperr.SessionAPIError{Message: "No session ID in response", Status: resp.StatusCode}
	}
	status := out.Status
	if status == "" {
		status = "created"
	}
	return Response{SessionID: id, Status: status}, nil
}

func errorMessage(status int, body []byte) string {
	var we wireError
	if json.Unmarshal(body, &we) == nil {
		if we.Error != nil && strings.TrimSpace(we.Error.Message) != "" {
			return we.Error.Message
		}
		if strings.TrimSpace(we.Message) != "" {
			return we.Message
		}
	}
	if raw := strings.TrimSpace(string(body)); raw != "" {
		return raw
	}
	switch {
	case status == http.StatusTooManyRequests:
		return "Rate limited"
	case status >= 500:
		return "Server error"
	default:
		return "Jules API request failed"
	}
}

func retryAfterMs(header string) (int64, bool) {
	secs, err := strconv.ParseInt(strings.TrimSpace(header), 10, 64)
	if err != nil || secs < 0 {
		return 0, false
	}
	return secs * 1000, true
}
