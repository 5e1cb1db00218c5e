package session

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/akitorahayashi/jlo/internal/apperr"
	"github.com/akitorahayashi/jlo/internal/logging"
)

const (
	defaultMaxDelayMs = 30_000
	maxBackoffShift   = 6
	maxLogChars       = 512
)

var transientMarkers = []string{"timeout", "timed out", "connect", "connection", "temporary"}

// RetryPolicy bounds the retry loop. Delays are in milliseconds.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelayMs int64
	MaxDelayMs  int64
}

// NewRetryPolicy clamps configuration values into a valid policy.
func NewRetryPolicy(maxAttempts int, baseDelayMs int64) RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelayMs < 1 {
		baseDelayMs = 1
	}
	maxDelay := int64(defaultMaxDelayMs)
	if baseDelayMs > maxDelay {
		maxDelay = baseDelayMs
	}
	return RetryPolicy{MaxAttempts: maxAttempts, BaseDelayMs: baseDelayMs, MaxDelayMs: maxDelay}
}

// IsRetryable classifies an error from the inner client.
func IsRetryable(err error) bool {
	var apiErr apperr.SessionAPIError
	if errors.As(err, &apiErr) {
		s := apiErr.Status
		if s == 408 || s == 429 || (s >= 500 && s <= 599) {
			return true
		}
		return hasTransientMarker(apiErr.Message)
	}
	return false
}

func hasTransientMarker(msg string) bool {
	lower := strings.ToLower(msg)
	for _, m := range transientMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// Delay computes the wait after failed attempt k (1-indexed). A server
// retry_after_ms hint replaces the exponential backoff. jitter(n) must return
// a value in [0, n).
func (p RetryPolicy) Delay(k int, err error, jitter func(n int64) int64) time.Duration {
	if ms, ok := retryAfterHint(err); ok {
		return time.Duration(min(ms, p.MaxDelayMs)) * time.Millisecond
	}
	shift := min(max(k-1, 0), maxBackoffShift)
	backoff := min(p.BaseDelayMs<<shift, p.MaxDelayMs)
	var j int64
	if span := backoff / 4; span > 0 && jitter != nil {
		j = jitter(span)
	}
	return time.Duration(min(backoff+j, p.MaxDelayMs)) * time.Millisecond
}

func retryAfterHint(err error) (int64, bool) {
	if err == nil {
		return 0, false
	}
	msg := err.Error()
	const key = "retry_after_ms="
	idx := strings.Index(msg, key)
	if idx < 0 {
		return 0, false
	}
	rest := msg[idx+len(key):]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	ms, perr := strconv.ParseInt(rest[:end], 10, 64)
	if perr != nil {
		return 0, false
	}
	return ms, true
}

// RetryingClient wraps a Creator with classification-driven retries.
type RetryingClient struct {
	Inner  Creator
	Policy RetryPolicy
	Logger *zap.SugaredLogger
	// Sleep waits for d or until ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
	// Jitter returns a value in [0, n).
	Jitter func(n int64) int64
}

// NewRetryingClient wraps inner with the default sleeper and jitter source.
func NewRetryingClient(inner Creator, policy RetryPolicy, logger *zap.SugaredLogger) *RetryingClient {
	return &RetryingClient{
		Inner:  inner,
		Policy: policy,
		Logger: logging.OrNop(logger),
		Sleep:  sleepContext,
		Jitter: rand.Int63n,
	}
}

// CreateSession calls the inner client until it succeeds, fails with a
// non-retryable error, or MaxAttempts calls have been made.
func (c *RetryingClient) CreateSession(ctx context.Context, req Request) (Response, error) {
	logger := logging.OrNop(c.Logger)
	sleep := c.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	attempts := max(c.Policy.MaxAttempts, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := c.Inner.CreateSession(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if attempt == attempts || !IsRetryable(err) || ctx.Err() != nil {
			break
		}
		delay := c.Policy.Delay(attempt, err, c.Jitter)
		logger.Warnf("create_session failed (attempt %d/%d): %s. Retrying in %d ms.",
			attempt, attempts, SanitizeForLog(err.Error()), delay.Milliseconds())
		if err := sleep(ctx, delay); err != nil {
			return Response{}, err
		}
	}
	return Response{}, lastErr
}

// SanitizeForLog strips control characters, collapses whitespace and bounds
// the length of upstream error text before it reaches a log line.
func SanitizeForLog(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	runes := []rune(cleaned)
	if len(runes) > maxLogChars {
		return string(runes[:maxLogChars]) + " [truncated]"
	}
	return cleaned
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
