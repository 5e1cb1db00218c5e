package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/akitorahayashi/jlo/internal/config"
	"github.com/akitorahayashi/jlo/internal/ledger"
	"github.com/akitorahayashi/jlo/internal/logging"
)

const (
	defaultTimeout = 5 * time.Second
	batchSize      = 100
)

// EventSource reads ledger events. ledger.Store implements it.
type EventSource interface {
	EventsAfter(ctx context.Context, cursor int64, limit int) ([]ledger.Event, error)
}

// Notifier posts run events to the configured webhooks.
type Notifier struct {
	Source   EventSource
	Webhooks []config.WebhookConfig
	Client   *http.Client
	Logger   *zap.SugaredLogger
	// NewDeliveryID defaults to uuid.NewString.
	NewDeliveryID func() string
}

func New(source EventSource, hooks []config.WebhookConfig, logger *zap.SugaredLogger) *Notifier {
	return &Notifier{Source: source, Webhooks: hooks, Logger: logger}
}

// Deliver sends every event after cursor to each enabled webhook whose filter
// matches, and returns the number of successful deliveries. Failures are
// logged; delivery to a hook stops at its first failure.
func (n *Notifier) Deliver(ctx context.Context, cursor int64) int {
	log := logging.OrNop(n.Logger)
	hooks := n.active()
	if len(hooks) == 0 {
		return 0
	}
	var evts []ledger.Event
	for {
		batch, err := n.Source.EventsAfter(ctx, cursor, batchSize)
		if err != nil {
			log.Warnw("webhook: fetch events failed", "error", err)
			break
		}
		evts = append(evts, batch...)
		if len(batch) < batchSize {
			break
		}
		cursor = batch[len(batch)-1].ID
	}
	delivered := 0
	for _, hook := range hooks {
		filter := newEventFilter(hook.Events)
		for _, evt := range evts {
			if !filter.match(evt.Type) {
				continue
			}
			if err := n.post(ctx, hook, evt); err != nil {
				log.Warnw("webhook: delivery failed", "url", hook.URL, "event", evt.Type, "error", err)
				break
			}
			delivered++
		}
	}
	return delivered
}

func (n *Notifier) active() []config.WebhookConfig {
	var out []config.WebhookConfig
	for _, hook := range n.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		out = append(out, hook)
	}
	return out
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	RunID      string          `json:"run_id,omitempty"`
	Layer      string          `json:"layer,omitempty"`
	Item       string          `json:"item,omitempty"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
	PayloadRaw string          `json:"payload_raw,omitempty"`
}

func (n *Notifier) post(ctx context.Context, hook config.WebhookConfig, evt ledger.Event) error {
	payload := json.RawMessage("{}")
	var raw string
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			payload = json.RawMessage(evt.Payload)
		} else {
			raw = evt.Payload
		}
	}
	data, err := json.Marshal(webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		RunID:      evt.RunID,
		Layer:      evt.Layer,
		Item:       evt.Item,
		TS:         evt.TS,
		Payload:    payload,
		PayloadRaw: raw,
	})
	if err != nil {
		return err
	}
	timeout := defaultTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	client := n.Client
	if client == nil {
		client = &http.Client{}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	deliveryID := uuid.NewString
	if n.NewDeliveryID != nil {
		deliveryID = n.NewDeliveryID
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Jlo-Event", evt.Type)
	req.Header.Set("X-Jlo-Delivery", deliveryID())
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Jlo-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(types []string) eventFilter {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		if key := strings.TrimSpace(t); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evtType string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evtType]
	return ok
}
