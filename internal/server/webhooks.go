package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"museu/internal/config"
	"museu/internal/domain"
	"museu/internal/repo"
)

const (
	webhookInterval = 2 * time.Second
	webhookTimeout  = 5 * time.Second
	webhookBatch    = 100
)

// eventSource is the part of repo.Repo the dispatcher polls.
type eventSource interface {
	EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error)
	LatestEventID(ctx context.Context) (int64, error)
}

var _ eventSource = repo.Repo{}

// hookState is one enabled webhook and the last event it has seen.
type hookState struct {
	config.WebhookConfig
	client *http.Client
	types  map[string]bool
	cursor int64
	primed bool
}

func (h *hookState) wants(evtType string) bool {
	return len(h.types) == 0 || h.types[evtType]
}

type webhookDispatcher struct {
	source  eventSource
	network string
	hooks   []*hookState
	logger  *log.Logger
}

// StartWebhooks forwards committed events to the configured webhooks until
// ctx is done. Each hook starts from the latest event at startup.
func StartWebhooks(ctx context.Context, r repo.Repo, cfg *config.Config, logger *log.Logger) {
	if d := newWebhookDispatcher(r, cfg, logger); d != nil {
		go d.run(ctx, webhookInterval)
	}
}

func newWebhookDispatcher(src eventSource, cfg *config.Config, logger *log.Logger) *webhookDispatcher {
	if cfg == nil {
		return nil
	}
	if logger == nil {
		logger = log.Default()
	}
	d := &webhookDispatcher{source: src, network: cfg.Network.Name, logger: logger}
	for _, wh := range cfg.Webhooks {
		if (wh.Enabled != nil && !*wh.Enabled) || strings.TrimSpace(wh.URL) == "" {
			continue
		}
		timeout := webhookTimeout
		if wh.TimeoutSeconds > 0 {
			timeout = time.Duration(wh.TimeoutSeconds) * time.Second
		}
		h := &hookState{WebhookConfig: wh, client: &http.Client{Timeout: timeout}, types: map[string]bool{}}
		for _, t := range wh.Events {
			if t = strings.TrimSpace(t); t != "" {
				h.types[t] = true
			}
		}
		d.hooks = append(d.hooks, h)
	}
	if len(d.hooks) == 0 {
		return nil
	}
	return d
}

func (d *webhookDispatcher) run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		d.dispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *webhookDispatcher) dispatchAll(ctx context.Context) {
	for _, h := range d.hooks {
		d.deliver(ctx, h)
	}
}

// deliver sends h every event after its cursor. A failed delivery stops the
// batch so the same event is retried on the next tick.
func (d *webhookDispatcher) deliver(ctx context.Context, h *hookState) {
	if !h.primed {
		latest, err := d.source.LatestEventID(ctx)
		if err != nil {
			d.logger.Printf("webhook: init cursor for %s: %v", h.URL, err)
			return
		}
		h.cursor, h.primed = latest, true
	}
	events, err := d.source.EventsAfter(ctx, webhookBatch, h.cursor)
	if err != nil {
		d.logger.Printf("webhook: fetch events: %v", err)
		return
	}
	for _, evt := range events {
		if h.wants(evt.Type) {
			if err := d.post(ctx, h, evt); err != nil {
				d.logger.Printf("webhook: deliver %d to %s: %v", evt.ID, h.URL, err)
				return
			}
		}
		h.cursor = evt.ID
	}
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	Network    string          `json:"network"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func (d *webhookDispatcher) post(ctx context.Context, h *hookState, evt domain.Event) error {
	payload := json.RawMessage("{}")
	if json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	data, err := json.Marshal(webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		Network:    d.network,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Museu-Event", evt.Type)
	req.Header.Set("X-Museu-Delivery", strconv.FormatInt(evt.ID, 10))
	if h.Secret != "" {
		req.Header.Set("X-Museu-Secret", h.Secret)
	}
	res, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
