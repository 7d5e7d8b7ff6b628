package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/efreitasn/escrowexchange/internal/domain"
)

// Webhook is a member's subscription to one event type.
type Webhook struct {
	ID        string    `json:"webhook_id"`
	MemberID  string    `json:"member_id"`
	Event     string    `json:"event"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WebhookSink delivers events by HTTP POST to the URL the member registered
// for that event type. Delivery is fire-and-forget: Publish returns before
// the request is sent and failures are only logged.
type WebhookSink struct {
	client *http.Client
	logger *slog.Logger

	mu    sync.RWMutex
	hooks map[string]map[string]*Webhook // member_id → event → webhook
	byID  map[string]*Webhook

	inflight sync.WaitGroup
}

// NewWebhookSink creates a sink that sends requests with client.
func NewWebhookSink(client *http.Client, logger *slog.Logger) *WebhookSink {
	return &WebhookSink{
		client: client,
		logger: logger,
		hooks:  make(map[string]map[string]*Webhook),
		byID:   make(map[string]*Webhook),
	}
}

// Upsert creates the (member, event) subscription or points the existing
// one at url. It reports whether a new subscription was created.
func (s *WebhookSink) Upsert(memberID, event, url string, now time.Time) (Webhook, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events, ok := s.hooks[memberID]
	if !ok {
		events = make(map[string]*Webhook)
		s.hooks[memberID] = events
	}
	if existing, ok := events[event]; ok {
		existing.URL = url
		existing.UpdatedAt = now
		return *existing, false
	}

	wh := &Webhook{
		ID:        uuid.NewString(),
		MemberID:  memberID,
		Event:     event,
		URL:       url,
		CreatedAt: now,
		UpdatedAt: now,
	}
	events[event] = wh
	s.byID[wh.ID] = wh
	return *wh, true
}

// List returns the member's subscriptions ordered by event.
func (s *WebhookSink) List(memberID string) []Webhook {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Webhook, 0, len(s.hooks[memberID]))
	for _, wh := range s.hooks[memberID] {
		result = append(result, *wh)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Event < result[j].Event })
	return result
}

// Delete removes a subscription by id.
func (s *WebhookSink) Delete(webhookID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wh, ok := s.byID[webhookID]
	if !ok {
		return domain.ErrWebhookNotFound
	}
	delete(s.byID, webhookID)
	delete(s.hooks[wh.MemberID], wh.Event)
	return nil
}

func (s *WebhookSink) lookup(memberID, event string) (Webhook, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wh, ok := s.hooks[memberID][event]
	if !ok {
		return Webhook{}, false
	}
	return *wh, true
}

// Publish implements Sink. Members without a subscription for ev.Event are
// skipped.
func (s *WebhookSink) Publish(_ context.Context, _ string, ev FillEvent) error {
	wh, ok := s.lookup(ev.MemberID, ev.Event)
	if !ok {
		return nil
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Event, err)
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.deliver(wh, body)
	}()
	return nil
}

// Wait blocks until every delivery started so far has finished.
func (s *WebhookSink) Wait() {
	s.inflight.Wait()
}

func (s *WebhookSink) deliver(wh Webhook, body []byte) {
	req, err := http.NewRequest(http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		s.logger.Warn("webhook request not built", slog.String("webhook_id", wh.ID), slog.String("error", err.Error()))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-Id", uuid.NewString())
	req.Header.Set("X-Webhook-Id", wh.ID)
	req.Header.Set("X-Event-Type", wh.Event)

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("webhook delivery failed",
			slog.String("webhook_id", wh.ID),
			slog.String("member_id", wh.MemberID),
			slog.String("error", err.Error()),
		)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		s.logger.Warn("webhook rejected",
			slog.String("webhook_id", wh.ID),
			slog.String("member_id", wh.MemberID),
			slog.Int("status", resp.StatusCode),
		)
	}
}
