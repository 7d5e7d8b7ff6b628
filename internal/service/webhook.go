package service

import (
	"net/url"
	"strings"
	"time"

	"github.com/efreitasn/escrowexchange/internal/domain"
	"github.com/efreitasn/escrowexchange/internal/notify"
	"github.com/efreitasn/escrowexchange/internal/store"
)

// UpsertWebhookRequest represents the input for webhook registration.
type UpsertWebhookRequest struct {
	MemberID string
	URL      string
	Events   []string
}

// WebhookService handles webhook subscriptions. Delivery is done by the
// notify.WebhookSink it manages.
type WebhookService struct {
	sink  *notify.WebhookSink
	store *store.Store
	now   func() time.Time
}

// NewWebhookService creates a new WebhookService.
func NewWebhookService(sink *notify.WebhookSink, st *store.Store) *WebhookService {
	return &WebhookService{sink: sink, store: st, now: time.Now}
}

// Upsert validates the request and creates or updates one subscription per
// event. Returns the resulting webhooks and whether any were created.
func (s *WebhookService) Upsert(req UpsertWebhookRequest) ([]notify.Webhook, bool, error) {
	if !s.store.HasWallet(req.MemberID) {
		return nil, false, domain.ErrMemberNotFound
	}

	if req.URL == "" {
		return nil, false, &domain.ValidationError{Message: "url is required"}
	}
	if len(req.URL) > 2048 {
		return nil, false, &domain.ValidationError{Message: "url must be at most 2048 characters"}
	}
	parsed, err := url.ParseRequestURI(req.URL)
	if err != nil || !parsed.IsAbs() {
		return nil, false, &domain.ValidationError{Message: "url must be a valid absolute URL"}
	}
	if parsed.Scheme != "https" {
		return nil, false, &domain.ValidationError{Message: "url must use https scheme"}
	}

	if len(req.Events) == 0 {
		return nil, false, &domain.ValidationError{Message: "events must be a non-empty array"}
	}
	seen := make(map[string]bool, len(req.Events))
	events := make([]string, 0, len(req.Events))
	for _, event := range req.Events {
		if !notify.KnownEvent(event) {
			return nil, false, &domain.ValidationError{
				Message: "Unknown event type: " + event + ". Must be one of: " + strings.Join(notify.Events, ", "),
			}
		}
		if !seen[event] {
			seen[event] = true
			events = append(events, event)
		}
	}

	now := s.now().UTC().Truncate(time.Second)
	anyCreated := false
	webhooks := make([]notify.Webhook, 0, len(events))
	for _, event := range events {
		wh, created := s.sink.Upsert(req.MemberID, event, req.URL, now)
		anyCreated = anyCreated || created
		webhooks = append(webhooks, wh)
	}
	return webhooks, anyCreated, nil
}

// List returns the member's subscriptions.
func (s *WebhookService) List(memberID string) ([]notify.Webhook, error) {
	if !s.store.HasWallet(memberID) {
		return nil, domain.ErrMemberNotFound
	}
	return s.sink.List(memberID), nil
}

// Delete removes a subscription by id.
func (s *WebhookService) Delete(webhookID string) error {
	return s.sink.Delete(webhookID)
}
