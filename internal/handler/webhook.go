package handler

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/escrowexchange/internal/domain"
	"github.com/efreitasn/escrowexchange/internal/notify"
	"github.com/efreitasn/escrowexchange/internal/service"
)

// WebhookHandler serves a member's webhook subscriptions. Each subscription
// is one (member, event) pair with a target URL, so subscribing to several
// events at once creates or updates one subscription per event.
type WebhookHandler struct {
	svc *service.WebhookService
}

func NewWebhookHandler(svc *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{svc: svc}
}

type subscribeRequest struct {
	MemberID string   `json:"member_id"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
}

// events returns the requested event names with duplicates dropped. Names
// the notifier never emits are refused here, before the service is asked
// to do anything.
func (req subscribeRequest) events() ([]string, error) {
	if len(req.Events) == 0 {
		return nil, &domain.ValidationError{Message: "events must be a non-empty array"}
	}
	out := make([]string, 0, len(req.Events))
	for _, ev := range req.Events {
		if !notify.KnownEvent(ev) {
			return nil, unknownEventError(ev)
		}
		if !slices.Contains(out, ev) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func unknownEventError(ev string) error {
	return &domain.ValidationError{
		Message: fmt.Sprintf("Unknown event type: %s. Must be one of: %s", ev, strings.Join(notify.Events, ", ")),
	}
}

type subscription struct {
	WebhookID string `json:"webhook_id"`
	MemberID  string `json:"member_id"`
	Event     string `json:"event"`
	URL       string `json:"url"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type subscriptionList struct {
	Webhooks []subscription `json:"webhooks"`
}

// newSubscriptionList renders hooks, keeping only those for event when it
// is non-empty.
func newSubscriptionList(hooks []notify.Webhook, event string) subscriptionList {
	list := subscriptionList{Webhooks: make([]subscription, 0, len(hooks))}
	for _, wh := range hooks {
		if event != "" && wh.Event != event {
			continue
		}
		list.Webhooks = append(list.Webhooks, subscription{
			WebhookID: wh.ID,
			MemberID:  wh.MemberID,
			Event:     wh.Event,
			URL:       wh.URL,
			CreatedAt: formatTime(wh.CreatedAt),
			UpdatedAt: formatTime(wh.UpdatedAt),
		})
	}
	return list
}

// Subscribe handles POST /webhooks. The response is 201 when at least one
// subscription is new and 200 when every event only had its URL replaced.
func (h *WebhookHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	events, err := req.events()
	if err != nil {
		writeWebhookError(w, err)
		return
	}

	hooks, created, err := h.svc.Upsert(service.UpsertWebhookRequest{
		MemberID: req.MemberID,
		URL:      req.URL,
		Events:   events,
	})
	if err != nil {
		writeWebhookError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	WriteJSON(w, status, newSubscriptionList(hooks, ""))
}

// Subscriptions handles GET /webhooks?member_id=&event=. The event filter
// is optional.
func (h *WebhookHandler) Subscriptions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	memberID := q.Get("member_id")
	if memberID == "" {
		WriteError(w, http.StatusBadRequest, "validation_error", "member_id query parameter is required")
		return
	}
	event := q.Get("event")
	if event != "" && !notify.KnownEvent(event) {
		writeWebhookError(w, unknownEventError(event))
		return
	}

	hooks, err := h.svc.List(memberID)
	if err != nil {
		writeWebhookError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, newSubscriptionList(hooks, event))
}

// Unsubscribe handles DELETE /webhooks/{webhook_id}.
func (h *WebhookHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(chi.URLParam(r, "webhook_id")); err != nil {
		writeWebhookError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeWebhookError(w http.ResponseWriter, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		WriteError(w, http.StatusBadRequest, "validation_error", ve.Message)
	case errors.Is(err, domain.ErrMemberNotFound):
		WriteError(w, http.StatusNotFound, "member_not_found", err.Error())
	case errors.Is(err, domain.ErrWebhookNotFound):
		WriteError(w, http.StatusNotFound, "webhook_not_found", err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}
