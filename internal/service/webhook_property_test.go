package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"pgregory.net/rapid"

	"github.com/efreitasn/escrowexchange/internal/notify"
	"github.com/efreitasn/escrowexchange/internal/store"
)

// Re-registering the same (member, event) pair keeps the webhook id stable;
// only the URL follows the latest registration.
func TestProperty_WebhookUpsertIdempotency(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		st := store.New()
		memberID := fmt.Sprintf("member-%d", rapid.IntRange(1, 9999).Draw(t, "memberSuffix"))
		if _, err := NewMemberService(st).Register(context.Background(), RegisterMemberRequest{MemberID: memberID}); err != nil {
			t.Fatalf("register: %v", err)
		}
		sink := notify.NewWebhookSink(http.DefaultClient, slog.New(slog.NewTextHandler(io.Discard, nil)))
		svc := NewWebhookService(sink, st)

		event := rapid.SampledFrom([]string{
			notify.EventOrderFilled, notify.EventOrderFailed, notify.EventOrderCancelled,
		}).Draw(t, "event")
		urls := rapid.SliceOfN(rapid.IntRange(1, 99999), 1, 10).Draw(t, "urls")

		var id string
		for i, suffix := range urls {
			url := fmt.Sprintf("https://example.com/hook/%d", suffix)
			webhooks, created, err := svc.Upsert(UpsertWebhookRequest{MemberID: memberID, URL: url, Events: []string{event}})
			if err != nil {
				t.Fatalf("upsert %d: %v", i, err)
			}
			if created != (i == 0) {
				t.Fatalf("upsert %d: created=%v", i, created)
			}
			if i == 0 {
				id = webhooks[0].ID
			}
			if webhooks[0].ID != id {
				t.Fatalf("upsert %d: id changed from %s to %s", i, id, webhooks[0].ID)
			}
			if webhooks[0].URL != url {
				t.Fatalf("upsert %d: url %s, want %s", i, webhooks[0].URL, url)
			}
		}

		list, err := svc.List(memberID)
		if err != nil || len(list) != 1 {
			t.Fatalf("List() = %+v, %v; want one subscription", list, err)
		}
	})
}
