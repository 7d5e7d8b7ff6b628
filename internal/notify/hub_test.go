package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string, channels ...string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if len(channels) > 0 {
		if err := conn.WriteJSON(subscribeRequest{Op: "subscribe", Channels: channels}); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	}
	return conn
}

func waitForSubscribers(t *testing.T, hub *Hub, channel string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers(channel) < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d subscribers on %s", n, channel)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_DeliversToSubscribedChannelOnly(t *testing.T) {
	hub, url := newTestHub(t)
	alice := dial(t, url, ChannelFor("alice"))
	bob := dial(t, url, ChannelFor("bob"))
	waitForSubscribers(t, hub, ChannelFor("alice"), 1)
	waitForSubscribers(t, hub, ChannelFor("bob"), 1)

	if err := hub.Publish(context.Background(), ChannelFor("alice"), FillEvent{Event: EventOrderFilled, OrderID: "o1"}); err != nil {
		t.Fatalf("Publish() unexpected error: %v", err)
	}

	alice.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := alice.ReadMessage()
	if err != nil {
		t.Fatalf("alice read: %v", err)
	}
	var ev FillEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.OrderID != "o1" || ev.Event != EventOrderFilled {
		t.Errorf("alice got %+v", ev)
	}

	bob.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := bob.ReadMessage(); err == nil {
		t.Error("bob received an event addressed to alice")
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	hub, url := newTestHub(t)
	conn := dial(t, url, "myOrder:carol")
	waitForSubscribers(t, hub, "myOrder:carol", 1)

	if err := conn.WriteJSON(subscribeRequest{Op: "unsubscribe", Channels: []string{"myOrder:carol"}}); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers("myOrder:carol") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription not removed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_PublishWithoutSubscribers(t *testing.T) {
	hub, _ := newTestHub(t)
	if err := hub.Publish(context.Background(), "myOrder:nobody", FillEvent{}); err != nil {
		t.Fatalf("Publish() unexpected error: %v", err)
	}
}
