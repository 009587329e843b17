package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cord/platform/internal/pubsub"

	"github.com/gorilla/websocket"
)

type fakeBus struct {
	events chan pubsub.Event
}

func (f *fakeBus) Subscribe(ctx context.Context, appID string) (<-chan pubsub.Event, error) {
	return f.events, nil
}

func TestVisible(t *testing.T) {
	viewer := Viewer{AppID: "app-1", UserID: "alice", GroupIDs: []string{"g1"}}
	cases := []struct {
		name  string
		event pubsub.Event
		want  bool
	}{
		{"group member", pubsub.Event{AppID: "app-1", GroupID: "g1", Type: pubsub.MessageAdded}, true},
		{"other group", pubsub.Event{AppID: "app-1", GroupID: "g2", Type: pubsub.MessageAdded}, false},
		{"other app", pubsub.Event{AppID: "app-2", GroupID: "g1"}, false},
		{"own notification", pubsub.Event{AppID: "app-1", UserID: "alice", Type: pubsub.NotificationCreated}, true},
		{"someone else's notification", pubsub.Event{AppID: "app-1", UserID: "bob", Type: pubsub.NotificationCreated}, false},
		{"grouped notification for bob", pubsub.Event{AppID: "app-1", GroupID: "g1", UserID: "bob", Type: pubsub.NotificationCreated}, false},
		{"typing by bob", pubsub.Event{AppID: "app-1", GroupID: "g1", UserID: "bob", Type: pubsub.Typing}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Visible(tc.event, viewer); got != tc.want {
				t.Fatalf("Visible() = %v, want %v", got, tc.want)
			}
		})
	}
	if !Visible(pubsub.Event{AppID: "app-1", GroupID: "g9"}, Viewer{AppID: "app-1"}) {
		t.Fatal("unrestricted viewer should see every group")
	}
}

func TestServeForwardsVisibleEvents(t *testing.T) {
	bus := &fakeBus{events: make(chan pubsub.Event, 4)}
	handler := NewHandler(bus, "*")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.Serve(w, r, Viewer{AppID: "app-1", UserID: "alice", GroupIDs: []string{"g1"}})
	}))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	bus.events <- pubsub.Event{AppID: "app-1", GroupID: "g2", Type: pubsub.MessageAdded, ThreadID: "hidden"}
	bus.events <- pubsub.Event{AppID: "app-1", GroupID: "g1", Type: pubsub.MessageAdded, ThreadID: "t1"}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var event pubsub.Event
	if err := json.Unmarshal(raw, &event); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.ThreadID != "t1" {
		t.Fatalf("expected visible event t1, got %+v", event)
	}
}
