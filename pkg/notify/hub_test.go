package notify

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"mercator-hq/dispatch/pkg/scheduler"
)

func newTestHub(t *testing.T) (*Hub, *httptest.Server, func()) {
	t.Helper()

	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(hub)
	return hub, server, func() {
		server.Close()
		cancel()
	}
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestHub_MessageCreated(t *testing.T) {
	hub, server, cleanup := newTestHub(t)
	defer cleanup()

	conn := dial(t, server, "?conversation=conv-1")
	defer conn.Close()
	waitFor(t, func() bool { return hub.Subscribers("conv-1") == 1 })

	msg := &scheduler.Message{ID: "msg-1", ConversationID: "conv-1", Content: "hi", ContentType: scheduler.ContentText}
	if err := hub.MessageCreated(context.Background(), "conv-1", msg); err != nil {
		t.Fatalf("MessageCreated() error = %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if event.Type != EventMessageCreated || event.ConversationID != "conv-1" {
		t.Errorf("event = %+v", event)
	}
	if event.Message == nil || event.Message.ID != "msg-1" {
		t.Errorf("event.Message = %+v", event.Message)
	}
}

func TestHub_ScopedToConversation(t *testing.T) {
	hub, server, cleanup := newTestHub(t)
	defer cleanup()

	other := dial(t, server, "?conversation=conv-2")
	defer other.Close()
	waitFor(t, func() bool { return hub.Subscribers("conv-2") == 1 })

	if err := hub.MessageCreated(context.Background(), "conv-1", &scheduler.Message{ID: "msg-1"}); err != nil {
		t.Fatalf("MessageCreated() error = %v", err)
	}

	other.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	var event Event
	if err := other.ReadJSON(&event); err == nil {
		t.Errorf("conv-2 subscriber received %+v", event)
	}
}

func TestHub_SubscribeCommands(t *testing.T) {
	hub, server, cleanup := newTestHub(t)
	defer cleanup()

	conn := dial(t, server, "")
	defer conn.Close()

	if err := conn.WriteJSON(command{Type: "subscribe", ConversationID: "conv-1"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	waitFor(t, func() bool { return hub.Subscribers("conv-1") == 1 })

	if err := conn.WriteJSON(command{Type: "unsubscribe", ConversationID: "conv-1"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	waitFor(t, func() bool { return hub.Subscribers("conv-1") == 0 })
}

func TestHub_DisconnectRemovesSubscriptions(t *testing.T) {
	hub, server, cleanup := newTestHub(t)
	defer cleanup()

	conn := dial(t, server, "?conversation=conv-1&conversation=conv-2")
	waitFor(t, func() bool { return hub.Subscribers("conv-1") == 1 && hub.Subscribers("conv-2") == 1 })

	conn.Close()
	waitFor(t, func() bool { return hub.Subscribers("conv-1") == 0 && hub.Subscribers("conv-2") == 0 })
}

func TestHub_NoSubscribers(t *testing.T) {
	hub := NewHub()
	if err := hub.MessageCreated(context.Background(), "conv-1", &scheduler.Message{ID: "msg-1"}); err != nil {
		t.Errorf("MessageCreated() error = %v", err)
	}
}

func TestNop(t *testing.T) {
	var n scheduler.Notifier = Nop{}
	if err := n.MessageCreated(context.Background(), "conv-1", nil); err != nil {
		t.Errorf("MessageCreated() error = %v", err)
	}
}
