package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"mercator-hq/dispatch/pkg/scheduler"
)

// Hub fans out message events to websocket clients subscribed to a
// conversation. It implements scheduler.Notifier and http.Handler.
type Hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	stopped    chan struct{}

	// conversation ID -> subscribed clients
	subs map[string]map[*client]bool
	mu   sync.RWMutex

	upgrader websocket.Upgrader
	logger   *slog.Logger
	now      func() time.Time
}

// NewHub creates a hub. Call Run before serving connections.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		stopped:    make(chan struct{}),
		subs:       make(map[string]map[*client]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: slog.Default().With("component", "notify.hub"),
		now:    time.Now,
	}
}

// Run registers and unregisters clients until ctx is cancelled, then closes
// every remaining connection.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.logger.Debug("client connected", "remote", c.remote)

		case c := <-h.unregister:
			h.drop(c)

		case <-ctx.Done():
			close(h.stopped)
			for c := range h.clients {
				h.drop(c)
			}
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)

	h.mu.Lock()
	h.removeFromAll(c)
	close(c.done)
	close(c.send)
	h.mu.Unlock()

	h.logger.Debug("client disconnected", "remote", c.remote)
}

// ServeHTTP upgrades the request to a websocket. Every "conversation" query
// parameter subscribes the connection to that conversation up front.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := newClient(h, conn, r.RemoteAddr)
	select {
	case h.register <- c:
	case <-h.stopped:
		conn.Close()
		return
	}
	for _, id := range r.URL.Query()["conversation"] {
		if id != "" {
			h.subscribe(id, c)
		}
	}

	go c.writePump()
	go c.readPump()
}

// subscribe adds c to a conversation's subscribers. Clients already dropped
// are ignored.
func (h *Hub) subscribe(conversationID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-c.done:
		return
	default:
	}
	if h.subs[conversationID] == nil {
		h.subs[conversationID] = make(map[*client]bool)
	}
	h.subs[conversationID][c] = true
}

func (h *Hub) unsubscribe(conversationID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.subs[conversationID]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.subs, conversationID)
		}
	}
}

// removeFromAll must be called with h.mu held.
func (h *Hub) removeFromAll(c *client) {
	for id, subs := range h.subs {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.subs, id)
		}
	}
}

// Subscribers returns the number of clients subscribed to a conversation.
func (h *Hub) Subscribers(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[conversationID])
}

// MessageCreated implements scheduler.Notifier. Delivery is best effort:
// clients with a full buffer miss the event.
func (h *Hub) MessageCreated(ctx context.Context, conversationID string, msg *scheduler.Message) error {
	data, err := json.Marshal(Event{
		Type:           EventMessageCreated,
		ConversationID: conversationID,
		Message:        msg,
		At:             h.now(),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	h.broadcast(conversationID, data)
	return nil
}

func (h *Hub) broadcast(conversationID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.subs[conversationID] {
		c.enqueue(data)
	}
}

func (h *Hub) handleCommand(c *client, data []byte) {
	var cmd command
	if err := json.Unmarshal(data, &cmd); err != nil {
		h.logger.Warn("invalid command", "error", err)
		return
	}
	if cmd.ConversationID == "" {
		return
	}

	switch cmd.Type {
	case "subscribe":
		h.subscribe(cmd.ConversationID, c)
	case "unsubscribe":
		h.unsubscribe(cmd.ConversationID, c)
	default:
		h.logger.Warn("unknown command type", "type", cmd.Type)
	}
}
