// Package hub fans dashboard refresh signals out to realtime clients
// connected to this process.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"qms/workshop-queue/internal/notify"
)

// Subscription narrows a client to one queue date. An empty date receives
// every date.
type Subscription struct {
	Date string
}

type Client struct {
	ID           string
	Send         chan []byte
	Subscription Subscription
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *slog.Logger
	now     func() time.Time
}

type SubscribeMessage struct {
	Action string `json:"action"`
	Date   string `json:"date"`
}

func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{clients: make(map[string]*Client), logger: logger, now: time.Now}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = sub
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish implements notify.Notifier. Slow clients lose the message rather
// than stall the caller.
func (h *Hub) Publish(_ context.Context, date string) error {
	payload, err := notify.NewEnvelope(date, h.now()).Marshal()
	if err != nil {
		return err
	}
	h.Broadcast(payload, date)
	return nil
}

func (h *Hub) Broadcast(payload []byte, date string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.Subscription.Date != "" && client.Subscription.Date != date {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			h.logger.Warn("drop realtime message", "client_id", client.ID, "date", date)
		}
	}
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}
