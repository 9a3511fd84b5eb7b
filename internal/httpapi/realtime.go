package httpapi

import (
	"log/slog"
	"net/http"
	"strings"

	"qms/workshop-queue/internal/hub"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
)

const RealtimePrefix = "/realtime"

type realtimeSession interface {
	Request() *http.Request
	Recv() (string, error)
	Send(string) error
}

// NewRealtimeHandler serves the dashboard push channel. A client may pick its
// date with ?date= on connect or later with
// {"action":"subscribe","date":"YYYY-MM-DD"}; without one it hears every date.
func NewRealtimeHandler(h *hub.Hub, logger *slog.Logger) http.Handler {
	return sockjs.NewHandler(RealtimePrefix, sockjs.DefaultOptions, func(session sockjs.Session) {
		serveSession(h, logger, session)
	})
}

func serveSession(h *hub.Hub, logger *slog.Logger, session realtimeSession) {
	if logger == nil {
		logger = slog.Default()
	}
	client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
	if req := session.Request(); req != nil {
		client.Subscription.Date = strings.TrimSpace(req.URL.Query().Get("date"))
	}
	h.Register(client)
	defer h.Unregister(client)
	logger.Debug("realtime client connected", "client_id", client.ID, "date", client.Subscription.Date)

	go func() {
		for msg := range client.Send {
			if err := session.Send(string(msg)); err != nil {
				logger.Debug("realtime send failed", "client_id", client.ID, "error", err)
			}
		}
	}()

	for {
		msg, err := session.Recv()
		if err != nil {
			return
		}
		parsed, ok := hub.ParseSubscribe([]byte(msg))
		if !ok {
			continue
		}
		if parsed.Action == "unsubscribe" {
			h.UpdateSubscription(client, hub.Subscription{})
			continue
		}
		h.UpdateSubscription(client, hub.Subscription{Date: strings.TrimSpace(parsed.Date)})
	}
}
