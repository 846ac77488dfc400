package handler

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/edvin/backhaul/internal/api/response"
	"github.com/edvin/backhaul/internal/events"
)

// Subscriber opens pub/sub subscriptions; satisfied by events.Broadcaster.
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// Events streams real-time run events over WebSocket. Each connection
// subscribes to the channels its query parameters scope it to.
type Events struct {
	sub    Subscriber
	logger zerolog.Logger
}

func NewEvents(sub Subscriber, logger zerolog.Logger) *Events {
	return &Events{sub: sub, logger: logger}
}

// Connect upgrades to WebSocket and forwards broadcast events. Scope with
// ?history_id= and/or ?user_id=; with neither, the connection receives the
// system channel.
func (h *Events) Connect(w http.ResponseWriter, r *http.Request) {
	var channels []string
	if historyID := r.URL.Query().Get("history_id"); historyID != "" {
		channels = append(channels, events.ExecutionChannel(historyID))
	}
	if userID := r.URL.Query().Get("user_id"); userID != "" {
		channels = append(channels, events.UserChannel(userID))
	}
	if len(channels) == 0 {
		channels = []string{events.ChannelSystem}
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	pubsub := h.sub.Subscribe(ctx, channels...)
	if pubsub == nil {
		response.WriteError(w, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}
	defer pubsub.Close()

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Origin differs from Host when proxied through a dashboard.
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer ws.CloseNow()

	// Drain client frames so pings are answered and closure is noticed.
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			ws.Close(websocket.StatusNormalClosure, "")
			return
		case msg, ok := <-pubsub.Channel():
			if !ok {
				ws.Close(websocket.StatusNormalClosure, "")
				return
			}
			if err := ws.Write(ctx, websocket.MessageText, []byte(msg.Payload)); err != nil {
				return
			}
		}
	}
}
