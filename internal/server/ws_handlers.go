package server

import (
	"context"
	"net/http"
	"time"

	"github.com/aristath/arena/internal/events"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const wsWriteTimeout = 5 * time.Second

// WSHandler pushes arena events to websocket clients as JSON messages
type WSHandler struct {
	eventBus *events.Bus
	log      zerolog.Logger
}

// NewWSHandler creates a websocket handler
func NewWSHandler(eventBus *events.Bus, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		eventBus: eventBus,
		log:      log.With().Str("component", "ws").Logger(),
	}
}

// ServeHTTP handles GET /api/ws. Query parameters match the SSE stream.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket handshake failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected close")

	// Clients only listen; CloseRead handles control frames and cancels on close
	ctx := conn.CloseRead(r.Context())

	eventChan, unsubscribe := subscribe(h.eventBus, parseTypes(r.URL.Query().Get("types")), r.URL.Query().Get("run_id"), h.log)
	defer unsubscribe()

	h.log.Info().Msg("Websocket client connected")

	if err := h.write(ctx, conn, map[string]interface{}{"type": "connected"}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			h.log.Info().Msg("Websocket client disconnected")
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case event := <-eventChan:
			if err := h.write(ctx, conn, encodeEvent(event)); err != nil {
				h.log.Debug().Err(err).Msg("Websocket write failed")
				return
			}
		}
	}
}

func (h *WSHandler) write(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, v)
}
