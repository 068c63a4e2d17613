package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voicechat/internal/http/middleware"
	"voicechat/internal/ws"
)

// NewEventsHandler upgrades GET /ws/events to a websocket and streams relay
// progress events for the authenticated user until the client disconnects.
func NewEventsHandler(hub *ws.Hub, logger *zap.Logger) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.UserIDFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "not authenticated")
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("websocket upgrade failed", zap.Error(err))
			return
		}

		hub.Subscribe(userID, conn)
		logger.Debug("event subscriber connected", zap.Int64("user_id", userID))

		go func() {
			defer func() {
				hub.Unsubscribe(userID, conn)
				_ = conn.Close()
			}()
			// Drain client frames; the hub owns all writes.
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}
