package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeTimeout = 2 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// streamResults pushes every republished result to the client. A slow
// client only ever sees the newest result.
func (s *Server) streamResults(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("failed to upgrade the websocket", "error", err)
		return
	}
	defer ws.Close()

	subID := "ws-" + uuid.NewString()
	recv, err := s.sess.SubscribeLatest(subID)
	if err != nil {
		slog.Warn("result stream subscribe failed", "error", err)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(writeTimeout))
		return
	}
	defer s.sess.Unsubscribe(subID)

	slog.Info("result stream client connected", "subscriber", subID)

	// Reader: the client never sends data; a read error means it left.
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				recv.Close()
				return
			}
		}
	}()

	for {
		msg, ok := recv.Receive()
		if !ok {
			break
		}
		_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := ws.WriteJSON(msg); err != nil {
			slog.Info("result stream client write failed", "subscriber", subID, "error", err)
			recv.Close()
			break
		}
	}

	slog.Info("result stream client disconnected", "subscriber", subID)
}
