package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/codefionn/signalqueue/internal/consts"
)

const (
	// Time allowed to read the next pong message from the peer.
	pongWait = 2 * consts.WebSocketPingInterval

	// Viewers only send control frames.
	maxMessageSize = 512
)

// handleSignalWebSocket streams board updates as JSON text messages
func (s *Server) handleSignalWebSocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Failed to upgrade WebSocket: %v", err)
		return
	}

	s.log.Debug("Signal viewer connected from %s", r.RemoteAddr)
	s.streamSignal(r.Context(), conn)
	s.log.Debug("Signal viewer %s disconnected", r.RemoteAddr)
}

func (s *Server) streamSignal(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	updates, unsubscribe := s.board.Subscribe()
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(maxMessageSize)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.log.Debug("WebSocket read error: %v", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(consts.WebSocketPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(consts.WebSocketWriteTimeout))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return

		case <-closed:
			return

		case update, ok := <-updates:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(consts.WebSocketWriteTimeout))
			if err := conn.WriteJSON(update); err != nil {
				s.log.Debug("Failed to write signal update: %v", err)
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(consts.WebSocketWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
