package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hireloop/hireloop/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Interview links are opened from arbitrary frontends.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn adapts a gorilla WebSocket to the orchestrator's connection
// interface. Writes are serialized: a takeover close arrives from another
// connection's goroutine.
type wsConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

var _ session.Conn = (*wsConn)(nil)

func (c *wsConn) Send(msg session.ServerMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(msg)
}

func (c *wsConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline := time.Now().Add(time.Second)
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	return c.ws.Close()
}

// handleSessionWS upgrades the connection and runs one session dialog loop.
// Recoverable turn errors are reported to the client and the loop continues;
// read failures mean the client went away and unwind the loop.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	rawID := r.PathValue("id")
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Server.handleSessionWS: upgrade failed", "sessionID", rawID, "error", err)
		return
	}
	conn := &wsConn{ws: ws}

	dialog, err := s.orch.Connect(r.Context(), rawID, conn)
	if err != nil {
		// Connect closes the socket with the right close code and leaves no
		// registry entry behind, on every rejection path.
		slog.Error("Server.handleSessionWS: connect rejected", "sessionID", rawID, "error", err)
		return
	}
	defer func() {
		dialog.Close()
		_ = conn.Close(websocket.CloseNormalClosure, "")
	}()

	for {
		messageType, payload, err := ws.ReadMessage()
		if err != nil {
			slog.Debug("Server.handleSessionWS: client disconnected", "sessionID", rawID, "error", err)
			return
		}

		var msg session.ClientMessage
		switch messageType {
		case websocket.TextMessage:
			msg, err = session.ParseClientText(payload)
			if err != nil {
				_ = conn.Send(session.ErrorMessage("Malformed message"))
				continue
			}
		case websocket.BinaryMessage:
			msg = session.AudioMessage(payload)
		default:
			continue
		}

		done, err := dialog.HandleTurn(r.Context(), msg)
		if err != nil {
			slog.Error("Server.handleSessionWS: turn failed", "sessionID", rawID, "error", err)
			_ = conn.Send(session.ErrorMessage(err.Error()))
			continue
		}
		if done {
			return
		}
	}
}
