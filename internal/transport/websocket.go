package transport

import (
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// wsConn adapts a WebSocket connection to the session loop: every text
// frame is a line and every write is sent as one text frame.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) ReadLine() (string, error) {
	for {
		typ, data, err := c.conn.ReadMessage()
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return "", io.EOF
		}
		if err != nil {
			return "", err
		}
		if typ == websocket.TextMessage || typ == websocket.BinaryMessage {
			return strings.TrimRight(string(data), "\r\n"), nil
		}
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// serveWebSocket handles GET /ws.
func (h *HTTPListener) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	h.mu.Lock()
	h.sockets[conn] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.sockets, conn)
		h.mu.Unlock()
	}()

	s := h.d.Open(h.name)
	defer h.d.Close(s)
	s.Put("remote", r.RemoteAddr)

	ws := &wsConn{conn: conn}
	if err := h.d.Serve(r.Context(), s, ws, ws, h.opts); err != nil && r.Context().Err() == nil {
		h.log.Debug().Err(err).Str("session", s.ID()).Msg("websocket session ended")
	}
	ws.mu.Lock()
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	ws.mu.Unlock()
}
