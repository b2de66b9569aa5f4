package hub

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"palaver/internal/auth"
)

// CloseUnauthorized is the close code sent to a socket whose handshake
// carried no valid identity. Clients can tell it apart from transport
// failures and stop retrying.
const CloseUnauthorized = 4001

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO restrict origins once the deployment hostname is settled
		return true
	},
}

// ServeWS upgrades an HTTP request to a WebSocket connection. Identity is
// verified from the handshake credential; a socket without one is closed
// with CloseUnauthorized before any frame is processed and never enters
// the registry.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("[WS] Failed to upgrade connection", "from", r.RemoteAddr, "error", err)
		return
	}

	identity, err := auth.Verify(h.secret, auth.FromRequest(r))
	if err != nil {
		slog.Warn("[WS] Rejecting unauthenticated connection", "from", r.RemoteAddr, "error", err)
		msg := websocket.FormatCloseMessage(CloseUnauthorized, "unauthorized")
		ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		ws.Close()
		return
	}

	c := newConn(h, ws, identity)
	h.Register(c)

	slog.Info("[WS] Connected", "conn", c.id, "user", identity.UserID, "username", identity.Username)

	go c.writePump()
	go c.readPump()
}
