package telemetry

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rjboer/GoGSM/internal/logging"
)

const wsWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 16384,
}

// wsMessage wraps every frame sent to WebSocket clients.
type wsMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// handleWS streams the history followed by live events as JSON frames.
// Inbound frames are read and discarded so a client close is noticed.
func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", logging.Field{Key: "error", Value: err})
		return
	}
	defer conn.Close()

	ch, cancel := h.Subscribe()
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(msg wsMessage) bool {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			h.logger.Debug("websocket write failed", logging.Field{Key: "error", Value: err})
			return false
		}
		return true
	}

	if !send(wsMessage{Type: "history", Payload: h.History()}) {
		return
	}
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if !send(wsMessage{Type: "event", Payload: ev}) {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}
