package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Local control surface, same-host UI only.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeWait = 5 * time.Second

// ServeWS streams call-state snapshots to the UI. The current state is
// sent immediately, then every transition until the client goes away.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	states, cancel := h.calls.Subscribe()
	defer cancel()
	defer conn.Close()

	// Reader goroutine only notices the client closing; inbound frames
	// carry nothing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case state, ok := <-states:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(state); err != nil {
				h.log.Debug().Err(err).Msg("State stream write failed")
				return
			}
		case <-gone:
			return
		}
	}
}
