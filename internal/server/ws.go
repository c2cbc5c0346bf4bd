package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fyp-systems/fyp-core/internal/event"
	"github.com/fyp-systems/fyp-core/internal/logging"
)

// wsUpgrader accepts any origin: the Control Surface's own
// bearer-token/hook-key gate (authenticate
// middleware) is what actually protects this endpoint, not origin
// checking.
var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// globalEventsWS is a gorilla/websocket twin of globalEvents (sse.go),
// for clients that want a persistent duplex socket instead of SSE. It
// forwards the same globalKinds set and ignores any client-sent frames
// beyond ping/pong.
func (s *Server) globalEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	events := make(chan event.Event, 16)
	unsub := s.subscribeAll(func(e event.Event) {
		if !globalKinds[e.Kind] {
			return
		}
		select {
		case events <- e:
		default:
			logging.Warn().Str("kind", string(e.Kind)).Msg("global WS event dropped: channel full")
		}
	})
	defer unsub()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(sseHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case e := <-events:
			body, err := json.Marshal(e)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
