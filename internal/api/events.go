package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lexiqai/voice-notes/internal/events"
	"github.com/lexiqai/voice-notes/internal/observability"
)

const (
	eventWriteWait  = 10 * time.Second
	eventPongWait   = 60 * time.Second
	eventPingPeriod = eventPongWait * 9 / 10
)

// handleEvents streams every bus event to the client as JSON. A client that
// falls EventBuffer events behind loses the overflow.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.opts.Bus == nil {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Failed to upgrade event stream")
		return
	}
	defer conn.Close()

	send := make(chan events.Event, s.opts.EventBuffer)
	unsubscribe := s.opts.Bus.SubscribeAll(func(ev events.Event) {
		select {
		case send <- ev:
		default:
			observability.EventDropped()
		}
	})
	defer unsubscribe()

	observability.EventSubscriberConnected(1)
	defer observability.EventSubscriberConnected(-1)
	s.logger.Debug().Str("remote_addr", r.RemoteAddr).Msg("Event stream client connected")

	// The read side only tracks liveness; client messages are discarded.
	closed := make(chan struct{})
	_ = conn.SetReadDeadline(time.Now().Add(eventPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Debug().Err(err).Msg("Event stream read error")
				}
				return
			}
		}
	}()

	ping := time.NewTicker(eventPingPeriod)
	defer ping.Stop()

	for {
		select {
		case ev := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug().Err(err).Msg("Event stream write failed")
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
