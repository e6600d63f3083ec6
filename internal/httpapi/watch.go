package httpapi

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"lucciole/backend/internal/service"
)

const (
	watchWriteWait  = 10 * time.Second
	watchPongWait   = 60 * time.Second
	watchPingPeriod = (watchPongWait * 9) / 10
)

func (a *API) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || origin == a.allowedOrigin
		},
	}
}

// handleItemsWatch upgrades to a websocket and streams full item snapshots:
// one on connect, then one after every mutation. Every frame is scoped to the
// subscriber's role before it goes out, so the feed never shows more than a
// plain GET /items would for the same actor. Slow readers only ever miss
// intermediate states, never the latest one.
func (a *API) handleItemsWatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	actor, ok := service.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
		return
	}

	upgrader := a.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[httpapi] WARN: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	snapshots, cancel := a.service.Feed().Subscribe()
	defer cancel()

	initial, err := a.service.Snapshot(r.Context())
	if err != nil {
		log.Printf("[httpapi] WARN: initial snapshot for %s failed: %v", actor.Username, err)
	} else {
		conn.SetWriteDeadline(time.Now().Add(watchWriteWait))
		if err := conn.WriteJSON(map[string]any{"items": a.service.ScopeForActor(initial, actor)}); err != nil {
			return
		}
	}

	// Read pump: discard client frames, notice closes and answer pings.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(watchPongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(watchPongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(watchPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case items, ok := <-snapshots:
			conn.SetWriteDeadline(time.Now().Add(watchWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(map[string]any{"items": a.service.ScopeForActor(items, actor)}); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(watchWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
