package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const streamWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The UI is served from the same origin; other clients are tools like wscat.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamHandler pushes every LineEvent to a websocket client as JSON.
func streamHandler(events *Broadcaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if events == nil {
			http.Error(w, "stream unavailable", http.StatusNotFound)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug().Str("module", "web").Err(err).Msg("websocket upgrade")
			return
		}

		id, ch := events.Subscribe(256)
		defer events.Unsubscribe(id)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Reader: only needed to notice the client going away.
		go func() {
			defer cancel()
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		defer ws.Close()
		for {
			select {
			case <-ctx.Done():
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				_ = ws.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
				if err := ws.WriteJSON(ev); err != nil {
					return
				}
			}
		}
	}
}
