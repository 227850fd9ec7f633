package main

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/FringeDweller/fleet2-sub005/live"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // local dashboard use only
	},
}

// liveHandler streams the MetricView set to each websocket client once
// per poll interval.
func liveHandler(aggregator *live.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)

		if err != nil {
			log.Warn().Err(err).Msg("web: websocket upgrade failed")
			return
		}

		defer conn.Close()

		log.Debug().Str("Remote", r.RemoteAddr).Msg("web: live stream client connected")

		// drain client frames so pings and close frames are processed.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(aggregator.Interval())
		defer ticker.Stop()

		for {
			if err := conn.WriteJSON(aggregator.Views()); err != nil {
				log.Debug().
					Err(err).
					Str("Remote", r.RemoteAddr).
					Msg("web: live stream client disconnected")
				return
			}

			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
			}
		}
	}
}
