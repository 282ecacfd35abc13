package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/reedfamily/mcwarden/internal/stats"
)

// The handshake timeout also makes the upgrader clear the http.Server write deadline.
var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	CheckOrigin:      func(r *http.Request) bool { return true },
}

type StatsHandler struct {
	collector *stats.Collector
	log       *zap.SugaredLogger
}

func NewStatsHandler(collector *stats.Collector, log *zap.SugaredLogger) *StatsHandler {
	return &StatsHandler{collector: collector, log: log}
}

func (h *StatsHandler) Latest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.collector.Latest())
}

// Live pushes a snapshot over a WebSocket every time the collector produces one.
func (h *StatsHandler) Live(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("stats websocket upgrade", "error", err)
		return
	}
	defer conn.Close()

	ch := h.collector.Subscribe()
	defer h.collector.Unsubscribe(ch)

	if err := conn.WriteJSON(h.collector.Latest()); err != nil {
		return
	}

	// Read from client to detect disconnect
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case s, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(s); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
