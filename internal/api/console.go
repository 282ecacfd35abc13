package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/reedfamily/mcwarden/internal/console"
	"github.com/reedfamily/mcwarden/internal/game"
)

// Frame is one message on the console WebSocket.
type Frame struct {
	// Kind is "line", "closed" or "error".
	Kind    string       `json:"kind"`
	Raw     string       `json:"raw,omitempty"`
	Time    string       `json:"time,omitempty"`
	Source  string       `json:"source,omitempty"`
	Content string       `json:"content,omitempty"`
	Event   *game.Record `json:"event,omitempty"`
	Error   string       `json:"error,omitempty"`
}

func frameOf(e console.Entry) Frame {
	if e.Message.Closed() {
		return Frame{Kind: "closed"}
	}
	f := Frame{
		Kind:    "line",
		Raw:     e.Message.Raw,
		Time:    e.Message.Time.String(),
		Source:  e.Message.Source,
		Content: e.Message.Content,
	}
	if e.Event != nil {
		rec := e.Event.Record()
		f.Event = &rec
	}
	return f
}

type ConsoleHandler struct {
	hub *console.Hub
	ctl Controller
	log *zap.SugaredLogger
}

func NewConsoleHandler(hub *console.Hub, ctl Controller, log *zap.SugaredLogger) *ConsoleHandler {
	return &ConsoleHandler{hub: hub, ctl: ctl, log: log}
}

// Handle streams the console over a WebSocket: the last lines first (query parameter
// history, default 100), then every new line. Text frames from the client are sent to the
// server as commands.
func (h *ConsoleHandler) Handle(w http.ResponseWriter, r *http.Request) {
	history := 100
	if s := r.URL.Query().Get("history"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "history must be a non-negative integer")
			return
		}
		history = n
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("console websocket upgrade", "error", err)
		return
	}
	defer conn.Close()

	// Subscribe before replaying history so nothing falls in between. A line published in
	// that window may be sent twice.
	ch := h.hub.Subscribe()
	defer h.hub.Unsubscribe(ch)

	if history > 0 {
		dec := h.hub.Decoder()
		for _, msg := range h.hub.Recent(history) {
			ev, _ := dec.Classify(msg)
			if err := conn.WriteJSON(frameOf(console.Entry{Message: msg, Event: ev})); err != nil {
				return
			}
		}
	}

	// Only this goroutine writes; the reader hands command errors over.
	errs := make(chan string, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			kind, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind != websocket.TextMessage {
				continue
			}
			if err := h.ctl.Send(string(msg)); err != nil {
				select {
				case errs <- err.Error():
				default:
				}
			}
		}
	}()

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(frameOf(e)); err != nil {
				return
			}
		case msg := <-errs:
			if err := conn.WriteJSON(Frame{Kind: "error", Error: msg}); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
