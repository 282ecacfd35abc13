// Package console moves server output from the supervisor to everything that wants it: the
// reader task fills the buffer, the pump task classifies each message and fans it out.
package console

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/reedfamily/mcwarden/internal/buffer"
	"github.com/reedfamily/mcwarden/internal/game"
	"github.com/reedfamily/mcwarden/internal/worker"
)

// ErrClosed is returned by WaitFor when the server output ends first.
var ErrClosed = errors.New("server output closed")

// Entry is one message as seen by subscribers. Event is nil for unclassified lines.
type Entry struct {
	Message game.Message
	Event   *game.Event
}

// Handler is called from the pump goroutine for every classified event. It must not block.
type Handler func(ev *game.Event)

// Recorder counts what the reader and pump see.
type Recorder interface {
	LineRead()
	EventClassified(id string)
	DecodeFailed(id string)
}

type nopRecorder struct{}

func (nopRecorder) LineRead()              {}
func (nopRecorder) EventClassified(string) {}
func (nopRecorder) DecodeFailed(string)    {}

type Hub struct {
	decoder *game.Decoder
	log     *zap.SugaredLogger
	rec     Recorder

	mu        sync.RWMutex
	listeners []chan Entry
	handlers  []Handler
	history   []game.Message
	keep      int
}

type Option func(*Hub)

func WithLogger(log *zap.SugaredLogger) Option {
	return func(h *Hub) { h.log = log }
}

func WithRecorder(r Recorder) Option {
	return func(h *Hub) { h.rec = r }
}

// WithHistory keeps the last n messages for Recent.
func WithHistory(n int) Option {
	return func(h *Hub) { h.keep = n }
}

func NewHub(decoder *game.Decoder, opts ...Option) *Hub {
	h := &Hub{
		decoder: decoder,
		log:     zap.NewNop().Sugar(),
		rec:     nopRecorder{},
		keep:    200,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.Named("console")
	return h
}

func (h *Hub) Decoder() *game.Decoder { return h.decoder }

// OnEvent registers fn for every classified event.
func (h *Hub) OnEvent(fn Handler) {
	h.mu.Lock()
	h.handlers = append(h.handlers, fn)
	h.mu.Unlock()
}

// Subscribe returns a channel receiving every message. Slow subscribers miss messages.
func (h *Hub) Subscribe() chan Entry {
	ch := make(chan Entry, 64)
	h.mu.Lock()
	h.listeners = append(h.listeners, ch)
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, l := range h.listeners {
		if l == ch {
			h.listeners = append(h.listeners[:i], h.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// Recent returns up to the last n messages, oldest first.
func (h *Hub) Recent(n int) []game.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n <= 0 || n > len(h.history) {
		n = len(h.history)
	}
	out := make([]game.Message, n)
	copy(out, h.history[len(h.history)-n:])
	return out
}

// Publish classifies msg and hands it to handlers and subscribers.
func (h *Hub) Publish(msg game.Message) {
	ev, err := h.decoder.Classify(msg)
	if err != nil {
		var argErr *game.ArgumentError
		if errors.As(err, &argErr) {
			h.rec.DecodeFailed(argErr.Type)
		}
		h.log.Warnw("event decode failed", "line", msg.Raw, "error", err)
	}

	h.mu.Lock()
	if !msg.Closed() && h.keep > 0 {
		h.history = append(h.history, msg)
		if len(h.history) > h.keep {
			h.history = h.history[len(h.history)-h.keep:]
		}
	}
	handlers := h.handlers
	h.mu.Unlock()

	if ev != nil {
		h.rec.EventClassified(ev.ID())
		for _, fn := range handlers {
			fn(ev)
		}
	}

	// Sends happen under the read lock so Unsubscribe cannot close a channel mid-send.
	entry := Entry{Message: msg, Event: ev}
	h.mu.RLock()
	for _, ch := range h.listeners {
		select {
		case ch <- entry:
		default:
			// Drop if listener is slow
		}
	}
	h.mu.RUnlock()
}

// PumpTask drains buf into Publish until it sees the closed message.
func (h *Hub) PumpTask(buf *buffer.Buffer) worker.Task {
	return func(ctx context.Context) error {
		for {
			msg, err := buf.Take(ctx)
			if err != nil {
				return err
			}
			h.Publish(msg)
			if msg.Closed() {
				return nil
			}
		}
	}
}

// Expectation waits for one event type. Create it before sending the command that
// triggers the event so the reply cannot be missed.
type Expectation struct {
	hub *Hub
	id  string
	ch  chan Entry
}

func (h *Hub) Expect(id string) *Expectation {
	return &Expectation{hub: h, id: id, ch: h.Subscribe()}
}

// Wait blocks until the expected event is published, the output closes or ctx is done.
func (x *Expectation) Wait(ctx context.Context) (*game.Event, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case e, ok := <-x.ch:
			if !ok || e.Message.Closed() {
				return nil, ErrClosed
			}
			if e.Event != nil && e.Event.ID() == x.id {
				return e.Event, nil
			}
		}
	}
}

func (x *Expectation) Cancel() { x.hub.Unsubscribe(x.ch) }

// WaitFor blocks until an event with the given id is published.
func (h *Hub) WaitFor(ctx context.Context, id string) (*game.Event, error) {
	x := h.Expect(id)
	defer x.Cancel()
	return x.Wait(ctx)
}
