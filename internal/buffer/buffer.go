// Package buffer holds decoded server messages between the reader and its consumers.
package buffer

import (
	"context"

	"github.com/reedfamily/mcwarden/internal/game"
)

// DefaultCapacity is used when New is given a capacity below one.
const DefaultCapacity = 64

// Buffer is a bounded FIFO of messages. Put blocks while it is full and Take blocks while it
// is empty. It is safe for any number of producers and consumers.
type Buffer struct {
	ch chan game.Message
}

func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Buffer{ch: make(chan game.Message, capacity)}
}

// Put appends msg, waiting for room or for ctx to end.
func (b *Buffer) Put(ctx context.Context, msg game.Message) error {
	select {
	case b.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Take removes the oldest message, waiting for one or for ctx to end.
func (b *Buffer) Take(ctx context.Context) (game.Message, error) {
	select {
	case msg := <-b.ch:
		return msg, nil
	case <-ctx.Done():
		return game.Message{}, ctx.Err()
	}
}

// TryTake removes the oldest message if there is one.
func (b *Buffer) TryTake() (game.Message, bool) {
	select {
	case msg := <-b.ch:
		return msg, true
	default:
		return game.Message{}, false
	}
}

func (b *Buffer) Len() int { return len(b.ch) }
func (b *Buffer) Cap() int { return cap(b.ch) }
