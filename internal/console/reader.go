package console

import (
	"context"
	"time"

	"github.com/reedfamily/mcwarden/internal/buffer"
	"github.com/reedfamily/mcwarden/internal/game"
	"github.com/reedfamily/mcwarden/internal/worker"
)

const closeTimeout = 5 * time.Second

// LineSource is the read side of the supervisor.
type LineSource interface {
	ReadLine() (game.Line, error)
}

// ReadTask reads lines from src, decodes them and puts them in buf in the order they were
// read. The closed message is put exactly once, last, whether the output ended or reading
// failed. ReadLine does not observe ctx, so cancellation takes effect between lines.
func ReadTask(src LineSource, dec *game.Decoder, buf *buffer.Buffer, rec Recorder) worker.Task {
	if rec == nil {
		rec = nopRecorder{}
	}
	return func(ctx context.Context) error {
		closed := func() {
			// ctx may already be cancelled; the pump still gets a bounded chance to drain.
			putCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
			defer cancel()
			_ = buf.Put(putCtx, game.Closed)
		}
		for {
			if err := ctx.Err(); err != nil {
				closed()
				return err
			}
			line, err := src.ReadLine()
			if err != nil {
				closed()
				return err
			}
			if line.Closed() {
				closed()
				return nil
			}
			rec.LineRead()
			if err := buf.Put(ctx, dec.Decode(line)); err != nil {
				closed()
				return err
			}
		}
	}
}
