package netwatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/reedfamily/mcwarden/internal/worker"
)

// ChangeFunc is called with the previous address, empty on the first lookup, and the new one.
type ChangeFunc func(old, current string)

type Watcher struct {
	resolver Resolver
	interval time.Duration
	onChange ChangeFunc
	log      *zap.SugaredLogger

	mu      sync.RWMutex
	current string
	checked time.Time
}

func NewWatcher(r Resolver, interval time.Duration, onChange ChangeFunc, log *zap.SugaredLogger) *Watcher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Watcher{
		resolver: r,
		interval: interval,
		onChange: onChange,
		log:      log.Named("netwatch"),
	}
}

// Current returns the last known address and when it was last confirmed.
func (w *Watcher) Current() (string, time.Time) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current, w.checked
}

// Task polls right away and then every interval until cancelled.
func (w *Watcher) Task() worker.Task {
	return func(ctx context.Context) error {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		w.Check(ctx)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				w.Check(ctx)
			}
		}
	}
}

// Check does one lookup. Failed lookups keep the last known address.
func (w *Watcher) Check(ctx context.Context) {
	addr, err := w.resolver.PublicAddress(ctx)
	if err != nil {
		w.log.Warnw("public address lookup failed", "error", err)
		return
	}

	w.mu.Lock()
	old := w.current
	w.current = addr
	w.checked = time.Now()
	w.mu.Unlock()

	if addr == old {
		return
	}
	w.log.Infow("public address changed", "old", old, "new", addr)
	if w.onChange != nil {
		w.onChange(old, addr)
	}
}
