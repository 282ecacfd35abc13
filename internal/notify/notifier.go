// Package notify delivers server events to a Discord webhook.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/reedfamily/mcwarden/internal/game"
	"github.com/reedfamily/mcwarden/internal/worker"
)

// Poster sends one payload and reports how long to wait before a retry.
type Poster interface {
	Post(ctx context.Context, p Payload) (time.Duration, error)
}

type Recorder interface {
	WebhookDelivered(err error)
	WebhookRetried()
}

type nopRecorder struct{}

func (nopRecorder) WebhookDelivered(error) {}
func (nopRecorder) WebhookRetried()        {}

type Config struct {
	// Templates maps event type ids to message templates. Events without one are ignored.
	Templates   map[string]string
	Rate        float64
	Burst       int
	MaxAttempts int
	// Backoff is the base wait between attempts that failed without a rate limit hint.
	Backoff  time.Duration
	Username string
}

type Notifier struct {
	poster  Poster
	cfg     Config
	limiter *rate.Limiter
	log     *zap.SugaredLogger
	rec     Recorder
	opts    []worker.Option
}

type Option func(*Notifier)

func WithLogger(log *zap.SugaredLogger) Option {
	return func(n *Notifier) { n.log = log }
}

func WithRecorder(r Recorder) Option {
	return func(n *Notifier) { n.rec = r }
}

// WithWorkerOptions are applied to every delivery worker.
func WithWorkerOptions(opts ...worker.Option) Option {
	return func(n *Notifier) { n.opts = append(n.opts, opts...) }
}

func New(poster Poster, cfg Config, opts ...Option) *Notifier {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	n := &Notifier{
		poster:  poster,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		log:     zap.NewNop().Sugar(),
		rec:     nopRecorder{},
	}
	for _, opt := range opts {
		opt(n)
	}
	n.log = n.log.Named("notify")
	return n
}

// HandleEvent sends the rendered template for ev, if one is configured.
func (n *Notifier) HandleEvent(ev *game.Event) {
	tpl, ok := n.cfg.Templates[ev.ID()]
	if !ok {
		return
	}
	n.Send(Render(tpl, ev))
}

// Send delivers content on its own worker and returns that worker.
func (n *Notifier) Send(content string) *worker.Worker {
	opts := append([]worker.Option{worker.WithName("webhook")}, n.opts...)
	// Templates carry player text, so nothing in them may ping anyone.
	p := Payload{Content: content, Username: n.cfg.Username, AllowedMentions: NoMentions()}
	return worker.Started(n.deliverTask(p), opts...)
}

func (n *Notifier) deliverTask(p Payload) worker.Task {
	return func(ctx context.Context) error {
		err := n.deliver(ctx, p)
		n.rec.WebhookDelivered(err)
		return err
	}
}

func (n *Notifier) deliver(ctx context.Context, p Payload) error {
	var lastErr error
	for attempt := 1; attempt <= n.cfg.MaxAttempts; attempt++ {
		if err := n.limiter.Wait(ctx); err != nil {
			return err
		}
		wait, err := n.poster.Post(ctx, p)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == n.cfg.MaxAttempts {
			break
		}
		if !errors.Is(err, ErrRateLimited) || wait <= 0 {
			wait = n.cfg.Backoff * time.Duration(attempt)
		}
		n.rec.WebhookRetried()
		n.log.Debugw("webhook retry", "attempt", attempt, "wait", wait, "error", err)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return fmt.Errorf("webhook failed after %d attempts: %w", n.cfg.MaxAttempts, lastErr)
}

// Render fills a template from ev: {0}, {1}, ... are the arguments, {id} the event type,
// {source} the source tag, {time} the timestamp and {content} the whole message.
func Render(tpl string, ev *game.Event) string {
	pairs := []string{
		"{id}", ev.ID(),
		"{source}", ev.Message.Source,
		"{time}", ev.Message.Time.String(),
		"{content}", ev.Message.Content,
	}
	for i := range ev.Args {
		pairs = append(pairs, "{"+strconv.Itoa(i)+"}", ev.String(i))
	}
	return strings.NewReplacer(pairs...).Replace(tpl)
}
