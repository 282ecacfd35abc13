// Package publish forwards classified server events to NATS.
package publish

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/reedfamily/mcwarden/internal/game"
)

type Recorder interface {
	EventPublished(err error)
}

type nopRecorder struct{}

func (nopRecorder) EventPublished(error) {}

// Message is what gets published: the event plus where it came from.
type Message struct {
	game.Record
	Server     string    `json:"server"`
	ReceivedAt time.Time `json:"received_at"`
}

type Publisher struct {
	conn   *nats.Conn
	prefix string
	server string
	log    *zap.SugaredLogger
	rec    Recorder
}

type Config struct {
	URL           string
	SubjectPrefix string
	// Server names the supervised server in every message.
	Server string
}

func Connect(cfg Config, log *zap.SugaredLogger, rec Recorder) (*Publisher, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log = log.Named("publish")
	if rec == nil {
		rec = nopRecorder{}
	}
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}

	opts := []nats.Option{
		nats.Name("mcwarden"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.Timeout(5 * time.Second),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infow("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warnw("nats disconnected", "error", err)
			}
		}),
	}
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "mcwarden.events"
	}
	return &Publisher{conn: conn, prefix: prefix, server: cfg.Server, log: log, rec: rec}, nil
}

// Subject is <prefix>.<event type>.
func (p *Publisher) Subject(eventID string) string {
	return p.prefix + "." + eventID
}

// HandleEvent publishes ev. Failures are logged and counted; the caller is never blocked on
// a slow server because nats.go buffers publishes.
func (p *Publisher) HandleEvent(ev *game.Event) {
	err := p.Publish(ev)
	p.rec.EventPublished(err)
	if err != nil {
		p.log.Warnw("publish event", "type", ev.ID(), "error", err)
	}
}

func (p *Publisher) Publish(ev *game.Event) error {
	data, err := json.Marshal(Message{Record: ev.Record(), Server: p.server, ReceivedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return p.conn.Publish(p.Subject(ev.ID()), data)
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() error {
	return p.conn.Drain()
}
