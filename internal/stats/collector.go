// Package stats tracks what is known about the running server: who is online, whether it
// finished starting, and container resource usage when it runs under docker.
package stats

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/reedfamily/mcwarden/internal/docker"
	"github.com/reedfamily/mcwarden/internal/game"
	"github.com/reedfamily/mcwarden/internal/game/minecraft"
	"github.com/reedfamily/mcwarden/internal/worker"
)

type Overload struct {
	At       time.Time `json:"at"`
	BehindMs int64     `json:"behind_ms"`
	Ticks    int64     `json:"ticks"`
}

type Snapshot struct {
	Version        string        `json:"version,omitempty"`
	Address        string        `json:"address,omitempty"`
	Ready          bool          `json:"ready"`
	StartupSeconds float64       `json:"startup_seconds,omitempty"`
	Players        []string      `json:"players"`
	MaxPlayers     int           `json:"max_players,omitempty"`
	LastOverload   *Overload     `json:"last_overload,omitempty"`
	Usage          *docker.Usage `json:"usage,omitempty"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

func (s Snapshot) clone() Snapshot {
	s.Players = slices.Clone(s.Players)
	if s.Players == nil {
		s.Players = []string{}
	}
	if s.LastOverload != nil {
		o := *s.LastOverload
		s.LastOverload = &o
	}
	if s.Usage != nil {
		u := *s.Usage
		s.Usage = &u
	}
	return s
}

// Sampler reports resource usage of the current run.
type Sampler interface {
	Usage(ctx context.Context) (docker.Usage, error)
}

// Recorder receives the online player count on every change.
type Recorder interface {
	PlayersOnline(n int)
}

type Collector struct {
	sampler  Sampler
	interval time.Duration
	rec      Recorder
	log      *zap.SugaredLogger
	now      func() time.Time

	mu        sync.RWMutex
	snap      Snapshot
	listeners []chan Snapshot
}

// NewCollector returns a collector. sampler may be nil, in which case Task only waits.
func NewCollector(sampler Sampler, interval time.Duration, rec Recorder, log *zap.SugaredLogger) *Collector {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Collector{
		sampler:  sampler,
		interval: interval,
		rec:      rec,
		log:      log.Named("stats"),
		now:      time.Now,
		snap:     Snapshot{Players: []string{}},
	}
}

// HandleEvent folds a classified event into the snapshot.
func (c *Collector) HandleEvent(ev *game.Event) {
	c.update(func(s *Snapshot) bool {
		switch ev.ID() {
		case minecraft.ServerStarting:
			*s = Snapshot{Version: ev.String(0), Players: []string{}}
		case minecraft.ServerBound:
			s.Address = ev.String(0)
		case minecraft.ServerReady:
			s.Ready = true
			s.StartupSeconds, _ = ev.Float(0)
		case minecraft.ServerStopping:
			s.Ready = false
		case minecraft.PlayerJoin:
			if !slices.Contains(s.Players, ev.String(0)) {
				s.Players = append(s.Players, ev.String(0))
				slices.Sort(s.Players)
			}
		case minecraft.PlayerLeave, minecraft.PlayerLostConnection:
			s.Players = slices.DeleteFunc(s.Players, func(p string) bool { return p == ev.String(0) })
		case minecraft.PlayerList:
			limit, _ := ev.Int(1)
			s.MaxPlayers = int(limit)
			s.Players = parsePlayerList(ev.String(2))
		case minecraft.ServerOverloaded:
			behind, _ := ev.Int(0)
			ticks, _ := ev.Int(1)
			s.LastOverload = &Overload{At: c.now(), BehindMs: behind, Ticks: ticks}
		default:
			return false
		}
		return true
	})
}

func parsePlayerList(s string) []string {
	players := []string{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			players = append(players, p)
		}
	}
	slices.Sort(players)
	return players
}

// Reset clears everything learned from the last run. Call it when the process exits.
func (c *Collector) Reset() {
	c.update(func(s *Snapshot) bool {
		*s = Snapshot{Players: []string{}}
		return true
	})
}

func (c *Collector) update(fn func(*Snapshot) bool) {
	c.mu.Lock()
	before := len(c.snap.Players)
	if !fn(&c.snap) {
		c.mu.Unlock()
		return
	}
	c.snap.UpdatedAt = c.now()
	snap := c.snap.clone()
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()

	if c.rec != nil && before != len(snap.Players) {
		c.rec.PlayersOnline(len(snap.Players))
	}
	for _, ch := range listeners {
		select {
		case ch <- snap:
		default:
			// Drop if listener is slow
		}
	}
}

// Task samples resource usage every interval until cancelled.
func (c *Collector) Task() worker.Task {
	return func(ctx context.Context) error {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				c.sample(ctx)
			}
		}
	}
}

func (c *Collector) sample(ctx context.Context) {
	if c.sampler == nil {
		return
	}
	u, err := c.sampler.Usage(ctx)
	switch {
	case errors.Is(err, docker.ErrNoContainer):
		c.update(func(s *Snapshot) bool {
			changed := s.Usage != nil
			s.Usage = nil
			return changed
		})
	case err != nil:
		c.log.Debugw("sample usage", "error", err)
	default:
		c.update(func(s *Snapshot) bool {
			s.Usage = &u
			return true
		})
	}
}

func (c *Collector) Latest() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.clone()
}

func (c *Collector) Subscribe() chan Snapshot {
	ch := make(chan Snapshot, 1)
	c.mu.Lock()
	c.listeners = append(c.listeners, ch)
	c.mu.Unlock()
	return ch
}

func (c *Collector) Unsubscribe(ch chan Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, l := range c.listeners {
		if l == ch {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}
