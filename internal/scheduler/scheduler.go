// Package scheduler runs configured actions against the server on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/reedfamily/mcwarden/internal/worker"
)

var (
	ErrUnknownAction   = errors.New("unknown action")
	ErrUnknownSchedule = errors.New("unknown schedule")
	ErrDuplicateName   = errors.New("duplicate schedule name")
)

type Action string

const (
	ActionCommand Action = "command"
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
	ActionBackup  Action = "backup"
)

func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionCommand, ActionStart, ActionStop, ActionRestart, ActionBackup:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// Actions is what a schedule can do to the server.
type Actions interface {
	Command(ctx context.Context, line string) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	Backup(ctx context.Context) error
}

type Recorder interface {
	ScheduleRan(name string, err error)
}

// Job is one configured schedule.
type Job struct {
	Name    string
	Expr    *CronExpr
	Action  Action
	Command string
}

func NewJob(name, cron, action, command string) (Job, error) {
	expr, err := ParseCron(cron)
	if err != nil {
		return Job{}, fmt.Errorf("schedule %s: %w", name, err)
	}
	a, err := ParseAction(action)
	if err != nil {
		return Job{}, fmt.Errorf("schedule %s: %w", name, err)
	}
	if a == ActionCommand && strings.TrimSpace(command) == "" {
		return Job{}, fmt.Errorf("schedule %s: command action needs a command", name)
	}
	return Job{Name: name, Expr: expr, Action: a, Command: command}, nil
}

// Status describes a job for the API.
type Status struct {
	Name      string    `json:"name"`
	Cron      string    `json:"cron"`
	Action    Action    `json:"action"`
	Command   string    `json:"command,omitempty"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Next      time.Time `json:"next,omitempty"`
}

type entry struct {
	job     Job
	lastRun time.Time
	lastErr error
	running *worker.Worker
}

type Scheduler struct {
	actions Actions
	log     *zap.SugaredLogger
	rec     Recorder
	now     func() time.Time
	opts    []worker.Option

	mu      sync.Mutex
	entries []*entry
}

type Option func(*Scheduler)

func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Scheduler) { s.log = log }
}

func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) { s.rec = r }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithWorkerOptions are applied to every job run.
func WithWorkerOptions(opts ...worker.Option) Option {
	return func(s *Scheduler) { s.opts = append(s.opts, opts...) }
}

func New(jobs []Job, actions Actions, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{actions: actions, log: zap.NewNop().Sugar(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("scheduler")
	seen := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		if seen[j.Name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateName, j.Name)
		}
		seen[j.Name] = true
		s.entries = append(s.entries, &entry{job: j})
	}
	return s, nil
}

// Task checks the schedules at the start of every minute until cancelled.
func (s *Scheduler) Task() worker.Task {
	return func(ctx context.Context) error {
		s.log.Infow("scheduler started", "jobs", len(s.entries))
		for {
			now := s.now()
			next := now.Truncate(time.Minute).Add(time.Minute)
			t := time.NewTimer(next.Sub(now))
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
				s.tick(ctx, next)
			}
		}
	}
}

// tick starts every job due at now. A job still running from an earlier firing is skipped.
func (s *Scheduler) tick(ctx context.Context, now time.Time) []*worker.Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	var started []*worker.Worker
	for _, e := range s.entries {
		if !e.job.Expr.Matches(now) {
			continue
		}
		if e.running != nil && e.running.State() != worker.Finished {
			s.log.Warnw("schedule still running, skipping", "schedule", e.job.Name)
			continue
		}
		started = append(started, s.launch(ctx, e, now))
	}
	return started
}

func (s *Scheduler) launch(ctx context.Context, e *entry, now time.Time) *worker.Worker {
	e.lastRun = now
	job := e.job
	s.log.Infow("running schedule", "schedule", job.Name, "action", job.Action)
	opts := append([]worker.Option{worker.WithName("schedule:" + job.Name), worker.WithContext(ctx)}, s.opts...)
	w := worker.Started(func(ctx context.Context) error {
		err := s.execute(ctx, job)
		s.mu.Lock()
		e.lastErr = err
		s.mu.Unlock()
		if s.rec != nil {
			s.rec.ScheduleRan(job.Name, err)
		}
		if err != nil {
			s.log.Warnw("schedule failed", "schedule", job.Name, "action", job.Action, "error", err)
		}
		return err
	}, opts...)
	e.running = w
	return w
}

func (s *Scheduler) execute(ctx context.Context, j Job) error {
	switch j.Action {
	case ActionCommand:
		return s.actions.Command(ctx, j.Command)
	case ActionStart:
		return s.actions.Start(ctx)
	case ActionStop:
		return s.actions.Stop(ctx)
	case ActionRestart:
		return s.actions.Restart(ctx)
	case ActionBackup:
		return s.actions.Backup(ctx)
	}
	return fmt.Errorf("%w: %q", ErrUnknownAction, j.Action)
}

// RunNow runs the named job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) (*worker.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.job.Name == name {
			return s.launch(ctx, e, s.now()), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownSchedule, name)
}

func (s *Scheduler) List() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	out := make([]Status, 0, len(s.entries))
	for _, e := range s.entries {
		st := Status{
			Name:    e.job.Name,
			Cron:    e.job.Expr.String(),
			Action:  e.job.Action,
			Command: e.job.Command,
			LastRun: e.lastRun,
			Next:    e.job.Expr.Next(now),
		}
		if e.lastErr != nil {
			st.LastError = e.lastErr.Error()
		}
		out = append(out, st)
	}
	return out
}
