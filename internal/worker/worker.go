// Package worker runs background jobs on their own goroutine with a three-state lifecycle,
// optional delayed start, single-link chaining and cooperative interruption.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	ErrAlreadyStarted  = errors.New("worker already started")
	ErrAlreadyFinished = errors.New("worker already finished")
	ErrNotStarted      = errors.New("worker not started")
	ErrNegativeDelay   = errors.New("negative delay")
	ErrPanicked        = errors.New("task panicked")
)

// State is a worker's lifecycle state. Transitions only go Waiting -> Running -> Finished.
type State int32

const (
	Waiting State = iota
	Running
	Finished
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Running:
		return "running"
	case Finished:
		return "finished"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Task is a unit of work. It should return promptly once ctx is cancelled.
type Task func(ctx context.Context) error

// Observer is told about every start and finish. Calls happen on the worker's goroutine.
type Observer interface {
	WorkerStarted(name string)
	WorkerFinished(name string, err error)
}

var lastID atomic.Uint64

type Option func(*Worker)

func WithName(name string) Option {
	return func(w *Worker) { w.name = name }
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(w *Worker) { w.log = log }
}

// WithContext sets the parent of the context handed to the task.
func WithContext(ctx context.Context) Option {
	return func(w *Worker) { w.parent = ctx }
}

func WithObserver(o Observer) Option {
	return func(w *Worker) { w.observer = o }
}

type Worker struct {
	id       uint64
	name     string
	task     Task
	log      *zap.SugaredLogger
	parent   context.Context
	observer Observer
	opts     []Option

	mu          sync.Mutex
	state       State
	cancel      context.CancelFunc
	interrupted bool
	next        *Worker
	err         error
	done        chan struct{}
}

// Unstarted allocates a worker in the Waiting state.
func Unstarted(task Task, opts ...Option) *Worker {
	w := &Worker{
		id:     lastID.Add(1),
		task:   task,
		log:    zap.NewNop().Sugar(),
		parent: context.Background(),
		opts:   opts,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name == "" {
		w.name = fmt.Sprintf("worker-%d", w.id)
	}
	w.log = w.log.With("worker", w.name, "worker_id", w.id)
	return w
}

// Started is Unstarted followed by Start.
func Started(task Task, opts ...Option) *Worker {
	w := Unstarted(task, opts...)
	_ = w.Start()
	return w
}

// Delayed wraps task so it waits d before running. The wait ends early if the context is
// cancelled.
func Delayed(task Task, d time.Duration) (Task, error) {
	if d < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNegativeDelay, d)
	}
	return func(ctx context.Context) error {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		return task(ctx)
	}, nil
}

// ExecuteLater starts a worker that runs task after d.
func ExecuteLater(task Task, d time.Duration, opts ...Option) (*Worker, error) {
	delayed, err := Delayed(task, d)
	if err != nil {
		return nil, err
	}
	return Started(delayed, opts...), nil
}

func (w *Worker) ID() uint64   { return w.id }
func (w *Worker) Name() string { return w.name }

func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Start moves a Waiting worker to Running and runs its task on a new goroutine.
func (w *Worker) Start() error {
	w.mu.Lock()
	switch w.state {
	case Running:
		w.mu.Unlock()
		return ErrAlreadyStarted
	case Finished:
		w.mu.Unlock()
		return ErrAlreadyFinished
	}
	ctx, cancel := context.WithCancel(w.parent)
	w.cancel = cancel
	w.state = Running
	w.mu.Unlock()

	go w.run(ctx)
	return nil
}

// Interrupt cancels the task's context. It does not wait for the task to return.
func (w *Worker) Interrupt() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.state {
	case Waiting:
		return ErrNotStarted
	case Finished:
		return ErrAlreadyFinished
	}
	w.interrupted = true
	w.cancel()
	return nil
}

func (w *Worker) run(ctx context.Context) {
	if w.observer != nil {
		w.observer.WorkerStarted(w.name)
	}
	err := w.call(ctx)

	w.mu.Lock()
	w.state = Finished
	w.err = err
	w.cancel()
	next := w.next
	interrupted := w.interrupted
	w.mu.Unlock()

	switch {
	case err == nil:
		w.log.Debugw("worker finished")
	case interrupted && errors.Is(err, context.Canceled):
		w.log.Debugw("worker interrupted")
	default:
		w.log.Errorw("worker failed", "error", err)
	}
	if w.observer != nil {
		w.observer.WorkerFinished(w.name, err)
	}
	close(w.done)
	if next != nil {
		next.startIfWaiting()
	}
}

func (w *Worker) call(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanicked, r)
		}
	}()
	return w.task(ctx)
}

func (w *Worker) startIfWaiting() {
	if err := w.Start(); err != nil {
		w.log.Debugw("successor not started", "error", err)
	}
}

// Then creates a worker for task, with the same options as w, and runs it once w finishes.
// The successor is named after w with a ".then" suffix.
func (w *Worker) Then(task Task) *Worker {
	opts := make([]Option, 0, len(w.opts)+1)
	opts = append(opts, w.opts...)
	opts = append(opts, WithName(w.name+".then"))
	return w.After(Unstarted(task, opts...))
}

// After attaches next as w's only successor and returns it. next is started when w finishes,
// or right away if w already has. A worker takes at most one successor; attaching a second
// one panics.
func (w *Worker) After(next *Worker) *Worker {
	w.mu.Lock()
	if w.next != nil {
		w.mu.Unlock()
		panic(fmt.Sprintf("worker %s already has a successor", w.name))
	}
	w.next = next
	finished := w.state == Finished
	w.mu.Unlock()

	if finished {
		next.startIfWaiting()
	}
	return next
}

// Done is closed when the worker reaches Finished.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Err is the task's result, including a recovered panic. Nil until the worker finishes.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Wait blocks until the worker finishes or ctx is done.
func (w *Worker) Wait(ctx context.Context) error {
	select {
	case <-w.done:
		return w.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
