// Package instance runs the supervised server together with the workers that carry its
// output, and restarts it after a crash when asked to.
package instance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/reedfamily/mcwarden/internal/buffer"
	"github.com/reedfamily/mcwarden/internal/console"
	"github.com/reedfamily/mcwarden/internal/game"
	"github.com/reedfamily/mcwarden/internal/supervisor"
	"github.com/reedfamily/mcwarden/internal/worker"
)

var ErrBusy = errors.New("previous run is still shutting down")

// ExitFunc is told about every run that ended.
type ExitFunc func(exit *supervisor.Exit)

type Config struct {
	ShowUI       bool
	StopTimeout  time.Duration
	BufferSize   int
	AutoRestart  bool
	RestartDelay time.Duration
}

// Status is the instance as reported by the API.
type Status struct {
	State     string     `json:"state"`
	RunID     string     `json:"run_id,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	LastExit  *ExitInfo  `json:"last_exit,omitempty"`
	Restart   *time.Time `json:"restart_at,omitempty"`
	Command   []string   `json:"command"`
}

type ExitInfo struct {
	RunID     string    `json:"run_id"`
	Code      int       `json:"code"`
	Error     string    `json:"error,omitempty"`
	Requested bool      `json:"requested"`
	At        time.Time `json:"at"`
}

// Instance runs one supervised server with its reader, pump and exit workers. Each Start
// builds the chain reader -> pump -> exit.
type Instance struct {
	sup     *supervisor.Supervisor
	hub     *console.Hub
	cfg     Config
	log     *zap.SugaredLogger
	rec     console.Recorder
	workers []worker.Option

	mu        sync.Mutex
	exit      *worker.Worker
	restart   *worker.Worker
	restartAt time.Time
	startedAt time.Time
	stopping  bool
	onExit    []ExitFunc
}

func New(sup *supervisor.Supervisor, hub *console.Hub, cfg Config, log *zap.SugaredLogger, rec console.Recorder, workerOpts ...worker.Option) *Instance {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = time.Minute
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = buffer.DefaultCapacity
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Instance{
		sup:     sup,
		hub:     hub,
		cfg:     cfg,
		log:     log.Named("instance"),
		rec:     rec,
		workers: workerOpts,
	}
}

func (i *Instance) Supervisor() *supervisor.Supervisor { return i.sup }
func (i *Instance) Hub() *console.Hub                  { return i.hub }

// OnExit registers fn. Handlers run on the exit worker, in registration order.
func (i *Instance) OnExit(fn ExitFunc) {
	i.mu.Lock()
	i.onExit = append(i.onExit, fn)
	i.mu.Unlock()
}

// Start launches the server and its output workers.
func (i *Instance) Start(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.startLocked(ctx)
}

func (i *Instance) startLocked(ctx context.Context) error {
	if i.exit != nil && i.exit.State() != worker.Finished {
		if running, _ := i.sup.IsRunning(); running {
			return supervisor.ErrAlreadyRunning
		}
		return ErrBusy
	}
	i.cancelRestartLocked()

	if err := i.sup.Start(ctx, i.cfg.ShowUI); err != nil {
		return err
	}
	runID := i.sup.RunID()
	i.startedAt = time.Now()
	i.stopping = false

	buf := buffer.New(i.cfg.BufferSize)
	reader := worker.Unstarted(console.ReadTask(i.sup, i.hub.Decoder(), buf, i.rec), i.opts("reader")...)
	pump := worker.Started(i.hub.PumpTask(buf), i.opts("pump")...)
	i.exit = pump.After(worker.Unstarted(i.exitTask(runID), i.opts("exit")...))
	if err := reader.Start(); err != nil {
		return fmt.Errorf("start reader: %w", err)
	}
	return nil
}

func (i *Instance) opts(name string) []worker.Option {
	return append([]worker.Option{worker.WithName(name), worker.WithLogger(i.log)}, i.workers...)
}

// exitTask runs once the pump has delivered the closed message, so every line of the run has
// been published before the exit handlers see it.
func (i *Instance) exitTask(runID string) worker.Task {
	return func(ctx context.Context) error {
		exit, err := i.sup.WaitRun(ctx, runID)
		if err != nil {
			return fmt.Errorf("wait for run %s: %w", runID, err)
		}

		i.mu.Lock()
		handlers := i.onExit
		stopping := i.stopping
		i.mu.Unlock()

		for _, fn := range handlers {
			fn(exit)
		}
		if exit.Requested || stopping || !i.cfg.AutoRestart {
			return nil
		}
		i.scheduleRestart(runID)
		return nil
	}
}

func (i *Instance) scheduleRestart(runID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.stopping || i.restart != nil {
		return
	}
	i.log.Warnw("server exited unexpectedly, restarting", "run", runID, "delay", i.cfg.RestartDelay)
	w, err := worker.ExecuteLater(i.restartTask(), i.cfg.RestartDelay, i.opts("restart")...)
	if err != nil {
		i.log.Errorw("schedule restart", "error", err)
		return
	}
	i.restart = w
	i.restartAt = time.Now().Add(i.cfg.RestartDelay)
}

func (i *Instance) restartTask() worker.Task {
	return func(ctx context.Context) error {
		i.mu.Lock()
		defer i.mu.Unlock()
		if ctx.Err() != nil || i.stopping {
			return ctx.Err()
		}
		i.restart = nil
		i.restartAt = time.Time{}
		// The exit worker that scheduled us may still be returning.
		if i.exit != nil {
			i.mu.Unlock()
			waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_ = i.exit.Wait(waitCtx)
			cancel()
			i.mu.Lock()
			if i.stopping {
				return nil
			}
		}
		return i.startLocked(ctx)
	}
}

func (i *Instance) cancelRestartLocked() {
	if i.restart != nil {
		_ = i.restart.Interrupt()
		i.restart = nil
		i.restartAt = time.Time{}
	}
}

// Stop asks the server to stop, kills it after the stop timeout and waits until the exit
// handlers have run. It is not an error when nothing is running.
func (i *Instance) Stop(ctx context.Context) error {
	i.mu.Lock()
	i.stopping = true
	i.cancelRestartLocked()
	exit := i.exit
	i.mu.Unlock()

	if err := i.sup.Stop(ctx, i.cfg.StopTimeout); err != nil {
		return err
	}
	if exit == nil {
		return nil
	}
	// The exit worker logs its own failures.
	_ = exit.Wait(ctx)
	return ctx.Err()
}

// Kill force-stops the server without waiting.
func (i *Instance) Kill() error {
	i.mu.Lock()
	i.stopping = true
	i.cancelRestartLocked()
	i.mu.Unlock()
	return i.sup.ForceStop()
}

func (i *Instance) Restart(ctx context.Context) error {
	if err := i.Stop(ctx); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	return i.Start(ctx)
}

// Send writes one line to the server console.
func (i *Instance) Send(line string) error { return i.sup.SendLine(line) }

// Command is Send for callers holding a context.
func (i *Instance) Command(_ context.Context, line string) error { return i.Send(line) }

func (i *Instance) Running() bool {
	running, err := i.sup.IsRunning()
	return running && err == nil
}

// Expect watches for eventID. Call it before sending the command that triggers the event.
func (i *Instance) Expect(eventID string) (func(context.Context) (*game.Event, error), func()) {
	x := i.hub.Expect(eventID)
	return x.Wait, x.Cancel
}

// Wait blocks until the current run's exit handlers have finished.
func (i *Instance) Wait(ctx context.Context) error {
	i.mu.Lock()
	exit := i.exit
	i.mu.Unlock()
	if exit == nil {
		return supervisor.ErrNotRunning
	}
	return exit.Wait(ctx)
}

func (i *Instance) Status() Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	st := Status{
		State:   i.sup.State().String(),
		RunID:   i.sup.RunID(),
		Command: i.sup.LaunchCommand(i.cfg.ShowUI),
	}
	if st.RunID != "" {
		t := i.startedAt
		st.StartedAt = &t
	}
	if i.restart != nil {
		t := i.restartAt
		st.Restart = &t
	}
	if e := i.sup.LastExit(); e != nil {
		info := &ExitInfo{RunID: e.RunID, Code: e.Code, Requested: e.Requested, At: e.At}
		if e.Err != nil {
			info.Error = e.Err.Error()
		}
		st.LastExit = info
	}
	return st
}
