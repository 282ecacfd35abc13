// Package supervisor owns the Minecraft server process and its line protocol.
package supervisor

import (
	"archive/zip"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reedfamily/mcwarden/internal/game"
	"github.com/reedfamily/mcwarden/internal/jvm"
)

// MaxCommandLength is the first command length, in characters, that SendLine refuses.
const MaxCommandLength = 256

// State of the supervised process.
type State int

const (
	NotStarted State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

type Config struct {
	// Executable is the server jar.
	Executable string
	// Runtime is the java binary. Defaults to "java".
	Runtime string
	// MinHeap and MaxHeap are left out of the command line when zero.
	MinHeap     jvm.HeapArgument
	MaxHeap     jvm.HeapArgument
	Options     []jvm.RuntimeOption
	StopCommand string
}

// Hooks receives lifecycle notifications, for metrics.
type Hooks interface {
	ProcessStarted(runID string)
	ProcessExited(runID string, err error)
	CommandSent()
	CommandRejected(reason string)
}

// Exit describes how the most recent run ended.
type Exit struct {
	RunID     string
	Err       error
	Code      int
	Requested bool
	At        time.Time
}

// run bundles a process with its pipes. It is never modified after creation except for its
// exit fields, so the supervisor can swap it in and out atomically.
type run struct {
	id     string
	proc   Process
	stdin  *bufio.Writer
	stdout *bufio.Reader

	writeMu   sync.Mutex
	requested atomic.Bool
	exited    chan struct{}
}

type Option func(*Supervisor)

func WithLauncher(l Launcher) Option {
	return func(s *Supervisor) { s.launcher = l }
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Supervisor) { s.log = log }
}

func WithHooks(h Hooks) Option {
	return func(s *Supervisor) { s.hooks = h }
}

type Supervisor struct {
	cfg      Config
	launcher Launcher
	log      *zap.SugaredLogger
	hooks    Hooks

	// startMu serialises Start.
	startMu sync.Mutex
	// readMu serialises ReadLine.
	readMu sync.Mutex

	started atomic.Bool
	// cur is the live run, cleared by the exit observer.
	cur atomic.Pointer[run]
	// reading is the run whose output has not reached EOF yet. It can outlive cur.
	reading atomic.Pointer[run]
	lastExit atomic.Pointer[Exit]
}

// New validates cfg without starting anything.
func New(cfg Config, opts ...Option) (*Supervisor, error) {
	if cfg.Runtime == "" {
		cfg.Runtime = "java"
	}
	if cfg.StopCommand == "" {
		cfg.StopCommand = "stop"
	}
	jar, err := validateExecutable(cfg.Executable)
	if err != nil {
		return nil, err
	}
	cfg.Executable = jar

	if !cfg.MinHeap.IsZero() && !cfg.MaxHeap.IsZero() && cfg.MinHeap.Compare(cfg.MaxHeap) > 0 {
		return nil, fmt.Errorf("%w: %s > %s", ErrMismatchedHeapBounds, cfg.MinHeap, cfg.MaxHeap)
	}

	s := &Supervisor{
		cfg:      cfg,
		launcher: ExecLauncher{},
		log:      zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("supervisor")
	return s, nil
}

func validateExecutable(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: no path", ErrInvalidExecutable)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidExecutable, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidExecutable, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s is not a regular file", ErrInvalidExecutable, abs)
	}
	if !strings.EqualFold(filepath.Ext(abs), ".jar") {
		return "", fmt.Errorf("%w: %s is not a .jar", ErrInvalidExecutable, abs)
	}
	zr, err := zip.OpenReader(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s is not a jar archive: %v", ErrInvalidExecutable, abs, err)
	}
	zr.Close()
	return abs, nil
}

func (s *Supervisor) Config() Config { return s.cfg }

// LaunchSpec builds the command line Start would run.
func (s *Supervisor) LaunchSpec(showUI bool) LaunchSpec {
	args := make([]string, 0, len(s.cfg.Options)+5)
	if !s.cfg.MinHeap.IsZero() {
		args = append(args, s.cfg.MinHeap.MinFlag())
	}
	if !s.cfg.MaxHeap.IsZero() {
		args = append(args, s.cfg.MaxHeap.MaxFlag())
	}
	for _, opt := range s.cfg.Options {
		args = append(args, opt.Flag())
	}
	args = append(args, "-jar", filepath.Base(s.cfg.Executable))
	if !showUI {
		args = append(args, "nogui")
	}
	return LaunchSpec{
		Path: s.cfg.Runtime,
		Args: args,
		Dir:  filepath.Dir(s.cfg.Executable),
		Jar:  s.cfg.Executable,
	}
}

// LaunchCommand is LaunchSpec(showUI).Argv().
func (s *Supervisor) LaunchCommand(showUI bool) []string {
	return s.LaunchSpec(showUI).Argv()
}

// Start launches the server. On failure the state is left as it was.
func (s *Supervisor) Start(ctx context.Context, showUI bool) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	if s.cur.Load() != nil {
		return ErrAlreadyRunning
	}
	spec := s.LaunchSpec(showUI)
	proc, err := s.launcher.Launch(ctx, spec)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProcessLaunchFailed, err)
	}

	r := &run{
		id:     uuid.NewString(),
		proc:   proc,
		stdin:  bufio.NewWriter(proc.Stdin()),
		stdout: bufio.NewReader(proc.Stdout()),
		exited: make(chan struct{}),
	}
	s.cur.Store(r)
	s.reading.Store(r)
	s.started.Store(true)

	s.log.Infow("server started", "run", r.id, "command", strings.Join(spec.Argv(), " "), "dir", spec.Dir)
	if s.hooks != nil {
		s.hooks.ProcessStarted(r.id)
	}
	go s.observe(r)
	return nil
}

// observe waits for the process to exit and then clears the run in a single swap.
func (s *Supervisor) observe(r *run) {
	err := r.proc.Wait()
	exit := &Exit{
		RunID:     r.id,
		Err:       err,
		Code:      ExitCode(err),
		Requested: r.requested.Load(),
		At:        time.Now(),
	}
	s.lastExit.Store(exit)
	s.cur.CompareAndSwap(r, nil)
	close(r.exited)

	if err != nil && !exit.Requested {
		s.log.Warnw("server exited", "run", r.id, "code", exit.Code, "error", err)
	} else {
		s.log.Infow("server exited", "run", r.id, "code", exit.Code, "requested", exit.Requested)
	}
	if s.hooks != nil {
		s.hooks.ProcessExited(r.id, err)
	}
}

var newlines = strings.NewReplacer("\r", " ", "\n", " ")

// SendLine writes cmd followed by a newline. Line breaks inside cmd become spaces, so one call
// is always one line of input.
func (s *Supervisor) SendLine(cmd string) error {
	r := s.cur.Load()
	if r == nil {
		return ErrNotRunning
	}
	cmd = newlines.Replace(cmd)
	if n := utf8.RuneCountInString(cmd); n >= MaxCommandLength {
		if s.hooks != nil {
			s.hooks.CommandRejected("too_long")
		}
		return fmt.Errorf("%w: %d characters", ErrCommandTooLong, n)
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if _, err := r.stdin.WriteString(cmd + "\n"); err != nil {
		return fmt.Errorf("write command: %w", err)
	}
	if err := r.stdin.Flush(); err != nil {
		return fmt.Errorf("flush command: %w", err)
	}
	s.log.Debugw("command sent", "run", r.id, "command", cmd)
	if s.hooks != nil {
		s.hooks.CommandSent()
	}
	return nil
}

// ReadLine blocks for the next output line. When the output closes it returns game.EOF once;
// the output of a run that has already exited is still served until then. Only one goroutine
// should read at a time.
func (s *Supervisor) ReadLine() (game.Line, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	r := s.reading.Load()
	if r == nil {
		return game.Line{}, ErrNotRunning
	}
	line, err := r.stdout.ReadString('\n')
	if line != "" {
		return game.Text(strings.TrimRight(line, "\r\n")), nil
	}
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
		s.log.Warnw("read output", "run", r.id, "error", err)
	}
	if c, ok := r.proc.Stdout().(io.Closer); ok {
		c.Close()
	}
	s.reading.CompareAndSwap(r, nil)
	return game.EOF, nil
}

// RequestStop sends the stop command and returns without waiting.
func (s *Supervisor) RequestStop() error {
	if r := s.cur.Load(); r != nil {
		r.requested.Store(true)
	}
	return s.SendLine(s.cfg.StopCommand)
}

// ForceStop kills the process. It is a no-op when nothing is running.
func (s *Supervisor) ForceStop() error {
	r := s.cur.Load()
	if r == nil {
		return nil
	}
	r.requested.Store(true)
	s.log.Warnw("killing server", "run", r.id)
	if err := r.proc.Kill(); err != nil {
		return fmt.Errorf("kill: %w", err)
	}
	return nil
}

// Stop asks the server to stop, waits up to grace for it to exit and kills it otherwise.
func (s *Supervisor) Stop(ctx context.Context, grace time.Duration) error {
	r := s.cur.Load()
	if r == nil {
		return nil
	}
	if err := s.RequestStop(); err != nil && !errors.Is(err, ErrNotRunning) {
		s.log.Warnw("stop command failed, killing", "run", r.id, "error", err)
		if err := s.ForceStop(); err != nil {
			return err
		}
	}

	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-r.exited:
		return nil
	case <-t.C:
		s.log.Warnw("server did not stop in time", "run", r.id, "grace", grace)
	case <-ctx.Done():
	}
	if err := s.ForceStop(); err != nil {
		return err
	}
	select {
	case <-r.exited:
		return ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning reports whether a process is present. A process without both of its pipes is
// reported as ErrUnusualState; the only recovery is ForceStop.
func (s *Supervisor) IsRunning() (bool, error) {
	r := s.cur.Load()
	if r == nil {
		return false, nil
	}
	if r.proc == nil || r.stdin == nil || r.stdout == nil || r.proc.Stdin() == nil || r.proc.Stdout() == nil {
		return false, ErrUnusualState
	}
	return true, nil
}

func (s *Supervisor) State() State {
	switch {
	case s.cur.Load() != nil:
		return Running
	case s.started.Load():
		return Stopped
	}
	return NotStarted
}

// RunID identifies the current run, or is empty when nothing is running.
func (s *Supervisor) RunID() string {
	if r := s.cur.Load(); r != nil {
		return r.id
	}
	return ""
}

// LastExit returns how the last run ended, or nil before any run has exited.
func (s *Supervisor) LastExit() *Exit { return s.lastExit.Load() }

// Wait blocks until the current run exits and returns its exit error.
func (s *Supervisor) Wait(ctx context.Context) error {
	r := s.cur.Load()
	if r == nil {
		return ErrNotRunning
	}
	select {
	case <-r.exited:
		if e := s.lastExit.Load(); e != nil && e.RunID == r.id {
			return e.Err
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitRun blocks until the run with the given id has exited and returns how it ended. It
// returns ErrNotRunning when the id is neither the current run nor the last one to exit.
func (s *Supervisor) WaitRun(ctx context.Context, runID string) (*Exit, error) {
	if e := s.lastExit.Load(); e != nil && e.RunID == runID {
		return e, nil
	}
	r := s.cur.Load()
	if r == nil || r.id != runID {
		if e := s.lastExit.Load(); e != nil && e.RunID == runID {
			return e, nil
		}
		return nil, ErrNotRunning
	}
	select {
	case <-r.exited:
		return s.lastExit.Load(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
