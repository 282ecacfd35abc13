package instance

import (
	"archive/zip"
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/reedfamily/mcwarden/internal/console"
	"github.com/reedfamily/mcwarden/internal/game"
	"github.com/reedfamily/mcwarden/internal/game/minecraft"
	"github.com/reedfamily/mcwarden/internal/supervisor"
)

func writeJar(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "server.jar")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("META-INF/MANIFEST.MF")
	require.NoError(t, err)
	_, err = io.WriteString(w, "Manifest-Version: 1.0\n")
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

type exitStatus int

func (e exitStatus) Error() string { return "exit status " + strconv.Itoa(int(e)) }
func (e exitStatus) ExitCode() int { return int(e) }

var errCrashed error = exitStatus(1)

// fakeServer exits cleanly when it reads "stop".
type fakeServer struct {
	stdinR *io.PipeReader
	stdinW *io.PipeWriter
	outR   *io.PipeReader
	outW   *io.PipeWriter

	once     sync.Once
	exit     chan struct{}
	err      error
	commands chan string
}

func newFakeServer() *fakeServer {
	p := &fakeServer{exit: make(chan struct{}), commands: make(chan string, 16)}
	p.stdinR, p.stdinW = io.Pipe()
	p.outR, p.outW = io.Pipe()
	go func() {
		sc := bufio.NewScanner(p.stdinR)
		for sc.Scan() {
			p.commands <- sc.Text()
			if sc.Text() == "stop" {
				p.emit("[12:00:10] [Server thread/INFO]: Stopping server")
				p.finish(nil)
			}
		}
	}()
	return p
}

func (p *fakeServer) Stdin() io.WriteCloser { return p.stdinW }
func (p *fakeServer) Stdout() io.Reader     { return p.outR }

func (p *fakeServer) Wait() error {
	<-p.exit
	return p.err
}

func (p *fakeServer) Kill() error {
	p.finish(errors.New("signal: killed"))
	return nil
}

func (p *fakeServer) emit(lines ...string) {
	for _, l := range lines {
		if _, err := io.WriteString(p.outW, l+"\n"); err != nil {
			return
		}
	}
}

func (p *fakeServer) finish(err error) {
	p.once.Do(func() {
		p.err = err
		p.outW.Close()
		p.stdinR.Close()
		close(p.exit)
	})
}

type fakeLauncher struct {
	launched chan *fakeServer
}

func (l *fakeLauncher) Launch(context.Context, supervisor.LaunchSpec) (supervisor.Process, error) {
	p := newFakeServer()
	l.launched <- p
	return p, nil
}

func (l *fakeLauncher) next(t *testing.T) *fakeServer {
	t.Helper()
	select {
	case p := <-l.launched:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("server was not launched")
	}
	return nil
}

func newInstance(t *testing.T, cfg Config) (*Instance, *fakeLauncher) {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()
	l := &fakeLauncher{launched: make(chan *fakeServer, 4)}
	sup, err := supervisor.New(supervisor.Config{Executable: writeJar(t, t.TempDir())},
		supervisor.WithLauncher(l), supervisor.WithLogger(log))
	require.NoError(t, err)
	catalog, err := game.Build(&minecraft.Adapter{})
	require.NoError(t, err)
	hub := console.NewHub(game.NewDecoder(catalog), console.WithLogger(log))
	inst := New(sup, hub, cfg, log, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = inst.Stop(ctx)
	})
	return inst, l
}

func TestInstanceLifecycle(t *testing.T) {
	inst, l := newInstance(t, Config{StopTimeout: 5 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	events := make(chan string, 16)
	inst.Hub().OnEvent(func(ev *game.Event) { events <- ev.ID() })
	exits := make(chan *supervisor.Exit, 1)
	inst.OnExit(func(e *supervisor.Exit) { exits <- e })

	require.NoError(t, inst.Start(ctx))
	assert.ErrorIs(t, inst.Start(ctx), supervisor.ErrAlreadyRunning)
	proc := l.next(t)
	assert.True(t, inst.Running())

	proc.emit(`[12:00:06] [Server thread/INFO]: Done (6.42s)! For help, type "help"`)
	select {
	case id := <-events:
		assert.Equal(t, minecraft.ServerReady, id)
	case <-time.After(5 * time.Second):
		t.Fatal("no event")
	}

	require.NoError(t, inst.Send("say hi"))
	assert.Equal(t, "say hi", <-proc.commands)

	st := inst.Status()
	assert.Equal(t, "running", st.State)
	assert.NotEmpty(t, st.RunID)
	assert.NotNil(t, st.StartedAt)

	require.NoError(t, inst.Stop(ctx))
	exit := <-exits
	assert.True(t, exit.Requested)
	assert.NoError(t, exit.Err)
	assert.Equal(t, minecraft.ServerStopping, <-events, "output before exit is published first")
	assert.False(t, inst.Running())

	st = inst.Status()
	assert.Equal(t, "stopped", st.State)
	require.NotNil(t, st.LastExit)
	assert.True(t, st.LastExit.Requested)
	assert.Nil(t, st.Restart)

	// The instance can be started again once the exit handlers ran.
	require.NoError(t, inst.Start(ctx))
	l.next(t)
}

func TestInstanceAutoRestart(t *testing.T) {
	inst, l := newInstance(t, Config{StopTimeout: 5 * time.Second, AutoRestart: true, RestartDelay: 10 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exits := make(chan *supervisor.Exit, 2)
	inst.OnExit(func(e *supervisor.Exit) { exits <- e })

	require.NoError(t, inst.Start(ctx))
	first := l.next(t)
	firstRun := inst.Supervisor().RunID()
	first.finish(errCrashed)

	exit := <-exits
	assert.Equal(t, firstRun, exit.RunID)
	assert.False(t, exit.Requested)

	second := l.next(t)
	require.Eventually(t, inst.Running, 5*time.Second, 5*time.Millisecond)
	assert.NotEqual(t, firstRun, inst.Supervisor().RunID())

	require.NoError(t, inst.Stop(ctx))
	<-second.exit
	exit = <-exits
	assert.True(t, exit.Requested)

	select {
	case <-l.launched:
		t.Fatal("a requested stop must not restart the server")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInstanceNoRestartWhenDisabled(t *testing.T) {
	inst, l := newInstance(t, Config{RestartDelay: time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, inst.Start(ctx))
	l.next(t).finish(errCrashed)
	require.NoError(t, inst.Wait(ctx))

	select {
	case <-l.launched:
		t.Fatal("restarted without auto_restart")
	case <-time.After(50 * time.Millisecond):
	}
	st := inst.Status()
	require.NotNil(t, st.LastExit)
	assert.Equal(t, 1, st.LastExit.Code)
	assert.Equal(t, "exit status 1", st.LastExit.Error)
}

func TestInstanceExpect(t *testing.T) {
	inst, l := newInstance(t, Config{StopTimeout: 5 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, inst.Start(ctx))
	proc := l.next(t)

	wait, stop := inst.Expect(minecraft.GameSaved)
	defer stop()
	require.NoError(t, inst.Command(ctx, "save-all flush"))
	assert.Equal(t, "save-all flush", <-proc.commands)
	proc.emit("[12:01:00] [Server thread/INFO]: Saved the game")

	ev, err := wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, minecraft.GameSaved, ev.ID())
}

func TestInstanceSendWhenStopped(t *testing.T) {
	inst, _ := newInstance(t, Config{})
	assert.ErrorIs(t, inst.Send("list"), supervisor.ErrNotRunning)
	assert.ErrorIs(t, inst.Wait(context.Background()), supervisor.ErrNotRunning)
	assert.NoError(t, inst.Stop(context.Background()))
	assert.Equal(t, "not_started", inst.Status().State)
}
