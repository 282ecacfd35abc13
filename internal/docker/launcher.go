package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reedfamily/mcwarden/internal/supervisor"
)

const (
	DefaultImage   = "eclipse-temurin:21-jre"
	DefaultDataDir = "/data"
)

var ErrNoContainer = errors.New("no container is running")

type ContainerConfig struct {
	Image string
	// Name prefixes the per-run container name.
	Name        string
	Ports       []PortMapping
	MemoryLimit int64
	Env         []string
	// DataDir is where the server directory is mounted inside the container.
	DataDir string
}

// ContainerLauncher starts each run in a fresh auto-removed container with the server
// directory bind mounted, and attaches to the container's stdio.
type ContainerLauncher struct {
	client *Client
	cfg    ContainerConfig
	log    *zap.SugaredLogger

	mu      sync.Mutex
	current string
}

func NewContainerLauncher(c *Client, cfg ContainerConfig, log *zap.SugaredLogger) *ContainerLauncher {
	if cfg.Image == "" {
		cfg.Image = DefaultImage
	}
	if cfg.Name == "" {
		cfg.Name = "mcwarden"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &ContainerLauncher{client: c, cfg: cfg, log: log.Named("docker")}
}

func (c ContainerConfig) build(spec supervisor.LaunchSpec) (*container.Config, *container.HostConfig) {
	exposed, bindings := portBindings(c.Ports)
	cfg := &container.Config{
		Image:        c.Image,
		Cmd:          spec.Argv(),
		Env:          c.Env,
		WorkingDir:   c.DataDir,
		User:         strconv.Itoa(os.Getuid()) + ":" + strconv.Itoa(os.Getgid()),
		ExposedPorts: exposed,
		OpenStdin:    true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	}
	host := &container.HostConfig{
		PortBindings: bindings,
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: spec.Dir,
			Target: c.DataDir,
		}},
		AutoRemove: true,
	}
	if c.MemoryLimit > 0 {
		host.Memory = c.MemoryLimit
	}
	return cfg, host
}

func (l *ContainerLauncher) Launch(ctx context.Context, spec supervisor.LaunchSpec) (supervisor.Process, error) {
	if err := l.client.EnsureImage(ctx, l.cfg.Image, l.log); err != nil {
		return nil, err
	}
	cfg, host := l.cfg.build(spec)
	name := l.cfg.Name + "-" + uuid.NewString()[:8]
	created, err := l.client.cli.ContainerCreate(ctx, cfg, host, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	id := created.ID

	// Attach and wait before starting so neither early output nor a fast exit is missed.
	hijacked, err := l.client.cli.ContainerAttach(ctx, id, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		l.remove(id)
		return nil, fmt.Errorf("attach container: %w", err)
	}
	waitCh, waitErr := l.client.cli.ContainerWait(context.Background(), id, container.WaitConditionNextExit)

	if err := l.client.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		hijacked.Close()
		l.remove(id)
		return nil, fmt.Errorf("start container: %w", err)
	}
	l.log.Infow("container started", "id", shortID(id), "name", name, "image", l.cfg.Image)

	pr, pw := io.Pipe()
	p := &containerProcess{
		client:   l.client,
		id:       id,
		hijacked: hijacked,
		stdout:   pr,
		done:     make(chan struct{}),
	}
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, hijacked.Reader)
		pw.CloseWithError(err)
	}()
	go func() {
		p.err = waitResult(waitCh, waitErr)
		hijacked.Close()
		l.mu.Lock()
		if l.current == id {
			l.current = ""
		}
		l.mu.Unlock()
		close(p.done)
	}()

	l.mu.Lock()
	l.current = id
	l.mu.Unlock()
	return p, nil
}

// Current is the id of the running container, or "".
func (l *ContainerLauncher) Current() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Usage samples the running container.
func (l *ContainerLauncher) Usage(ctx context.Context) (Usage, error) {
	id := l.Current()
	if id == "" {
		return Usage{}, ErrNoContainer
	}
	return l.client.Usage(ctx, id)
}

func (l *ContainerLauncher) remove(id string) {
	err := l.client.cli.ContainerRemove(context.Background(), id, container.RemoveOptions{Force: true})
	if err != nil {
		l.log.Warnw("remove container", "id", shortID(id), "error", err)
	}
}

func waitResult(waitCh <-chan container.WaitResponse, errCh <-chan error) error {
	select {
	case resp := <-waitCh:
		if resp.Error != nil && resp.Error.Message != "" {
			return fmt.Errorf("container wait: %s", resp.Error.Message)
		}
		if resp.StatusCode != 0 {
			return &ExitError{Code: int(resp.StatusCode)}
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("container wait: %w", err)
	}
}

// ExitError reports a non-zero container exit status.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string { return "container exited with status " + strconv.Itoa(e.Code) }
func (e *ExitError) ExitCode() int { return e.Code }

type containerProcess struct {
	client   *Client
	id       string
	hijacked types.HijackedResponse
	stdout   *io.PipeReader

	done chan struct{}
	err  error
}

func (p *containerProcess) Stdin() io.WriteCloser { return stdinConn{p.hijacked} }
func (p *containerProcess) Stdout() io.Reader     { return p.stdout }

func (p *containerProcess) Wait() error {
	<-p.done
	return p.err
}

func (p *containerProcess) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	return p.client.Kill(context.Background(), p.id)
}

// stdinConn half-closes the attach stream on Close so the server sees EOF on stdin.
type stdinConn struct {
	resp types.HijackedResponse
}

func (s stdinConn) Write(b []byte) (int, error) { return s.resp.Conn.Write(b) }
func (s stdinConn) Close() error                { return s.resp.CloseWrite() }

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
