package supervisor

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
)

// LaunchSpec is a fully built command line.
type LaunchSpec struct {
	// Path is the runtime to execute, e.g. "java".
	Path string
	Args []string
	Dir  string
	// Jar is the absolute path of the server archive.
	Jar string
}

// Argv returns Path followed by Args.
func (s LaunchSpec) Argv() []string {
	return append([]string{s.Path}, s.Args...)
}

// Process is a launched server. Stdout carries stdout and stderr combined and reaches EOF
// only after the process has exited and all of its output has been read.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	// Wait blocks until the process exits and returns its exit error.
	Wait() error
	Kill() error
}

type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Process, error)
}

// ExecLauncher runs the server as a child process of mcwarden.
type ExecLauncher struct {
	// Env is appended to the inherited environment.
	Env []string
}

func (l ExecLauncher) Launch(ctx context.Context, spec LaunchSpec) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	if len(l.Env) > 0 {
		cmd.Env = append(os.Environ(), l.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	// One OS pipe for both streams so lines keep their relative order.
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	cmd.Stdout = w
	cmd.Stderr = w

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, err
	}
	w.Close()

	p := &execProcess{cmd: cmd, stdin: stdin, stdout: r, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File

	done chan struct{}
	err  error
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.Reader     { return p.stdout }

func (p *execProcess) Wait() error {
	<-p.done
	return p.err
}

func (p *execProcess) Kill() error {
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// ExitCoder is implemented by Wait errors that know the exit status, such as *exec.ExitError.
type ExitCoder interface {
	ExitCode() int
}

// ExitCode extracts the process exit code from a Wait error. It returns 0 for nil and -1
// when the error carries no code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var coder ExitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return -1
}
