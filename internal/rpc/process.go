package rpc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// LaunchSpec describes how to start the engine.
type LaunchSpec struct {
	Path    string
	Args    []string
	Env     map[string]string
	WorkDir string
}

// Process is a running engine. Reads come from its stdout and writes go to
// its stdin.
type Process interface {
	io.ReadWriteCloser

	// Pid returns the operating system process id, or 0 if unknown.
	Pid() int
	// Kill terminates the process. Killing an exited process is not an error.
	Kill() error
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// Wait blocks until the process exits and returns its exit status.
	Wait() error
}

// Launcher starts engine processes.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Process, error)
}

// ExecLauncher starts the engine as a child process. The child's stderr is
// copied line by line into the logger.
type ExecLauncher struct {
	Logger *zap.Logger
}

// Launch starts the executable named in spec.
func (l ExecLauncher) Launch(ctx context.Context, spec LaunchSpec) (Process, error) {
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Env = os.Environ()
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Dir = spec.WorkDir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("start %s: %w", spec.Path, err)
	}

	p := &execProcess{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		exited: make(chan struct{}),
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			logger.Debug("engine stderr", zap.String("line", scanner.Text()))
		}
	}()

	go func() {
		p.waitErr = cmd.Wait()
		close(p.exited)
	}()

	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	exited  chan struct{}
	waitErr error
}

func (p *execProcess) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p *execProcess) Write(b []byte) (int, error) { return p.stdin.Write(b) }

func (p *execProcess) Close() error {
	return multierr.Append(ignoreClosed(p.stdin.Close()), ignoreClosed(p.stdout.Close()))
}

func (p *execProcess) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *execProcess) Kill() error {
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func (p *execProcess) Done() <-chan struct{} { return p.exited }

func (p *execProcess) Wait() error {
	<-p.exited
	return p.waitErr
}

// ignoreClosed drops the error cmd.Wait leaves behind after closing the pipes itself.
func ignoreClosed(err error) error {
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}
