// Package process launches and supervises the watched assistant process.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// DefaultTerminateTimeout is how long Terminate waits after SIGTERM before killing
const DefaultTerminateTimeout = 10 * time.Second

// Launcher starts a configured command in a project directory
type Launcher struct {
	command          string
	terminateTimeout time.Duration
	logger           *slog.Logger

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// NewLauncher returns a launcher for command, resolved like ResolveCommand.
// The child inherits this process's stdio unless the fields are replaced.
func NewLauncher(command string, terminateTimeout time.Duration, logger *slog.Logger) *Launcher {
	if terminateTimeout <= 0 {
		terminateTimeout = DefaultTerminateTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{
		command:          command,
		terminateTimeout: terminateTimeout,
		logger:           logger,
		Stdin:            os.Stdin,
		Stdout:           os.Stdout,
		Stderr:           os.Stderr,
	}
}

// Launch starts the command with args in dir. onExit, if set, is called once
// from a separate goroutine with the exit code after the process is gone.
func (l *Launcher) Launch(ctx context.Context, dir string, args []string, onExit func(exitCode int)) (*Process, error) {
	path := ResolveCommand(l.command)

	cmd := exec.Command(path, args...)
	cmd.Dir = dir
	cmd.Stdin = l.Stdin
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", l.command, err)
	}

	p := &Process{
		cmd:     cmd,
		done:    make(chan struct{}),
		timeout: l.terminateTimeout,
	}
	l.logger.Info("launched process", "command", path, "pid", cmd.Process.Pid, "dir", dir)

	go func() {
		err := cmd.Wait()
		code := cmd.ProcessState.ExitCode()
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			l.logger.Warn("wait for process failed", "pid", p.PID(), "error", err)
		}

		p.mu.Lock()
		p.exitCode = code
		p.mu.Unlock()
		close(p.done)

		l.logger.Info("process exited", "pid", p.PID(), "code", code)
		if onExit != nil {
			onExit(code)
		}
	}()

	return p, nil
}

// Process is a running child
type Process struct {
	cmd     *exec.Cmd
	done    chan struct{}
	timeout time.Duration

	mu       sync.Mutex
	exitCode int
}

func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Done is closed once the process has exited
func (p *Process) Done() <-chan struct{} {
	return p.done
}

func (p *Process) Running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// ExitCode is only meaningful once Done is closed
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Terminate asks the process to exit and waits for it. If it is still
// running after the terminate timeout it is killed.
func (p *Process) Terminate(ctx context.Context) error {
	if !p.Running() {
		return nil
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to signal process %d: %w", p.PID(), err)
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill process %d: %w", p.PID(), err)
	}

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ResolveCommand finds the executable for name. For "claude" the usual
// install locations are checked when it is not on PATH.
func ResolveCommand(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	if path, err := exec.LookPath(name); err == nil {
		return path
	}
	if name != "claude" {
		return name
	}

	homeDir, _ := os.UserHomeDir()
	possiblePaths := []string{
		filepath.Join(homeDir, ".claude", "local", "claude"),
		"/usr/local/bin/claude",
		"/opt/homebrew/bin/claude",
	}
	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return name
}

// Alive reports whether a process with pid exists
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// Cwd returns the working directory of pid. Only supported where /proc exists.
func Cwd(pid int) (string, error) {
	dir, err := os.Readlink(filepath.Join("/proc", strconv.Itoa(pid), "cwd"))
	if err != nil {
		return "", fmt.Errorf("failed to read cwd of %d: %w", pid, err)
	}
	return dir, nil
}
