// Package process runs the editing engine as a child process and exposes its
// standard streams and termination status.
package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// State represents the state of a process.
type State int

const (
	// StateCreated indicates the process has been created but not started.
	StateCreated State = iota
	// StateRunning indicates the process is currently running.
	StateRunning
	// StateExited indicates the process has exited normally or with an error.
	StateExited
	// StateKilled indicates the process was killed by a signal.
	StateKilled
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateKilled:
		return "killed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Sentinel errors for the process package.
var (
	// ErrNotStarted is returned when an operation requires a running process.
	ErrNotStarted = errors.New("process not started")

	// ErrAlreadyStarted is returned by Start on a process that was started before.
	ErrAlreadyStarted = errors.New("process already started")

	// ErrNoCommand is returned by New when Spec.Command is empty.
	ErrNoCommand = errors.New("no command")
)

// Spec describes the engine command line.
type Spec struct {
	Command string
	Args    []string
	// Env entries are appended to the current environment.
	Env []string
	Dir string
}

// Exit describes how a process terminated.
type Exit struct {
	Code   int
	Signal string
	// Err is the error from waiting, if any. It may be set even for a
	// successful exit when copying an output stream failed.
	Err error
}

// Success reports whether the process exited with status zero.
func (e Exit) Success() bool {
	return e.Code == 0 && e.Signal == ""
}

// String describes the exit status.
func (e Exit) String() string {
	if e.Signal != "" {
		return "killed by " + e.Signal
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Process is a managed engine process. It is safe for concurrent use.
//
// Stdout and Stderr are fed through in-memory pipes, so every byte the
// process wrote is delivered to the reader before the exit callbacks run.
// Both streams must be drained or the process cannot be reaped.
type Process struct {
	// ID uniquely identifies this process instance.
	ID string

	// Name is the command name, for logs.
	Name string

	// Stdin writes to the process's standard input.
	Stdin io.WriteCloser

	// Stdout reads the process's standard output.
	Stdout io.ReadCloser

	// Stderr reads the process's standard error.
	Stderr io.ReadCloser

	// Started is the time the process was started.
	Started time.Time

	cmd     *exec.Cmd
	stdoutW *io.PipeWriter
	stderrW *io.PipeWriter

	done     chan struct{}
	state    atomic.Int32
	exitCode atomic.Int32

	mu     sync.Mutex
	exit   Exit
	onExit []func(Exit)

	waitOnce sync.Once
}

// New prepares a process for spec without starting it.
func New(spec Spec) (*Process, error) {
	if spec.Command == "" {
		return nil, ErrNoCommand
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	p := &Process{
		ID:      uuid.NewString(),
		Name:    spec.Command,
		Stdin:   stdin,
		Stdout:  stdoutR,
		Stderr:  stderrR,
		cmd:     cmd,
		stdoutW: stdoutW,
		stderrW: stderrW,
		done:    make(chan struct{}),
	}
	p.state.Store(int32(StateCreated))
	p.exitCode.Store(-1)
	return p, nil
}

// State returns the current process state.
func (p *Process) State() State {
	return State(p.state.Load())
}

// ExitCode returns the process exit code, or -1 if it has not exited.
func (p *Process) ExitCode() int {
	return int(p.exitCode.Load())
}

// Exit returns the exit status. It is only meaningful after Done is closed.
func (p *Process) Exit() Exit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exit
}

// Done returns a channel that is closed when the process exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// IsRunning returns true if the process is currently running.
func (p *Process) IsRunning() bool {
	return p.State() == StateRunning
}

// PID returns the process ID, or -1 if not started.
func (p *Process) PID() int {
	if p.cmd.Process == nil {
		return -1
	}
	return p.cmd.Process.Pid
}

// OnExit registers fn to run once the process has exited. Callbacks run in
// registration order on the goroutine that reaped the process. Registering
// after exit runs fn immediately.
func (p *Process) OnExit(fn func(Exit)) {
	p.mu.Lock()
	select {
	case <-p.done:
		exit := p.exit
		p.mu.Unlock()
		fn(exit)
		return
	default:
	}
	p.onExit = append(p.onExit, fn)
	p.mu.Unlock()
}

// Start starts the process.
func (p *Process) Start() error {
	if !p.state.CompareAndSwap(int32(StateCreated), int32(StateRunning)) {
		return ErrAlreadyStarted
	}
	if err := p.cmd.Start(); err != nil {
		p.state.Store(int32(StateCreated))
		return fmt.Errorf("start %s: %w", p.Name, err)
	}
	p.Started = time.Now()
	go p.waitLoop()
	return nil
}

// Signal sends a signal to the process.
func (p *Process) Signal(sig os.Signal) error {
	if !p.IsRunning() || p.cmd.Process == nil {
		return ErrNotStarted
	}
	return p.cmd.Process.Signal(sig)
}

// Terminate sends SIGTERM to the process.
func (p *Process) Terminate() error {
	return p.Signal(syscall.SIGTERM)
}

// Kill sends SIGKILL to the process.
func (p *Process) Kill() error {
	return p.Signal(syscall.SIGKILL)
}

// Stop closes stdin, which asks a well-behaved engine to exit, and kills the
// process if it is still running after grace.
func (p *Process) Stop(grace time.Duration) error {
	if p.State() == StateCreated {
		return ErrNotStarted
	}
	_ = p.Stdin.Close()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
	}
	if err := p.Kill(); err != nil && !errors.Is(err, ErrNotStarted) {
		return fmt.Errorf("kill %s: %w", p.Name, err)
	}
	<-p.done
	return nil
}

func (p *Process) waitLoop() {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()

		// Wait has copied all output into the pipes; readers now see EOF.
		p.stdoutW.Close()
		p.stderrW.Close()

		exit := Exit{Err: err}
		state := StateExited
		if ps := p.cmd.ProcessState; ps != nil {
			exit.Code = ps.ExitCode()
			if status, ok := ps.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				exit.Signal = status.Signal().String()
				state = StateKilled
			}
		} else {
			exit.Code = -1
		}

		p.mu.Lock()
		p.exit = exit
		callbacks := p.onExit
		p.onExit = nil
		p.exitCode.Store(int32(exit.Code))
		p.state.Store(int32(state))
		close(p.done)
		p.mu.Unlock()

		for _, fn := range callbacks {
			fn(exit)
		}
	})
}

// Close closes the process's standard streams. It does not kill the process.
func (p *Process) Close() error {
	var errs []error
	if err := p.Stdin.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close stdin: %w", err))
	}
	if err := p.Stdout.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close stdout: %w", err))
	}
	if err := p.Stderr.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close stderr: %w", err))
	}
	return errors.Join(errs...)
}
