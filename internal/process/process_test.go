package process

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func startProcess(t *testing.T, spec Spec) *Process {
	t.Helper()
	p, err := New(spec)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return p
}

func waitDone(t *testing.T, p *Process) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
}

func TestNew(t *testing.T) {
	p, err := New(Spec{Command: "echo", Args: []string{"hello"}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p.ID == "" {
		t.Error("expected a process ID")
	}
	if p.State() != StateCreated {
		t.Errorf("State() = %v, want %v", p.State(), StateCreated)
	}
	if p.ExitCode() != -1 {
		t.Errorf("ExitCode() = %d, want -1", p.ExitCode())
	}
	if p.PID() != -1 {
		t.Errorf("PID() = %d, want -1", p.PID())
	}

	other, _ := New(Spec{Command: "echo"})
	if other.ID == p.ID {
		t.Error("process IDs collide")
	}

	if _, err := New(Spec{}); !errors.Is(err, ErrNoCommand) {
		t.Errorf("New(empty) error = %v, want ErrNoCommand", err)
	}
}

func TestProcess_OutputBeforeExit(t *testing.T) {
	p := startProcess(t, Spec{
		Command: "sh",
		Args:    []string{"-c", "echo out; echo err 1>&2"},
	})

	errc := make(chan string, 1)
	go func() {
		b, _ := io.ReadAll(p.Stderr)
		errc <- string(b)
	}()
	out, err := io.ReadAll(p.Stdout)
	if err != nil {
		t.Fatalf("read stdout: %v", err)
	}
	if string(out) != "out\n" {
		t.Errorf("stdout = %q, want %q", out, "out\n")
	}
	if got := <-errc; got != "err\n" {
		t.Errorf("stderr = %q, want %q", got, "err\n")
	}

	waitDone(t, p)
	if !p.Exit().Success() {
		t.Errorf("Exit() = %v, want success", p.Exit())
	}
	if p.State() != StateExited {
		t.Errorf("State() = %v, want %v", p.State(), StateExited)
	}
}

func TestProcess_ExitStatus(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		code    int
		success bool
	}{
		{"success", "exit 0", 0, true},
		{"failure", "exit 1", 1, false},
		{"custom", "exit 42", 42, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := startProcess(t, Spec{Command: "sh", Args: []string{"-c", tt.script}})
			go io.Copy(io.Discard, p.Stdout)
			go io.Copy(io.Discard, p.Stderr)

			got := make(chan Exit, 1)
			p.OnExit(func(e Exit) { got <- e })
			waitDone(t, p)

			e := <-got
			if e.Code != tt.code {
				t.Errorf("Code = %d, want %d", e.Code, tt.code)
			}
			if e.Success() != tt.success {
				t.Errorf("Success() = %v, want %v", e.Success(), tt.success)
			}
			if p.ExitCode() != tt.code {
				t.Errorf("ExitCode() = %d, want %d", p.ExitCode(), tt.code)
			}
		})
	}
}

func TestProcess_OnExitAfterExit(t *testing.T) {
	p := startProcess(t, Spec{Command: "true"})
	go io.Copy(io.Discard, p.Stdout)
	go io.Copy(io.Discard, p.Stderr)
	waitDone(t, p)

	called := false
	p.OnExit(func(Exit) { called = true })
	if !called {
		t.Error("OnExit after exit did not run immediately")
	}
}

func TestProcess_Kill(t *testing.T) {
	p := startProcess(t, Spec{Command: "sleep", Args: []string{"10"}})
	go io.Copy(io.Discard, p.Stdout)
	go io.Copy(io.Discard, p.Stderr)

	if err := p.Kill(); err != nil {
		t.Fatalf("Kill() error = %v", err)
	}
	waitDone(t, p)

	if p.State() != StateKilled {
		t.Errorf("State() = %v, want %v", p.State(), StateKilled)
	}
	e := p.Exit()
	if e.Success() {
		t.Error("killed process reported success")
	}
	if !strings.Contains(e.String(), "killed") {
		t.Errorf("String() = %q, want it to mention the signal", e.String())
	}
}

func TestProcess_StopClosesStdin(t *testing.T) {
	p := startProcess(t, Spec{Command: "cat"})
	go io.Copy(io.Discard, p.Stdout)
	go io.Copy(io.Discard, p.Stderr)

	if err := p.Stop(5 * time.Second); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !p.Exit().Success() {
		t.Errorf("Exit() = %v, want success after stdin EOF", p.Exit())
	}
}

func TestProcess_StartTwice(t *testing.T) {
	p := startProcess(t, Spec{Command: "true"})
	go io.Copy(io.Discard, p.Stdout)
	go io.Copy(io.Discard, p.Stderr)
	defer waitDone(t, p)

	if err := p.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestProcess_SignalBeforeStart(t *testing.T) {
	p, _ := New(Spec{Command: "true"})
	if err := p.Terminate(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Terminate() error = %v, want ErrNotStarted", err)
	}
	if err := p.Stop(time.Millisecond); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Stop() error = %v, want ErrNotStarted", err)
	}
}

func TestProcess_CloseAfterFailedStart(t *testing.T) {
	p, err := New(Spec{Command: "/nonexistent/engine"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := p.Start(); err == nil {
		t.Fatal("Start() succeeded for a missing binary")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := p.Stdout.Read(make([]byte, 1)); !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("Stdout.Read() error = %v, want io.ErrClosedPipe", err)
	}
}
