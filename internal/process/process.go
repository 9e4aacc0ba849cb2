// Package process owns the lifecycle of one external worker process:
// start, liveness, exactly-once exit observation, graceful stop with a
// force-kill escape hatch.
package process

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/loykin/streamcap/internal/logger"
)

// State machine: Stopped -> Starting -> Running -> Stopping -> Stopped.
// Running -> Crashed when a liveness observation finds the worker gone.
// Stopped and Crashed are terminal until the next explicit Start.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateCrashed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// Defaults applied by New.
const (
	DefaultStartupGrace = 500 * time.Millisecond
	DefaultTailBytes    = 2000
	killReapWindow      = 500 * time.Millisecond
)

// ErrAlreadyRunning is returned by Start while a previous launch is
// still starting or running.
var ErrAlreadyRunning = errors.New("process already running")

// LaunchError reports a worker that the OS could not spawn, or that
// exited within the startup grace window. OutputTail carries whatever
// the worker managed to print before dying.
type LaunchError struct {
	Err        error
	OutputTail string
}

func (e *LaunchError) Error() string {
	if e.OutputTail != "" {
		return fmt.Sprintf("launch failed: %v: %s", e.Err, e.OutputTail)
	}
	return fmt.Sprintf("launch failed: %v", e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// ExitInfo describes one observed worker exit.
type ExitInfo struct {
	Code       int
	OutputTail string
	At         time.Time
}

// Spec describes the worker to supervise. The supervision core does not
// interpret the argv; receiver and recorder policies build it.
type Spec struct {
	Name         string   // component tag used in audit records
	Command      []string // argv, Command[0] is the binary
	WorkDir      string
	QuitCommand  string        // optional bytes written to stdin before signalling (ffmpeg: "q")
	StartupGrace time.Duration // how long the worker must stay up to count as started
	TailBytes    int           // combined-output tail capacity
	Output       logger.OutputConfig
}

// launch is the per-start state. A fresh launch is created by every
// Start so a stale waiter goroutine can never corrupt a newer run.
type launch struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	tail      *tailBuffer
	outFile   io.WriteCloser
	startedAt time.Time
	done      chan struct{}
	exitCode  int
	exitedAt  time.Time
}

// ManagedProcess supervises one worker. All methods are safe for
// concurrent use; Stop may be called from a different goroutine than
// the one that called Start.
type ManagedProcess struct {
	mu           sync.Mutex
	spec         Spec
	state        State
	cur          *launch
	exitObserved bool
	stopping     bool // intentional stop in progress; suppress crash reporting
	lg           *logger.Logger
}

// New returns a ManagedProcess in the Stopped state.
func New(spec Spec, lg *logger.Logger) *ManagedProcess {
	if spec.StartupGrace <= 0 {
		spec.StartupGrace = DefaultStartupGrace
	}
	if spec.TailBytes <= 0 {
		spec.TailBytes = DefaultTailBytes
	}
	return &ManagedProcess{spec: spec, state: StateStopped, lg: lg}
}

// Start spawns the worker and holds it to the startup grace window. An
// immediate exit inside the window is a launch failure, not a crash.
func (p *ManagedProcess) Start() error {
	p.mu.Lock()
	if p.state == StateStarting || p.state == StateRunning {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	if len(p.spec.Command) == 0 {
		p.mu.Unlock()
		return &LaunchError{Err: errors.New("empty command")}
	}

	l := &launch{
		tail: newTailBuffer(p.spec.TailBytes),
		done: make(chan struct{}),
	}
	cmd := exec.Command(p.spec.Command[0], p.spec.Command[1:]...) // #nosec G204 -- argv built by trusted policies
	if p.spec.WorkDir != "" {
		cmd.Dir = p.spec.WorkDir
	}
	setProcGroup(cmd)

	var sink io.Writer = l.tail
	if p.spec.Output.Enabled() {
		l.outFile = p.spec.Output.Writer(p.spec.Name)
		sink = io.MultiWriter(l.tail, l.outFile)
	}
	cmd.Stdout = sink
	cmd.Stderr = sink
	if p.spec.QuitCommand != "" {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			p.mu.Unlock()
			return &LaunchError{Err: fmt.Errorf("stdin pipe: %w", err)}
		}
		l.stdin = stdin
	}

	p.state = StateStarting
	p.stopping = false
	p.exitObserved = false
	p.lg.Info(p.spec.Name, "starting", map[string]any{
		"command": strings.Join(p.spec.Command, " "),
	}, fmt.Sprintf("Starting %s worker", p.spec.Name))

	if err := cmd.Start(); err != nil {
		p.state = StateStopped
		p.closeLaunch(l)
		p.mu.Unlock()
		p.lg.Error(p.spec.Name, "launch_failed", map[string]any{
			"command": strings.Join(p.spec.Command, " "),
			"error":   err.Error(),
		}, fmt.Sprintf("Failed to launch %s worker: %v", p.spec.Name, err))
		return &LaunchError{Err: err}
	}

	l.cmd = cmd
	l.startedAt = time.Now()
	p.cur = l
	pid := cmd.Process.Pid
	grace := p.spec.StartupGrace
	p.mu.Unlock()

	go p.wait(l)

	// Grace window: a worker that dies this quickly never really started.
	select {
	case <-l.done:
		tail := l.tail.String()
		p.mu.Lock()
		p.state = StateStopped
		p.exitObserved = true
		code := l.exitCode
		p.mu.Unlock()
		p.lg.Error(p.spec.Name, "launch_failed", map[string]any{
			"pid":         pid,
			"exit_code":   code,
			"output_tail": tail,
		}, fmt.Sprintf("%s worker died immediately (code %d)", p.spec.Name, code))
		return &LaunchError{Err: fmt.Errorf("worker exited with code %d during startup", code), OutputTail: tail}
	case <-time.After(grace):
	}

	p.mu.Lock()
	if p.state == StateStarting {
		p.state = StateRunning
	}
	p.mu.Unlock()
	p.lg.Service(p.spec.Name, "started", map[string]any{
		"pid":     pid,
		"command": strings.Join(p.spec.Command, " "),
	}, fmt.Sprintf("%s worker started (pid %d)", p.spec.Name, pid))
	return nil
}

// wait reaps the worker exactly once and records its exit.
func (p *ManagedProcess) wait(l *launch) {
	err := l.cmd.Wait()

	code := 0
	if l.cmd.ProcessState != nil {
		code = l.cmd.ProcessState.ExitCode()
	} else if err != nil {
		code = -1
	}

	p.mu.Lock()
	l.exitCode = code
	l.exitedAt = time.Now()
	p.mu.Unlock()
	close(l.done)

	if l.outFile != nil {
		_ = l.outFile.Close()
	}
}

// IsAlive reports whether the current worker is still executing.
// Non-blocking; an absent handle is simply "not alive".
func (p *ManagedProcess) IsAlive() bool {
	p.mu.Lock()
	l := p.cur
	st := p.state
	p.mu.Unlock()
	if l == nil || (st != StateRunning && st != StateStarting && st != StateStopping) {
		return false
	}
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

// ObserveExit reports an unexpected exit exactly once. If the worker
// died on its own since the last observation, the state moves
// Running -> Crashed and the exit info is returned; every later call
// returns false until the next Start. Intentional stops are consumed by
// Stop and never surface here.
func (p *ManagedProcess) ObserveExit() (ExitInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	l := p.cur
	if l == nil || p.exitObserved || p.stopping || p.state != StateRunning {
		return ExitInfo{}, false
	}
	select {
	case <-l.done:
	default:
		return ExitInfo{}, false
	}

	p.exitObserved = true
	p.state = StateCrashed
	info := ExitInfo{Code: l.exitCode, OutputTail: l.tail.String(), At: l.exitedAt}
	p.lg.Info(p.spec.Name, "process_exited", map[string]any{
		"pid":       pidOf(l),
		"exit_code": info.Code,
	}, fmt.Sprintf("%s worker exited on its own (code %d)", p.spec.Name, info.Code))
	return info, true
}

// Stop requests graceful termination and escalates to a kill after the
// grace period. It is a no-op when nothing is running, is idempotent,
// and always leaves the process in the Stopped state.
func (p *ManagedProcess) Stop(grace time.Duration) error {
	p.mu.Lock()
	if p.state != StateStarting && p.state != StateRunning && p.state != StateStopping {
		p.mu.Unlock()
		return nil
	}
	l := p.cur
	if l == nil || l.cmd == nil || l.cmd.Process == nil {
		p.state = StateStopped
		p.mu.Unlock()
		return nil
	}
	p.state = StateStopping
	p.stopping = true
	quit := p.spec.QuitCommand
	p.mu.Unlock()

	pid := l.cmd.Process.Pid
	p.lg.Info(p.spec.Name, "stopping", map[string]any{"pid": pid},
		fmt.Sprintf("Stopping %s worker", p.spec.Name))

	// Protocol-level quit first (ffmpeg finalizes its output on "q"),
	// then the control signal for workers that ignore stdin.
	if quit != "" && l.stdin != nil {
		_, _ = io.WriteString(l.stdin, quit)
		_ = l.stdin.Close()
	}
	_ = terminate(pid)

	killed := false
	select {
	case <-l.done:
	case <-time.After(grace):
		killed = true
		p.lg.Info(p.spec.Name, "killing", map[string]any{"pid": pid},
			fmt.Sprintf("Force killing %s worker", p.spec.Name))
		_ = kill(pid)
		select {
		case <-l.done:
		case <-time.After(killReapWindow):
			// Reaping is best-effort past this point; the kill signal
			// is already delivered.
		}
	}

	p.mu.Lock()
	p.state = StateStopped
	p.exitObserved = true
	p.mu.Unlock()

	p.lg.Service(p.spec.Name, "stopped", map[string]any{
		"pid":    pid,
		"killed": killed,
	}, fmt.Sprintf("%s worker stopped", p.spec.Name))
	return nil
}

// State returns the current supervision state.
func (p *ManagedProcess) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// PID returns the worker pid, or 0 when no worker is live.
func (p *ManagedProcess) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == nil {
		return 0
	}
	return pidOf(p.cur)
}

// StartedAt returns the launch time of the current worker, zero when
// nothing has been started.
func (p *ManagedProcess) StartedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == nil {
		return time.Time{}
	}
	return p.cur.startedAt
}

// OutputTail returns the bounded tail of the worker's combined output.
func (p *ManagedProcess) OutputTail() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == nil {
		return ""
	}
	return p.cur.tail.String()
}

// UpdateCommand replaces the argv used by the next Start.
func (p *ManagedProcess) UpdateCommand(argv []string) {
	p.mu.Lock()
	p.spec.Command = argv
	p.mu.Unlock()
}

func (p *ManagedProcess) closeLaunch(l *launch) {
	if l.stdin != nil {
		_ = l.stdin.Close()
	}
	if l.outFile != nil {
		_ = l.outFile.Close()
	}
}

func pidOf(l *launch) int {
	if l.cmd != nil && l.cmd.Process != nil {
		return l.cmd.Process.Pid
	}
	return 0
}
