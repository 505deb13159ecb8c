// Package runner wraps the lifecycle and line-oriented I/O of exactly one
// external agent process.
//
// A Runner is single-use: Start spawns the process, Lines streams its
// output until exit, Terminate tears it down. The package treats agent
// output as opaque text; parsing belongs to callers.
package runner

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	agenterrors "github.com/kys42/remote-agent/errors"
	"github.com/kys42/remote-agent/logging"
)

// Stream identifies which pipe of the child process produced a line.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// Line is one line of child process output.
type Line struct {
	Stream Stream    `json:"stream"`
	Text   string    `json:"text"`
	Time   time.Time `json:"time"`
}

// ExitState describes how the process ended. Code follows the subprocess
// convention: non-negative for a normal exit status, -1 when killed by a
// signal.
type ExitState struct {
	Code     int
	Signaled bool
}

// maxLineSize bounds scanner buffers; agent CLIs emit long JSON lines.
const maxLineSize = 1024 * 1024

// lineBuffer is the capacity of the Lines channel. The consumer (the
// session output pump) always drains, so this only smooths bursts.
const lineBuffer = 64

// Runner supervises one external process.
type Runner struct {
	executor Executor
	logger   *logrus.Entry

	lines chan Line
	done  chan struct{}

	mu      sync.Mutex
	proc    *os.Process
	stdin   io.WriteCloser
	started bool
	exited  bool
	exit    ExitState
}

// New creates a Runner that spawns processes through the given executor.
// Pass nil to use the real os/exec implementation.
func New(executor Executor) *Runner {
	if executor == nil {
		executor = &RealExecutor{}
	}
	return &Runner{
		executor: executor,
		logger:   logging.NewLogger("runner"),
		lines:    make(chan Line, lineBuffer),
		done:     make(chan struct{}),
	}
}

// Start spawns the process in the given working directory. It returns a
// SPAWN_FAILURE error when the executable is missing, the directory is
// invalid, or the OS refuses to start the process. Spawn failures are the
// dominant real-world failure mode and are always reported, never swallowed.
func (r *Runner) Start(workdir, name string, args []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return agenterrors.New(agenterrors.ErrCodeInternal, "runner already started")
	}

	if workdir != "" {
		info, err := os.Stat(workdir)
		if err != nil {
			return agenterrors.SpawnFailure(name, err).WithDetail("workdir", workdir)
		}
		if !info.IsDir() {
			return agenterrors.SpawnFailure(name, errors.New("working directory is not a directory")).
				WithDetail("workdir", workdir)
		}
	}

	cmd := r.executor.Command(name, args...)
	cmd.Dir = workdir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return agenterrors.SpawnFailure(name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return agenterrors.SpawnFailure(name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return agenterrors.SpawnFailure(name, err)
	}

	if err := cmd.Start(); err != nil {
		return agenterrors.SpawnFailure(name, err)
	}

	r.proc = cmd.Process
	r.stdin = stdin
	r.started = true

	r.logger.WithFields(logrus.Fields{
		"pid":     cmd.Process.Pid,
		"command": name,
		"workdir": workdir,
	}).Debug("Process started")

	var scanners sync.WaitGroup
	scanners.Add(2)
	go r.scanPipe(&scanners, stdout, StreamStdout)
	go r.scanPipe(&scanners, stderr, StreamStderr)

	go func() {
		scanners.Wait()
		err := cmd.Wait()

		exit := ExitState{}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exit.Code = exitErr.ExitCode()
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				exit.Code = -1
				exit.Signaled = true
			}
		} else if err != nil {
			exit.Code = -1
		}

		r.mu.Lock()
		r.exited = true
		r.exit = exit
		r.mu.Unlock()

		r.logger.WithFields(logrus.Fields{
			"pid":      cmd.Process.Pid,
			"code":     exit.Code,
			"signaled": exit.Signaled,
		}).Debug("Process exited")

		close(r.lines)
		close(r.done)
	}()

	return nil
}

// scanPipe reads one pipe line by line into the shared lines channel.
func (r *Runner) scanPipe(wg *sync.WaitGroup, pipe io.Reader, stream Stream) {
	defer wg.Done()

	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		r.lines <- Line{
			Stream: stream,
			Text:   scanner.Text(),
			Time:   time.Now(),
		}
	}
	if err := scanner.Err(); err != nil {
		// Pipe read errors happen on forced kill; worth a trace, not a failure.
		r.logger.WithError(err).WithField("stream", stream).Debug("Pipe scan ended with error")
	}
}

// Send writes text plus a newline to the process stdin.
func (r *Runner) Send(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started || r.exited {
		return agenterrors.New(agenterrors.ErrCodeProcessNotRunning, "process is not running")
	}

	if _, err := io.WriteString(r.stdin, text+"\n"); err != nil {
		return agenterrors.Wrap(err, agenterrors.ErrCodeProcessNotRunning, "failed to write to process stdin")
	}
	return nil
}

// Lines returns the channel of output lines. The channel is closed when
// the process exits, normally or by signal.
func (r *Runner) Lines() <-chan Line {
	return r.lines
}

// Done returns a channel closed when the process has exited and all
// output has been delivered.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Running reports whether the process is alive.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started && !r.exited
}

// ExitState returns the exit description once the process has exited.
func (r *Runner) ExitState() (ExitState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.exited {
		return ExitState{}, false
	}
	return r.exit, true
}

// Wait blocks until the process exits and returns its exit state.
func (r *Runner) Wait() ExitState {
	<-r.done
	exit, _ := r.ExitState()
	return exit
}

// Terminate requests graceful termination with SIGTERM, waits up to grace,
// then force-kills. Terminating a never-started or already-exited process
// is a no-op. The context bounds the final wait for process reaping.
func (r *Runner) Terminate(ctx context.Context, grace time.Duration) error {
	r.mu.Lock()
	if !r.started || r.exited {
		r.mu.Unlock()
		return nil
	}
	proc := r.proc
	stdin := r.stdin
	r.mu.Unlock()

	// Closing stdin first lets line-reading agents exit on their own.
	_ = stdin.Close()
	_ = signalProcess(proc, syscall.SIGTERM)

	select {
	case <-r.done:
		return nil
	case <-time.After(grace):
	case <-ctx.Done():
	}

	_ = signalProcess(proc, os.Kill)

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// signalProcess sends sig to a process, returning nil if the process
// has already exited.
func signalProcess(proc *os.Process, sig os.Signal) error {
	err := proc.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
