// Package exec launches the per-site subprocesses of a sweep and captures
// their outcome.
package exec

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/rileyhilliard/acsf-tools/internal/errors"
)

// maxOutputBufferSize limits memory usage for captured output (1MB per stream).
const maxOutputBufferSize = 1 << 20

// Cmd is one subprocess invocation.
type Cmd struct {
	Argv  []string
	Dir   string
	Env   []string
	Stdin io.Reader
}

// Result is the outcome of one subprocess.
type Result struct {
	Argv     []string
	PID      int
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Start    time.Time
	End      time.Time

	// Err is set when the process could not run to completion: it failed to
	// start or its context expired.
	Err error
}

// Success returns true if the process exited 0.
func (r *Result) Success() bool {
	return r.ExitCode == 0 && r.Err == nil
}

// Duration is the wall-clock time the process ran.
func (r *Result) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Process is a started subprocess.
type Process interface {
	PID() int
	// Poll reports the result once the process has terminated. It never blocks.
	Poll() (*Result, bool)
	// Wait blocks until the process terminates.
	Wait() *Result
}

// Launcher starts subprocesses.
type Launcher interface {
	Start(ctx context.Context, c Cmd) (Process, error)
}

// Run starts c and waits for it. Start failures are reported in Result.Err.
func Run(ctx context.Context, l Launcher, c Cmd) *Result {
	start := time.Now()
	p, err := l.Start(ctx, c)
	if err != nil {
		return &Result{Argv: c.Argv, ExitCode: -1, Start: start, End: time.Now(), Err: err}
	}
	return p.Wait()
}

// Local runs processes on this machine.
type Local struct{}

// Start launches c without a shell.
func (Local) Start(ctx context.Context, c Cmd) (Process, error) {
	if len(c.Argv) == 0 {
		return nil, errors.New(errors.ErrExec, "Empty command", "This is a bug, please report it.")
	}

	command := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
	if c.Dir != "" {
		command.Dir = c.Dir
	}
	if len(c.Env) > 0 {
		command.Env = c.Env
	}
	command.Stdin = c.Stdin

	p := &localProcess{
		cmd:  command,
		done: make(chan struct{}),
		res:  &Result{Argv: c.Argv},
	}
	command.Stdout = &p.stdout
	command.Stderr = &p.stderr

	p.res.Start = time.Now()
	if err := command.Start(); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrExec,
			"Couldn't start "+c.Argv[0],
			"Make sure the command exists and is executable.")
	}
	p.res.PID = command.Process.Pid

	go p.wait(ctx)
	return p, nil
}

type localProcess struct {
	cmd    *exec.Cmd
	stdout cappedBuffer
	stderr cappedBuffer
	done   chan struct{}
	res    *Result
}

func (p *localProcess) wait(ctx context.Context) {
	err := p.cmd.Wait()
	p.res.End = time.Now()
	p.res.Stdout = p.stdout.Bytes()
	p.res.Stderr = p.stderr.Bytes()

	switch {
	case err == nil:
		p.res.ExitCode = 0
	case ctx.Err() != nil:
		p.res.ExitCode = -1
		p.res.Err = ctx.Err()
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			p.res.ExitCode = exitErr.ExitCode()
		} else {
			p.res.ExitCode = -1
			p.res.Err = err
		}
	}
	close(p.done)
}

func (p *localProcess) PID() int { return p.res.PID }

func (p *localProcess) Poll() (*Result, bool) {
	select {
	case <-p.done:
		return p.res, true
	default:
		return nil, false
	}
}

func (p *localProcess) Wait() *Result {
	<-p.done
	return p.res
}

// cappedBuffer keeps the first maxOutputBufferSize bytes written to it.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if room := maxOutputBufferSize - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
			b.truncated = true
		} else {
			b.buf.Write(p)
		}
	} else {
		b.truncated = true
	}
	return len(p), nil
}

func (b *cappedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := append([]byte(nil), b.buf.Bytes()...)
	if b.truncated {
		out = append(out, "\n... output truncated (exceeded 1MB) ...\n"...)
	}
	return out
}
