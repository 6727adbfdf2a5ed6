// Package testing provides test doubles for the exec package.
package testing

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rileyhilliard/acsf-tools/internal/exec"
)

// Outcome is the canned behavior of a fake process.
type Outcome struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Delay    time.Duration
	StartErr error
}

type rule struct {
	match   string
	outcome Outcome
}

// FakeLauncher starts fake processes that finish after their Delay.
// It records how many processes were live at the same time.
type FakeLauncher struct {
	mu      sync.Mutex
	rules   []rule
	live    int
	maxLive int
	nextPID int

	Default Outcome
	Started []exec.Cmd
	Stdin   map[string]string // joined argv -> stdin content
}

// NewFakeLauncher creates a launcher whose processes succeed immediately.
func NewFakeLauncher() *FakeLauncher {
	return &FakeLauncher{nextPID: 1000, Stdin: make(map[string]string)}
}

// On sets the outcome of commands whose joined argv contains match.
// Rules are checked in the order they were added.
func (f *FakeLauncher) On(match string, o Outcome) *FakeLauncher {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule{match: match, outcome: o})
	return f
}

// Start launches a fake process.
func (f *FakeLauncher) Start(ctx context.Context, c exec.Cmd) (exec.Process, error) {
	joined := strings.Join(c.Argv, " ")

	f.mu.Lock()
	o := f.Default
	for _, r := range f.rules {
		if strings.Contains(joined, r.match) {
			o = r.outcome
			break
		}
	}
	f.Started = append(f.Started, c)
	if o.StartErr != nil {
		f.mu.Unlock()
		return nil, o.StartErr
	}
	if c.Stdin != nil {
		data, _ := io.ReadAll(c.Stdin)
		f.Stdin[joined] = string(data)
	}
	f.nextPID++
	f.live++
	if f.live > f.maxLive {
		f.maxLive = f.live
	}
	p := &fakeProcess{
		done: make(chan struct{}),
		res:  &exec.Result{Argv: c.Argv, PID: f.nextPID, Start: time.Now()},
	}
	f.mu.Unlock()

	go func() {
		timer := time.NewTimer(o.Delay)
		defer timer.Stop()

		select {
		case <-timer.C:
			p.res.ExitCode = o.ExitCode
			p.res.Stdout = []byte(o.Stdout)
			p.res.Stderr = []byte(o.Stderr)
		case <-ctx.Done():
			p.res.ExitCode = -1
			p.res.Err = ctx.Err()
		}
		p.res.End = time.Now()

		f.mu.Lock()
		f.live--
		f.mu.Unlock()
		close(p.done)
	}()

	return p, nil
}

// MaxLive returns the highest number of processes that were running at once.
func (f *FakeLauncher) MaxLive() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxLive
}

// Live returns the number of processes still running.
func (f *FakeLauncher) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live
}

// StartedArgv returns the joined argv of every started command, in order.
func (f *FakeLauncher) StartedArgv() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.Started))
	for i, c := range f.Started {
		out[i] = strings.Join(c.Argv, " ")
	}
	return out
}

type fakeProcess struct {
	done chan struct{}
	res  *exec.Result
}

func (p *fakeProcess) PID() int { return p.res.PID }

func (p *fakeProcess) Poll() (*exec.Result, bool) {
	select {
	case <-p.done:
		return p.res, true
	default:
		return nil, false
	}
}

func (p *fakeProcess) Wait() *exec.Result {
	<-p.done
	return p.res
}
