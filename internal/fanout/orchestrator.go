// Package fanout runs one prepared command across every site of a factory.
// Per-site failures are recorded and reported; they never abort a sweep.
package fanout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rileyhilliard/acsf-tools/internal/command"
	"github.com/rileyhilliard/acsf-tools/internal/errors"
	"github.com/rileyhilliard/acsf-tools/internal/exec"
	"github.com/rileyhilliard/acsf-tools/internal/logger"
	"github.com/rileyhilliard/acsf-tools/internal/site"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// DefaultPollInterval is used when a policy leaves PollInterval unset.
const DefaultPollInterval = 250 * time.Millisecond

// drainProgressInterval spaces out the "still waiting" log of a chunk.
const drainProgressInterval = 30 * time.Second

// Observer is told about every finished unit, in completion order.
type Observer func(UnitResult)

// Orchestrator coordinates the execution of a sweep.
type Orchestrator struct {
	launcher  exec.Launcher
	log       logger.Logger
	output    *OutputManager
	observers []Observer
	now       func() time.Time

	mu     sync.Mutex
	result *Result
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithOutput surfaces unit output to the operator.
func WithOutput(m *OutputManager) Option {
	return func(o *Orchestrator) { o.output = m }
}

// WithObserver registers fn to receive every finished unit.
func WithObserver(fn Observer) Option {
	return func(o *Orchestrator) { o.observers = append(o.observers, fn) }
}

// WithClock overrides time.Now for budget checks.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates an orchestrator launching units through launcher.
func NewOrchestrator(launcher exec.Launcher, log logger.Logger, opts ...Option) *Orchestrator {
	if log == nil {
		log = logger.Noop()
	}
	o := &Orchestrator{
		launcher: launcher,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes prepare's unit for every site under policy p.
// The returned error is only set for invalid policies; unit failures are
// reported in the Result.
func (o *Orchestrator) Run(ctx context.Context, sites []*site.Site, prepare PrepareFunc, p Policy) (*Result, error) {
	o.mu.Lock()
	o.result = &Result{}
	o.mu.Unlock()

	start := o.now()
	var err error
	switch p.Mode {
	case ModeSequential, "":
		o.runSequential(ctx, sites, prepare, p)
	case ModeConcurrent:
		o.runConcurrent(ctx, sites, prepare, p)
	case ModeRolling:
		err = o.runRolling(ctx, sites, prepare, p)
	default:
		err = errors.New(errors.ErrConfig,
			fmt.Sprintf("Unknown sweep mode %q", p.Mode),
			"Use sequential, concurrent or rolling")
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.result.Duration = o.now().Sub(start)
	return o.result, err
}

// runSequential runs units one at a time, pausing p.Delay after each unit
// before the next one starts. With a time budget, whole sweeps repeat until
// the budget is spent; the budget is only checked between sweeps, so a sweep
// in progress always completes.
func (o *Orchestrator) runSequential(ctx context.Context, sites []*site.Site, prepare PrepareFunc, p Policy) {
	ranOne := false
	start := o.now()
	for sweep := 1; ; sweep++ {
		o.setSweeps(sweep)
		launched := 0

		for _, s := range sites {
			if ctx.Err() != nil {
				return
			}

			spec, ok := o.prepare(s, prepare, sweep)
			if !ok {
				continue
			}

			if ranOne && !pause(ctx, p.Delay) {
				return
			}
			ranOne = true

			launched++
			o.started(spec)
			cmd, closeInput, err := o.buildCmd(spec)
			if err != nil {
				o.finish(UnitResult{Site: s, Domain: spec.Domain, Sweep: sweep, Status: StatusFailed, Err: err})
				continue
			}
			res := exec.Run(ctx, o.launcher, cmd)
			closeInput()
			o.finish(unitFromExec(spec, sweep, res))
		}

		if p.TotalTimeLimit <= 0 || launched == 0 || o.now().Sub(start) >= p.TotalTimeLimit {
			return
		}
		o.log.Info("Time budget not spent (%s left), starting sweep %d",
			(p.TotalTimeLimit - o.now().Sub(start)).Round(time.Second), sweep+1)
	}
}

// pause waits d, returning false if ctx ends first.
func pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

type liveUnit struct {
	spec       *command.Spec
	proc       exec.Process
	closeInput func()
}

// runConcurrent launches a chunk of units without blocking, polls them until
// every one has terminated and only then starts the next chunk.
func (o *Orchestrator) runConcurrent(ctx context.Context, sites []*site.Site, prepare PrepareFunc, p Policy) {
	o.setSweeps(1)

	var specs []*command.Spec
	for _, s := range sites {
		if spec, ok := o.prepare(s, prepare, 1); ok {
			specs = append(specs, spec)
		}
	}

	size := p.Concurrency
	if size <= 0 {
		size = len(specs)
	}
	poll := p.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	for begin := 0; begin < len(specs); begin += size {
		end := min(begin+size, len(specs))

		var live []liveUnit
		for _, spec := range specs[begin:end] {
			o.started(spec)
			cmd, closeInput, err := o.buildCmd(spec)
			if err != nil {
				o.finish(UnitResult{Site: spec.Site, Domain: spec.Domain, Sweep: 1, Status: StatusFailed, Err: err})
				continue
			}
			proc, err := o.launcher.Start(ctx, cmd)
			if err != nil {
				closeInput()
				o.finish(UnitResult{Site: spec.Site, Domain: spec.Domain, Sweep: 1, Status: StatusFailed, Err: err})
				continue
			}
			live = append(live, liveUnit{spec: spec, proc: proc, closeInput: closeInput})
		}

		o.drain(live, poll)
	}
}

// drain polls live units until all have terminated, reporting each as it
// finishes.
func (o *Orchestrator) drain(live []liveUnit, poll time.Duration) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	progress := rate.Sometimes{Interval: drainProgressInterval}

	for len(live) > 0 {
		remaining := live[:0]
		for _, u := range live {
			res, done := u.proc.Poll()
			if !done {
				remaining = append(remaining, u)
				continue
			}
			u.closeInput()
			o.finish(unitFromExec(u.spec, 1, res))
		}
		live = remaining

		if len(live) > 0 {
			progress.Do(func() { o.log.Debug("Waiting on %d running unit(s)", len(live)) })
			<-ticker.C
		}
	}
}

// runRolling keeps up to p.Concurrency units in flight. Units are bounded by
// p.UnitTimeout; once p.MaxRuntime has elapsed no new unit starts and the
// remaining sites are reported as unhandled.
func (o *Orchestrator) runRolling(ctx context.Context, sites []*site.Site, prepare PrepareFunc, p Policy) error {
	if p.Concurrency < 1 {
		return errors.New(errors.ErrConfig,
			"Rolling sweeps need a concurrency of at least 1",
			"Set cron.concurrency in acsf-tools.yaml")
	}
	o.setSweeps(1)

	start := o.now()
	g := new(errgroup.Group)
	g.SetLimit(p.Concurrency)

	for _, s := range sites {
		spec, ok := o.prepare(s, prepare, 1)
		if !ok {
			continue
		}

		// Go blocks until a slot frees up, so the deadline is checked inside.
		g.Go(func() error {
			if (p.MaxRuntime > 0 && o.now().Sub(start) >= p.MaxRuntime) || ctx.Err() != nil {
				o.finish(UnitResult{Site: s, Domain: spec.Domain, Sweep: 1, Status: StatusUnhandled,
					Reason: "runtime limit reached"})
				return nil
			}

			unitCtx := ctx
			if p.UnitTimeout > 0 {
				var cancel context.CancelFunc
				unitCtx, cancel = context.WithTimeout(ctx, p.UnitTimeout)
				defer cancel()
			}

			o.started(spec)
			cmd, closeInput, err := o.buildCmd(spec)
			if err != nil {
				o.finish(UnitResult{Site: s, Domain: spec.Domain, Sweep: 1, Status: StatusFailed, Err: err})
				return nil
			}
			defer closeInput()
			o.finish(unitFromExec(spec, 1, exec.Run(unitCtx, o.launcher, cmd)))
			return nil
		})
	}

	return g.Wait()
}

// prepare builds the unit for s, recording a skip or a failure when it can't.
func (o *Orchestrator) prepare(s *site.Site, prepare PrepareFunc, sweep int) (*command.Spec, bool) {
	spec, err := prepare(s)
	switch {
	case err == nil && spec != nil:
		return spec, true
	case err == nil, command.IsSkip(err):
		reason := "not eligible"
		var skip *command.SkipError
		if errors.As(err, &skip) {
			reason = skip.Reason
		}
		o.log.Info("Skipping %s: %s", s.Name, reason)
		o.record(UnitResult{Site: s, Sweep: sweep, Status: StatusSkipped, Reason: reason})
	default:
		o.log.Error("Couldn't prepare the command for %s: %v", s.Name, err)
		o.finish(UnitResult{Site: s, Sweep: sweep, Status: StatusFailed, Err: err})
	}
	return nil, false
}

// buildCmd turns spec into a subprocess invocation, opening its input.
func (o *Orchestrator) buildCmd(spec *command.Spec) (exec.Cmd, func(), error) {
	cmd := exec.Cmd{Argv: spec.Argv()}
	if spec.Input == nil {
		return cmd, func() {}, nil
	}

	in, err := spec.Input()
	if err != nil {
		return cmd, func() {}, err
	}
	cmd.Stdin = in
	return cmd, func() { _ = in.Close() }, nil
}

func (o *Orchestrator) started(spec *command.Spec) {
	o.log.Info("=> Running command on %s", spec.Domain)
	o.log.Debug("%s", spec)
	if o.output != nil {
		o.output.UnitStarted(spec.Site.Name, spec.Domain)
	}
}

// finish logs, displays and records a terminal unit.
func (o *Orchestrator) finish(u UnitResult) {
	switch u.Status {
	case StatusSucceeded:
		o.log.Info("Command succeeded on %s in %s", u.Domain, formatDuration(u.Duration()))
	case StatusFailed:
		o.log.Error("Command failed on %s: %s", describe(u), failureReason(u))
	case StatusUnhandled:
		o.log.Warn("Not started on %s: %s", describe(u), u.Reason)
	}

	if o.output != nil {
		o.output.UnitCompleted(u)
	}
	o.record(u)
}

func (o *Orchestrator) record(u UnitResult) {
	o.mu.Lock()
	o.result.add(u)
	observers := o.observers
	o.mu.Unlock()

	for _, fn := range observers {
		fn(u)
	}
}

func (o *Orchestrator) setSweeps(n int) {
	o.mu.Lock()
	o.result.Sweeps = n
	o.mu.Unlock()
}

func unitFromExec(spec *command.Spec, sweep int, res *exec.Result) UnitResult {
	u := UnitResult{Site: spec.Site, Domain: spec.Domain, Sweep: sweep, Exec: res, Status: StatusSucceeded}
	if !res.Success() {
		u.Status = StatusFailed
		u.Err = res.Err
	}
	return u
}

func describe(u UnitResult) string {
	if u.Domain == "" {
		return u.Name()
	}
	return fmt.Sprintf("%s (%s)", u.Name(), u.Domain)
}

// failureReason is a one-line explanation of a failed unit.
func failureReason(u UnitResult) string {
	if u.Exec != nil {
		if err := exec.HandleExecError(u.Exec.Argv, string(u.Exec.Stderr), u.Exec.ExitCode); err != nil {
			var e *errors.Error
			if errors.As(err, &e) {
				return e.Message
			}
		}
		if u.Exec.Err != nil {
			return u.Exec.Err.Error()
		}
		return fmt.Sprintf("exit code %d", u.Exec.ExitCode)
	}
	if u.Err != nil {
		return u.Err.Error()
	}
	return "unknown error"
}
