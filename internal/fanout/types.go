package fanout

import (
	"fmt"
	"time"

	"github.com/rileyhilliard/acsf-tools/internal/command"
	"github.com/rileyhilliard/acsf-tools/internal/config"
	"github.com/rileyhilliard/acsf-tools/internal/exec"
	"github.com/rileyhilliard/acsf-tools/internal/site"
)

// Mode selects how units are scheduled.
type Mode string

const (
	// ModeSequential runs one unit at a time with a delay between runs,
	// optionally repeating the sweep until a time budget is spent.
	ModeSequential Mode = "sequential"
	// ModeConcurrent runs units in chunks; a chunk fully drains before the
	// next one starts.
	ModeConcurrent Mode = "concurrent"
	// ModeRolling keeps a fixed number of units in flight, refilling a slot
	// as soon as it frees up, until a runtime limit stops new starts.
	ModeRolling Mode = "rolling"
)

// Policy holds configuration for one sweep.
type Policy struct {
	Mode Mode

	// Sequential
	Delay          time.Duration // Pause between runs
	TotalTimeLimit time.Duration // Repeat sweeps until spent (0 = one sweep)

	// Concurrent and rolling
	Concurrency  int           // Chunk size or window size (0 = unbounded chunk)
	PollInterval time.Duration // How often live units are checked

	// Rolling
	UnitTimeout time.Duration // Kill a unit after this long (0 = no limit)
	MaxRuntime  time.Duration // No new unit starts after this (0 = no limit)
}

// SequentialPolicy builds the throttled-sequential policy from cfg.
func SequentialPolicy(cfg config.FanoutConfig) Policy {
	return Policy{
		Mode:           ModeSequential,
		Delay:          cfg.Delay,
		TotalTimeLimit: cfg.TotalTimeLimit,
	}
}

// ConcurrentPolicy builds the bounded-parallel policy from cfg.
func ConcurrentPolicy(cfg config.FanoutConfig) Policy {
	return Policy{
		Mode:         ModeConcurrent,
		Concurrency:  cfg.Concurrency,
		PollInterval: cfg.PollInterval,
	}
}

// RollingPolicy builds the large-scale cron policy from cfg.
func RollingPolicy(cfg config.CronConfig) Policy {
	return Policy{
		Mode:         ModeRolling,
		Concurrency:  cfg.Concurrency,
		PollInterval: cfg.Heartbeat,
		UnitTimeout:  cfg.SiteTTL,
		MaxRuntime:   cfg.MaxRuntime,
	}
}

// PrepareFunc builds the unit for a site. A command.SkipError skips the site.
type PrepareFunc func(s *site.Site) (*command.Spec, error)

// Status is the terminal state of a unit.
type Status int

const (
	StatusSucceeded Status = iota
	StatusFailed
	StatusSkipped
	StatusUnhandled // Never started because the runtime limit was reached
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	case StatusUnhandled:
		return "unhandled"
	default:
		return "unknown"
	}
}

// UnitResult is the outcome of one site in one sweep.
type UnitResult struct {
	Site   *site.Site
	Domain string
	Sweep  int
	Status Status
	Reason string       // Why a unit was skipped
	Exec   *exec.Result // Nil for skipped and unhandled units
	Err    error        // Prepare or launch error
}

// Name is the site name, used to identify the unit in output.
func (r *UnitResult) Name() string {
	if r.Site == nil {
		return r.Domain
	}
	return r.Site.Name
}

// Duration is how long the unit ran.
func (r *UnitResult) Duration() time.Duration {
	if r.Exec == nil {
		return 0
	}
	return r.Exec.Duration()
}

// Result holds the aggregate result of a sweep.
type Result struct {
	Units     []UnitResult
	Sweeps    int
	Duration  time.Duration
	Succeeded int
	Failed    int
	Skipped   int
	Unhandled int
}

// Success returns true if no unit failed.
func (r *Result) Success() bool {
	return r.Failed == 0
}

func (r *Result) add(u UnitResult) {
	r.Units = append(r.Units, u)
	switch u.Status {
	case StatusSucceeded:
		r.Succeeded++
	case StatusFailed:
		r.Failed++
	case StatusSkipped:
		r.Skipped++
	case StatusUnhandled:
		r.Unhandled++
	}
}

// Brief returns a one-line summary string.
func (r *Result) Brief() string {
	if r == nil {
		return "No results"
	}
	return fmt.Sprintf("%d succeeded, %d failed, %d skipped (%s)",
		r.Succeeded, r.Failed, r.Skipped, formatDuration(r.Duration))
}
