// Package background runs the post deployment task of one site, guarded by
// the process mutex and the site's LockRecord, and keeps the site's
// FlagRecord and the iteration logs up to date.
package background

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rileyhilliard/acsf-tools/internal/errors"
	"github.com/rileyhilliard/acsf-tools/internal/exec"
	"github.com/rileyhilliard/acsf-tools/internal/flags"
	"github.com/rileyhilliard/acsf-tools/internal/lock"
	"github.com/rileyhilliard/acsf-tools/internal/logger"
	"github.com/rileyhilliard/acsf-tools/internal/runlog"
)

// MutexName is the process mutex shared by every post deployment run on a host.
const MutexName = "post_deployment_tasks"

// Queue selects which FlagRecords a run picks up.
type Queue string

const (
	// QueueDefault processes any site with retries left.
	QueueDefault Queue = "default"
	// QueueRetry only processes sites that failed before and aren't locked.
	QueueRetry Queue = "retry"
)

// Outcome is the terminal state of one run.
type Outcome int

const (
	OutcomeNoTasks Outcome = iota
	OutcomeSucceeded
	OutcomeRetryScheduled
	OutcomeExhausted
	OutcomeContention
	OutcomeFatalBootstrap
	OutcomeAborted
)

// String returns the string representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeNoTasks:
		return "no_tasks"
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeRetryScheduled:
		return "retry_scheduled"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeContention:
		return "contention"
	case OutcomeFatalBootstrap:
		return "fatal_bootstrap"
	case OutcomeAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// ProcessMutex serializes runs on one host.
type ProcessMutex interface {
	Acquire(ctx context.Context, name string, lease time.Duration) error
	Release(name string) error
}

// Runtime is what a successful bootstrap tells us about the site.
type Runtime struct {
	URI  string
	Root string
}

// Bootstrapper brings up the site's runtime.
type Bootstrapper interface {
	Bootstrap(ctx context.Context) (Runtime, error)
}

// Settings configure a Runner.
type Settings struct {
	Group   string
	Env     string
	Script  string        // Empty means <root>/../scripts/post-deployment.sh
	Timeout time.Duration // Process mutex lease
}

// Runner executes the background task of one site.
type Runner struct {
	flags    *flags.Coordinator
	logs     *runlog.Store
	mutex    ProcessMutex
	boot     Bootstrapper
	launcher exec.Launcher
	notifier Notifier
	log      logger.Logger
	settings Settings
}

// Option configures a Runner.
type Option func(*Runner)

// WithNotifier sets where success and error events are sent.
func WithNotifier(n Notifier) Option {
	return func(r *Runner) { r.notifier = n }
}

// WithLogger sets the operator-facing logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// NewRunner wires a Runner from its collaborators.
func NewRunner(fc *flags.Coordinator, logs *runlog.Store, mutex ProcessMutex, boot Bootstrapper, launcher exec.Launcher, settings Settings, opts ...Option) *Runner {
	r := &Runner{
		flags:    fc,
		logs:     logs,
		mutex:    mutex,
		boot:     boot,
		launcher: launcher,
		log:      logger.Noop(),
		settings: settings,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.notifier == nil {
		r.notifier = NewLogNotifier(r.log)
	}
	return r
}

// Pending reports whether siteID has work in the given queue.
func (r *Runner) Pending(siteID string, queue Queue) bool {
	if queue == QueueRetry {
		return r.flags.HasPendingRetryAfterError(siteID)
	}
	return r.flags.HasPendingWork(siteID)
}

// Run processes siteID once. Only bootstrap and registry failures are
// returned as errors; script failures are recorded and reported through the
// Outcome. A registry failure leaves the FlagRecord untouched.
func (r *Runner) Run(ctx context.Context, siteID string, queue Queue) (Outcome, error) {
	if !r.Pending(siteID, queue) {
		r.log.Info("No post deployment tasks pending.")
		return OutcomeNoTasks, nil
	}

	r.log.Info("Starting post deployment task for %s", siteID)
	rt, err := r.boot.Bootstrap(ctx)
	if err != nil {
		if errors.IsCode(err, errors.ErrRegistry) {
			r.log.Error("Couldn't resolve %s, leaving its task queued: %v", siteID, err)
			return OutcomeAborted, err
		}
		return OutcomeFatalBootstrap, r.abandon(siteID, err)
	}

	if err := r.mutex.Acquire(ctx, MutexName, r.settings.Timeout); err != nil {
		if errors.Is(err, lock.ErrMutexTimeout) {
			r.log.Warn("Deployment tasks pending, but this process could not acquire a lock. " +
				"Another process is already running post deployment commands.")
			return OutcomeContention, nil
		}
		return OutcomeContention, err
	}
	locked := false
	defer func() {
		r.log.Info("Releasing lock for %s", siteID)
		if err := r.mutex.Release(MutexName); err != nil {
			r.log.Warn("Couldn't release process mutex: %v", err)
		}
		if locked {
			r.releaseLock(siteID)
		}
	}()

	if err := r.flags.AcquireLock(siteID); err != nil {
		if errors.Is(err, lock.ErrLocked) {
			r.log.Warn("%s is already being processed by another run", siteID)
			return OutcomeContention, nil
		}
		return OutcomeContention, err
	}
	locked = true

	counter, err := r.flags.Decrement(siteID)
	if err != nil {
		if errors.Is(err, flags.ErrNoTask) {
			r.log.Info("No post deployment tasks pending.")
			return OutcomeNoTasks, nil
		}
		return OutcomeContention, err
	}

	r.log.Info("Starting post deployment tasks.")
	r.log.Info("Retries left (excluding this run): %d", counter)

	argv := []string{r.script(rt), r.settings.Group, r.settings.Env, siteID, rt.URI}
	r.log.Info("Running %s", strings.Join(argv, " "))
	res := exec.Run(ctx, r.launcher, exec.Cmd{Argv: argv})

	if res.Success() {
		r.log.Info("Script finished successfully.")
		r.log.Debug("Script output:\n%s", res.Stdout)
		r.record(siteID, runlog.KindSuccess, fmt.Sprintf(
			"Post deployment script finished successfully:\nExit code: %d\nScript output: %s\nScript error output:\n%s",
			res.ExitCode, res.Stdout, res.Stderr))

		r.releaseLock(siteID)
		r.clearTask(siteID)
		return OutcomeSucceeded, nil
	}

	reason := fmt.Sprintf("exit code %d", res.ExitCode)
	if nf := exec.HandleExecError(argv, string(res.Stderr), res.ExitCode); nf != nil {
		var e *errors.Error
		if errors.As(nf, &e) {
			reason = e.Message
		}
	} else if res.Err != nil {
		reason = res.Err.Error()
	}
	r.log.Error("Script failed for %s (%s). Retries left: %d", siteID, reason, counter)
	r.record(siteID, runlog.KindError, fmt.Sprintf(
		"Script finished with error code: %s\nRetries left: %d\nScript output:\n%s\nScript error output:\n%s",
		reason, counter, res.Stdout, res.Stderr))

	if counter <= 0 {
		r.log.Warn("No retries left for %s, giving up", siteID)
		r.releaseLock(siteID)
		r.clearTask(siteID)
		return OutcomeExhausted, nil
	}
	return OutcomeRetryScheduled, nil
}

// abandon handles a bootstrap failure: retrying can't help, so the task is
// dropped and the failure is returned.
func (r *Runner) abandon(siteID string, cause error) error {
	r.log.Error("Exception during bootstrap of %s: %v", siteID, cause)
	r.record(siteID, runlog.KindError, fmt.Sprintf("Exception during bootstrap: %v", cause))

	r.releaseLock(siteID)
	r.clearTask(siteID)

	return errors.WrapWithCode(cause, errors.ErrBootstrap,
		fmt.Sprintf("Unable to bootstrap %s", siteID),
		"Check the site with 'drush status'; its pending background tasks were dropped")
}

// script resolves the post deployment script.
func (r *Runner) script(rt Runtime) string {
	if r.settings.Script != "" {
		return r.settings.Script
	}
	return filepath.Join(rt.Root, "..", "scripts", "post-deployment.sh")
}

// record writes an iteration log entry and hands it to the notifier.
func (r *Runner) record(siteID string, kind runlog.Kind, message string) {
	path, err := r.logs.WriteEntry(siteID, kind, message)
	if err != nil {
		r.log.Warn("Couldn't write the %s log for %s: %v", kind, siteID, err)
	}
	if err := r.notifier.Notify(Event{SiteID: siteID, Kind: kind, Message: message, LogPath: path}); err != nil {
		r.log.Warn("Couldn't send notification for %s: %v", siteID, err)
	}
}

func (r *Runner) releaseLock(siteID string) {
	if err := r.flags.ReleaseLock(siteID); err != nil {
		r.log.Warn("Couldn't release lock for %s: %v", siteID, err)
	}
}

func (r *Runner) clearTask(siteID string) {
	if err := r.flags.ClearTask(siteID); err != nil {
		r.log.Warn("Couldn't clear the task of %s: %v", siteID, err)
	}
}
