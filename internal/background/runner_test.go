package background

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rileyhilliard/acsf-tools/internal/errors"
	exectesting "github.com/rileyhilliard/acsf-tools/internal/exec/testing"
	"github.com/rileyhilliard/acsf-tools/internal/flags"
	locktesting "github.com/rileyhilliard/acsf-tools/internal/lock/testing"
	"github.com/rileyhilliard/acsf-tools/internal/logger"
	"github.com/rileyhilliard/acsf-tools/internal/runlog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	flagsDir = "/tmp/gfs/grp.01live/flags/"
	logsDir  = "/mnt/gfs/grp.01live/logs"
	siteID   = "db123"
)

var fixedNow = time.Date(2024, 5, 11, 14, 3, 22, 0, time.UTC)

var testRuntime = Runtime{URI: "https://site.example.com", Root: "/var/www/html/grp.01live/docroot"}

type harness struct {
	fs       afero.Fs
	flags    *flags.Coordinator
	logs     *runlog.Store
	mutex    *locktesting.FakeMutex
	launcher *exectesting.FakeLauncher
	log      *logger.BufferLogger
	events   []Event
	runner   *Runner
}

func newHarness(t *testing.T, boot Bootstrapper, settings Settings) *harness {
	t.Helper()
	h := &harness{
		fs:       afero.NewMemMapFs(),
		mutex:    locktesting.NewFakeMutex(),
		launcher: exectesting.NewFakeLauncher(),
		log:      logger.NewBufferLogger(),
	}
	h.logs = runlog.New(h.fs, logsDir,
		runlog.WithClock(func() time.Time { return fixedNow }),
		runlog.WithWriteRetry(time.Millisecond, 1))
	h.flags = flags.New(h.fs, flagsDir, 3,
		flags.WithWriteRetry(time.Millisecond, 1),
		flags.WithOnDrained(h.logs.Finish))

	if boot == nil {
		boot = StaticBootstrapper(testRuntime)
	}
	if settings.Group == "" {
		settings.Group, settings.Env = "grp", "01live"
	}
	if settings.Timeout == 0 {
		settings.Timeout = 30 * time.Minute
	}
	h.runner = NewRunner(h.flags, h.logs, h.mutex, boot, h.launcher, settings,
		WithLogger(h.log),
		WithNotifier(NotifierFunc(func(e Event) error {
			h.events = append(h.events, e)
			return nil
		})))
	return h
}

func (h *harness) iterationFolder() string {
	return h.logs.FolderFor(fixedNow.Format(runlog.DateFormat), 0)
}

func (h *harness) entries(t *testing.T) []runlog.Entry {
	t.Helper()
	entries, err := h.logs.Entries(h.iterationFolder())
	require.NoError(t, err)
	return entries
}

func TestRun_NoFlagDoesNothing(t *testing.T) {
	h := newHarness(t, nil, Settings{})

	outcome, err := h.runner.Run(context.Background(), siteID, QueueDefault)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoTasks, outcome)

	assert.Empty(t, h.mutex.AcquireCalls, "no mutex operations")
	assert.Empty(t, h.launcher.Started, "no script run")
	assert.False(t, h.flags.LockExists(siteID))
	exists, _ := afero.DirExists(h.fs, logsDir)
	assert.False(t, exists, "no log written")
	assert.True(t, h.log.Contains("info", "No post deployment tasks pending."))
}

func TestRun_LastAttemptFailsDropsTask(t *testing.T) {
	h := newHarness(t, nil, Settings{})
	h.launcher.On("post-deployment.sh", exectesting.Outcome{ExitCode: 2, Stderr: "boom"})
	require.NoError(t, h.flags.SetPending(siteID, 1))

	outcome, err := h.runner.Run(context.Background(), siteID, QueueDefault)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExhausted, outcome)

	_, err = h.flags.Counter(siteID)
	assert.ErrorIs(t, err, flags.ErrNoTask, "flag deleted")
	assert.False(t, h.flags.LockExists(siteID), "lock released")
	assert.False(t, h.mutex.IsHeld(MutexName))

	entries := h.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, runlog.KindError, entries[0].Kind)
	data, err := afero.ReadFile(h.fs, entries[0].Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Retries left: 0")
	assert.Contains(t, string(data), "boom")

	assert.True(t, h.logs.IsFinished(h.iterationFolder()), "drained folder closes the iteration")
	assert.True(t, h.log.Contains("info", "Retries left (excluding this run): 0"))
}

func TestRun_Success(t *testing.T) {
	h := newHarness(t, nil, Settings{})
	h.launcher.On("post-deployment.sh", exectesting.Outcome{Stdout: "all done"})
	require.NoError(t, h.flags.SetPending(siteID, 3))

	outcome, err := h.runner.Run(context.Background(), siteID, QueueDefault)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, outcome)

	assert.Equal(t, []string{
		"/var/www/html/grp.01live/scripts/post-deployment.sh grp 01live db123 https://site.example.com",
	}, h.launcher.StartedArgv())

	_, err = h.flags.Counter(siteID)
	assert.ErrorIs(t, err, flags.ErrNoTask)
	assert.False(t, h.flags.LockExists(siteID))

	entries := h.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, runlog.KindSuccess, entries[0].Kind)
	data, err := afero.ReadFile(h.fs, entries[0].Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Post deployment script finished successfully")
	assert.Contains(t, string(data), "all done")

	require.Len(t, h.events, 1)
	assert.Equal(t, entries[0].Path, h.events[0].LogPath)
	assert.True(t, h.logs.IsFinished(h.iterationFolder()))

	require.Len(t, h.mutex.AcquireCalls, 1)
	assert.Equal(t, MutexName, h.mutex.AcquireCalls[0].Name)
	assert.Equal(t, 30*time.Minute, h.mutex.AcquireCalls[0].Lease)
}

func TestRun_FailureSchedulesRetry(t *testing.T) {
	h := newHarness(t, nil, Settings{})
	h.launcher.On("post-deployment.sh", exectesting.Outcome{ExitCode: 1})
	require.NoError(t, h.flags.SetPending(siteID, 3))

	outcome, err := h.runner.Run(context.Background(), siteID, QueueDefault)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetryScheduled, outcome)

	n, err := h.flags.Counter(siteID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, h.flags.LockExists(siteID), "lock released so the retry queue can pick it up")
	assert.False(t, h.logs.IsFinished(h.iterationFolder()))
	assert.True(t, h.runner.Pending(siteID, QueueRetry))

	entries := h.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, runlog.KindError, entries[0].Kind)
	assert.True(t, h.log.Contains("error", "Retries left: 2"))
}

func TestRun_RetriesUntilExhausted(t *testing.T) {
	h := newHarness(t, nil, Settings{})
	h.launcher.On("post-deployment.sh", exectesting.Outcome{ExitCode: 1})
	require.NoError(t, h.flags.SetPending(siteID, 3))

	var outcomes []Outcome
	for i := 0; i < 4; i++ {
		outcome, err := h.runner.Run(context.Background(), siteID, QueueDefault)
		require.NoError(t, err)
		outcomes = append(outcomes, outcome)
	}

	assert.Equal(t, []Outcome{
		OutcomeRetryScheduled, OutcomeRetryScheduled, OutcomeExhausted, OutcomeNoTasks,
	}, outcomes)
	assert.Len(t, h.launcher.Started, 3)
}

func TestRun_MutexContention(t *testing.T) {
	h := newHarness(t, nil, Settings{})
	h.mutex.SetContention(MutexName, "web-2")
	require.NoError(t, h.flags.SetPending(siteID, 3))

	outcome, err := h.runner.Run(context.Background(), siteID, QueueDefault)
	require.NoError(t, err)
	assert.Equal(t, OutcomeContention, outcome)

	n, err := h.flags.Counter(siteID)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "counter untouched")
	assert.Empty(t, h.launcher.Started)
	assert.True(t, h.log.Contains("warn", "could not acquire a lock"))
}

func TestRun_SiteLockedByAnotherRun(t *testing.T) {
	h := newHarness(t, nil, Settings{})
	require.NoError(t, h.flags.SetPending(siteID, 3))
	require.NoError(t, h.flags.AcquireLock(siteID))

	outcome, err := h.runner.Run(context.Background(), siteID, QueueDefault)
	require.NoError(t, err)
	assert.Equal(t, OutcomeContention, outcome)

	assert.True(t, h.flags.LockExists(siteID), "other run's lock is left alone")
	assert.False(t, h.mutex.IsHeld(MutexName), "process mutex released")
	assert.Empty(t, h.launcher.Started)
}

func TestRun_MutexErrorIsReturned(t *testing.T) {
	h := newHarness(t, nil, Settings{})
	h.mutex.SetFail(nil)
	require.NoError(t, h.flags.SetPending(siteID, 3))

	_, err := h.runner.Run(context.Background(), siteID, QueueDefault)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrLock))
}

type failingBootstrapper struct{}

func (failingBootstrapper) Bootstrap(context.Context) (Runtime, error) {
	return Runtime{}, errors.New(errors.ErrBootstrap, "database unreachable", "")
}

func TestRun_BootstrapFailureDropsTask(t *testing.T) {
	h := newHarness(t, failingBootstrapper{}, Settings{})
	require.NoError(t, h.flags.SetPending(siteID, 3))

	outcome, err := h.runner.Run(context.Background(), siteID, QueueDefault)
	require.Error(t, err)
	assert.Equal(t, OutcomeFatalBootstrap, outcome)
	assert.True(t, errors.IsCode(err, errors.ErrBootstrap))

	_, cerr := h.flags.Counter(siteID)
	assert.ErrorIs(t, cerr, flags.ErrNoTask)
	assert.Empty(t, h.mutex.AcquireCalls)
	assert.Empty(t, h.launcher.Started)

	entries := h.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, runlog.KindError, entries[0].Kind)
	data, err := afero.ReadFile(h.fs, entries[0].Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "database unreachable")
}

func TestRun_RetryQueue(t *testing.T) {
	t.Run("fresh task is not a retry", func(t *testing.T) {
		h := newHarness(t, nil, Settings{})
		require.NoError(t, h.flags.SetPending(siteID, 3))

		outcome, err := h.runner.Run(context.Background(), siteID, QueueRetry)
		require.NoError(t, err)
		assert.Equal(t, OutcomeNoTasks, outcome)
		assert.Empty(t, h.launcher.Started)
	})

	t.Run("failed task is picked up", func(t *testing.T) {
		h := newHarness(t, nil, Settings{})
		require.NoError(t, h.flags.SetPending(siteID, 2))

		outcome, err := h.runner.Run(context.Background(), siteID, QueueRetry)
		require.NoError(t, err)
		assert.Equal(t, OutcomeSucceeded, outcome)
	})

	t.Run("locked task is skipped", func(t *testing.T) {
		h := newHarness(t, nil, Settings{})
		require.NoError(t, h.flags.SetPending(siteID, 2))
		require.NoError(t, h.flags.AcquireLock(siteID))

		outcome, err := h.runner.Run(context.Background(), siteID, QueueRetry)
		require.NoError(t, err)
		assert.Equal(t, OutcomeNoTasks, outcome)
	})
}

func TestRun_ScriptOverride(t *testing.T) {
	h := newHarness(t, nil, Settings{Script: "/opt/hooks/deploy.sh"})
	require.NoError(t, h.flags.SetPending(siteID, 1))

	_, err := h.runner.Run(context.Background(), siteID, QueueDefault)
	require.NoError(t, err)

	require.Len(t, h.launcher.Started, 1)
	assert.Equal(t, "/opt/hooks/deploy.sh", h.launcher.Started[0].Argv[0])
}

func TestRun_OtherTasksKeepIterationOpen(t *testing.T) {
	h := newHarness(t, nil, Settings{})
	require.NoError(t, h.flags.SetPending(siteID, 3))
	require.NoError(t, h.flags.SetPending("db456", 3))

	outcome, err := h.runner.Run(context.Background(), siteID, QueueDefault)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, outcome)
	assert.False(t, h.logs.IsFinished(h.iterationFolder()))

	outcome, err = h.runner.Run(context.Background(), "db456", QueueDefault)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, outcome)
	assert.True(t, h.logs.IsFinished(h.iterationFolder()))
}

type unreachableRegistry struct{}

func (unreachableRegistry) Bootstrap(context.Context) (Runtime, error) {
	return Runtime{}, errors.New(errors.ErrRegistry, "sites.json unreachable", "")
}

func TestRun_RegistryFailureKeepsTask(t *testing.T) {
	h := newHarness(t, unreachableRegistry{}, Settings{})
	require.NoError(t, h.flags.SetPending(siteID, 3))

	outcome, err := h.runner.Run(context.Background(), siteID, QueueDefault)
	require.Error(t, err)
	assert.Equal(t, OutcomeAborted, outcome)
	assert.True(t, errors.IsCode(err, errors.ErrRegistry))

	n, cerr := h.flags.Counter(siteID)
	require.NoError(t, cerr)
	assert.Equal(t, 3, n)
	assert.Empty(t, h.mutex.AcquireCalls)
	assert.Empty(t, h.launcher.Started)
	assert.Empty(t, h.events)
	assert.True(t, h.log.Contains("error", "leaving its task queued"))
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "no_tasks", OutcomeNoTasks.String())
	assert.Equal(t, "retry_scheduled", OutcomeRetryScheduled.String())
	assert.Equal(t, "fatal_bootstrap", OutcomeFatalBootstrap.String())
	assert.Equal(t, "aborted", OutcomeAborted.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}

func TestLogNotifier(t *testing.T) {
	log := logger.NewBufferLogger()
	n := NewLogNotifier(log)

	require.NoError(t, n.Notify(Event{SiteID: "db1", Kind: runlog.KindError, LogPath: filepath.Join(logsDir, "x")}))
	require.NoError(t, n.Notify(Event{SiteID: "db2", Kind: runlog.KindSuccess}))

	assert.True(t, log.Contains("error", "db1"))
	assert.True(t, log.Contains("info", "db2"))
}
