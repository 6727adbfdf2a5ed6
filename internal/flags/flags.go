// Package flags implements the per-site retry counters (FlagRecords) that mark
// background work as pending, together with the LockRecords stored beside them.
//
// Per-site state machine:
//
//	NoTask -> Pending(n) -> Processing(n) -> Pending(n-1) | Exhausted
//
// The counter is the number of retries left excluding the attempt in
// progress: it is decremented when an attempt starts, 0 means the last
// attempt is underway and an absent file means done (or never queued).
package flags

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rileyhilliard/acsf-tools/internal/errors"
	"github.com/rileyhilliard/acsf-tools/internal/lock"
	"github.com/rileyhilliard/acsf-tools/internal/logger"
	"github.com/spf13/afero"
)

// FilePrefix prefixes the site ID to form the FlagRecord file name.
const FilePrefix = "post_deployment_tasks_pending_"

// ErrNoTask is returned when a site has no FlagRecord.
var ErrNoTask = errors.New(errors.ErrFlags, "No background task pending", "")

// Folder returns the flags folder for a site group and environment.
// root must include its trailing slash.
func Folder(group, env, root string) string {
	return root + group + "." + env + "/flags/"
}

// Coordinator reads and writes FlagRecords and LockRecords in one flags folder.
// It never caches state: other processes may change the folder at any time.
type Coordinator struct {
	fs         afero.Fs
	folder     string
	maxRetries int
	locks      *lock.Records
	log        logger.Logger
	onDrained  func() error
	newBackOff func() backoff.BackOff
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// WithOnDrained registers the hook that runs when ClearTask leaves the
// flags folder entirely empty. It is used to finalize the current run.
func WithOnDrained(fn func() error) Option {
	return func(c *Coordinator) { c.onDrained = fn }
}

// WithWriteRetry sets how counter writes are retried on I/O errors.
func WithWriteRetry(interval time.Duration, attempts uint64) Option {
	return func(c *Coordinator) {
		c.newBackOff = func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), attempts)
		}
	}
}

// New creates a Coordinator for folder. maxRetries is the initial counter
// and the upper (exclusive) bound of the retry queue.
func New(fs afero.Fs, folder string, maxRetries int, opts ...Option) *Coordinator {
	c := &Coordinator{
		fs:         fs,
		folder:     folder,
		maxRetries: maxRetries,
		locks:      lock.NewRecords(fs, folder),
		log:        logger.Noop(),
	}
	WithWriteRetry(time.Second, 2)(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Folder returns the flags folder managed by the coordinator.
func (c *Coordinator) Folder() string {
	return c.folder
}

// MaxRetries returns the configured initial counter.
func (c *Coordinator) MaxRetries() int {
	return c.maxRetries
}

// Path returns the FlagRecord path for a site.
func (c *Coordinator) Path(siteID string) string {
	return filepath.Join(c.folder, FilePrefix+siteID)
}

// SetPending creates the flags folder if needed and writes the FlagRecord
// with the given number of retries.
func (c *Coordinator) SetPending(siteID string, retries int) error {
	if retries < 0 {
		return errors.New(errors.ErrFlags,
			fmt.Sprintf("Retry count can't be negative (got %d)", retries),
			"Pass --retry-count 0 or higher")
	}
	if err := c.fs.MkdirAll(c.folder, 0755); err != nil {
		return errors.WrapWithCode(err, errors.ErrFlags,
			fmt.Sprintf("Can't create flags folder %s", c.folder),
			"Check permissions on the shared filesystem")
	}
	if err := c.write(siteID, retries); err != nil {
		return err
	}
	c.log.Info("Background tasks pending for %s (%d retries)", siteID, retries)
	return nil
}

// Counter returns the current FlagRecord value, or ErrNoTask if absent.
func (c *Coordinator) Counter(siteID string) (int, error) {
	data, err := afero.ReadFile(c.fs, c.Path(siteID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrNoTask
		}
		return 0, errors.WrapWithCode(err, errors.ErrFlags,
			fmt.Sprintf("Can't read flag for site %s", siteID),
			"Check permissions on the shared filesystem")
	}
	return parseCounter(data), nil
}

// HasPendingWork reports whether the site's FlagRecord exists with a value > 0.
func (c *Coordinator) HasPendingWork(siteID string) bool {
	n, err := c.Counter(siteID)
	return err == nil && n > 0
}

// HasPendingRetryAfterError reports whether the site failed before and is
// waiting for another attempt: 0 < counter < max and no LockRecord is held.
func (c *Coordinator) HasPendingRetryAfterError(siteID string) bool {
	n, err := c.Counter(siteID)
	if err != nil {
		return false
	}
	return n > 0 && n < c.maxRetries && !c.LockExists(siteID)
}

// Decrement lowers the counter by one and returns the new value.
// ErrNoTask is returned when the site has no FlagRecord.
func (c *Coordinator) Decrement(siteID string) (int, error) {
	n, err := c.Counter(siteID)
	if err != nil {
		return 0, err
	}
	n--
	if err := c.write(siteID, n); err != nil {
		return 0, err
	}
	return n, nil
}

// ClearTask deletes the site's FlagRecord. When that leaves the flags folder
// entirely empty the drained hook runs.
func (c *Coordinator) ClearTask(siteID string) error {
	err := c.fs.Remove(c.Path(siteID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.WrapWithCode(err, errors.ErrFlags,
			fmt.Sprintf("Can't remove flag for site %s", siteID),
			"Remove the flag file by hand")
	}

	empty, err := c.IsEmpty()
	if err != nil || !empty {
		return err
	}

	c.log.Info("Flags folder drained, finishing the run")
	if c.onDrained != nil {
		return c.onDrained()
	}
	return nil
}

// IsEmpty reports whether the flags folder holds no files at all.
// A missing folder counts as empty.
func (c *Coordinator) IsEmpty() (bool, error) {
	if ok, _ := afero.DirExists(c.fs, c.folder); !ok {
		return true, nil
	}
	empty, err := afero.IsEmpty(c.fs, c.folder)
	if err != nil {
		return false, errors.WrapWithCode(err, errors.ErrFlags,
			fmt.Sprintf("Can't read flags folder %s", c.folder),
			"Check permissions on the shared filesystem")
	}
	return empty, nil
}

// AcquireLock creates the site's LockRecord, failing with lock.ErrLocked if held.
func (c *Coordinator) AcquireLock(siteID string) error {
	return c.locks.Acquire(siteID)
}

// ReleaseLock removes the site's LockRecord; a missing lock is not an error.
func (c *Coordinator) ReleaseLock(siteID string) error {
	return c.locks.Release(siteID)
}

// LockExists reports whether the site's LockRecord is present.
func (c *Coordinator) LockExists(siteID string) bool {
	return c.locks.Exists(siteID)
}

// Entry is one FlagRecord as seen by status reporting.
type Entry struct {
	SiteID  string
	Counter int
	Raw     string
	Locked  bool
}

// Entries lists every FlagRecord in the folder, sorted by site ID.
func (c *Coordinator) Entries() ([]Entry, error) {
	files, err := afero.ReadDir(c.fs, c.folder)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.WrapWithCode(err, errors.ErrFlags,
			fmt.Sprintf("Can't read flags folder %s", c.folder),
			"Check permissions on the shared filesystem")
	}

	var entries []Entry
	for _, f := range files {
		if f.IsDir() || !strings.HasPrefix(f.Name(), FilePrefix) {
			continue
		}
		id := strings.TrimPrefix(f.Name(), FilePrefix)
		data, err := afero.ReadFile(c.fs, filepath.Join(c.folder, f.Name()))
		if err != nil {
			// Removed between listing and reading
			continue
		}
		entries = append(entries, Entry{
			SiteID:  id,
			Counter: parseCounter(data),
			Raw:     strings.TrimSpace(string(data)),
			Locked:  c.locks.Exists(id),
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].SiteID < entries[j].SiteID })
	return entries, nil
}

// Locks lists the site IDs holding a LockRecord.
func (c *Coordinator) Locks() ([]string, error) {
	return c.locks.List()
}

func (c *Coordinator) write(siteID string, n int) error {
	path := c.Path(siteID)
	op := func() error {
		return afero.WriteFile(c.fs, path, []byte(strconv.Itoa(n)), 0644)
	}
	notify := func(err error, wait time.Duration) {
		c.log.Warn("Writing %s failed, retrying in %s: %v", path, wait, err)
	}

	if err := backoff.RetryNotify(op, c.newBackOff(), notify); err != nil {
		return errors.WrapWithCode(err, errors.ErrFlags,
			fmt.Sprintf("Can't write flag for site %s", siteID),
			"Check permissions and free space on the shared filesystem")
	}
	return nil
}

// parseCounter reads the leading integer of a FlagRecord; anything else is 0.
func parseCounter(data []byte) int {
	s := strings.TrimSpace(string(data))
	end := 0
	for end < len(s) && (s[end] >= '0' && s[end] <= '9' || end == 0 && s[end] == '-') {
		end++
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}
