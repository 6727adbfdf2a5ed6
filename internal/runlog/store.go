// Package runlog maintains the dated, numbered log folders that bound one run
// of background processing, and the per-attempt log entries written in them.
//
// Layout under the logs folder:
//
//	large_scale_cron_<YYYYMMDD>_<iteration>/
//	    background_tasks.start.log
//	    background_tasks.finish.log
//	    <site>-<HH-MM-SS>.success.log
//	    <site>-<HH-MM-SS>.error.log
package runlog

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
	"github.com/rileyhilliard/acsf-tools/internal/logger"
	"github.com/spf13/afero"
)

const (
	// FolderPrefix starts every iteration folder name.
	FolderPrefix = "large_scale_cron_"
	// StartMarker is written when an iteration folder is created.
	StartMarker = "background_tasks.start.log"
	// FinishMarker closes an iteration; the next one becomes current.
	FinishMarker = "background_tasks.finish.log"
	// DateFormat is the date part of an iteration folder name.
	DateFormat = "20060102"
	// TimeFormat is the time part of an entry file name.
	TimeFormat = "15-04-05"
)

// Kind is the outcome recorded by a log entry.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
)

// Folder returns the logs folder for a site group and environment.
// root must include its trailing slash.
func Folder(group, env, root string) string {
	return root + group + "." + env + "/logs/"
}

// Store reads and writes iteration folders under one logs folder.
// A single Store is shared by everything that logs during a process.
type Store struct {
	fs         afero.Fs
	dir        string
	now        func() time.Time
	log        logger.Logger
	newBackOff func() backoff.BackOff
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithWriteRetry sets how marker and entry writes are retried on I/O errors.
func WithWriteRetry(interval time.Duration, attempts uint64) Option {
	return func(s *Store) {
		s.newBackOff = func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), attempts)
		}
	}
}

// New creates a Store rooted at dir (the logs folder).
func New(fs afero.Fs, dir string, opts ...Option) *Store {
	s := &Store{
		fs:  fs,
		dir: dir,
		now: time.Now,
		log: logger.Noop(),
	}
	WithWriteRetry(time.Second, 2)(s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the logs folder.
func (s *Store) Dir() string {
	return s.dir
}

// FolderFor returns the iteration folder path for a date (YYYYMMDD).
func (s *Store) FolderFor(date string, iteration int) string {
	return filepath.Join(s.dir, FolderPrefix+date+"_"+strconv.Itoa(iteration))
}

// CurrentFolder returns today's folder that is open for writing, starting the
// search at iteration. A folder holding a finish marker is skipped in favour
// of the next iteration. When the folder does not exist it is created with a
// start marker, unless create is false, in which case "" is returned.
func (s *Store) CurrentFolder(iteration int, create bool) (string, error) {
	if iteration < 0 {
		return "", errors.New(errors.ErrLogs,
			fmt.Sprintf("Iteration must be 0 or higher (got %d)", iteration), "")
	}

	date := s.now().Format(DateFormat)
	for i := iteration; ; i++ {
		folder := s.FolderFor(date, i)

		exists, err := afero.DirExists(s.fs, folder)
		if err != nil {
			return "", s.ioError(err, folder)
		}
		if !exists {
			if !create {
				return "", nil
			}
			return folder, s.start(folder)
		}

		finished, err := afero.Exists(s.fs, filepath.Join(folder, FinishMarker))
		if err != nil {
			return "", s.ioError(err, folder)
		}
		if !finished {
			return folder, nil
		}
	}
}

// LastFolder finds an existing folder for date (YYYYMMDD, "" for today).
// With iteration >= 0 that exact folder is returned if it exists. With a
// negative iteration the folders are scanned forward from 0 and the highest
// one found is returned. "" means no folder exists.
func (s *Store) LastFolder(date string, iteration int) string {
	if date == "" {
		date = s.now().Format(DateFormat)
	}

	if iteration >= 0 {
		folder := s.FolderFor(date, iteration)
		if ok, _ := afero.DirExists(s.fs, folder); ok {
			return folder
		}
		return ""
	}

	last := ""
	for i := 0; ; i++ {
		folder := s.FolderFor(date, i)
		if ok, _ := afero.DirExists(s.fs, folder); !ok {
			return last
		}
		last = folder
	}
}

// WriteFinishMarker writes the finish marker into folder. Writing it again
// overwrites the timestamp.
func (s *Store) WriteFinishMarker(folder string) error {
	s.log.Info("Creating finish marker %s", filepath.Join(folder, FinishMarker))
	return s.writeFile(filepath.Join(folder, FinishMarker), []byte(s.now().Format(time.RFC3339)), false)
}

// IsFinished reports whether folder holds a finish marker.
func (s *Store) IsFinished(folder string) bool {
	ok, _ := afero.Exists(s.fs, filepath.Join(folder, FinishMarker))
	return ok
}

// Finish closes the currently open folder, if any.
func (s *Store) Finish() error {
	folder, err := s.CurrentFolder(0, false)
	if err != nil || folder == "" {
		return err
	}
	return s.WriteFinishMarker(folder)
}

// WriteEntry appends message to the site's entry file in the current folder
// and returns the file path. The current folder is started if needed.
func (s *Store) WriteEntry(siteID string, kind Kind, message string) (string, error) {
	folder, err := s.CurrentFolder(0, true)
	if err != nil {
		return "", err
	}

	now := s.now()
	path := filepath.Join(folder, fmt.Sprintf("%s-%s.%s.log", siteID, now.Format(TimeFormat), kind))
	line := fmt.Sprintf("%s %s - %s -----------------------\n", now.Format(DateFormat), now.Format("15:04:05"), message)

	if err := s.writeFile(path, []byte(line), true); err != nil {
		return "", err
	}
	return path, nil
}

// Counts tallies the entries of a folder.
type Counts struct {
	Success int
	Error   int
}

// Count tallies the success and error entries in folder.
func (s *Store) Count(folder string) (Counts, error) {
	var c Counts
	entries, err := s.Entries(folder)
	if err != nil {
		return c, err
	}
	for _, e := range entries {
		switch e.Kind {
		case KindSuccess:
			c.Success++
		case KindError:
			c.Error++
		}
	}
	return c, nil
}

// Entry is one parsed entry file name.
type Entry struct {
	SiteID string
	Time   string // HH-MM-SS
	Kind   Kind
	Path   string
}

// Entries lists the entries in folder, oldest first.
func (s *Store) Entries(folder string) ([]Entry, error) {
	if folder == "" {
		return nil, nil
	}
	files, err := afero.ReadDir(s.fs, folder)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, s.ioError(err, folder)
	}

	var entries []Entry
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		if e, ok := parseEntryName(f.Name()); ok {
			e.Path = filepath.Join(folder, f.Name())
			entries = append(entries, e)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Time < entries[j].Time })
	return entries, nil
}

// LatestBySite returns the most recent entry per site in folder.
func (s *Store) LatestBySite(folder string) (map[string]Entry, error) {
	entries, err := s.Entries(folder)
	if err != nil {
		return nil, err
	}
	latest := make(map[string]Entry, len(entries))
	for _, e := range entries {
		latest[e.SiteID] = e
	}
	return latest, nil
}

// parseEntryName splits "<site>-<HH-MM-SS>.<kind>.log".
func parseEntryName(name string) (Entry, bool) {
	base, ok := strings.CutSuffix(name, ".log")
	if !ok {
		return Entry{}, false
	}
	dot := strings.LastIndexByte(base, '.')
	if dot < 0 {
		return Entry{}, false
	}
	kind := Kind(base[dot+1:])
	if kind != KindSuccess && kind != KindError {
		return Entry{}, false
	}
	rest := base[:dot]
	if len(rest) < len(TimeFormat)+2 || rest[len(rest)-len(TimeFormat)-1] != '-' {
		return Entry{}, false
	}
	stamp := rest[len(rest)-len(TimeFormat):]
	if _, err := time.Parse(TimeFormat, stamp); err != nil {
		return Entry{}, false
	}
	return Entry{
		SiteID: rest[:len(rest)-len(TimeFormat)-1],
		Time:   stamp,
		Kind:   kind,
	}, true
}

func (s *Store) start(folder string) error {
	if err := s.fs.MkdirAll(folder, 0770); err != nil {
		return s.ioError(err, folder)
	}
	s.log.Info("Creating start marker %s", filepath.Join(folder, StartMarker))
	return s.writeFile(filepath.Join(folder, StartMarker), []byte(s.now().Format(time.RFC3339)), false)
}

func (s *Store) writeFile(path string, data []byte, appendMode bool) error {
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if appendMode {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}

	op := func() error {
		f, err := s.fs.OpenFile(path, flags, 0644)
		if err != nil {
			return err
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
	notify := func(err error, wait time.Duration) {
		s.log.Warn("Writing %s failed, retrying in %s: %v", path, wait, err)
	}

	if err := backoff.RetryNotify(op, s.newBackOff(), notify); err != nil {
		return s.ioError(err, path)
	}
	return nil
}

func (s *Store) ioError(err error, path string) error {
	return errors.WrapWithCode(err, errors.ErrLogs,
		"Can't access log path "+path,
		"Check permissions on the shared filesystem")
}
