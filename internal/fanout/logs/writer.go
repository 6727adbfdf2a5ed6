// Package logs writes the per-run YAML log of a large-scale cron sweep.
package logs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rileyhilliard/acsf-tools/internal/errors"
	"github.com/rileyhilliard/acsf-tools/internal/fanout"
	"github.com/rileyhilliard/acsf-tools/internal/logger"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// DirPrefix names the per-day cron log directories.
const DirPrefix = "large_scale_cron_"

// Entry is one unit in the run log. Fields are nil for units that never ran.
type Entry struct {
	PID       *int    `yaml:"pid"`
	ExitCode  *int    `yaml:"exit_code"`
	Stdout    *string `yaml:"stdout"`
	Stderr    *string `yaml:"stderr"`
	StartTime *string `yaml:"start_time"`
	EndTime   *string `yaml:"end_time"`
}

// LogWriter appends one YAML document per finished unit to
// <dir>/large_scale_cron_<YYYYMMDD>/<HHMMSS>.log.
type LogWriter struct {
	fs   afero.Fs
	path string
	log  logger.Logger

	mu      sync.Mutex
	written int
	closed  bool
}

// NewLogWriter creates the day's directory and the run's log file name.
// The directory is created immediately so units can be appended to it.
func NewLogWriter(fs afero.Fs, dir string, start time.Time, log logger.Logger) (*LogWriter, error) {
	if log == nil {
		log = logger.Noop()
	}
	dayDir := filepath.Join(dir, DirPrefix+start.Format("20060102"))
	if err := fs.MkdirAll(dayDir, 0755); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrLogs,
			"Can't create log directory "+dayDir,
			"Check your permissions for "+dir+".")
	}

	return &LogWriter{
		fs:   fs,
		path: filepath.Join(dayDir, start.Format("150405")+".log"),
		log:  log,
	}, nil
}

// Path returns the log file of this run.
func (w *LogWriter) Path() string {
	return w.path
}

// Append writes u to the log, keyed by its bare domain. Skipped units are
// not logged.
func (w *LogWriter) Append(u fanout.UnitResult) error {
	if u.Status == fanout.StatusSkipped {
		return nil
	}
	key := strings.TrimPrefix(strings.TrimPrefix(u.Domain, "https://"), "http://")
	if key == "" {
		key = u.Name()
	}
	return w.write(map[string]Entry{key: entryFor(u)})
}

// Observe is a fanout.Observer; write errors are logged.
func (w *LogWriter) Observe(u fanout.UnitResult) {
	if err := w.Append(u); err != nil {
		w.log.Warn("Couldn't append %s to the cron log: %v", u.Name(), err)
	}
}

// Close finalizes the log. A run that logged nothing writes an empty document.
func (w *LogWriter) Close() error {
	w.mu.Lock()
	empty := w.written == 0 && !w.closed
	w.mu.Unlock()

	if empty {
		if err := w.write(map[string]Entry{}); err != nil {
			return err
		}
	}

	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}

func (w *LogWriter) write(doc map[string]Entry) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrLogs,
			"Can't encode the cron log entry",
			"This is unexpected - check the result data.")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.New(errors.ErrLogs,
			"Log writer is closed",
			"This is unexpected - create a new LogWriter.")
	}

	f, err := w.fs.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrLogs,
			"Can't open cron log "+w.path,
			"Check your permissions.")
	}
	defer f.Close()

	if _, err := f.Write(append([]byte("---\n"), data...)); err != nil {
		return errors.WrapWithCode(err, errors.ErrLogs,
			"Can't write cron log "+w.path,
			"Check your permissions.")
	}
	w.written++
	return nil
}

func entryFor(u fanout.UnitResult) Entry {
	if u.Exec == nil {
		if u.Status == fanout.StatusFailed && u.Err != nil {
			msg := u.Err.Error()
			return Entry{Stderr: &msg}
		}
		return Entry{}
	}

	r := u.Exec
	pid := r.PID
	code := r.ExitCode
	stdout := string(r.Stdout)
	stderr := string(r.Stderr)
	if r.Err != nil {
		stderr += fmt.Sprintf("\n%v", r.Err)
	}
	start := r.Start.Format(time.RFC3339)
	end := r.End.Format(time.RFC3339)

	return Entry{
		PID:       &pid,
		ExitCode:  &code,
		Stdout:    &stdout,
		Stderr:    &stderr,
		StartTime: &start,
		EndTime:   &end,
	}
}
