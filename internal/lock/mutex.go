package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/rileyhilliard/acsf-tools/internal/errors"
	"github.com/spf13/afero"
)

const (
	// DefaultPollInterval is how often a held mutex is re-checked while waiting.
	DefaultPollInterval = 2 * time.Second

	infoFileName = "info.json"
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Mutex is a named, host-wide mutex backed by lock directories.
// It uses mkdir as the atomic primitive (mkdir fails if the directory exists).
// Every holder declares a lease; a mutex whose lease ran out is considered
// abandoned and is removed by the next acquirer.
type Mutex struct {
	fs   afero.Fs
	dir  string
	wait time.Duration
	poll time.Duration

	mu   sync.Mutex
	held map[string]string // name -> token
}

// MutexOption configures a Mutex.
type MutexOption func(*Mutex)

// WithWait makes Acquire keep retrying a held mutex for up to d.
// The default is a single attempt.
func WithWait(d time.Duration) MutexOption {
	return func(m *Mutex) { m.wait = d }
}

// WithPollInterval sets how often a held mutex is re-checked while waiting.
func WithPollInterval(d time.Duration) MutexOption {
	return func(m *Mutex) {
		if d > 0 {
			m.poll = d
		}
	}
}

// NewMutex returns a Mutex storing its lock directories under dir.
func NewMutex(fs afero.Fs, dir string, opts ...MutexOption) *Mutex {
	m := &Mutex{
		fs:   fs,
		dir:  dir,
		poll: DefaultPollInterval,
		held: make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Path returns the lock directory used for name.
func (m *Mutex) Path(name string) string {
	return filepath.Join(m.dir, unsafeNameChars.ReplaceAllString(name, "_")+RecordSuffix)
}

// Acquire takes the named mutex for the given lease.
// When the mutex is held by a live holder, Acquire retries until the
// configured wait elapses and then returns an error wrapping ErrMutexTimeout.
func (m *Mutex) Acquire(ctx context.Context, name string, lease time.Duration) error {
	lockDir := m.Path(name)
	infoFile := filepath.Join(lockDir, infoFileName)

	if err := m.fs.MkdirAll(m.dir, 0755); err != nil {
		return errors.WrapWithCode(err, errors.ErrLock,
			fmt.Sprintf("Can't create mutex folder %s", m.dir),
			"Check permissions or set paths.mutex_dir")
	}

	info := NewLockInfo(name, lease)
	startTime := time.Now()

	for {
		if m.isStale(infoFile) {
			// Abandoned by a holder whose lease ran out; try again immediately
			if err := m.fs.RemoveAll(lockDir); err == nil {
				continue
			}
		}

		err := m.fs.Mkdir(lockDir, 0755)
		if err == nil {
			data, err := info.Marshal()
			if err == nil {
				err = afero.WriteFile(m.fs, infoFile, data, 0644)
			}
			if err != nil {
				_ = m.fs.RemoveAll(lockDir)
				return errors.WrapWithCode(err, errors.ErrLock,
					fmt.Sprintf("Failed to write mutex info for %s", name),
					"Check disk space and permissions")
			}

			m.mu.Lock()
			m.held[name] = info.Token
			m.mu.Unlock()
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return errors.WrapWithCode(err, errors.ErrLock,
				fmt.Sprintf("Failed to create mutex %s", name),
				"Check permissions or set paths.mutex_dir")
		}

		if time.Since(startTime) >= m.wait {
			return errors.WrapWithCode(ErrMutexTimeout, errors.ErrLock,
				fmt.Sprintf("Mutex %s is held by %s", name, m.holder(infoFile)),
				"Wait for the other process to finish")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.poll):
		}
	}
}

// Release gives the named mutex back. Only the token that acquired it can
// remove it; releasing a mutex this instance does not hold is a no-op.
func (m *Mutex) Release(name string) error {
	m.mu.Lock()
	token, ok := m.held[name]
	delete(m.held, name)
	m.mu.Unlock()
	if !ok {
		return nil
	}

	lockDir := m.Path(name)
	data, err := afero.ReadFile(m.fs, filepath.Join(lockDir, infoFileName))
	if err != nil {
		return nil
	}
	if info, err := ParseLockInfo(data); err == nil && info.Token != token {
		// Someone broke our expired lease and took over
		return nil
	}

	if err := m.fs.RemoveAll(lockDir); err != nil {
		return errors.WrapWithCode(err, errors.ErrLock,
			fmt.Sprintf("Failed to remove mutex directory: %s", lockDir),
			"Remove it by hand if it is stuck")
	}
	return nil
}

// Holder returns a description of who holds the named mutex, or "" if free.
func (m *Mutex) Holder(name string) string {
	infoFile := filepath.Join(m.Path(name), infoFileName)
	if ok, _ := afero.Exists(m.fs, infoFile); !ok {
		return ""
	}
	return m.holder(infoFile)
}

func (m *Mutex) isStale(infoFile string) bool {
	data, err := afero.ReadFile(m.fs, infoFile)
	if err != nil {
		return false // Can't read, assume not stale
	}
	info, err := ParseLockInfo(data)
	if err != nil {
		return false
	}
	return info.Expired(time.Now())
}

func (m *Mutex) holder(infoFile string) string {
	data, err := afero.ReadFile(m.fs, infoFile)
	if err != nil {
		return "unknown"
	}
	info, err := ParseLockInfo(data)
	if err != nil {
		return "unknown"
	}
	return info.String()
}
