// Package lock implements the two serialization primitives of background
// processing: the per-site LockRecord living next to the FlagRecords, and a
// process-wide named mutex with a lease.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rileyhilliard/acsf-tools/internal/errors"
	"github.com/spf13/afero"
)

// RecordSuffix is appended to the site ID to form the LockRecord file name.
const RecordSuffix = ".lock"

// Records manages LockRecord files inside a flags folder.
type Records struct {
	fs  afero.Fs
	dir string
}

// NewRecords returns a Records rooted at dir (usually the flags folder).
func NewRecords(fs afero.Fs, dir string) *Records {
	return &Records{fs: fs, dir: dir}
}

// Path returns the LockRecord path for a site.
func (r *Records) Path(siteID string) string {
	return filepath.Join(r.dir, siteID+RecordSuffix)
}

// Acquire creates the LockRecord for a site with an exclusive create.
// If the record already exists ErrLocked is returned and nothing is touched.
func (r *Records) Acquire(siteID string) error {
	if err := r.fs.MkdirAll(r.dir, 0755); err != nil {
		return errors.WrapWithCode(err, errors.ErrLock,
			fmt.Sprintf("Can't create lock folder %s", r.dir),
			"Check permissions on the shared filesystem")
	}

	f, err := r.fs.OpenFile(r.Path(siteID), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return ErrLocked
		}
		return errors.WrapWithCode(err, errors.ErrLock,
			fmt.Sprintf("Can't create lock for site %s", siteID),
			"Check permissions on the shared filesystem")
	}
	defer f.Close()

	data, err := NewLockInfo(siteID, 0).Marshal()
	if err == nil {
		// Content is informational only; existence is what matters.
		_, _ = f.Write(data)
	}
	return nil
}

// Release removes the LockRecord. Releasing a missing record is a no-op.
func (r *Records) Release(siteID string) error {
	err := r.fs.Remove(r.Path(siteID))
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return errors.WrapWithCode(err, errors.ErrLock,
		fmt.Sprintf("Can't remove lock for site %s", siteID),
		"Remove the .lock file by hand if it is stuck")
}

// Exists reports whether the LockRecord for a site is present.
func (r *Records) Exists(siteID string) bool {
	ok, err := afero.Exists(r.fs, r.Path(siteID))
	return err == nil && ok
}

// Holder describes who created the LockRecord, or "" if it is absent.
func (r *Records) Holder(siteID string) string {
	data, err := afero.ReadFile(r.fs, r.Path(siteID))
	if err != nil {
		return ""
	}
	info, err := ParseLockInfo(data)
	if err != nil {
		// Records written by other tools are empty
		return "unknown"
	}
	return info.String()
}

// List returns the site IDs that currently hold a LockRecord.
func (r *Records) List() ([]string, error) {
	entries, err := afero.ReadDir(r.fs, r.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.WrapWithCode(err, errors.ErrLock,
			fmt.Sprintf("Can't read lock folder %s", r.dir),
			"Check permissions on the shared filesystem")
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), RecordSuffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), RecordSuffix))
	}
	return ids, nil
}
