package runlog

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rileyhilliard/acsf-tools/internal/errors"
	"github.com/spf13/afero"
)

// ArchiveSuffix is appended to an archived folder name.
const ArchiveSuffix = ".tgz"

// logDir represents a log folder or archive with metadata for cleanup decisions.
type logDir struct {
	path    string
	modTime time.Time
	isDir   bool
}

// Rotate archives yesterday's folders and then deletes folders and archives
// older than keepDays. A keepDays of 0 keeps everything.
func (s *Store) Rotate(keepDays int) error {
	yesterday := s.now().AddDate(0, 0, -1)
	if _, err := s.Archive(yesterday); err != nil {
		return err
	}
	if keepDays <= 0 {
		return nil
	}
	return s.CleanByAge(time.Duration(keepDays) * 24 * time.Hour)
}

// Archive packs every folder of the given day into <folder>.tgz and removes
// the folder. It returns the archives written.
func (s *Store) Archive(day time.Time) ([]string, error) {
	prefix := FolderPrefix + day.Format(DateFormat)

	dirs, err := s.listLogDirs()
	if err != nil {
		return nil, err
	}

	var archives []string
	for _, d := range dirs {
		if !d.isDir || !strings.HasPrefix(filepath.Base(d.path), prefix) {
			continue
		}

		target := d.path + ArchiveSuffix
		if err := s.tarGz(d.path, target); err != nil {
			_ = s.fs.Remove(target)
			return archives, errors.WrapWithCode(err, errors.ErrLogs,
				"Can't archive log folder "+d.path,
				"Check free space on the shared filesystem")
		}
		if err := s.fs.RemoveAll(d.path); err != nil {
			return archives, errors.WrapWithCode(err, errors.ErrLogs,
				"Can't delete log folder "+d.path,
				"Check your permissions.")
		}
		s.log.Info("Archived %s", target)
		archives = append(archives, target)
	}

	return archives, nil
}

// CleanByAge deletes log folders and archives older than maxAge.
func (s *Store) CleanByAge(maxAge time.Duration) error {
	if maxAge <= 0 {
		return nil
	}

	dirs, err := s.listLogDirs()
	if err != nil {
		return err
	}

	cutoff := s.now().Add(-maxAge)

	for _, d := range dirs {
		if d.modTime.Before(cutoff) {
			if err := s.fs.RemoveAll(d.path); err != nil {
				return errors.WrapWithCode(err, errors.ErrLogs,
					"Can't delete log path "+d.path,
					"Check your permissions.")
			}
			s.log.Debug("Removed old log path %s", d.path)
		}
	}

	return nil
}

// listLogDirs returns the folders and archives this store manages, oldest first.
func (s *Store) listLogDirs() ([]logDir, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.WrapWithCode(err, errors.ErrLogs,
			"Can't read log directory "+s.dir,
			"Check your permissions.")
	}

	var dirs []logDir
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, FolderPrefix) {
			continue
		}
		if !entry.IsDir() && !strings.HasSuffix(name, ArchiveSuffix) {
			continue
		}
		dirs = append(dirs, logDir{
			path:    filepath.Join(s.dir, name),
			modTime: entry.ModTime(),
			isDir:   entry.IsDir(),
		})
	}

	sort.Slice(dirs, func(i, j int) bool {
		return dirs[i].modTime.Before(dirs[j].modTime)
	})
	return dirs, nil
}

// tarGz writes the contents of dir into a gzip-compressed tarball at target.
// The archive only counts as written once target is closed cleanly.
func (s *Store) tarGz(dir, target string) error {
	out, err := s.fs.Create(target)
	if err != nil {
		return err
	}
	if err := s.writeTarGz(out, dir); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func (s *Store) writeTarGz(out io.Writer, dir string) error {
	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)
	base := filepath.Dir(dir)

	err := afero.Walk(s.fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		f, err := s.fs.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}
