package site

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rileyhilliard/acsf-tools/internal/errors"
	"github.com/rileyhilliard/acsf-tools/internal/logger"
	"github.com/rileyhilliard/acsf-tools/pkg/sshutil"
	"github.com/spf13/afero"
)

// Source returns the raw sites.json document.
type Source interface {
	Read(ctx context.Context) ([]byte, error)
	String() string
}

// Registry lists the sites of a factory.
type Registry struct {
	source Source
	log    logger.Logger
}

// NewRegistry creates a Registry reading from source.
func NewRegistry(source Source, log logger.Logger) *Registry {
	if log == nil {
		log = logger.Noop()
	}
	return &Registry{source: source, log: log}
}

// Load reads and parses the registry, returning any error.
func (r *Registry) Load(ctx context.Context) ([]*Site, error) {
	data, err := r.source.Read(ctx)
	if err != nil {
		return nil, err
	}
	sites, err := Parse(data)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrRegistry,
			fmt.Sprintf("Failed to parse the sites registry %s", r.source),
			"Check the file is a valid factory sites.json")
	}
	return sites, nil
}

// List returns the factory's sites. A missing or broken registry is logged
// and reported as no sites, which callers treat as a normal outcome.
func (r *Registry) List(ctx context.Context) []*Site {
	sites, err := r.Load(ctx)
	if err != nil {
		r.log.Error("Failed to retrieve the list of sites of the factory: %v", err)
		return nil
	}
	return sites
}

// FileSource reads sites.json from a filesystem path.
type FileSource struct {
	FS   afero.Fs
	Path string
}

func (s *FileSource) Read(_ context.Context) ([]byte, error) {
	data, err := afero.ReadFile(s.FS, s.Path)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrRegistry,
			"Can't read the sites registry "+s.Path,
			"Run on a factory web node or point paths.sites_json at an ssh:// location")
	}
	return data, nil
}

func (s *FileSource) String() string { return s.Path }

// DialFunc opens a command runner on a host.
type DialFunc func(host string, timeout time.Duration) (sshutil.Runner, error)

// SSHSource fetches sites.json from a remote factory node once and keeps a
// local copy in CacheDir. An existing copy is reused.
type SSHSource struct {
	Host     string // [user@]host[:port] or ssh_config alias
	Path     string
	CacheDir string
	FS       afero.Fs
	Dial     DialFunc
	Timeout  time.Duration
}

// NewSSHSource builds an SSHSource from ssh://[user@]host[:port]/path.
func NewSSHSource(raw string, fs afero.Fs, cacheDir string) (*SSHSource, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "ssh" || u.Host == "" || u.Path == "" {
		return nil, errors.New(errors.ErrConfig,
			fmt.Sprintf("Invalid remote registry location %q", raw),
			"Use ssh://[user@]host[:port]/path/to/sites.json")
	}

	host := u.Host
	if u.User != nil {
		host = u.User.Username() + "@" + host
	}

	return &SSHSource{
		Host:     host,
		Path:     u.Path,
		CacheDir: cacheDir,
		FS:       fs,
		Dial: func(host string, timeout time.Duration) (sshutil.Runner, error) {
			return sshutil.Dial(host, timeout)
		},
		Timeout: 10 * time.Second,
	}, nil
}

// CachePath is the local copy of the remote registry.
func (s *SSHSource) CachePath() string {
	name := s.Host
	if at := strings.LastIndex(name, "@"); at != -1 {
		name = name[at+1:]
	}
	name = strings.NewReplacer(":", "_", "/", "_").Replace(name)
	return filepath.Join(s.CacheDir, name+".sites.json")
}

func (s *SSHSource) Read(ctx context.Context) ([]byte, error) {
	cache := s.CachePath()
	if data, err := afero.ReadFile(s.FS, cache); err == nil {
		return data, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client, err := s.Dial(s.Host, s.Timeout)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	stdout, stderr, code, err := client.Exec("cat " + shellQuote(s.Path))
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, errors.New(errors.ErrRegistry,
			fmt.Sprintf("Can't read %s on %s (exit %d): %s", s.Path, s.Host, code, strings.TrimSpace(string(stderr))),
			"Check the remote path and your SSH access")
	}

	if err := s.FS.MkdirAll(s.CacheDir, 0700); err == nil {
		_ = afero.WriteFile(s.FS, cache, stdout, 0600)
	}
	return stdout, nil
}

func (s *SSHSource) String() string { return "ssh://" + s.Host + s.Path }

// NewSource picks the source for a configured location.
func NewSource(location string, fs afero.Fs, cacheDir string) (Source, error) {
	if strings.HasPrefix(location, "ssh://") {
		return NewSSHSource(location, fs, cacheDir)
	}
	return &FileSource{FS: fs, Path: location}, nil
}

// shellQuote wraps s in single quotes for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// RefreshCache drops the cached copy so the next read fetches again.
func (s *SSHSource) RefreshCache() error {
	err := s.FS.Remove(s.CachePath())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
