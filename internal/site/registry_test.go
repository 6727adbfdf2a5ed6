package site

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rileyhilliard/acsf-tools/internal/errors"
	"github.com/rileyhilliard/acsf-tools/internal/logger"
	"github.com/rileyhilliard/acsf-tools/pkg/sshutil"
	sshtesting "github.com/rileyhilliard/acsf-tools/pkg/sshutil/testing"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_FileSource(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/mnt/files/grp.01live/files-private/sites.json", []byte(sitesJSON), 0644))

	src, err := NewSource("/mnt/files/grp.01live/files-private/sites.json", fs, "/cache")
	require.NoError(t, err)

	r := NewRegistry(src, logger.Noop())
	sites := r.List(context.Background())
	assert.Len(t, sites, 3)
}

func TestRegistry_MissingSourceIsLoggedNotFatal(t *testing.T) {
	buf := logger.NewBufferLogger()
	r := NewRegistry(&FileSource{FS: afero.NewMemMapFs(), Path: "/missing/sites.json"}, buf)

	sites := r.List(context.Background())
	assert.Empty(t, sites)
	assert.True(t, buf.Contains("error", "Failed to retrieve the list of sites"))

	_, err := r.Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrRegistry))
}

func TestRegistry_MalformedSource(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/sites.json", []byte("{broken"), 0644))
	r := NewRegistry(&FileSource{FS: fs, Path: "/sites.json"}, nil)

	_, err := r.Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrRegistry))
	assert.Empty(t, r.List(context.Background()))
}

func TestNewSSHSource(t *testing.T) {
	src, err := NewSSHSource("ssh://grp.01live@web-1.example.com:2222/mnt/files/grp.01live/files-private/sites.json", afero.NewMemMapFs(), "/cache")
	require.NoError(t, err)

	assert.Equal(t, "grp.01live@web-1.example.com:2222", src.Host)
	assert.Equal(t, "/mnt/files/grp.01live/files-private/sites.json", src.Path)
	assert.Equal(t, filepath.Join("/cache", "web-1.example.com_2222.sites.json"), src.CachePath())

	for _, bad := range []string{"ssh://", "http://host/path", "ssh://host"} {
		_, err := NewSSHSource(bad, afero.NewMemMapFs(), "/cache")
		assert.Error(t, err, bad)
	}
}

func newFakeSSHSource(t *testing.T, resp sshtesting.CommandResponse) (*SSHSource, afero.Fs, *[]*sshtesting.FakeRunner) {
	t.Helper()
	fs := afero.NewMemMapFs()
	src, err := NewSSHSource("ssh://factory/mnt/sites.json", fs, "/cache")
	require.NoError(t, err)

	var dialed []*sshtesting.FakeRunner
	src.Dial = func(host string, _ time.Duration) (sshutil.Runner, error) {
		assert.Equal(t, "factory", host)
		fake := sshtesting.NewFakeRunner().On("cat '/mnt/sites.json'", resp)
		dialed = append(dialed, fake)
		return fake, nil
	}
	return src, fs, &dialed
}

func TestSSHSource_FetchesAndCaches(t *testing.T) {
	src, fs, dialed := newFakeSSHSource(t, sshtesting.CommandResponse{Stdout: []byte(sitesJSON)})

	sites := NewRegistry(src, nil).List(context.Background())
	assert.Len(t, sites, 3)
	require.Len(t, *dialed, 1)
	assert.True(t, (*dialed)[0].Closed())

	cached, err := afero.ReadFile(fs, src.CachePath())
	require.NoError(t, err)
	assert.Equal(t, sitesJSON, string(cached))

	// Second read comes from the cache
	_, err = src.Read(context.Background())
	require.NoError(t, err)
	assert.Len(t, *dialed, 1)

	require.NoError(t, src.RefreshCache())
	_, err = src.Read(context.Background())
	require.NoError(t, err)
	assert.Len(t, *dialed, 2)
}

func TestSSHSource_RemoteFailure(t *testing.T) {
	src, fs, _ := newFakeSSHSource(t, sshtesting.CommandResponse{
		Stderr:   []byte("No such file or directory"),
		ExitCode: 1,
	})

	_, err := src.Read(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No such file or directory")

	ok, _ := afero.Exists(fs, src.CachePath())
	assert.False(t, ok, "failures are not cached")
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, `'/a b/c'`, shellQuote("/a b/c"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}
