package cli

import (
	"bytes"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rileyhilliard/acsf-tools/internal/background"
	"github.com/rileyhilliard/acsf-tools/internal/config"
	exectest "github.com/rileyhilliard/acsf-tools/internal/exec/testing"
	locktest "github.com/rileyhilliard/acsf-tools/internal/lock/testing"
	"github.com/rileyhilliard/acsf-tools/internal/logger"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const (
	testSitesJSON = "/mnt/files/grp.01live/files-private/sites.json"
	testDocroot   = "/var/www/html/grp.01live/docroot"
	testFlagsDir  = "/tmp/gfs/grp.01live/flags/"
	testLogsDir   = "/mnt/gfs/grp.01live/logs/"
)

// testRegistry has two available sites and one with restricted access.
const testRegistry = `{
  "sites": {
    "alpha.grp.acsitefactory.com": {"name": "alpha", "flags": [], "conf": {"gardens_site_id": 101, "gardens_db_name": "db101"}},
    "www.alpha.org": {"name": "alpha", "flags": {"preferred_domain": true}, "conf": {"gardens_site_id": 101, "gardens_db_name": "db101"}},
    "beta.grp.acsitefactory.com": {"name": "beta", "flags": [], "conf": {"gardens_site_id": 102, "gardens_db_name": "db102"}},
    "locked.grp.acsitefactory.com": {"name": "locked", "flags": {"access_restricted": {"enabled": true}}, "conf": {"gardens_site_id": 103, "gardens_db_name": "db103"}}
  }
}`

var testNow = time.Date(2024, 5, 11, 10, 0, 0, 0, time.UTC)

// syncBuffer is a bytes.Buffer safe for the concurrent writes of a sweep.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	env      *env
	fs       afero.Fs
	launcher *exectest.FakeLauncher
	mutex    *locktest.FakeMutex
	out      *syncBuffer
	log      *logger.BufferLogger
}

// newHarness builds an env over an in-memory filesystem holding the test
// registry, with a fixed clock and a fake launcher.
func newHarness(t *testing.T) *harness {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Site.Group = "grp"
	cfg.Site.Env = "01live"
	cfg.Paths.SitesCache = ""
	cfg.Fanout.PollInterval = time.Millisecond
	cfg.Cron.Heartbeat = time.Millisecond

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, testSitesJSON, []byte(testRegistry), 0o644))

	h := &harness{
		fs:       fs,
		launcher: exectest.NewFakeLauncher(),
		mutex:    locktest.NewFakeMutex(),
		out:      &syncBuffer{},
		log:      logger.NewBufferLogger(),
	}
	h.env = &env{
		cfg:      cfg,
		fs:       fs,
		log:      h.log,
		launcher: h.launcher,
		stdout:   h.out,
		now:      func() time.Time { return testNow },
	}

	saved := runtimeDeps
	runtimeDeps.mutex = func(afero.Fs, string, time.Duration) background.ProcessMutex { return h.mutex }
	t.Cleanup(func() { runtimeDeps = saved })

	oldMode := machineMode
	machineMode = false
	t.Cleanup(func() { machineMode = oldMode })

	return h
}

func writeFile(h *harness, path, content string) error {
	return afero.WriteFile(h.fs, path, []byte(content), 0o644)
}

func readOSFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	return string(data), err
}

func TestNewEnv_UsesRuntimeDeps(t *testing.T) {
	saved := runtimeDeps
	defer func() { runtimeDeps = saved }()

	fs := afero.NewMemMapFs()
	var buf bytes.Buffer
	runtimeDeps.fs = fs
	runtimeDeps.stdout = &buf
	runtimeDeps.loadCfg = func(string) (*config.Config, error) {
		cfg := config.DefaultConfig()
		cfg.Site.Group, cfg.Site.Env = "grp", "01live"
		return cfg, nil
	}

	e, err := newEnv()
	require.NoError(t, err)

	require.Same(t, fs, e.fs)
	require.Equal(t, "grp", e.cfg.Site.Group)
	require.Equal(t, testLogsDir, e.logStore().Dir())
	require.Equal(t, testFlagsDir, e.coordinator(nil).Folder())
}

func TestEnv_SitesFromRegistry(t *testing.T) {
	h := newHarness(t)

	sites, err := h.env.sites(t.Context())
	require.NoError(t, err)
	require.Len(t, sites, 3)
	require.Equal(t, []string{"alpha.grp.acsitefactory.com", "www.alpha.org"}, sites[0].Domains)
	require.Equal(t, "www.alpha.org", sites[0].PreferredDomain)
	require.Equal(t, "db101", sites[0].DBName)
}

func TestEnv_MissingRegistryMeansNoSites(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.fs.Remove(testSitesJSON))

	sites, err := h.env.sites(t.Context())
	require.NoError(t, err)
	require.Empty(t, sites)
	require.True(t, h.log.HasLevel("error"))
}
