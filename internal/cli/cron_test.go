package cli

import (
	"testing"

	"github.com/rileyhilliard/acsf-tools/internal/cron"
	"github.com/rileyhilliard/acsf-tools/internal/errors"
	exectest "github.com/rileyhilliard/acsf-tools/internal/exec/testing"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cronLog = testLogsDir + "large_scale_cron_20240511/100000.log"

func TestCronCommand_Preferred(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, cronCommand(t.Context(), h.env, cronOptions{
		Filter: cron.Filter{DomainFilter: cron.FilterPreferred},
		Output: "quiet",
	}))

	assert.Equal(t, []string{"drush -r " + testDocroot + " -l https://www.alpha.org cron"}, h.launcher.StartedArgv())

	data, err := afero.ReadFile(h.fs, cronLog)
	require.NoError(t, err)
	assert.Contains(t, string(data), "www.alpha.org")
	assert.Contains(t, h.out.String(), cronLog)
}

func TestCronCommand_SuffixPage(t *testing.T) {
	h := newHarness(t)
	h.launcher.On("beta.grp", exectest.Outcome{ExitCode: 1, Stderr: "cron failed"})

	require.NoError(t, cronCommand(t.Context(), h.env, cronOptions{
		Filter:      cron.Filter{DomainSuffix: ".acsitefactory.com", Limit: 1, Page: 2},
		Concurrency: 4,
		Command:     "core-cron",
		Output:      "quiet",
	}))

	assert.Equal(t, []string{"drush -r " + testDocroot + " -l https://beta.grp.acsitefactory.com core-cron"}, h.launcher.StartedArgv())

	data, err := afero.ReadFile(h.fs, cronLog)
	require.NoError(t, err)
	assert.Contains(t, string(data), "beta.grp.acsitefactory.com")
}

func TestCronCommand_RotatesYesterday(t *testing.T) {
	h := newHarness(t)
	old := testLogsDir + "large_scale_cron_20240510"
	require.NoError(t, writeFile(h, old+"/235959.log", "{}\n"))

	require.NoError(t, cronCommand(t.Context(), h.env, cronOptions{
		Filter: cron.Filter{DomainFilter: cron.FilterPreferred},
		Output: "quiet",
	}))

	exists, err := afero.Exists(h.fs, old+".tgz")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = afero.DirExists(h.fs, old)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCronCommand_NoSites(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, cronCommand(t.Context(), h.env, cronOptions{
		Filter: cron.Filter{DomainSuffix: ".example.net"},
		Output: "quiet",
	}))

	assert.Empty(t, h.launcher.StartedArgv())
	assert.True(t, h.log.Contains("warn", "No sites found"))

	data, err := afero.ReadFile(h.fs, cronLog)
	require.NoError(t, err)
	assert.Equal(t, "{}\n", string(data))
}

func TestCronCommand_InvalidOptions(t *testing.T) {
	h := newHarness(t)

	err := cronCommand(t.Context(), h.env, cronOptions{Output: "quiet"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))

	err = cronCommand(t.Context(), h.env, cronOptions{
		Filter:  cron.Filter{DomainFilter: cron.FilterPreferred},
		SiteTTL: "-1m",
		Output:  "quiet",
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))

	assert.Empty(t, h.launcher.StartedArgv())
}
