package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rileyhilliard/acsf-tools/internal/errors"
	"github.com/rileyhilliard/acsf-tools/internal/exec"
	"github.com/rileyhilliard/acsf-tools/internal/fanout"
	"github.com/rileyhilliard/acsf-tools/internal/site"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_WriteTextfile(t *testing.T) {
	r := NewRecorder()
	observe := r.UnitObserver("cron")

	start := time.Date(2024, 5, 11, 14, 0, 0, 0, time.UTC)
	observe(fanout.UnitResult{
		Site:   &site.Site{Name: "alpha"},
		Status: fanout.StatusSucceeded,
		Exec:   &exec.Result{Start: start, End: start.Add(2 * time.Second)},
	})
	observe(fanout.UnitResult{
		Site:   &site.Site{Name: "beta"},
		Status: fanout.StatusFailed,
		Exec:   &exec.Result{ExitCode: 1, Start: start, End: start.Add(40 * time.Second)},
	})
	observe(fanout.UnitResult{Site: &site.Site{Name: "gamma"}, Status: fanout.StatusSkipped})
	r.BackgroundRun("succeeded")
	r.BackgroundRun("succeeded")
	r.BackgroundRun("contention")

	path := filepath.Join(t.TempDir(), "acsf.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)

	assert.Contains(t, text, `acsf_sweep_units_total{command="cron",outcome="succeeded"} 1`)
	assert.Contains(t, text, `acsf_sweep_units_total{command="cron",outcome="failed"} 1`)
	assert.Contains(t, text, `acsf_sweep_units_total{command="cron",outcome="skipped"} 1`)
	assert.Contains(t, text, `acsf_unit_duration_seconds_count{command="cron"} 2`)
	assert.Contains(t, text, `acsf_unit_duration_seconds_sum{command="cron"} 42`)
	assert.Contains(t, text, `acsf_background_runs_total{outcome="succeeded"} 2`)
	assert.Contains(t, text, `acsf_background_runs_total{outcome="contention"} 1`)
}

func TestRecorder_SeparateRegistries(t *testing.T) {
	a := NewRecorder()
	b := NewRecorder()
	a.BackgroundRun("succeeded")

	families, err := b.Gatherer().Gather()
	require.NoError(t, err)
	assert.Empty(t, families, "nothing recorded on b")
}

func TestRecorder_WriteTextfileError(t *testing.T) {
	r := NewRecorder()
	err := r.WriteTextfile(filepath.Join(t.TempDir(), "missing", "acsf.prom"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
}
