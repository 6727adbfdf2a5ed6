package fanout

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/rileyhilliard/acsf-tools/internal/site"
	"github.com/stretchr/testify/assert"
)

func sampleResult() *Result {
	r := &Result{Sweeps: 1, Duration: 12 * time.Second}
	r.add(finishedUnit("db1", StatusSucceeded, "ok", ""))
	r.add(finishedUnit("db2", StatusFailed, "", "PDOException: access denied\n"))
	r.add(UnitResult{Site: &site.Site{Name: "db3"}, Status: StatusSkipped, Reason: "site is being moved"})
	r.add(UnitResult{Site: &site.Site{Name: "db4"}, Domain: "db4.example.com", Status: StatusUnhandled, Reason: "runtime limit reached"})
	return r
}

func TestRenderSummaryTo(t *testing.T) {
	var buf bytes.Buffer
	RenderSummaryTo(&buf, sampleResult(), DefaultSummaryConfig())

	out := buf.String()
	assert.Contains(t, out, "Sweep Summary")
	assert.Contains(t, out, "db2")
	assert.Contains(t, out, "PDOException: access denied")
	assert.Contains(t, out, "db4")
	assert.Contains(t, out, "not started: runtime limit reached")
	assert.Contains(t, out, "1 succeeded")
	assert.Contains(t, out, "1 failed")
	assert.Contains(t, out, "1 skipped")
	assert.Contains(t, out, "1 not started")
	assert.NotContains(t, out, "db3", "skipped sites are hidden by default")
}

func TestRenderSummaryTo_ShowSkippedAndLog(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultSummaryConfig()
	cfg.ShowSkipped = true
	cfg.LogPath = "/mnt/tmp/logs/large_scale_cron_20240511/100000.log"
	RenderSummaryTo(&buf, sampleResult(), cfg)

	out := buf.String()
	assert.Contains(t, out, "db3")
	assert.Contains(t, out, "site is being moved")
	assert.Contains(t, out, "large_scale_cron_20240511/100000.log")
}

func TestRenderSummaryTo_TruncatesLongOutput(t *testing.T) {
	lines := make([]string, 30)
	for i := range lines {
		lines[i] = "line"
	}
	r := &Result{}
	r.add(finishedUnit("db1", StatusFailed, "", strings.Join(lines, "\n")))

	var buf bytes.Buffer
	RenderSummaryTo(&buf, r, DefaultSummaryConfig())
	assert.Contains(t, buf.String(), "(20 lines omitted)")
}

func TestRenderSummaryTo_Nil(t *testing.T) {
	var buf bytes.Buffer
	RenderSummaryTo(&buf, nil, DefaultSummaryConfig())
	assert.Empty(t, buf.String())
}

func TestResult_Brief(t *testing.T) {
	assert.Equal(t, "1 succeeded, 1 failed, 1 skipped (12.0s)", sampleResult().Brief())
	var r *Result
	assert.Equal(t, "No results", r.Brief())
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "succeeded", StatusSucceeded.String())
	assert.Equal(t, "failed", StatusFailed.String())
	assert.Equal(t, "skipped", StatusSkipped.String())
	assert.Equal(t, "unhandled", StatusUnhandled.String())
	assert.Equal(t, "unknown", Status(42).String())
}
