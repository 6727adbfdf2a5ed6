package logger

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesComponentAndMessage(t *testing.T) {
	var buf bytes.Buffer
	l := With(New(&buf, LevelNormal, true), "flags")

	l.Info("Flag created for %s", "db123")

	out := buf.String()
	assert.Contains(t, out, "Flag created for db123")
	assert.Contains(t, out, "component=flags")
}

func TestNew_LevelFiltering(t *testing.T) {
	tests := []struct {
		name      string
		level     Level
		wantDebug bool
		wantInfo  bool
		wantWarn  bool
	}{
		{name: "quiet hides info", level: LevelQuiet, wantDebug: false, wantInfo: false, wantWarn: true},
		{name: "normal hides debug", level: LevelNormal, wantDebug: false, wantInfo: true, wantWarn: true},
		{name: "verbose shows all", level: LevelVerbose, wantDebug: true, wantInfo: true, wantWarn: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ACSF_DEBUG", "")
			var buf bytes.Buffer
			l := New(&buf, tt.level, true)

			l.Debug("debug-line")
			l.Info("info-line")
			l.Warn("warn-line")

			out := buf.String()
			assert.Equal(t, tt.wantDebug, bytes.Contains([]byte(out), []byte("debug-line")))
			assert.Equal(t, tt.wantInfo, bytes.Contains([]byte(out), []byte("info-line")))
			assert.Equal(t, tt.wantWarn, bytes.Contains([]byte(out), []byte("warn-line")))
		})
	}
}

func TestNew_DebugEnvOverride(t *testing.T) {
	t.Setenv("ACSF_DEBUG", "1")
	var buf bytes.Buffer
	l := New(&buf, LevelQuiet, true)

	l.Debug("forced %d", 1)
	assert.Contains(t, buf.String(), "forced 1")
}

func TestWith_NonZerologPassthrough(t *testing.T) {
	buf := NewBufferLogger()
	assert.Same(t, buf, With(buf, "anything"))
}

func TestNoop(t *testing.T) {
	l := Noop()
	require.NotNil(t, l)

	// Should not panic
	l.Debug("x")
	l.Info("x")
	l.Warn("x")
	l.Error("x")
}

func TestBufferLogger(t *testing.T) {
	l := NewBufferLogger()

	l.Info("Skipping %s", "site1")
	l.Error("Script failed for %s", "db1")

	assert.True(t, l.HasLevel("info"))
	assert.True(t, l.HasLevel("error"))
	assert.False(t, l.HasLevel("warn"))
	assert.True(t, l.Contains("error", "db1"))
	assert.True(t, l.Contains("", "site1"))
	assert.False(t, l.Contains("info", "db1"))

	msgs := l.Snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Skipping site1", msgs[0].Message)

	l.Clear()
	assert.Empty(t, l.Snapshot())
}

func TestBufferLogger_ConcurrentWrites(t *testing.T) {
	l := NewBufferLogger()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l.Info("unit %d", i)
		}(i)
	}
	wg.Wait()

	assert.Len(t, l.Snapshot(), 50)
}

func TestDefaultAndSetDefault(t *testing.T) {
	original := Default()
	defer SetDefault(original)

	buf := NewBufferLogger()
	SetDefault(buf)
	Default().Warn("hello")

	assert.True(t, buf.Contains("warn", "hello"))
}
