package exec

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_CapturesOutput(t *testing.T) {
	res := Run(context.Background(), Local{}, Cmd{Argv: []string{"sh", "-c", "echo hello; echo oops >&2"}})

	require.NoError(t, res.Err)
	assert.Equal(t, 0, res.ExitCode)
	assert.True(t, res.Success())
	assert.Equal(t, "hello\n", string(res.Stdout))
	assert.Equal(t, "oops\n", string(res.Stderr))
	assert.Positive(t, res.PID)
	assert.False(t, res.End.Before(res.Start))
}

func TestRun_NonZeroExitCode(t *testing.T) {
	res := Run(context.Background(), Local{}, Cmd{Argv: []string{"sh", "-c", "exit 42"}})

	require.NoError(t, res.Err, "command ran, just had non-zero exit")
	assert.Equal(t, 42, res.ExitCode)
	assert.False(t, res.Success())
}

func TestRun_WorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	res := Run(context.Background(), Local{}, Cmd{Argv: []string{"pwd"}, Dir: dir})

	require.NoError(t, res.Err)
	assert.Contains(t, strings.TrimSpace(string(res.Stdout)), filepath.Base(dir))
}

func TestRun_Stdin(t *testing.T) {
	res := Run(context.Background(), Local{}, Cmd{Argv: []string{"cat"}, Stdin: strings.NewReader("CREATE TABLE x;")})

	require.NoError(t, res.Err)
	assert.Equal(t, "CREATE TABLE x;", string(res.Stdout))
}

func TestRun_CommandNotFound(t *testing.T) {
	res := Run(context.Background(), Local{}, Cmd{Argv: []string{"nonexistent_command_xyz123"}})

	require.Error(t, res.Err)
	assert.Equal(t, -1, res.ExitCode)
	assert.False(t, res.Success())
}

func TestRun_EmptyArgv(t *testing.T) {
	res := Run(context.Background(), Local{}, Cmd{})
	assert.Error(t, res.Err)
}

func TestRun_ContextTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	res := Run(ctx, Local{}, Cmd{Argv: []string{"sleep", "5"}})

	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	assert.Less(t, res.Duration(), 4*time.Second)
}

func TestStart_PollDoesNotBlock(t *testing.T) {
	p, err := Local{}.Start(context.Background(), Cmd{Argv: []string{"sleep", "0.3"}})
	require.NoError(t, err)

	_, done := p.Poll()
	assert.False(t, done, "process should still be running")

	res := p.Wait()
	assert.Equal(t, 0, res.ExitCode)

	polled, done := p.Poll()
	assert.True(t, done)
	assert.Same(t, res, polled)
}

func TestCappedBuffer_Truncates(t *testing.T) {
	var b cappedBuffer
	chunk := make([]byte, maxOutputBufferSize/2+1)

	_, _ = b.Write(chunk)
	_, _ = b.Write(chunk)

	out := b.Bytes()
	assert.Contains(t, string(out), "output truncated")
	assert.Less(t, len(out), maxOutputBufferSize+100)
}
