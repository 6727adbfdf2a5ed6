package errors

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCodes(t *testing.T) {
	codes := []string{
		ErrConfig,
		ErrRegistry,
		ErrLock,
		ErrFlags,
		ErrLogs,
		ErrExec,
		ErrBootstrap,
		ErrSSH,
	}

	seen := make(map[string]bool)
	for _, code := range codes {
		assert.NotEmpty(t, code, "error code should not be empty")
		assert.False(t, seen[code], "error code %q should be unique", code)
		seen[code] = true
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name       string
		code       string
		message    string
		suggestion string
	}{
		{
			name:       "config error",
			code:       ErrConfig,
			message:    "Site group is not set",
			suggestion: "Export AH_SITE_GROUP or set site.group in acsf-tools.yaml",
		},
		{
			name:       "registry error",
			code:       ErrRegistry,
			message:    "Failed to retrieve the list of sites of the factory",
			suggestion: "Check paths.sites_json",
		},
		{
			name:       "lock error",
			code:       ErrLock,
			message:    "Timed out waiting for mutex background_tasks",
			suggestion: "Another process is already running the background tasks",
		},
		{
			name:       "bootstrap error",
			code:       ErrBootstrap,
			message:    "Unable to bootstrap the site runtime",
			suggestion: "Run drush status against the site",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, tt.suggestion)

			require.NotNil(t, err)
			assert.Equal(t, tt.code, err.Code)
			assert.Equal(t, tt.message, err.Message)
			assert.Equal(t, tt.suggestion, err.Suggestion)
			assert.Nil(t, err.Cause)
		})
	}
}

func TestError_Format(t *testing.T) {
	err := WrapWithCode(fmt.Errorf("permission denied"), ErrFlags,
		"Can't write flag file /tmp/gfs/g.e/flags/db1",
		"Check permissions on the flags folder")

	out := err.Error()
	lines := strings.Split(out, "\n")
	assert.Equal(t, "✗ Can't write flag file /tmp/gfs/g.e/flags/db1", lines[0])
	assert.Contains(t, out, "  permission denied")
	assert.Contains(t, out, "  Check permissions on the flags folder")
}

func TestError_FormatWithoutCauseOrSuggestion(t *testing.T) {
	err := New(ErrExec, "Command failed", "")
	assert.Equal(t, "✗ Command failed\n", err.Error())
}

func TestWrap_DefaultsToExec(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(cause, "Script crashed")

	assert.Equal(t, ErrExec, err.Code)
	assert.Same(t, cause, err.Unwrap())
}

func TestUnwrap_WorksWithStdlib(t *testing.T) {
	err := WrapWithCode(os.ErrNotExist, ErrLogs, "Folder missing", "")

	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.True(t, Is(err, os.ErrNotExist))

	var target *Error
	assert.True(t, As(fmt.Errorf("outer: %w", err), &target))
	assert.Equal(t, ErrLogs, target.Code)
}

func TestIsCode(t *testing.T) {
	err := New(ErrLock, "held", "")

	assert.True(t, IsCode(err, ErrLock))
	assert.False(t, IsCode(err, ErrConfig))
	assert.False(t, IsCode(nil, ErrLock))
	assert.False(t, IsCode(errors.New("plain"), ErrLock))
	assert.True(t, IsCode(fmt.Errorf("wrapped: %w", err), ErrLock))
}
