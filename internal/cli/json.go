package cli

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/rileyhilliard/acsf-tools/internal/errors"
)

// machineMode is set by --json. Commands that support it print a JSON
// envelope instead of tables, and Execute reports errors the same way.
var machineMode bool

// MachineMode reports whether --json was given.
func MachineMode() bool {
	return machineMode
}

// JSONEnvelope is the single document a command prints under --json.
type JSONEnvelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *JSONError `json:"error,omitempty"`
}

// JSONError is a failed command as a scheduler or monitoring script sees it.
type JSONError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
	Cause      string `json:"cause,omitempty"`
}

// Machine-readable error codes.
const (
	ErrCodeConfigNotFound  = "CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid   = "CONFIG_INVALID"
	ErrCodeRegistry        = "REGISTRY_UNAVAILABLE"
	ErrCodeSSHConnectFail  = "SSH_CONNECTION_FAILED"
	ErrCodeLockHeld        = "LOCK_HELD"
	ErrCodeFlags           = "FLAGS_IO"
	ErrCodeLogs            = "LOGS_IO"
	ErrCodeCommandFailed   = "COMMAND_FAILED"
	ErrCodeBootstrapFailed = "BOOTSTRAP_FAILED"
	ErrCodeUnknown         = "UNKNOWN"
)

// machineCodes maps internal error codes to their --json code. CONFIG is
// split by ErrorToJSON.
var machineCodes = map[string]string{
	errors.ErrRegistry:  ErrCodeRegistry,
	errors.ErrSSH:       ErrCodeSSHConnectFail,
	errors.ErrLock:      ErrCodeLockHeld,
	errors.ErrFlags:     ErrCodeFlags,
	errors.ErrLogs:      ErrCodeLogs,
	errors.ErrExec:      ErrCodeCommandFailed,
	errors.ErrBootstrap: ErrCodeBootstrapFailed,
}

// WriteJSONSuccess prints data in a successful envelope.
func WriteJSONSuccess(w io.Writer, data any) error {
	return writeEnvelope(w, JSONEnvelope{Success: true, Data: data})
}

// WriteJSONFromError prints err in a failed envelope.
func WriteJSONFromError(w io.Writer, err error) error {
	return writeEnvelope(w, JSONEnvelope{Error: ErrorToJSON(err)})
}

func writeEnvelope(w io.Writer, env JSONEnvelope) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(env)
}

// ErrorToJSON describes err for machine output. The first structured error
// in the chain decides the code.
func ErrorToJSON(err error) *JSONError {
	if err == nil {
		return nil
	}

	var e *errors.Error
	if !errors.As(err, &e) {
		return &JSONError{Code: ErrCodeUnknown, Message: err.Error()}
	}

	out := &JSONError{
		Code:       ErrCodeUnknown,
		Message:    e.Message,
		Suggestion: e.Suggestion,
	}
	if e.Cause != nil {
		out.Cause = strings.TrimSpace(e.Cause.Error())
	}

	switch code, ok := machineCodes[e.Code]; {
	case ok:
		out.Code = code
	case e.Code == errors.ErrConfig:
		out.Code = ErrCodeConfigInvalid
		msg := strings.ToLower(e.Message)
		if strings.Contains(msg, "not found") || strings.Contains(msg, "couldn't find") {
			out.Code = ErrCodeConfigNotFound
		}
	}
	return out
}
