// Package testing provides test doubles for the sshutil package.
package testing

import (
	"errors"
	"sync"
)

// CommandResponse defines a canned response for a command.
type CommandResponse struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Error    error
}

// FakeRunner answers commands from a table of canned responses.
// Unknown commands exit 127 like a shell would.
type FakeRunner struct {
	mu        sync.Mutex
	responses map[string]CommandResponse
	closed    bool

	Commands []string
}

// NewFakeRunner creates an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{responses: make(map[string]CommandResponse)}
}

// On registers the response for cmd.
func (f *FakeRunner) On(cmd string, resp CommandResponse) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[cmd] = resp
	return f
}

// Exec returns the canned response for cmd.
func (f *FakeRunner) Exec(cmd string) (stdout, stderr []byte, exitCode int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, nil, -1, errors.New("connection closed")
	}
	f.Commands = append(f.Commands, cmd)

	resp, ok := f.responses[cmd]
	if !ok {
		return nil, []byte("command not found"), 127, nil
	}
	return resp.Stdout, resp.Stderr, resp.ExitCode, resp.Error
}

// Close marks the runner closed.
func (f *FakeRunner) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *FakeRunner) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
