package sshutil

// Runner runs commands on a connected host.
// Both the real Client and testing.FakeRunner satisfy it.
type Runner interface {
	// Exec runs a command and returns stdout, stderr, and exit code.
	// A non-zero exit code with nil error means the command ran but failed.
	Exec(cmd string) (stdout, stderr []byte, exitCode int, err error)

	Close() error
}

var _ Runner = (*Client)(nil)
