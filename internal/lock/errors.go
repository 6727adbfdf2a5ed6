package lock

import "errors"

// ErrLocked is returned by Acquire when the LockRecord is held by another process.
// This is a sentinel error that can be checked with errors.Is().
var ErrLocked = errors.New("lock is held by another process")

// ErrMutexTimeout is returned when the process mutex could not be acquired in time.
var ErrMutexTimeout = errors.New("timed out waiting for process mutex")
