// Package testing provides test doubles for the lock package.
package testing

import (
	"context"
	"sync"
	"time"

	"github.com/rileyhilliard/acsf-tools/internal/errors"
	"github.com/rileyhilliard/acsf-tools/internal/lock"
)

// AcquireCall records a call to Acquire.
type AcquireCall struct {
	Name    string
	Lease   time.Duration
	Success bool
}

// FakeMutex simulates the process mutex for testing.
type FakeMutex struct {
	mu sync.Mutex

	// Configuration
	ShouldFail bool
	FailError  error
	HeldBy     map[string]string // name -> holder; a held name fails with ErrMutexTimeout

	// Call tracking
	AcquireCalls []AcquireCall
	ReleaseCalls []string

	active map[string]bool
}

// NewFakeMutex creates a new fake mutex that succeeds by default.
func NewFakeMutex() *FakeMutex {
	return &FakeMutex{
		HeldBy: make(map[string]string),
		active: make(map[string]bool),
	}
}

// Acquire simulates mutex acquisition.
func (m *FakeMutex) Acquire(ctx context.Context, name string, lease time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	call := AcquireCall{Name: name, Lease: lease}

	if m.ShouldFail {
		m.AcquireCalls = append(m.AcquireCalls, call)
		if m.FailError != nil {
			return m.FailError
		}
		return errors.New(errors.ErrLock,
			"Mutex acquisition failed",
			"Configured to fail in test")
	}

	if holder, ok := m.HeldBy[name]; ok || m.active[name] {
		m.AcquireCalls = append(m.AcquireCalls, call)
		if holder == "" {
			holder = "this process"
		}
		return errors.WrapWithCode(lock.ErrMutexTimeout, errors.ErrLock,
			"Mutex "+name+" is held by "+holder,
			"Wait for the other process to finish")
	}

	call.Success = true
	m.AcquireCalls = append(m.AcquireCalls, call)
	m.active[name] = true
	return nil
}

// Release simulates releasing the mutex.
func (m *FakeMutex) Release(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReleaseCalls = append(m.ReleaseCalls, name)
	delete(m.active, name)
	return nil
}

// SetFail configures the mutex to fail acquisition.
func (m *FakeMutex) SetFail(err error) *FakeMutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShouldFail = true
	m.FailError = err
	return m
}

// SetContention simulates the named mutex being held by another process.
func (m *FakeMutex) SetContention(name, holder string) *FakeMutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HeldBy[name] = holder
	return m
}

// IsHeld reports whether this fake currently holds name.
func (m *FakeMutex) IsHeld(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[name]
}

// SuccessfulAcquires returns the number of successful acquisitions.
func (m *FakeMutex) SuccessfulAcquires() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, call := range m.AcquireCalls {
		if call.Success {
			count++
		}
	}
	return count
}

// Reset clears all state.
func (m *FakeMutex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AcquireCalls = nil
	m.ReleaseCalls = nil
	m.ShouldFail = false
	m.FailError = nil
	m.HeldBy = make(map[string]string)
	m.active = make(map[string]bool)
}
