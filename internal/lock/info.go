package lock

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// LockInfo contains metadata about who holds a lock.
type LockInfo struct {
	Token    string    `json:"token"`
	Name     string    `json:"name"`
	User     string    `json:"user"`
	Hostname string    `json:"hostname"`
	Started  time.Time `json:"started"`
	Expires  time.Time `json:"expires,omitempty"`
	PID      int       `json:"pid"`
}

// NewLockInfo creates a LockInfo for the current process.
// A zero lease means the lock never expires on its own.
func NewLockInfo(name string, lease time.Duration) *LockInfo {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	user := os.Getenv("USER")
	if user == "" {
		user = "unknown"
	}

	now := time.Now()
	info := &LockInfo{
		Token:    uuid.NewString(),
		Name:     name,
		User:     user,
		Hostname: hostname,
		Started:  now,
		PID:      os.Getpid(),
	}
	if lease > 0 {
		info.Expires = now.Add(lease)
	}
	return info
}

// Age returns how long ago the lock was acquired.
func (i *LockInfo) Age() time.Duration {
	return time.Since(i.Started)
}

// Expired reports whether the holder's lease has run out.
func (i *LockInfo) Expired(now time.Time) bool {
	return !i.Expires.IsZero() && now.After(i.Expires)
}

// Marshal serializes the LockInfo to JSON.
func (i *LockInfo) Marshal() ([]byte, error) {
	return json.Marshal(i)
}

// ParseLockInfo deserializes JSON data into a LockInfo.
func ParseLockInfo(data []byte) (*LockInfo, error) {
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// String returns a human-readable description of who holds the lock.
func (i *LockInfo) String() string {
	return fmt.Sprintf("%s@%s (pid %d)", i.User, i.Hostname, i.PID)
}
