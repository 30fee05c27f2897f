// Package lock implements the process-wide advisory lock on a workspace
// root (spec §4.D). Exactly one writer may hold it at a time; readers never
// acquire it.
package lock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/greenforestpath/meta-skill-sub001/internal/apperr"
)

// Payload is the JSON body written to the sibling "<path>.json" file once
// the OS-level advisory lock is held, so Status() can report who holds it
// without itself acquiring the lock.
type Payload struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Handle is a scoped, acquired lock. Callers must call Release when done;
// it is safe to call Release more than once.
type Handle struct {
	path string
	fl   *flock.Flock
}

// Acquire attempts to take the workspace lock at path, polling until
// timeout elapses. On success it writes a Payload describing the holder to
// a sibling "<path>.json" file so Status() can inspect the holder without
// needing the OS-level lock itself (flock(2) is tied to an inode; the
// payload is kept in a separate file so rewriting it never invalidates the
// held lock).
func Acquire(path string, timeout time.Duration) (*Handle, error) {
	fl := flock.New(path)

	deadline := time.Now().Add(timeout)
	for {
		ok, err := fl.TryLock()
		if err != nil {
			return nil, apperr.Wrap(apperr.LockHeld, err, "acquire workspace lock").WithContext("path", path)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			holder, _ := Status(path)
			e := apperr.New(apperr.LockHeld, "workspace is locked by another process").WithContext("path", path)
			if holder != nil {
				e = e.WithContext("holder_pid", fmt.Sprintf("%d", holder.PID)).WithContext("holder_host", holder.Hostname)
			}
			return nil, e
		}
		time.Sleep(50 * time.Millisecond)
	}

	hostname, _ := os.Hostname()
	payload := Payload{PID: os.Getpid(), Hostname: hostname, AcquiredAt: time.Now().UTC()}
	if err := writePayload(payloadPath(path), payload); err != nil {
		_ = fl.Unlock()
		return nil, apperr.Wrap(apperr.LockHeld, err, "write lock payload")
	}

	return &Handle{path: path, fl: fl}, nil
}

func payloadPath(lockPath string) string { return lockPath + ".json" }

// Release drops the OS-level lock. The payload file is left in place;
// a stale payload with a dead pid is harmless and is cleaned up by
// BreakLock or RecoveryManager.
func (h *Handle) Release() error {
	if h == nil || h.fl == nil {
		return nil
	}
	return h.fl.Unlock()
}

// Status returns the current holder's payload without acquiring the lock.
// Returns nil, nil if no payload file exists.
func Status(path string) (*Payload, error) {
	data, err := os.ReadFile(payloadPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read lock file: %w", err)
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse lock file: %w", err)
	}
	return &p, nil
}

// IsStale reports whether the lock payload's pid is no longer a live
// process on this host. A lock held by a different hostname is never
// considered stale from here (we cannot check that host's process table).
func IsStale(p *Payload) bool {
	if p == nil {
		return false
	}
	hostname, _ := os.Hostname()
	if p.Hostname != "" && p.Hostname != hostname {
		return false
	}
	proc, err := os.FindProcess(p.PID)
	if err != nil {
		return true
	}
	// On Unix, FindProcess always succeeds; signal 0 probes liveness.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return true
	}
	return false
}

// BreakLock removes a stale lock file. Reserved for RecoveryManager; callers
// must have already established the holder is dead via IsStale.
func BreakLock(path string) error {
	if err := os.Remove(payloadPath(path)); err != nil && !os.IsNotExist(err) {
		return apperr.Wrap(apperr.LockStale, err, "break stale lock")
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return apperr.Wrap(apperr.LockStale, err, "break stale lock")
	}
	return nil
}

func writePayload(path string, p Payload) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
