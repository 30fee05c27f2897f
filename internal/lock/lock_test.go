package lock

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/greenforestpath/meta-skill-sub001/internal/apperr"
)

func TestAcquireAndRelease(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "ms.lock")

	h, err := Acquire(path, time.Second)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	status, err := Status(path)
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if status == nil || status.PID != os.Getpid() {
		t.Fatalf("Status() = %+v, want pid %d", status, os.Getpid())
	}

	if err := h.Release(); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
}

func TestAcquireTimesOutWhenHeld(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "ms.lock")

	h1, err := Acquire(path, time.Second)
	if err != nil {
		t.Fatalf("first Acquire() error: %v", err)
	}
	defer h1.Release()

	_, err = Acquire(path, 100*time.Millisecond)
	if err == nil {
		t.Fatal("second Acquire() should fail while first holds the lock")
	}
	if !apperr.Is(err, apperr.LockHeld) {
		t.Fatalf("expected LockHeld error, got %v", err)
	}
}

func TestStatusNoLockFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "ms.lock")

	status, err := Status(path)
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if status != nil {
		t.Fatalf("Status() = %+v, want nil for nonexistent lock", status)
	}
}

func TestIsStaleForDeadPID(t *testing.T) {
	t.Parallel()
	hostname, _ := os.Hostname()
	p := &Payload{PID: 999999, Hostname: hostname, AcquiredAt: time.Now()}
	if !IsStale(p) {
		t.Fatal("IsStale() = false for an implausible pid, want true")
	}
}

func TestIsStaleForLiveProcess(t *testing.T) {
	t.Parallel()
	hostname, _ := os.Hostname()
	p := &Payload{PID: os.Getpid(), Hostname: hostname, AcquiredAt: time.Now()}
	if IsStale(p) {
		t.Fatal("IsStale() = true for the current process, want false")
	}
}

func TestBreakLock(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "ms.lock")

	h, err := Acquire(path, time.Second)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	h.Release()

	if err := BreakLock(path); err != nil {
		t.Fatalf("BreakLock() error: %v", err)
	}

	status, err := Status(path)
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if status != nil {
		t.Fatalf("Status() after BreakLock() = %+v, want nil", status)
	}
}
