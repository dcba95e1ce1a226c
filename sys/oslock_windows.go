//go:build windows
// +build windows

package sys

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/windows"
)

// AcquireWriterLock enforces "one writer per open file handle" on Windows
// using LockFileEx against a sidecar ".lock" file next to path. It
// retries until timeout elapses, then gives up.
func AcquireWriterLock(path string, timeout time.Duration) (release func() error, err error) {
	lockPath := path + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", lockPath, err)
	}

	h := windows.Handle(f.Fd())
	var ov windows.Overlapped

	deadline := time.Now().Add(timeout)
	for {
		lockErr := windows.LockFileEx(h, windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY, 0, 1, 0, &ov)
		if lockErr == nil {
			return func() error {
				_ = windows.UnlockFileEx(h, 0, 1, 0, &ov)
				_ = f.Close()
				_ = os.Remove(lockPath)
				return nil
			}, nil
		}
		err = lockErr
		if time.Now().After(deadline) {
			_ = f.Close()
			return nil, fmt.Errorf("acquire lock on %s: %w", lockPath, err)
		}
		time.Sleep(25 * time.Millisecond)
	}
}
