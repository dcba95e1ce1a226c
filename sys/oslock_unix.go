//go:build unix
// +build unix

package sys

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// lockRetryInterval is how long AcquireWriterLock waits between attempts
// while a segment or annotation file is held by another process.
const lockRetryInterval = 25 * time.Millisecond

// AcquireWriterLock enforces "one writer per open file handle" (the
// concurrency invariant every channel and annotation writer depends on)
// using an advisory POSIX flock on a sidecar ".lock" file next to path.
// It retries until timeout elapses, then gives up.
func AcquireWriterLock(path string, timeout time.Duration) (release func() error, err error) {
	lockPath := path + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", lockPath, err)
	}

	fd := int(f.Fd())
	deadline := time.Now().Add(timeout)
	for {
		if flockErr := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); flockErr == nil {
			return func() error {
				_ = unix.Flock(fd, unix.LOCK_UN)
				_ = f.Close()
				_ = os.Remove(lockPath)
				return nil
			}, nil
		} else {
			err = flockErr
		}
		if time.Now().After(deadline) {
			_ = f.Close()
			return nil, fmt.Errorf("acquire lock on %s: %w", lockPath, err)
		}
		time.Sleep(lockRetryInterval)
	}
}
