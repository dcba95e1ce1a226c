//go:build !unix && !windows
// +build !unix,!windows

package sys

import (
	"errors"
	"time"
)

var ErrWriterLockNotSupported = errors.New("file locking not supported on this platform")

func AcquireWriterLock(path string, timeout time.Duration) (func() error, error) {
	return nil, ErrWriterLockNotSupported
}
