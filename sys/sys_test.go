package sys

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireWriterLockExcludesSecondCaller(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eeg1-000000.segd")

	release, err := AcquireWriterLock(path, time.Second)
	require.NoError(t, err)

	_, err = AcquireWriterLock(path, 100*time.Millisecond)
	assert.Error(t, err, "a second caller should not acquire the same lock while the first holds it")

	require.NoError(t, release())
}

func TestAcquireWriterLockReleaseAllowsReacquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sess1.rdat")

	release, err := AcquireWriterLock(path, time.Second)
	require.NoError(t, err)
	require.NoError(t, release())

	release2, err := AcquireWriterLock(path, time.Second)
	require.NoError(t, err)
	require.NoError(t, release2())
}

func TestAcquireWriterLockPerFileIndependence(t *testing.T) {
	dir := t.TempDir()

	releaseA, err := AcquireWriterLock(filepath.Join(dir, "a.segd"), time.Second)
	require.NoError(t, err)
	defer releaseA()

	releaseB, err := AcquireWriterLock(filepath.Join(dir, "b.segd"), time.Second)
	require.NoError(t, err, "locks on distinct paths must not contend with each other")
	require.NoError(t, releaseB())
}
