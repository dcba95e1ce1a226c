package session

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordingTimeOffsetDisabled(t *testing.T) {
	s := New("/tmp", "sess", -7, false)
	assert.Equal(t, int64(0), s.RecordingTimeOffset(12345))
}

func TestRecordingTimeOffsetDerivedOnce(t *testing.T) {
	s := New("/tmp", "sess", -7, true)

	var wg sync.WaitGroup
	results := make([]int64, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.RecordingTimeOffset(1000)
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, int64(-1000), r)
	}

	// A later call with a different "first" time must not re-derive.
	assert.Equal(t, int64(-1000), s.RecordingTimeOffset(5000))
}

type fakeDriveable struct {
	err error
}

func (f *fakeDriveable) Drive(ctx context.Context) error { return f.err }

func TestDriveChannelsPropagatesError(t *testing.T) {
	boom := assertError("boom")
	err := DriveChannels(context.Background(), []Driveable{
		&fakeDriveable{},
		&fakeDriveable{err: boom},
	})
	require.Error(t, err)
}

type assertError string

func (e assertError) Error() string { return string(e) }
