package index

import (
	"path/filepath"
	"testing"

	"github.com/msel-source/mefwriter/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryRoundTrip(t *testing.T) {
	e := &Entry{
		FileOffset:      core.UniversalHeaderBytes,
		StartTime:       946684800000000,
		StartSample:     0,
		NumberOfSamples: 1000,
		BlockBytes:      512,
		MaxSampleValue:  20000,
		MinSampleValue:  -20000,
		Flags:           FlagDiscontinuity,
	}
	raw, err := e.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, raw, EntryBytes)

	var got Entry
	require.NoError(t, got.UnmarshalBinary(raw))
	assert.Equal(t, *e, got)
}

func TestWriterAppendAndReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chan-000000.tidx")

	h := &core.UniversalHeader{
		FileTypeString: core.FileTypeTimeSeriesIndex,
		SessionName:    "sess",
		ChannelName:    "chan",
		FileUUID:       core.NewUUID(),
		LevelUUID:      core.NewUUID(),
	}
	w, err := Create(path, h)
	require.NoError(t, err)

	e1 := &Entry{FileOffset: core.UniversalHeaderBytes, StartTime: 0, StartSample: 0, NumberOfSamples: 1000, BlockBytes: 500, Flags: FlagDiscontinuity}
	require.NoError(t, w.Append(e1))
	e2 := &Entry{FileOffset: core.UniversalHeaderBytes + 500, StartTime: 1000000, StartSample: 1000, NumberOfSamples: 1000, BlockBytes: 480}
	require.NoError(t, w.Append(e2))
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, int64(2), r.Header().NumberOfEntries)
	require.NoError(t, r.Close())
}
