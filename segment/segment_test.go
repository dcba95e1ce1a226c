package segment

import (
	"testing"

	"github.com/msel-source/mefwriter/core"
	"github.com/msel-source/mefwriter/index"
	"github.com/msel-source/mefwriter/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaths(t *testing.T) {
	p := New("/data", "sess1", "eeg1", 3)
	assert.Equal(t, "/data/sess1.mefd", p.SessionDir)
	assert.Equal(t, "/data/sess1.mefd/eeg1.timd", p.ChannelDir)
	assert.Equal(t, "/data/sess1.mefd/eeg1.timd/eeg1-000003.segd", p.SegmentDir)
	assert.Equal(t, "/data/sess1.mefd/eeg1.timd/eeg1-000003.segd/eeg1-000003.tmet", p.MetadataPath())
	assert.Equal(t, "/data/sess1.mefd/eeg1.timd/eeg1-000003.segd/eeg1-000003.tdat", p.DataPath())
	assert.Equal(t, "/data/sess1.mefd/eeg1.timd/eeg1-000003.segd/eeg1-000003.tidx", p.IndexPath())
}

func TestCreateAppendSyncReopen(t *testing.T) {
	root := t.TempDir()
	paths := New(root, "sess1", "eeg1", 0)
	id := Identity{SessionName: "sess1", ChannelName: "eeg1", LevelUUID: core.NewUUID()}

	tr, err := Create(paths, id, metadata.Section1{}, metadata.Section2{SamplingFrequencyHz: 1000}, metadata.Section3{})
	require.NoError(t, err)

	e := &index.Entry{StartTime: 1000, StartSample: 0, NumberOfSamples: 100, BlockBytes: 50}
	u := metadata.BlockUpdate{NumberOfSamples: 100, BlockBytes: 50, BlockHdrTime: 1000, SamplingFreqHz: 1000, NativeMin: -10, NativeMax: 10}
	require.NoError(t, tr.AppendBlock(make([]byte, 50), e, u))
	require.NoError(t, tr.Close())

	reopened, err := Open(paths)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reopened.Meta.Section2.NumberOfBlocks)
	assert.Equal(t, int64(100), reopened.Meta.Section2.NumberOfSamples)
	assert.Equal(t, int64(1), reopened.MetaHeader().NumberOfEntries)
	assert.Equal(t, int64(1), reopened.DataHeader().NumberOfEntries)
	assert.Equal(t, int64(1), reopened.Idx.Header().NumberOfEntries)
	require.NoError(t, reopened.Close())
}
