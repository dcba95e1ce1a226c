package header

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/msel-source/mefwriter/core"
	"github.com/msel-source/mefwriter/sys"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.tdat")
	fh, err := sys.Create(path)
	require.NoError(t, err)
	defer fh.Close()

	want := &core.UniversalHeader{
		FileTypeString:  core.FileTypeTimeSeriesData,
		MEFVersionMajor: core.MefVersionMajor,
		MEFVersionMinor: core.MefVersionMinor,
		SessionName:     "sess",
		ChannelName:     "chan1",
		SegmentNumber:   0,
		FileUUID:        core.NewUUID(),
		LevelUUID:       core.NewUUID(),
		StartTime:       100,
		EndTime:         200,
		NumberOfEntries: 3,
	}
	require.NoError(t, Write(fh, want))

	got, err := Read(fh)
	require.NoError(t, err)
	require.Equal(t, want.FileTypeString, got.FileTypeString)
	require.Equal(t, want.SessionName, got.SessionName)
	require.Equal(t, want.ChannelName, got.ChannelName)
	require.Equal(t, want.FileUUID, got.FileUUID)
	require.Equal(t, want.StartTime, got.StartTime)
	require.Equal(t, want.NumberOfEntries, got.NumberOfEntries)

	raw := make([]byte, core.UniversalHeaderBytes)
	_, err = fh.ReadAt(raw, 0)
	require.NoError(t, err)
	require.Equal(t, got.HeaderCRC, core.CRCCalculate(raw[4:core.UniversalHeaderBytes]))
}

func TestRewriteRestoresCursor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.tdat")
	fh, err := sys.Create(path)
	require.NoError(t, err)
	defer fh.Close()

	h := &core.UniversalHeader{FileTypeString: core.FileTypeTimeSeriesData}
	require.NoError(t, Write(fh, h))

	_, err = fh.Seek(0, os.SEEK_END)
	require.NoError(t, err)
	_, err = fh.Write([]byte("payload"))
	require.NoError(t, err)

	cursor, err := fh.Seek(0, os.SEEK_END)
	require.NoError(t, err)

	h.NumberOfEntries = 1
	require.NoError(t, Rewrite(fh, h, cursor))

	pos, err := fh.Seek(0, os.SEEK_CUR)
	require.NoError(t, err)
	require.Equal(t, cursor, pos)
}
