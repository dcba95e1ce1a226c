// Package segment creates and reopens the metadata/data/index file trio
// that makes up one segment of one time series channel, and provides the
// single AppendBlock operation the channel writer drives on every flush.
package segment

import (
	"fmt"
	"io"
	"math"

	"github.com/msel-source/mefwriter/core"
	"github.com/msel-source/mefwriter/header"
	"github.com/msel-source/mefwriter/index"
	"github.com/msel-source/mefwriter/metadata"
	"github.com/msel-source/mefwriter/sys"
)

// metaCursor is where a metadata file's append cursor always sits: right
// after the fixed-size universal header and section block, since a
// metadata file has no variable-length payload after that.
const metaCursor = int64(core.UniversalHeaderBytes) + int64(metadata.Bytes)

// Trio owns the three open files that make up a segment and keeps their
// universal headers and metadata sections in memory between flushes.
type Trio struct {
	Paths Paths

	lockRelease func() error

	metaFh     sys.FileHandle
	metaHeader *core.UniversalHeader
	Meta       *metadata.File

	data *dataWriter
	Idx  *index.Writer
}

// Identity is the set of fields a newly created segment's universal
// headers share, SegmentNumber included; only FileUUID is filled in per
// file by Create.
type Identity struct {
	SessionName    string
	ChannelName    string
	AnonymizedName string
	LevelUUID      core.UUID
	SegmentNumber  int
}

func baseHeader(id Identity, fileType string) *core.UniversalHeader {
	return &core.UniversalHeader{
		FileTypeString:  fileType,
		MEFVersionMajor: core.MefVersionMajor,
		MEFVersionMinor: core.MefVersionMinor,
		SessionName:     id.SessionName,
		ChannelName:     id.ChannelName,
		AnonymizedName:  id.AnonymizedName,
		SegmentNumber:   int32(id.SegmentNumber),
		FileUUID:        core.NewUUID(),
		LevelUUID:       id.LevelUUID,
	}
}

// Create makes the segment directory and the three fresh files within
// it, seeding Meta's extrema with the "no value seen yet" sentinel.
func Create(paths Paths, id Identity, s1 metadata.Section1, s2seed metadata.Section2, s3 metadata.Section3) (*Trio, error) {
	if err := sys.MkdirAll(paths.SegmentDir); err != nil {
		return nil, fmt.Errorf("create segment directory: %w", err)
	}

	release, err := sys.AcquireWriterLock(paths.SegmentDir, sys.DefaultLockTimeout)
	if err != nil {
		return nil, fmt.Errorf("acquire segment writer lock: %w", err)
	}

	s2seed.MaximumNativeSampleValue = math.NaN()
	s2seed.MinimumNativeSampleValue = math.NaN()
	meta := &metadata.File{Section1: s1, Section2: s2seed, Section3: s3}

	metaFh, err := sys.Create(paths.MetadataPath())
	if err != nil {
		release()
		return nil, core.NewIOError("create metadata file", paths.MetadataPath(), err)
	}
	metaHeader := baseHeader(id, core.FileTypeTimeSeriesMetadata)
	metaHeader.MaximumEntrySize = int64(metadata.Bytes)
	metaHeader.NumberOfEntries = 1
	if err := writeMeta(metaFh, metaHeader, meta); err != nil {
		metaFh.Close()
		release()
		return nil, err
	}

	dataHeader := baseHeader(id, core.FileTypeTimeSeriesData)
	data, err := createDataWriter(paths.DataPath(), dataHeader)
	if err != nil {
		metaFh.Close()
		release()
		return nil, err
	}

	idxHeader := baseHeader(id, core.FileTypeTimeSeriesIndex)
	idx, err := index.Create(paths.IndexPath(), idxHeader)
	if err != nil {
		metaFh.Close()
		data.close()
		release()
		return nil, err
	}

	return &Trio{Paths: paths, lockRelease: release, metaFh: metaFh, metaHeader: metaHeader, Meta: meta, data: data, Idx: idx}, nil
}

// Open reopens an existing segment's trio for append. Segment rollover and
// channel.Append do not use it; both start a new segment with Create.
func Open(paths Paths) (*Trio, error) {
	release, err := sys.AcquireWriterLock(paths.SegmentDir, sys.DefaultLockTimeout)
	if err != nil {
		return nil, fmt.Errorf("acquire segment writer lock: %w", err)
	}

	metaFh, err := sys.OpenReadWrite(paths.MetadataPath())
	if err != nil {
		release()
		return nil, core.NewIOError("open metadata file", paths.MetadataPath(), err)
	}
	metaHeader, err := header.Read(metaFh)
	if err != nil {
		metaFh.Close()
		release()
		return nil, err
	}
	meta, err := metadata.Read(metaFh)
	if err != nil {
		metaFh.Close()
		release()
		return nil, err
	}

	data, err := openDataWriter(paths.DataPath())
	if err != nil {
		metaFh.Close()
		release()
		return nil, err
	}

	idx, err := index.Open(paths.IndexPath())
	if err != nil {
		metaFh.Close()
		data.close()
		release()
		return nil, err
	}

	return &Trio{Paths: paths, lockRelease: release, metaFh: metaFh, metaHeader: metaHeader, Meta: meta, data: data, Idx: idx}, nil
}

// AppendBlock writes one compressed block to the data file and its
// matching entry to the index file, and folds the block's statistics
// into the in-memory metadata. It does not flush headers to disk; call
// Sync for that.
func (t *Trio) AppendBlock(raw []byte, e *index.Entry, u metadata.BlockUpdate) error {
	offset, err := t.data.append(raw)
	if err != nil {
		return err
	}
	e.FileOffset = offset
	if err := t.Idx.Append(e); err != nil {
		return err
	}
	metadata.Update(&t.Meta.Section2, u)

	if t.data.header.NumberOfEntries == 0 {
		t.data.header.StartTime = t.Meta.Section2.StartTime
	}
	t.data.header.EndTime = t.Meta.Section2.EndTime
	t.data.header.NumberOfEntries++
	if e.BlockBytes > uint32(t.data.header.MaximumEntrySize) {
		t.data.header.MaximumEntrySize = int64(e.BlockBytes)
	}
	return nil
}

func writeMeta(fh sys.FileHandle, h *core.UniversalHeader, m *metadata.File) error {
	raw, err := m.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal metadata sections: %w", err)
	}
	h.BodyCRC = core.CRCCalculate(raw)
	if err := header.Write(fh, h); err != nil {
		return err
	}
	if _, err := fh.WriteAt(raw, int64(core.UniversalHeaderBytes)); err != nil {
		return core.NewIOError("write metadata sections", fh.Name(), err)
	}
	return nil
}

// Sync rewrites all three universal headers and the metadata sections in
// place, restoring each file's append cursor afterward.
func (t *Trio) Sync() error {
	if err := writeMeta(t.metaFh, t.metaHeader, t.Meta); err != nil {
		return err
	}
	if _, err := t.metaFh.Seek(metaCursor, io.SeekStart); err != nil {
		return core.NewIOError("seek metadata file after sync", t.metaFh.Name(), err)
	}
	if err := t.data.sync(); err != nil {
		return err
	}
	return t.Idx.Sync()
}

// DataHeader exposes the data file's universal header for callers (the
// channel writer) that need to read or mutate StartTime/EndTime/segment
// bookkeeping directly.
func (t *Trio) DataHeader() *core.UniversalHeader { return t.data.header }

// MetaHeader exposes the metadata file's universal header.
func (t *Trio) MetaHeader() *core.UniversalHeader { return t.metaHeader }

func (t *Trio) Close() error {
	syncErr := t.Sync()
	closeErr := t.metaFh.Close()
	dataErr := t.data.close()
	idxErr := t.Idx.Close()
	var lockErr error
	if t.lockRelease != nil {
		lockErr = t.lockRelease()
	}
	for _, err := range []error{syncErr, closeErr, dataErr, idxErr, lockErr} {
		if err != nil {
			return err
		}
	}
	return nil
}
