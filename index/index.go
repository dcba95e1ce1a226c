// Package index defines the fixed-width index entry layout and an
// append-only writer over a segment's index file.
package index

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/msel-source/mefwriter/core"
	"github.com/msel-source/mefwriter/header"
	"github.com/msel-source/mefwriter/sys"
)

// ProtectedRegionBytes and DiscretionaryRegionBytes reserve room after
// the packed fields for future extension without shifting the layout of
// existing readers; both regions are always written as zero.
const (
	ProtectedRegionBytes     = 16
	DiscretionaryRegionBytes = 16

	// EntryBytes is the total on-disk size of one index entry: the 45
	// packed bytes from the layout table plus both reserved regions.
	EntryBytes = 45 + ProtectedRegionBytes + DiscretionaryRegionBytes
)

// FlagDiscontinuity mirrors redcodec.FlagDiscontinuity so index.go does
// not need to import the codec package just to read one bit.
const FlagDiscontinuity uint8 = 1 << 0

// Entry is one fixed-width record in a segment's index file, one per
// emitted block.
type Entry struct {
	FileOffset      int64
	StartTime       int64
	StartSample     int64
	NumberOfSamples uint32
	BlockBytes      uint32
	MaxSampleValue  int32
	MinSampleValue  int32
	Flags           uint8
}

// MarshalBinary packs the entry little-endian in the exact byte layout
// the container format specifies, never relying on Go struct padding.
func (e *Entry) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(EntryBytes)

	for _, v := range []any{
		e.FileOffset,
		e.StartTime,
		e.StartSample,
		e.NumberOfSamples,
		e.BlockBytes,
		e.MaxSampleValue,
		e.MinSampleValue,
		int32(0), // reserved, zero
	} {
		if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
			return nil, err
		}
	}
	buf.WriteByte(e.Flags)
	buf.Write(make([]byte, ProtectedRegionBytes+DiscretionaryRegionBytes))

	if buf.Len() != EntryBytes {
		return nil, fmt.Errorf("index entry marshaled to %d bytes, want %d", buf.Len(), EntryBytes)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary parses an EntryBytes-length buffer written by
// MarshalBinary.
func (e *Entry) UnmarshalBinary(b []byte) error {
	if len(b) < EntryBytes {
		return fmt.Errorf("index entry short read: got %d bytes, want %d", len(b), EntryBytes)
	}
	r := bytes.NewReader(b)

	for _, v := range []any{&e.FileOffset, &e.StartTime, &e.StartSample, &e.NumberOfSamples, &e.BlockBytes, &e.MaxSampleValue, &e.MinSampleValue} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	var reserved int32
	if err := binary.Read(r, binary.LittleEndian, &reserved); err != nil {
		return err
	}
	flags, err := r.ReadByte()
	if err != nil {
		return err
	}
	e.Flags = flags
	return nil
}

// Writer appends index entries to a segment's index file, maintaining
// its universal header's body CRC, entry count and time bounds as it
// goes.
type Writer struct {
	fh     sys.FileHandle
	header *core.UniversalHeader
	offset int64
}

// Create opens a fresh index file at path, writing an initial universal
// header derived from h (callers set FileUUID/LevelUUID/SegmentNumber
// etc. before calling).
func Create(path string, h *core.UniversalHeader) (*Writer, error) {
	fh, err := sys.Create(path)
	if err != nil {
		return nil, core.NewIOError("create index file", path, err)
	}
	h.BodyCRC = core.CRCStart
	if err := header.Write(fh, h); err != nil {
		fh.Close()
		return nil, err
	}
	return &Writer{fh: fh, header: h, offset: int64(core.UniversalHeaderBytes)}, nil
}

// Open reopens an existing index file for append, positioning the
// writer's cursor at end-of-file (used by segment.Open).
func Open(path string) (*Writer, error) {
	fh, err := sys.OpenReadWrite(path)
	if err != nil {
		return nil, core.NewIOError("open index file", path, err)
	}
	h, err := header.Read(fh)
	if err != nil {
		fh.Close()
		return nil, err
	}
	offset := int64(core.UniversalHeaderBytes) + h.NumberOfEntries*int64(EntryBytes)
	if _, err := fh.Seek(offset, io.SeekStart); err != nil {
		fh.Close()
		return nil, core.NewIOError("seek index file to end", path, err)
	}
	return &Writer{fh: fh, header: h, offset: offset}, nil
}

// Header returns the writer's in-memory universal header for callers
// that need to inspect or further mutate it (e.g. metadata aggregation).
func (w *Writer) Header() *core.UniversalHeader { return w.header }

// Append writes one entry at the current append offset, updating the
// header's body CRC and entry count in memory (callers flush the header
// to disk themselves via Sync, matching the channel writer's "rewrite
// metadata, then rewrite headers" ordering).
func (w *Writer) Append(e *Entry) error {
	raw, err := e.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal index entry: %w", err)
	}
	if _, err := w.fh.WriteAt(raw, w.offset); err != nil {
		return core.NewIOError("write index entry", w.fh.Name(), err)
	}
	w.header.BodyCRC = core.CRCUpdate(raw, w.header.BodyCRC)
	w.header.NumberOfEntries++
	if w.header.MaximumEntrySize < int64(EntryBytes) {
		w.header.MaximumEntrySize = int64(EntryBytes)
	}
	w.offset += int64(EntryBytes)
	return nil
}

// Sync rewrites the universal header in place and restores the append
// cursor.
func (w *Writer) Sync() error {
	return header.Rewrite(w.fh, w.header, w.offset)
}

func (w *Writer) Close() error {
	return w.fh.Close()
}
