// Package metadata defines the three metadata sections written after a
// segment's universal header, and the aggregation rules that keep them
// current as blocks are emitted.
package metadata

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/msel-source/mefwriter/core"
	"github.com/msel-source/mefwriter/header"
	"github.com/msel-source/mefwriter/sys"
)

// Section1 carries the encryption flags for sections 2 and 3.
type Section1 struct {
	Section2Encrypted bool
	Section3Encrypted bool
}

// Section2 carries channel parameters and the aggregate block statistics
// maintained by Update.
type Section2 struct {
	SamplingFrequencyHz         float64
	SecondsPerBlock             float64
	BlockIntervalMicroseconds   int64
	LowFrequencyFilterHz        float64
	HighFrequencyFilterHz       float64
	NotchFilterHz                float64
	ACLineFrequencyHz           float64
	UnitsConversionFactor       float64
	BitShiftFlag                bool

	StartSample     int64
	NumberOfSamples int64
	NumberOfBlocks  int64

	MaximumBlockBytes       uint32
	MaximumBlockSamples     uint32
	MaximumDifferenceBytes  uint32
	NumberOfDiscontinuities int64

	MaximumContiguousBlocks  int64
	MaximumContiguousSamples int64
	MaximumContiguousBytes   int64

	MaximumNativeSampleValue float64
	MinimumNativeSampleValue float64

	StartTime         int64
	EndTime           int64
	RecordingDuration int64
}

// Section3 carries subject identity and the session-wide time offsets
// that get propagated into every segment.
type Section3 struct {
	RecordingTimeOffset int64
	GMTOffsetHours      int32
	SubjectName         string // up to subjectNameBytes, NUL-padded
}

const subjectNameBytes = 64

// ContiguousRun is the discontinuous-run accumulator the channel writer
// updates on every flush (spec §4.1 step 8) and feeds into
// Section2.MaximumContiguous*.
type ContiguousRun struct {
	Blocks  int64
	Samples int64
	Bytes   int64
}

// File bundles the three sections persisted after a segment's universal
// header.
type File struct {
	Section1 Section1
	Section2 Section2
	Section3 Section3
}

// Bytes is the fixed on-disk size of the three sections combined. It is
// derived field-by-field rather than guessed, to stay in lockstep with
// MarshalBinary: section1 is 2 bool bytes; section2 is 8 float64/int64
// mixed fields (64 bytes) + 1 bool + 10 int64 fields (80 bytes) + 3
// uint32 fields (12 bytes) + 2 float64 fields (16 bytes); section3 is
// one int64, one int32 and the fixed subject name.
const (
	section1Bytes = 2
	section2Bytes = 64 + 1 + 80 + 12 + 16
	section3Bytes = 8 + 4 + subjectNameBytes

	Bytes = section1Bytes + section2Bytes + section3Bytes
)

func (f *File) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(Bytes)

	writeBool(buf, f.Section1.Section2Encrypted)
	writeBool(buf, f.Section1.Section3Encrypted)

	s2 := f.Section2
	for _, v := range []any{
		s2.SamplingFrequencyHz,
		s2.SecondsPerBlock,
		s2.BlockIntervalMicroseconds,
		s2.LowFrequencyFilterHz,
		s2.HighFrequencyFilterHz,
		s2.NotchFilterHz,
		s2.ACLineFrequencyHz,
		s2.UnitsConversionFactor,
	} {
		if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
			return nil, err
		}
	}
	writeBool(buf, s2.BitShiftFlag)
	for _, v := range []any{
		s2.StartSample,
		s2.NumberOfSamples,
		s2.NumberOfBlocks,
		s2.MaximumBlockBytes,
		s2.MaximumBlockSamples,
		s2.MaximumDifferenceBytes,
		s2.NumberOfDiscontinuities,
		s2.MaximumContiguousBlocks,
		s2.MaximumContiguousSamples,
		s2.MaximumContiguousBytes,
		s2.MaximumNativeSampleValue,
		s2.MinimumNativeSampleValue,
		s2.StartTime,
		s2.EndTime,
		s2.RecordingDuration,
	} {
		if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
			return nil, err
		}
	}

	s3 := f.Section3
	if err := binary.Write(buf, binary.LittleEndian, s3.RecordingTimeOffset); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, s3.GMTOffsetHours); err != nil {
		return nil, err
	}
	name := make([]byte, subjectNameBytes)
	if len(s3.SubjectName) > subjectNameBytes {
		return nil, fmt.Errorf("subject name exceeds %d bytes", subjectNameBytes)
	}
	copy(name, s3.SubjectName)
	buf.Write(name)

	if buf.Len() != Bytes {
		return nil, fmt.Errorf("metadata marshaled to %d bytes, want %d", buf.Len(), Bytes)
	}
	return buf.Bytes(), nil
}

func (f *File) UnmarshalBinary(b []byte) error {
	if len(b) < Bytes {
		return fmt.Errorf("metadata short read: got %d bytes, want %d", len(b), Bytes)
	}
	r := bytes.NewReader(b)

	var err error
	f.Section1.Section2Encrypted, err = readBool(r)
	if err != nil {
		return err
	}
	f.Section1.Section3Encrypted, err = readBool(r)
	if err != nil {
		return err
	}

	s2 := &f.Section2
	for _, v := range []any{
		&s2.SamplingFrequencyHz,
		&s2.SecondsPerBlock,
		&s2.BlockIntervalMicroseconds,
		&s2.LowFrequencyFilterHz,
		&s2.HighFrequencyFilterHz,
		&s2.NotchFilterHz,
		&s2.ACLineFrequencyHz,
		&s2.UnitsConversionFactor,
	} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	s2.BitShiftFlag, err = readBool(r)
	if err != nil {
		return err
	}
	for _, v := range []any{
		&s2.StartSample,
		&s2.NumberOfSamples,
		&s2.NumberOfBlocks,
		&s2.MaximumBlockBytes,
		&s2.MaximumBlockSamples,
		&s2.MaximumDifferenceBytes,
		&s2.NumberOfDiscontinuities,
		&s2.MaximumContiguousBlocks,
		&s2.MaximumContiguousSamples,
		&s2.MaximumContiguousBytes,
		&s2.MaximumNativeSampleValue,
		&s2.MinimumNativeSampleValue,
		&s2.StartTime,
		&s2.EndTime,
		&s2.RecordingDuration,
	} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	s3 := &f.Section3
	if err := binary.Read(r, binary.LittleEndian, &s3.RecordingTimeOffset); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &s3.GMTOffsetHours); err != nil {
		return err
	}
	name := make([]byte, subjectNameBytes)
	if _, err := r.Read(name); err != nil {
		return err
	}
	if i := bytes.IndexByte(name, 0); i >= 0 {
		s3.SubjectName = string(name[:i])
	} else {
		s3.SubjectName = string(name)
	}
	return nil
}

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

// NoValueSentinel is the "no aggregate value yet seen" marker for native
// extrema, matching the NaN sentinel the spec describes.
var NoValueSentinel = math.NaN()

// Write persists f at the fixed offset immediately after fh's universal
// header. Callers pass the header separately because metadata files
// carry their own universal header, tracked by the caller (segment.Trio)
// alongside the data and index headers.
func Write(fh sys.FileHandle, f *File) error {
	raw, err := f.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if _, err := fh.WriteAt(raw, int64(core.UniversalHeaderBytes)); err != nil {
		return core.NewIOError("write metadata sections", fh.Name(), err)
	}
	return nil
}

// Read parses the metadata sections following fh's universal header.
func Read(fh sys.FileHandle) (*File, error) {
	raw := make([]byte, Bytes)
	if _, err := fh.ReadAt(raw, int64(core.UniversalHeaderBytes)); err != nil {
		return nil, core.NewIOError("read metadata sections", fh.Name(), err)
	}
	f := &File{}
	if err := f.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return f, nil
}

// ReadFile opens path read-only, reads its universal header and metadata
// sections, and closes it. This is the "minimal read-segment-metadata
// capability" the append path needs, factored out rather than embedding
// a full reader.
func ReadFile(path string) (*core.UniversalHeader, *File, error) {
	fh, err := sys.OpenReadOnly(path)
	if err != nil {
		return nil, nil, core.NewIOError("open metadata file", path, err)
	}
	defer fh.Close()

	h, err := header.Read(fh)
	if err != nil {
		return nil, nil, err
	}
	f, err := Read(fh)
	if err != nil {
		return nil, nil, err
	}
	return h, f, nil
}

// BlockUpdate carries the facts one emitted block contributes to
// aggregation; it is the channel writer's view of redcodec.Block plus
// the native (unit-converted) extrema.
type BlockUpdate struct {
	NumberOfSamples  uint32
	BlockBytes       uint32
	DifferenceBytes  uint32
	Discontinuity    bool
	BlockHdrTime     int64
	SamplingFreqHz   float64
	NativeMin        float64
	NativeMax        float64
	Run              ContiguousRun
}

// Update applies the aggregation rules of spec §4.2 to s2 for one
// emitted block, matching update_metadata / process_filled_block in the
// original source.
func Update(s2 *Section2, u BlockUpdate) {
	if s2.NumberOfBlocks == 0 {
		s2.StartTime = u.BlockHdrTime
	}

	s2.NumberOfSamples += int64(u.NumberOfSamples)
	s2.NumberOfBlocks++

	if u.BlockBytes > s2.MaximumBlockBytes {
		s2.MaximumBlockBytes = u.BlockBytes
	}
	if u.NumberOfSamples > s2.MaximumBlockSamples {
		s2.MaximumBlockSamples = u.NumberOfSamples
	}
	if u.DifferenceBytes > s2.MaximumDifferenceBytes {
		s2.MaximumDifferenceBytes = u.DifferenceBytes
	}
	if u.Discontinuity {
		s2.NumberOfDiscontinuities++
	}

	if u.Run.Blocks > s2.MaximumContiguousBlocks {
		s2.MaximumContiguousBlocks = u.Run.Blocks
	}
	if u.Run.Samples > s2.MaximumContiguousSamples {
		s2.MaximumContiguousSamples = u.Run.Samples
	}
	if u.Run.Bytes > s2.MaximumContiguousBytes {
		s2.MaximumContiguousBytes = u.Run.Bytes
	}

	if math.IsNaN(s2.MaximumNativeSampleValue) || u.NativeMax > s2.MaximumNativeSampleValue {
		s2.MaximumNativeSampleValue = u.NativeMax
	}
	if math.IsNaN(s2.MinimumNativeSampleValue) || u.NativeMin < s2.MinimumNativeSampleValue {
		s2.MinimumNativeSampleValue = u.NativeMin
	}

	if u.SamplingFreqHz > 0 {
		// N/F sample periods, per the spec's resolved end-time choice
		// (not (N+1)/F): end_time reflects exactly the samples written.
		periodMicros := int64(math.Ceil(float64(u.NumberOfSamples) / u.SamplingFreqHz * 1e6))
		s2.EndTime = u.BlockHdrTime + periodMicros
	} else {
		s2.EndTime = u.BlockHdrTime
	}
	s2.RecordingDuration = int64(math.Abs(float64(s2.EndTime - s2.StartTime)))
}
