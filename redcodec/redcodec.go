// Package redcodec implements the range-encoded-differences block codec
// used by the channel writer to turn a raw int32 sample vector into a
// self-describing compressed block.
package redcodec

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/msel-source/mefwriter/core"
)

// FlagDiscontinuity marks a block as following a timestamp gap (or being
// the first block of a segment).
const FlagDiscontinuity uint8 = 1 << 0

// Block is a compressed, self-describing payload ready to append to a
// segment's data file, along with the header fields its matching index
// entry needs.
type Block struct {
	CompressedData  []byte
	StartTime       int64
	NumberOfSamples uint32
	BlockBytes      uint32
	DifferenceBytes uint32
	Flags           uint8
	Discontinuity   bool
	MinSample       int32
	MaxSample       int32
}

// Scratch holds the reusable buffers a single channel's codec work needs,
// so repeated Encode calls never allocate on the hot path.
type Scratch struct {
	deltas     []byte
	diffBuf    *bytes.Buffer
	outBuf     *bytes.Buffer
	maxSamples int
}

// Codec compresses int32 sample vectors into Blocks. The default
// implementation in this package range-encodes the first difference of
// the sample vector (zig-zag varint) and then runs the result through a
// pluggable entropy stage (none/snappy/lz4/zstd).
type Codec interface {
	Allocate(maxSamples int) *Scratch
	Encode(s *Scratch, samples []int32, discontinuity bool, startTime int64) (Block, error)
	FindExtrema(samples []int32) (min, max int32)
}

type rangeCodec struct {
	entropy core.Compressor
}

// NewRangeCodec builds the default Codec, using entropy as the
// second-stage compressor applied to the delta-encoded byte stream.
// entropy may be nil, in which case the delta stream is written as-is.
func NewRangeCodec(entropy core.Compressor) Codec {
	return &rangeCodec{entropy: entropy}
}

func (c *rangeCodec) Allocate(maxSamples int) *Scratch {
	return &Scratch{
		deltas:     make([]byte, 0, maxSamples*5),
		diffBuf:    bytes.NewBuffer(make([]byte, 0, maxSamples*5)),
		outBuf:     bytes.NewBuffer(make([]byte, 0, maxSamples*5)),
		maxSamples: maxSamples,
	}
}

func (c *rangeCodec) Encode(s *Scratch, samples []int32, discontinuity bool, startTime int64) (Block, error) {
	if len(samples) == 0 {
		return Block{}, fmt.Errorf("%w: encode called with zero samples", core.ErrAllocationFailed)
	}
	if len(samples) > s.maxSamples {
		return Block{}, fmt.Errorf("%w: %d samples exceeds scratch capacity %d", core.ErrAllocationFailed, len(samples), s.maxSamples)
	}

	s.diffBuf.Reset()
	prev := int32(0)
	var varintBuf [binary.MaxVarintLen64]byte
	for i, v := range samples {
		var delta int32
		if i == 0 {
			delta = v
		} else {
			delta = v - prev
		}
		prev = v
		n := binary.PutVarint(varintBuf[:], int64(zigzag(delta)))
		s.diffBuf.Write(varintBuf[:n])
	}
	differenceBytes := s.diffBuf.Len()

	s.outBuf.Reset()
	if c.entropy != nil {
		if err := c.entropy.CompressTo(s.outBuf, s.diffBuf.Bytes()); err != nil {
			return Block{}, fmt.Errorf("entropy stage: %w", err)
		}
	} else {
		s.outBuf.Write(s.diffBuf.Bytes())
	}

	min, max := c.FindExtrema(samples)

	flags := uint8(0)
	if discontinuity {
		flags |= FlagDiscontinuity
	}

	out := make([]byte, s.outBuf.Len())
	copy(out, s.outBuf.Bytes())

	return Block{
		CompressedData:  out,
		StartTime:       startTime,
		NumberOfSamples: uint32(len(samples)),
		BlockBytes:      uint32(len(out)),
		DifferenceBytes: uint32(differenceBytes),
		Flags:           flags,
		Discontinuity:   discontinuity,
		MinSample:       min,
		MaxSample:       max,
	}, nil
}

func (c *rangeCodec) FindExtrema(samples []int32) (min, max int32) {
	if len(samples) == 0 {
		return 0, 0
	}
	min, max = samples[0], samples[0]
	for _, v := range samples[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

func zigzag(v int32) uint32 {
	return uint32((v << 1) ^ (v >> 31))
}

func unzigzag(v uint32) int32 {
	return int32(v>>1) ^ -int32(v&1)
}
