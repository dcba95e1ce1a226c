package metadata

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileRoundTrip(t *testing.T) {
	f := &File{
		Section1: Section1{Section2Encrypted: true},
		Section2: Section2{
			SamplingFrequencyHz:      1000,
			SecondsPerBlock:          1,
			BlockIntervalMicroseconds: 1000000,
			BitShiftFlag:             true,
			NumberOfSamples:          5000,
			NumberOfBlocks:           5,
			MaximumNativeSampleValue: 20000,
			MinimumNativeSampleValue: -20000,
			StartTime:                1000,
			EndTime:                  6000,
		},
		Section3: Section3{
			RecordingTimeOffset: -42,
			GMTOffsetHours:      -7,
			SubjectName:         "subject-1",
		},
	}

	raw, err := f.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, raw, Bytes)

	var got File
	require.NoError(t, got.UnmarshalBinary(raw))
	assert.Equal(t, *f, got)
}

func TestUpdateAccumulatesAcrossBlocks(t *testing.T) {
	s2 := Section2{MaximumNativeSampleValue: NoValueSentinel, MinimumNativeSampleValue: NoValueSentinel}

	Update(&s2, BlockUpdate{
		NumberOfSamples: 1000, BlockBytes: 500, DifferenceBytes: 400,
		BlockHdrTime: 0, SamplingFreqHz: 1000, NativeMin: -100, NativeMax: 100,
	})
	assert.Equal(t, int64(0), s2.StartTime)
	assert.Equal(t, int64(1), s2.NumberOfBlocks)
	assert.Equal(t, int64(1000), s2.NumberOfSamples)
	assert.Equal(t, int64(1000000), s2.EndTime)
	assert.Equal(t, float64(100), s2.MaximumNativeSampleValue)
	assert.Equal(t, float64(-100), s2.MinimumNativeSampleValue)

	Update(&s2, BlockUpdate{
		NumberOfSamples: 1000, BlockBytes: 480, DifferenceBytes: 390,
		BlockHdrTime: 1000000, SamplingFreqHz: 1000, NativeMin: -50, NativeMax: 200,
		Discontinuity: true,
	})
	assert.Equal(t, int64(2), s2.NumberOfBlocks)
	assert.Equal(t, int64(2000), s2.NumberOfSamples)
	assert.Equal(t, int64(1), s2.NumberOfDiscontinuities)
	assert.Equal(t, int64(2000000), s2.EndTime)
	assert.Equal(t, float64(200), s2.MaximumNativeSampleValue)
	assert.Equal(t, float64(-100), s2.MinimumNativeSampleValue)
	assert.Equal(t, int64(2000000), s2.RecordingDuration)
}

func TestNoValueSentinelIsNaN(t *testing.T) {
	assert.True(t, math.IsNaN(NoValueSentinel))
}
