package channel

import (
	"fmt"

	"github.com/msel-source/mefwriter/core"
	"github.com/msel-source/mefwriter/metadata"
	"github.com/msel-source/mefwriter/password"
	"github.com/msel-source/mefwriter/segment"
	"github.com/msel-source/mefwriter/session"
)

// Append opens a new segment N (N > 0) for an existing channel, seeding
// it from segment N-1's metadata per spec.md §4.3: sampling frequency,
// filter settings, units factor, block interval, subject identity,
// recording-time offset, GMT offset and level UUID carry forward, and
// start_sample_next = start_sample_prev + number_of_samples_prev.
//
// N <= 0 is spec.md §7's InvalidSegmentNumber: a benign no-op that
// returns without side effect.
func Append(rootDir, sessionName, channelName string, n int, sess *session.State, pw *password.Data) (*Writer, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: segment number %d", core.ErrInvalidSegmentNumber, n)
	}

	prevPaths := segment.New(rootDir, sessionName, channelName, n-1)
	prevHeader, prevMeta, err := metadata.ReadFile(prevPaths.MetadataPath())
	if err != nil {
		return nil, err
	}
	// original_source requires any level-2 password to read a prior
	// segment whose metadata is encrypted; metadata.Read itself does not
	// decrypt anything (decryption is out of core scope), so this is
	// purely a policy gate on top of a successful plaintext structural read.
	if prevMeta.Section1.Section2Encrypted && pw == nil {
		return nil, fmt.Errorf("%w: prior segment requires a password to read", core.ErrPasswordPolicyViolated)
	}

	prevS2 := prevMeta.Section2
	cfg := Config{
		RootDir:                   rootDir,
		ChannelName:               channelName,
		AnonymizedName:            prevHeader.AnonymizedName,
		SamplingFrequencyHz:       prevS2.SamplingFrequencyHz,
		SecondsPerBlock:           prevS2.SecondsPerBlock,
		BlockIntervalMicroseconds: prevS2.BlockIntervalMicroseconds,
		BitShiftFlag:              prevS2.BitShiftFlag,
		LowFrequencyFilterHz:      prevS2.LowFrequencyFilterHz,
		HighFrequencyFilterHz:     prevS2.HighFrequencyFilterHz,
		NotchFilterHz:             prevS2.NotchFilterHz,
		ACLineFrequencyHz:         prevS2.ACLineFrequencyHz,
		UnitsConversionFactor:     prevS2.UnitsConversionFactor,
		Password:                  pw,
	}

	w, err := newWriter(cfg, sess)
	if err != nil {
		return nil, err
	}
	w.levelUUID = prevHeader.LevelUUID

	startSample := prevS2.StartSample + prevS2.NumberOfSamples
	s3 := metadata.Section3{
		RecordingTimeOffset: prevMeta.Section3.RecordingTimeOffset,
		GMTOffsetHours:      prevMeta.Section3.GMTOffsetHours,
		SubjectName:         prevMeta.Section3.SubjectName,
	}
	if err := w.openSegment(n, s3, startSample); err != nil {
		return nil, err
	}
	w.discontinuity = true
	w.initialized = true
	return w, nil
}
