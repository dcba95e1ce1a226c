// Package channel implements the streaming channel writer state
// machine: the central component that turns a stream of
// (timestamp, sample) pairs into RED-compressed blocks, index entries
// and segment metadata, rolling segments over on time boundaries and
// maintaining every aggregate statistic needed to leave a consistent
// on-disk state at close.
package channel

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/msel-source/mefwriter/compressors"
	"github.com/msel-source/mefwriter/core"
	"github.com/msel-source/mefwriter/index"
	"github.com/msel-source/mefwriter/manifest"
	"github.com/msel-source/mefwriter/metadata"
	"github.com/msel-source/mefwriter/password"
	"github.com/msel-source/mefwriter/redcodec"
	"github.com/msel-source/mefwriter/segment"
	"github.com/msel-source/mefwriter/session"

	"github.com/shirou/gopsutil/v3/mem"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Config is the immutable channel configuration spec.md §3 assigns to a
// channel for its lifetime: sampling frequency, block interval, filter
// settings, AC line frequency, units conversion factor.
type Config struct {
	RootDir        string
	ChannelName    string
	AnonymizedName string

	SamplingFrequencyHz float64
	SecondsPerBlock     float64
	// BlockIntervalMicroseconds schedules block flush, independent of
	// SecondsPerBlock*1e6 so callers may set it directly if they want a
	// schedule not tied to nominal samples-per-block.
	BlockIntervalMicroseconds int64
	// SecondsPerSegment is num_secs_per_segment; 0 disables rollover.
	SecondsPerSegment float64

	BitShiftFlag bool

	LowFrequencyFilterHz  float64
	HighFrequencyFilterHz float64
	NotchFilterHz         float64
	ACLineFrequencyHz     float64
	UnitsConversionFactor float64

	Compression core.CompressionType
	Password    *password.Data

	// Logger receives Debug/Info/Error records for every block flush and
	// segment rollover. A nil Logger falls back to slog.Default().
	Logger *slog.Logger
	// Tracer, if non-nil, starts a span around each block flush and
	// segment rollover.
	Tracer trace.Tracer
}

// Writer is THE core component: the channel writer state machine.
type Writer struct {
	cfg  Config
	sess *session.State

	logger *slog.Logger
	tracer trace.Tracer

	levelUUID     core.UUID
	segmentNumber int
	trio          *segment.Trio

	codec   redcodec.Codec
	scratch *redcodec.Scratch

	buffer     []int32
	bufLen     int
	maxSamples int

	blockHdrTimeSet bool
	blockHdrTime    int64
	blockBoundary   int64
	haveLastStamp   bool
	lastTimestamp   int64
	discontinuity   bool

	startSample int64
	run         metadata.ContiguousRun

	segmentRolloverEnabled bool
	nextSegmentStartTime   int64
	segmentSpanMicros      int64

	initialized bool
	closed      bool
}

// Initialize builds a fresh channel (segment 0), performing the steps
// of spec.md §4.1 "Initialization": directory hierarchy, raw sample
// buffer sized for ⌈2·S·F⌉ samples, a fresh three-file segment trio with
// shared level UUID, "no entry" aggregate sentinels, and
// discontinuity_flag = true so the first block is always discontinuous.
func Initialize(cfg Config, sess *session.State) (*Writer, error) {
	w, err := newWriter(cfg, sess)
	if err != nil {
		return nil, err
	}
	if err := w.openSegment(0, metadata.Section3{GMTOffsetHours: int32(sess.GMTOffset)}, 0); err != nil {
		return nil, err
	}
	encrypted := cfg.Password.Section2Encrypted()
	updater := manifest.NewUpdater(w.logger, w.tracer)
	if err := updater.Register(context.Background(), cfg.RootDir, sess.SessionName, cfg.ChannelName, cfg.AnonymizedName, encrypted, sess); err != nil {
		return nil, err
	}
	w.initialized = true
	w.logger.Info("channel initialized", "channel", cfg.ChannelName, "sampling_frequency_hz", cfg.SamplingFrequencyHz, "max_samples_per_block", w.maxSamples)
	return w, nil
}

// newWriter allocates the raw sample buffer and codec scratch per
// spec.md §4.1 step (b) but does not yet open a segment; Initialize
// opens segment 0, Append opens the requested segment N with carried
// forward parameters.
func newWriter(cfg Config, sess *session.State) (*Writer, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "channel", "channel", cfg.ChannelName)

	entropy, err := compressors.New(cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrAllocationFailed, err)
	}

	maxSamples := int(math.Ceil(2 * cfg.SecondsPerBlock * cfg.SamplingFrequencyHz))
	if maxSamples <= 0 {
		return nil, fmt.Errorf("%w: non-positive sample buffer size", core.ErrAllocationFailed)
	}

	if reason := lowMemoryReason(maxSamples, logger); reason != "" {
		return nil, fmt.Errorf("%w: %s", core.ErrAllocationFailed, reason)
	}

	w := &Writer{
		cfg:                    cfg,
		sess:                   sess,
		logger:                 logger,
		tracer:                 cfg.Tracer,
		levelUUID:              core.NewUUID(),
		codec:                  redcodec.NewRangeCodec(entropy),
		buffer:                 make([]int32, maxSamples),
		maxSamples:             maxSamples,
		discontinuity:          true,
		segmentRolloverEnabled: cfg.SecondsPerSegment > 0,
		segmentSpanMicros:      int64(cfg.SecondsPerSegment * 1e6),
	}
	w.scratch = w.codec.Allocate(maxSamples)
	return w, nil
}

// lowMemoryReason reports why allocating maxSamples int32 samples would be
// unsafe, or "" when available memory looks sufficient for the raw sample
// buffer spec.md §4.1 step (b) sizes. A VirtualMemory read failure is logged
// but never blocks allocation, since the check is advisory, not a hard
// resource reservation.
func lowMemoryReason(maxSamples int, logger *slog.Logger) string {
	vm, err := mem.VirtualMemory()
	if err != nil {
		logger.Warn("read system memory", "error", err)
		return ""
	}
	bufferBytes := uint64(maxSamples) * 4
	if vm.Available < bufferBytes {
		return fmt.Sprintf("available memory %d bytes below required sample buffer size %d bytes", vm.Available, bufferBytes)
	}
	if vm.UsedPercent > 95 {
		return fmt.Sprintf("system memory usage at %.1f%%, refusing to allocate %d-byte sample buffer", vm.UsedPercent, bufferBytes)
	}
	return ""
}

func (w *Writer) section1() metadata.Section1 {
	return metadata.Section1{
		Section2Encrypted: w.cfg.Password.Section2Encrypted(),
		Section3Encrypted: w.cfg.Password.Section3Encrypted(),
	}
}

func (w *Writer) seedSection2(startSample int64) metadata.Section2 {
	return metadata.Section2{
		SamplingFrequencyHz:       w.cfg.SamplingFrequencyHz,
		SecondsPerBlock:           w.cfg.SecondsPerBlock,
		BlockIntervalMicroseconds: w.cfg.BlockIntervalMicroseconds,
		LowFrequencyFilterHz:      w.cfg.LowFrequencyFilterHz,
		HighFrequencyFilterHz:     w.cfg.HighFrequencyFilterHz,
		NotchFilterHz:             w.cfg.NotchFilterHz,
		ACLineFrequencyHz:         w.cfg.ACLineFrequencyHz,
		UnitsConversionFactor:     w.cfg.UnitsConversionFactor,
		BitShiftFlag:              w.cfg.BitShiftFlag,
		StartSample:               startSample,
	}
}

func (w *Writer) openSegment(n int, s3 metadata.Section3, startSample int64) error {
	paths := segment.New(w.cfg.RootDir, w.sess.SessionName, w.cfg.ChannelName, n)
	id := segment.Identity{
		SessionName:    w.sess.SessionName,
		ChannelName:    w.cfg.ChannelName,
		AnonymizedName: w.cfg.AnonymizedName,
		LevelUUID:      w.levelUUID,
		SegmentNumber:  n,
	}
	trio, err := segment.Create(paths, id, w.section1(), w.seedSection2(startSample), s3)
	if err != nil {
		return err
	}
	w.trio = trio
	w.segmentNumber = n
	w.startSample = startSample
	w.run = metadata.ContiguousRun{}
	w.nextSegmentStartTime = 0
	return nil
}

// bitShiftDiv4 divides v by 4 with half-away-from-zero rounding before
// truncation, the convention for 18-bit acquisition hardware spec.md
// §4.1 step 1 describes.
func bitShiftDiv4(v int32) int32 {
	if v >= 0 {
		return (v + 2) / 4
	}
	return (v - 2) / 4
}

// Write runs the per-sample ingest loop of spec.md §4.1 "Ingest" over a
// batch of packet times and samples, in input order, without resorting
// or reordering. The caller guarantees monotone non-decreasing
// timestamps.
func (w *Writer) Write(packetTimes []int64, samples []int32) error {
	if !w.initialized {
		return fmt.Errorf("channel writer: write before initialize")
	}
	if len(packetTimes) != len(samples) {
		return fmt.Errorf("channel writer: packetTimes/samples length mismatch")
	}
	for i, t := range packetTimes {
		if !w.blockHdrTimeSet {
			w.blockHdrTime = t
			w.blockBoundary = t
			w.blockHdrTimeSet = true
		}

		isDiscontinuityTrigger := w.haveLastStamp && (t-w.lastTimestamp) >= core.DiscontinuityTimeThreshold
		isBlockTrigger := (t - w.blockBoundary) >= w.cfg.BlockIntervalMicroseconds

		if isDiscontinuityTrigger || isBlockTrigger {
			if w.bufLen > 0 {
				if err := w.flushBlock(); err != nil {
					return err
				}
			}
			if isDiscontinuityTrigger {
				w.discontinuity = true
				w.blockBoundary = t
			} else {
				w.discontinuity = false
				w.blockBoundary += w.cfg.BlockIntervalMicroseconds
			}
			w.blockHdrTime = t
			w.bufLen = 0
		}

		w.buffer[w.bufLen] = samples[i]
		w.bufLen++
		w.lastTimestamp = t
		w.haveLastStamp = true

		if w.bufLen == w.maxSamples {
			if err := w.flushBlock(); err != nil {
				return err
			}
			w.blockHdrTime = t
			w.bufLen = 0
		}
	}
	return nil
}

// flushBlock emits the current buffer as one block, performing spec.md
// §4.1 "Flush" steps 1-9. It is a no-op if the buffer is empty.
func (w *Writer) flushBlock() error {
	n := w.bufLen
	if n == 0 {
		return nil
	}

	var span trace.Span
	if w.tracer != nil {
		_, span = w.tracer.Start(context.Background(), "channel.Writer.flushBlock")
		defer span.End()
		span.SetAttributes(
			attribute.String("channel.name", w.cfg.ChannelName),
			attribute.Int("channel.block.samples", n),
			attribute.Int("channel.segment_number", w.segmentNumber),
		)
	}

	samples := w.buffer[:n]
	if w.cfg.BitShiftFlag {
		for i, v := range samples {
			samples[i] = bitShiftDiv4(v)
		}
	}

	hdrTime := w.blockHdrTime
	if w.sess != nil {
		offset := w.sess.RecordingTimeOffset(hdrTime)
		hdrTime += offset
		if w.trio.Meta.Section3.RecordingTimeOffset == 0 {
			w.trio.Meta.Section3.RecordingTimeOffset = offset
		}
	}

	block, err := w.codec.Encode(w.scratch, samples, w.discontinuity, hdrTime)
	if err != nil {
		w.logger.Error("encode block", "error", err)
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	}

	if w.segmentRolloverEnabled && w.nextSegmentStartTime != 0 && block.StartTime >= w.nextSegmentStartTime {
		if err := w.rollover(); err != nil {
			return err
		}
		// The first block of a new segment is always discontinuous.
		block.Discontinuity = true
		block.Flags |= redcodec.FlagDiscontinuity
	}
	if w.segmentRolloverEnabled && w.nextSegmentStartTime == 0 {
		w.nextSegmentStartTime = block.StartTime + w.segmentSpanMicros
	}

	rawMin, rawMax := w.codec.FindExtrema(samples)
	nativeMin, nativeMax := nativeExtrema(rawMin, rawMax, w.cfg.UnitsConversionFactor)

	e := &index.Entry{
		StartTime:       block.StartTime,
		StartSample:     w.startSample,
		NumberOfSamples: uint32(n),
		BlockBytes:      uint32(len(block.CompressedData)),
		MaxSampleValue:  rawMax,
		MinSampleValue:  rawMin,
	}
	if block.Discontinuity {
		e.Flags |= index.FlagDiscontinuity
	}

	if block.Discontinuity {
		w.run = metadata.ContiguousRun{Blocks: 1, Samples: int64(n), Bytes: int64(len(block.CompressedData))}
	} else {
		w.run.Blocks++
		w.run.Samples += int64(n)
		w.run.Bytes += int64(len(block.CompressedData))
	}

	u := metadata.BlockUpdate{
		NumberOfSamples: uint32(n),
		BlockBytes:      uint32(len(block.CompressedData)),
		DifferenceBytes: block.DifferenceBytes,
		Discontinuity:   block.Discontinuity,
		BlockHdrTime:    block.StartTime,
		SamplingFreqHz:  w.cfg.SamplingFrequencyHz,
		NativeMin:       nativeMin,
		NativeMax:       nativeMax,
		Run:             w.run,
	}

	if err := w.trio.AppendBlock(block.CompressedData, e, u); err != nil {
		w.logger.Error("append block", "error", err)
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	}
	w.startSample += int64(n)
	w.logger.Debug("flushed block", "samples", n, "compressed_bytes", len(block.CompressedData), "discontinuity", block.Discontinuity)

	if err := w.trio.Sync(); err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	}
	return nil
}

func nativeExtrema(rawMin, rawMax int32, factor float64) (min, max float64) {
	a := float64(rawMin) * factor
	b := float64(rawMax) * factor
	if a <= b {
		return a, b
	}
	return b, a
}

func (w *Writer) rollover() error {
	var span trace.Span
	if w.tracer != nil {
		_, span = w.tracer.Start(context.Background(), "channel.Writer.rollover")
		defer span.End()
		span.SetAttributes(
			attribute.String("channel.name", w.cfg.ChannelName),
			attribute.Int("channel.from_segment", w.segmentNumber),
		)
	}
	w.logger.Info("rolling over segment", "from_segment", w.segmentNumber)

	if err := w.trio.Close(); err != nil {
		w.logger.Error("close segment before rollover", "error", err)
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	}
	nextStart := w.startSample
	s3 := w.trio.Meta.Section3
	n := w.segmentNumber + 1
	if err := w.openSegment(n, s3, nextStart); err != nil {
		w.logger.Error("open next segment", "segment", n, "error", err)
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	}
	w.logger.Info("segment rolled over", "to_segment", n)
	return nil
}

// Flush force-emits the buffered samples as a block (steps identical to
// flushBlock), then marks the next block as discontinuous and resets the
// phase-lock so the next Write call treats its first sample as a fresh
// block origin. Safe to call multiple times; the second call is a no-op
// (spec.md §8 idempotence).
func (w *Writer) Flush() error {
	if !w.initialized {
		return nil
	}
	if err := w.flushBlock(); err != nil {
		return err
	}
	w.discontinuity = true
	w.blockHdrTimeSet = false
	w.blockHdrTime = 0
	w.blockBoundary = 0
	w.bufLen = 0
	return nil
}

// Close emits any trailing buffered samples as a final block, persists
// metadata and both universal headers, and closes the segment's three
// file handles.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	if !w.initialized {
		w.closed = true
		return nil
	}
	if err := w.flushBlock(); err != nil {
		return err
	}
	err := w.trio.Close()
	w.closed = true
	if err != nil {
		w.logger.Error("close channel writer", "error", err)
	} else {
		w.logger.Info("channel writer closed", "channel", w.cfg.ChannelName, "segment", w.segmentNumber)
	}
	return err
}

// Feed yields successive batches for a Writer to ingest; ok is false
// once the feed is exhausted.
type Feed func() (packetTimes []int64, samples []int32, ok bool)

// FeedDriver adapts a Writer and its Feed to session.Driveable, so
// cmd/mefwrite can run several channels concurrently under
// session.DriveChannels, each channel still single-threaded internally.
type FeedDriver struct {
	Writer *Writer
	Feed   Feed
}

// Drive writes every batch the feed yields until ctx is cancelled or the
// feed is exhausted, then closes the writer.
func (d *FeedDriver) Drive(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		times, samples, ok := d.Feed()
		if !ok {
			return d.Writer.Close()
		}
		if err := d.Writer.Write(times, samples); err != nil {
			return err
		}
	}
}
