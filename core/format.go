package core

import "fmt"

// This file centralizes constants for the on-disk layout: magic numbers,
// file suffixes and the fixed sizes that every segment file trio shares.

const (
	// TimeSeriesMetadataSuffix names a segment's metadata file.
	TimeSeriesMetadataSuffix = ".tmet"
	// TimeSeriesDataSuffix names a segment's compressed-block data file.
	TimeSeriesDataSuffix = ".tdat"
	// TimeSeriesIndexSuffix names a segment's index-entry file.
	TimeSeriesIndexSuffix = ".tidx"
	// RecordDataSuffix names a session's append-only annotation record file.
	RecordDataSuffix = ".rdat"
	// RecordIndexSuffix names a session's annotation record index file.
	RecordIndexSuffix = ".ridx"
	// ManifestSuffix names the session-level channel manifest file.
	ManifestSuffix = ".mefd"

	// SessionDirSuffix names a session directory.
	SessionDirSuffix = ".mefd"
	// TimeSeriesChannelDirSuffix names a time series channel directory.
	TimeSeriesChannelDirSuffix = ".timd"
	// RecordChannelDirSuffix names an annotation channel directory.
	RecordChannelDirSuffix = ".rdd"
	// SegmentDirSuffix names a segment directory within a channel.
	SegmentDirSuffix = ".segd"
)

// FileTypeString values occupy the 8-byte file_type_string field of the
// universal header. They are fixed ASCII tags, NUL-padded.
const (
	FileTypeTimeSeriesMetadata = "tmet"
	FileTypeTimeSeriesData     = "tdat"
	FileTypeTimeSeriesIndex    = "tidx"
	FileTypeRecordData         = "rdat"
	FileTypeRecordIndex        = "ridx"
	FileTypeManifest           = "mefd"
)

// ManifestSegmentNumber is the sentinel segment_number value stamped into
// a manifest file's universal header; manifests are not part of a
// segment sequence.
const ManifestSegmentNumber int32 = -3

// NoEntrySegmentNumber marks a universal header belonging to a channel or
// session directory rather than a concrete numbered segment.
const NoEntrySegmentNumber int32 = -1

const (
	MefVersionMajor uint8 = 3
	MefVersionMinor uint8 = 0
)

// DiscontinuityTimeThreshold is the gap, in microseconds, between two
// consecutive sample timestamps above which the later sample is treated
// as a recording discontinuity rather than normal jitter.
const DiscontinuityTimeThreshold int64 = 100000

// FormatSegmentName builds the "<channel>-%06d" stem shared by a
// segment's metadata/data/index files.
func FormatSegmentName(channelName string, segmentNumber int) string {
	return fmt.Sprintf("%s-%06d", channelName, segmentNumber)
}
