package segment

import (
	"path/filepath"

	"github.com/msel-source/mefwriter/core"
)

// Paths computes the on-disk layout for one segment of one channel
// within one session:
//
//	<root>/<session>.mefd/<channel>.timd/<channel>-NNNNNN.segd/<channel>-NNNNNN.{tmet,tdat,tidx}
type Paths struct {
	SessionDir string
	ChannelDir string
	SegmentDir string
	Stem       string
}

// New computes the paths for segmentNumber of channelName within the
// session rooted at sessionDir (itself rootDir/sessionName+SessionDirSuffix).
func New(rootDir, sessionName, channelName string, segmentNumber int) Paths {
	sessionDir := filepath.Join(rootDir, sessionName+core.SessionDirSuffix)
	channelDir := filepath.Join(sessionDir, channelName+core.TimeSeriesChannelDirSuffix)
	stem := core.FormatSegmentName(channelName, segmentNumber)
	segmentDir := filepath.Join(channelDir, stem+core.SegmentDirSuffix)
	return Paths{
		SessionDir: sessionDir,
		ChannelDir: channelDir,
		SegmentDir: segmentDir,
		Stem:       stem,
	}
}

func (p Paths) MetadataPath() string { return filepath.Join(p.SegmentDir, p.Stem+core.TimeSeriesMetadataSuffix) }
func (p Paths) DataPath() string     { return filepath.Join(p.SegmentDir, p.Stem+core.TimeSeriesDataSuffix) }
func (p Paths) IndexPath() string    { return filepath.Join(p.SegmentDir, p.Stem+core.TimeSeriesIndexSuffix) }
