// Package manifest maintains a session's list of channel directories:
// one small, append-only file per session naming every channel that has
// ever been created within it.
package manifest

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/msel-source/mefwriter/core"
	"github.com/msel-source/mefwriter/header"
	"github.com/msel-source/mefwriter/session"
	"github.com/msel-source/mefwriter/sys"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	channelDirFieldBytes = 160
	anonymizedFieldBytes = 160
	entryBytes           = channelDirFieldBytes + anonymizedFieldBytes
)

func fixedField(s string, n int) ([]byte, error) {
	if len(s) > n {
		return nil, fmt.Errorf("manifest field %q exceeds %d bytes", s, n)
	}
	b := make([]byte, n)
	copy(b, s)
	return b, nil
}

// buildEntry packs the two fixed-width fields of one manifest entry:
// the channel directory name (spec.md §4.5's "<chan>.<channel_dir_suffix>")
// followed by the channel's anonymized display name.
func buildEntry(channelDir, anonymizedName string) ([]byte, error) {
	dir, err := fixedField(channelDir, channelDirFieldBytes)
	if err != nil {
		return nil, err
	}
	anon, err := fixedField(anonymizedName, anonymizedFieldBytes)
	if err != nil {
		return nil, err
	}
	entry := make([]byte, 0, entryBytes)
	entry = append(entry, dir...)
	entry = append(entry, anon...)
	return entry, nil
}

// Path returns the path of sessionName's manifest file under rootDir.
func Path(rootDir, sessionName string) string {
	sessionDir := filepath.Join(rootDir, sessionName+core.SessionDirSuffix)
	return filepath.Join(sessionDir, sessionName+core.ManifestSuffix)
}

// Updater carries the logger and tracer a channel writer shares across its
// own operations and the manifest entry it registers at initialization, so
// a manifest-update span nests under the same trace as the channel that
// triggered it.
type Updater struct {
	logger *slog.Logger
	tracer trace.Tracer
}

// NewUpdater builds an Updater, defaulting logger to slog.Default() when
// nil. tracer may be nil, in which case Register starts no span.
func NewUpdater(logger *slog.Logger, tracer trace.Tracer) *Updater {
	if logger == nil {
		logger = slog.Default()
	}
	return &Updater{logger: logger.With("component", "manifest"), tracer: tracer}
}

var defaultUpdater = NewUpdater(nil, nil)

// Register records channelName (as "<channelName><dirSuffix>") in
// sessionName's manifest under rootDir, creating the manifest file if it
// does not yet exist, using a default Updater (slog.Default(), no tracer).
// Callers that already hold a channel's logger/tracer should build an
// Updater with NewUpdater and call its Register method instead, so the
// manifest update is attributed to the same channel.
func Register(rootDir, sessionName, channelName, anonymizedName string, encrypted bool, sess *session.State) error {
	return defaultUpdater.Register(context.Background(), rootDir, sessionName, channelName, anonymizedName, encrypted, sess)
}

// Register records channelName (as "<channelName><dirSuffix>") in
// sessionName's manifest under rootDir, creating the manifest file if it
// does not yet exist. The scan-then-append is byte-exact and idempotent:
// registering the same channel twice leaves the file unchanged. Register
// takes sess's manifest lock itself for the scan and append (spec.md §5:
// "the manifest file is similarly a session-wide resource"); encrypted sessions skip
// registration entirely, since the manifest is plaintext channel
// discovery metadata and a level-2 password means channel identities are
// meant to stay opaque on disk.
func (u *Updater) Register(ctx context.Context, rootDir, sessionName, channelName, anonymizedName string, encrypted bool, sess *session.State) error {
	var span trace.Span
	if u.tracer != nil {
		_, span = u.tracer.Start(ctx, "manifest.Updater.Register")
		defer span.End()
		span.SetAttributes(
			attribute.String("manifest.session", sessionName),
			attribute.String("manifest.channel", channelName),
			attribute.Bool("manifest.encrypted", encrypted),
		)
	}

	if encrypted {
		u.logger.Debug("skipping manifest registration for encrypted channel", "channel", channelName)
		return nil
	}
	sess.LockManifest()
	defer sess.UnlockManifest()

	path := Path(rootDir, sessionName)
	entryRaw, err := buildEntry(channelName+core.TimeSeriesChannelDirSuffix, anonymizedName)
	if err != nil {
		u.recordErr(span, err)
		return err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := createWithEntry(path, sessionName, entryRaw); err != nil {
			u.recordErr(span, err)
			return err
		}
		u.logger.Info("manifest created", "path", path, "channel", channelName)
		return nil
	} else if err != nil {
		err = core.NewIOError("stat manifest file", path, err)
		u.recordErr(span, err)
		return err
	}
	if err := appendIfMissing(path, entryRaw); err != nil {
		u.recordErr(span, err)
		return err
	}
	u.logger.Debug("manifest entry registered", "path", path, "channel", channelName)
	return nil
}

func (u *Updater) recordErr(span trace.Span, err error) {
	u.logger.Error("manifest update failed", "error", err)
	if span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func createWithEntry(path, sessionName string, entryRaw []byte) error {
	if err := sys.MkdirAll(filepath.Dir(path)); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	fh, err := sys.Create(path)
	if err != nil {
		return core.NewIOError("create manifest file", path, err)
	}
	defer fh.Close()

	h := &core.UniversalHeader{
		FileTypeString:   core.FileTypeManifest,
		MEFVersionMajor:  core.MefVersionMajor,
		MEFVersionMinor:  core.MefVersionMinor,
		SessionName:      sessionName,
		FileUUID:         core.NewUUID(),
		SegmentNumber:    core.ManifestSegmentNumber,
		NumberOfEntries:  1,
		MaximumEntrySize: int64(entryBytes),
	}
	h.BodyCRC = core.CRCCalculate(entryRaw)
	if err := header.Write(fh, h); err != nil {
		return err
	}
	if _, err := fh.WriteAt(entryRaw, int64(core.UniversalHeaderBytes)); err != nil {
		return core.NewIOError("write manifest entry", path, err)
	}
	return nil
}

func appendIfMissing(path string, entryRaw []byte) error {
	fh, err := sys.OpenReadWrite(path)
	if err != nil {
		return core.NewIOError("open manifest file", path, err)
	}
	defer fh.Close()

	h, err := header.Read(fh)
	if err != nil {
		return err
	}

	for i := int64(0); i < h.NumberOfEntries; i++ {
		offset := int64(core.UniversalHeaderBytes) + i*int64(entryBytes)
		existing := make([]byte, entryBytes)
		if _, err := fh.ReadAt(existing, offset); err != nil {
			return core.NewIOError("read manifest entry", path, err)
		}
		if bytes.Equal(existing, entryRaw) {
			return nil
		}
	}

	appendOffset := int64(core.UniversalHeaderBytes) + h.NumberOfEntries*int64(entryBytes)
	if _, err := fh.WriteAt(entryRaw, appendOffset); err != nil {
		return core.NewIOError("write manifest entry", path, err)
	}

	h.BodyCRC = core.CRCUpdate(entryRaw, h.BodyCRC)
	h.NumberOfEntries++
	if int64(entryBytes) > h.MaximumEntrySize {
		h.MaximumEntrySize = int64(entryBytes)
	}
	return header.Write(fh, h)
}
