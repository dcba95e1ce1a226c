// Package annotation implements the record writer state machine for a
// session's single append-only (.rdat, .ridx) file pair: discrete,
// timestamped events such as physician notes, seizure markers, cursor
// placements and scored epochs, interleaved with a channel's continuous
// sample stream but stored separately from it.
package annotation

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
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

// Options carries the logger and tracer a Writer uses, both optional: a
// nil Logger defaults to slog.Default(), a nil Tracer starts no spans.
type Options struct {
	Logger *slog.Logger
	Tracer trace.Tracer
}

// RecordKind is the tagged-variant replacement for the type_string
// branching a single write_annotation function would otherwise need.
// Only the four values below are accepted; any other value is
// core.ErrUnknownRecordKind.
type RecordKind uint8

const (
	Note RecordKind = iota
	Seiz
	Curs
	Epoc
)

func (k RecordKind) typeString() string {
	switch k {
	case Note:
		return "Note"
	case Seiz:
		return "Seiz"
	case Curs:
		return "Curs"
	case Epoc:
		return "Epoc"
	default:
		return ""
	}
}

func (k RecordKind) String() string {
	if s := k.typeString(); s != "" {
		return s
	}
	return fmt.Sprintf("RecordKind(%d)", uint8(k))
}

const recordTypeStringBytes = 4

// RecordBody is implemented by one payload type per accepted RecordKind.
// Bytes reports the unpadded marshaled length; WriteInto appends the
// marshaled body to buf. The writer pads every body to the next 16-byte
// boundary and folds it into the record CRC itself, so a RecordBody only
// needs to describe its own bytes.
type RecordBody interface {
	Bytes() int
	WriteInto(buf *bytes.Buffer) error
}

// NoteBody is free-form, null-terminated text, the only variable-length
// body kind.
type NoteBody struct {
	Text string
}

func (b NoteBody) Bytes() int { return len(b.Text) + 1 }

func (b NoteBody) WriteInto(buf *bytes.Buffer) error {
	buf.WriteString(b.Text)
	buf.WriteByte(0)
	return nil
}

const (
	seizAnnotatorBytes = 32
	cursNameBytes      = 32
	epocNameBytes      = 32
	epocTextBytes      = 64
)

func fixedBytes(s string, n int) ([]byte, error) {
	if len(s) > n {
		return nil, fmt.Errorf("%q exceeds %d-byte field", s, n)
	}
	b := make([]byte, n)
	copy(b, s)
	return b, nil
}

// SeizBody marks a scored seizure event.
type SeizBody struct {
	AnnotatorID  string
	ClinicalCode int32
	Probability  float64
}

func (b SeizBody) Bytes() int { return seizAnnotatorBytes + 4 + 8 }

func (b SeizBody) WriteInto(buf *bytes.Buffer) error {
	annotator, err := fixedBytes(b.AnnotatorID, seizAnnotatorBytes)
	if err != nil {
		return fmt.Errorf("seiz annotator_id: %w", err)
	}
	buf.Write(annotator)
	if err := binary.Write(buf, binary.LittleEndian, b.ClinicalCode); err != nil {
		return err
	}
	return binary.Write(buf, binary.LittleEndian, b.Probability)
}

// CursBody places a named cursor at the record's timestamp, carrying one
// scalar value (e.g. an amplitude or a channel reading at that instant).
type CursBody struct {
	Name  string
	Value float64
}

func (b CursBody) Bytes() int { return cursNameBytes + 8 }

func (b CursBody) WriteInto(buf *bytes.Buffer) error {
	name, err := fixedBytes(b.Name, cursNameBytes)
	if err != nil {
		return fmt.Errorf("curs name: %w", err)
	}
	buf.Write(name)
	return binary.Write(buf, binary.LittleEndian, b.Value)
}

// EpocBody marks a scored interval (an "epoch") of a given duration
// starting at the record's timestamp, with a short name and free text.
type EpocBody struct {
	Name                 string
	Text                 string
	DurationMicroseconds int64
}

func (b EpocBody) Bytes() int { return epocNameBytes + epocTextBytes + 8 }

func (b EpocBody) WriteInto(buf *bytes.Buffer) error {
	name, err := fixedBytes(b.Name, epocNameBytes)
	if err != nil {
		return fmt.Errorf("epoc name: %w", err)
	}
	text, err := fixedBytes(b.Text, epocTextBytes)
	if err != nil {
		return fmt.Errorf("epoc text: %w", err)
	}
	buf.Write(name)
	buf.Write(text)
	return binary.Write(buf, binary.LittleEndian, b.DurationMicroseconds)
}

// recordHeader is the fixed-size preamble written before every record's
// (possibly zero-length) body and pad. RecordCRC covers every header byte
// after itself, then the body, then the pad, as one continuous running
// fold, mirroring the universal header's own CRC convention.
type recordHeader struct {
	RecordCRC      uint32
	TypeString     string
	VersionMajor   uint8
	VersionMinor   uint8
	Encryption     uint8
	Bytes          uint32
	Time           int64
}

const recordHeaderBytes = 4 + recordTypeStringBytes + 1 + 1 + 1 + 4 + 8

func (h *recordHeader) marshal() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(recordHeaderBytes)
	if err := binary.Write(buf, binary.LittleEndian, h.RecordCRC); err != nil {
		return nil, err
	}
	ts, err := fixedBytes(h.TypeString, recordTypeStringBytes)
	if err != nil {
		return nil, err
	}
	buf.Write(ts)
	buf.WriteByte(h.VersionMajor)
	buf.WriteByte(h.VersionMinor)
	buf.WriteByte(h.Encryption)
	if err := binary.Write(buf, binary.LittleEndian, h.Bytes); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, h.Time); err != nil {
		return nil, err
	}
	if buf.Len() != recordHeaderBytes {
		return nil, fmt.Errorf("record header marshaled to %d bytes, want %d", buf.Len(), recordHeaderBytes)
	}
	return buf.Bytes(), nil
}

// recordIndexEntry mirrors recordHeader's identifying fields plus the
// record's offset into the .rdat file, with reserved bytes for future
// extension matching the time-series index entry's layout convention.
type recordIndexEntry struct {
	TypeString   string
	VersionMajor uint8
	VersionMinor uint8
	Encryption   uint8
	Time         int64
	FileOffset   int64
}

const (
	recordIndexReservedBytes = 9
	recordIndexEntryBytes    = recordTypeStringBytes + 1 + 1 + 1 + 8 + 8 + recordIndexReservedBytes
)

func (e *recordIndexEntry) marshal() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(recordIndexEntryBytes)
	ts, err := fixedBytes(e.TypeString, recordTypeStringBytes)
	if err != nil {
		return nil, err
	}
	buf.Write(ts)
	buf.WriteByte(e.VersionMajor)
	buf.WriteByte(e.VersionMinor)
	buf.WriteByte(e.Encryption)
	if err := binary.Write(buf, binary.LittleEndian, e.Time); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, e.FileOffset); err != nil {
		return nil, err
	}
	buf.Write(make([]byte, recordIndexReservedBytes))
	if buf.Len() != recordIndexEntryBytes {
		return nil, fmt.Errorf("record index entry marshaled to %d bytes, want %d", buf.Len(), recordIndexEntryBytes)
	}
	return buf.Bytes(), nil
}

const (
	recordVersionMajor uint8 = 1
	recordVersionMinor uint8 = 0
)

// Paths returns the session-level record data and index file paths for
// sessionName rooted at rootDir.
func Paths(rootDir, sessionName string) (rdatPath, ridxPath string) {
	sessionDir := filepath.Join(rootDir, sessionName+core.SessionDirSuffix)
	stem := filepath.Join(sessionDir, sessionName)
	return stem + core.RecordDataSuffix, stem + core.RecordIndexSuffix
}

// Writer owns the two file handles and universal headers of a session's
// annotation record stream. No sharing between channels; one Writer per
// session.
type Writer struct {
	sess *session.State

	logger *slog.Logger
	tracer trace.Tracer

	lockRelease func() error

	rdatFh sys.FileHandle
	ridxFh sys.FileHandle

	rdatHeader *core.UniversalHeader
	ridxHeader *core.UniversalHeader

	rdatCursor int64
	ridxCursor int64

	closed bool
}

// Create opens (or creates) sessionName's record file pair under
// rootDir. If the files already exist, both are reopened for append at
// end-of-file; otherwise they are created with headers-only bodies and
// a starting body CRC of core.CRCStart. opts is optional; the zero value
// logs through slog.Default() and starts no spans.
func Create(rootDir, sessionName string, sess *session.State, opts ...Options) (*Writer, error) {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "annotation", "session", sessionName)

	rdatPath, ridxPath := Paths(rootDir, sessionName)
	if err := sys.MkdirAll(filepath.Dir(rdatPath)); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	release, err := sys.AcquireWriterLock(rdatPath, sys.DefaultLockTimeout)
	if err != nil {
		return nil, fmt.Errorf("acquire annotation writer lock: %w", err)
	}

	var w *Writer
	if _, statErr := os.Stat(rdatPath); statErr == nil {
		w, err = openExisting(rdatPath, ridxPath, sess)
	} else {
		w, err = createFresh(rdatPath, ridxPath, sess)
	}
	if err != nil {
		release()
		return nil, err
	}
	w.lockRelease = release
	w.logger = logger
	w.tracer = o.Tracer
	return w, nil
}

func createFresh(rdatPath, ridxPath string, sess *session.State) (*Writer, error) {
	rdatFh, err := sys.Create(rdatPath)
	if err != nil {
		return nil, core.NewIOError("create record data file", rdatPath, err)
	}
	rdatHeader := &core.UniversalHeader{
		FileTypeString:  core.FileTypeRecordData,
		MEFVersionMajor: core.MefVersionMajor,
		MEFVersionMinor: core.MefVersionMinor,
		SessionName:     sess.SessionName,
		FileUUID:        core.NewUUID(),
		BodyCRC:         core.CRCStart,
	}
	if err := header.Write(rdatFh, rdatHeader); err != nil {
		rdatFh.Close()
		return nil, err
	}

	ridxFh, err := sys.Create(ridxPath)
	if err != nil {
		rdatFh.Close()
		return nil, core.NewIOError("create record index file", ridxPath, err)
	}
	ridxHeader := &core.UniversalHeader{
		FileTypeString:  core.FileTypeRecordIndex,
		MEFVersionMajor: core.MefVersionMajor,
		MEFVersionMinor: core.MefVersionMinor,
		SessionName:     sess.SessionName,
		FileUUID:        core.NewUUID(),
		LevelUUID:       rdatHeader.FileUUID,
		BodyCRC:         core.CRCStart,
	}
	if err := header.Write(ridxFh, ridxHeader); err != nil {
		rdatFh.Close()
		ridxFh.Close()
		return nil, err
	}

	return &Writer{
		sess:       sess,
		rdatFh:     rdatFh,
		ridxFh:     ridxFh,
		rdatHeader: rdatHeader,
		ridxHeader: ridxHeader,
		rdatCursor: int64(core.UniversalHeaderBytes),
		ridxCursor: int64(core.UniversalHeaderBytes),
	}, nil
}

func openExisting(rdatPath, ridxPath string, sess *session.State) (*Writer, error) {
	rdatFh, err := sys.OpenReadWrite(rdatPath)
	if err != nil {
		return nil, core.NewIOError("open record data file", rdatPath, err)
	}
	rdatHeader, err := header.Read(rdatFh)
	if err != nil {
		rdatFh.Close()
		return nil, err
	}
	rdatCursor, err := rdatFh.Seek(0, io.SeekEnd)
	if err != nil {
		rdatFh.Close()
		return nil, core.NewIOError("seek record data file to end", rdatPath, err)
	}

	ridxFh, err := sys.OpenReadWrite(ridxPath)
	if err != nil {
		rdatFh.Close()
		return nil, core.NewIOError("open record index file", ridxPath, err)
	}
	ridxHeader, err := header.Read(ridxFh)
	if err != nil {
		rdatFh.Close()
		ridxFh.Close()
		return nil, err
	}
	ridxCursor, err := ridxFh.Seek(0, io.SeekEnd)
	if err != nil {
		rdatFh.Close()
		ridxFh.Close()
		return nil, core.NewIOError("seek record index file to end", ridxPath, err)
	}

	return &Writer{
		sess:       sess,
		rdatFh:     rdatFh,
		ridxFh:     ridxFh,
		rdatHeader: rdatHeader,
		ridxHeader: ridxHeader,
		rdatCursor: rdatCursor,
		ridxCursor: ridxCursor,
	}, nil
}

// Write appends one (timestamp, kind, body) record, performing spec.md
// §4.4's numbered steps: validate the kind, build the header and index
// entry, pad the body to a 16-byte multiple, apply the session's
// recording-time offset if anonymization is active, compute the
// record's CRC, write header/body/pad/index entry, and update both
// files' cursors, body CRCs and universal header bookkeeping.
func (w *Writer) Write(timestamp int64, kind RecordKind, body RecordBody) error {
	var span trace.Span
	if w.tracer != nil {
		_, span = w.tracer.Start(context.Background(), "annotation.Writer.Write")
		defer span.End()
		span.SetAttributes(
			attribute.String("annotation.kind", kind.String()),
			attribute.Int64("annotation.timestamp", timestamp),
		)
	}

	typeStr := kind.typeString()
	if typeStr == "" {
		err := fmt.Errorf("%w: %v", core.ErrUnknownRecordKind, kind)
		w.recordErr(span, err)
		return err
	}

	var bodyBuf bytes.Buffer
	if err := body.WriteInto(&bodyBuf); err != nil {
		err = fmt.Errorf("marshal %s body: %w", typeStr, err)
		w.recordErr(span, err)
		return err
	}
	if bodyBuf.Len() != body.Bytes() {
		err := fmt.Errorf("%s body wrote %d bytes, Bytes() reported %d", typeStr, bodyBuf.Len(), body.Bytes())
		w.recordErr(span, err)
		return err
	}
	bodyLen := bodyBuf.Len()
	pad := (16 - bodyLen%16) % 16

	t := timestamp
	if w.sess != nil {
		offset := w.sess.RecordingTimeOffset(timestamp)
		t = timestamp + offset
	}

	hdr := &recordHeader{
		TypeString:   typeStr,
		VersionMajor: recordVersionMajor,
		VersionMinor: recordVersionMinor,
		Bytes:        uint32(bodyLen + pad),
		Time:         t,
	}
	idx := &recordIndexEntry{
		TypeString:   typeStr,
		VersionMajor: recordVersionMajor,
		VersionMinor: recordVersionMinor,
		Time:         t,
		FileOffset:   w.rdatCursor,
	}

	hdrRaw, err := hdr.marshal()
	if err != nil {
		err = fmt.Errorf("marshal record header: %w", err)
		w.recordErr(span, err)
		return err
	}
	padRaw := make([]byte, pad)

	crc := core.CRCCalculate(hdrRaw[4:])
	crc = core.CRCUpdate(bodyBuf.Bytes(), crc)
	crc = core.CRCUpdate(padRaw, crc)
	hdr.RecordCRC = crc
	hdrRaw, err = hdr.marshal()
	if err != nil {
		err = fmt.Errorf("marshal record header after crc: %w", err)
		w.recordErr(span, err)
		return err
	}

	if _, err := w.rdatFh.WriteAt(hdrRaw, w.rdatCursor); err != nil {
		err = core.NewIOError("write record header", w.rdatFh.Name(), err)
		w.recordErr(span, err)
		return err
	}
	if _, err := w.rdatFh.WriteAt(bodyBuf.Bytes(), w.rdatCursor+recordHeaderBytes); err != nil {
		err = core.NewIOError("write record body", w.rdatFh.Name(), err)
		w.recordErr(span, err)
		return err
	}
	if pad > 0 {
		if _, err := w.rdatFh.WriteAt(padRaw, w.rdatCursor+recordHeaderBytes+int64(bodyLen)); err != nil {
			err = core.NewIOError("write record pad", w.rdatFh.Name(), err)
			w.recordErr(span, err)
			return err
		}
	}

	idxRaw, err := idx.marshal()
	if err != nil {
		err = fmt.Errorf("marshal record index entry: %w", err)
		w.recordErr(span, err)
		return err
	}
	if _, err := w.ridxFh.WriteAt(idxRaw, w.ridxCursor); err != nil {
		err = core.NewIOError("write record index entry", w.ridxFh.Name(), err)
		w.recordErr(span, err)
		return err
	}

	recordSize := int64(recordHeaderBytes) + int64(bodyLen) + int64(pad)
	w.rdatHeader.BodyCRC = core.CRCUpdate(hdrRaw, w.rdatHeader.BodyCRC)
	w.rdatHeader.BodyCRC = core.CRCUpdate(bodyBuf.Bytes(), w.rdatHeader.BodyCRC)
	w.rdatHeader.BodyCRC = core.CRCUpdate(padRaw, w.rdatHeader.BodyCRC)
	w.ridxHeader.BodyCRC = core.CRCUpdate(idxRaw, w.ridxHeader.BodyCRC)

	if w.rdatHeader.NumberOfEntries == 0 {
		w.rdatHeader.StartTime = t
		w.ridxHeader.StartTime = t
	}
	w.rdatHeader.EndTime = t
	w.ridxHeader.EndTime = t
	if recordSize > w.rdatHeader.MaximumEntrySize {
		w.rdatHeader.MaximumEntrySize = recordSize
	}
	if int64(recordIndexEntryBytes) > w.ridxHeader.MaximumEntrySize {
		w.ridxHeader.MaximumEntrySize = int64(recordIndexEntryBytes)
	}
	w.rdatHeader.NumberOfEntries++
	w.ridxHeader.NumberOfEntries++

	w.rdatCursor += recordSize
	w.ridxCursor += int64(recordIndexEntryBytes)

	if err := header.Rewrite(w.rdatFh, w.rdatHeader, w.rdatCursor); err != nil {
		w.recordErr(span, err)
		return err
	}
	if err := header.Rewrite(w.ridxFh, w.ridxHeader, w.ridxCursor); err != nil {
		w.recordErr(span, err)
		return err
	}
	w.logger.Debug("wrote annotation record", "kind", typeStr, "time", t, "bytes", recordSize)
	return nil
}

func (w *Writer) recordErr(span trace.Span, err error) {
	w.logger.Error("annotation write failed", "error", err)
	if span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// Close closes both file handles. Record bodies and both universal
// headers are already durable after every Write, so Close does no
// further flushing.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	rdatErr := w.rdatFh.Close()
	ridxErr := w.ridxFh.Close()
	var lockErr error
	if w.lockRelease != nil {
		lockErr = w.lockRelease()
	}
	if rdatErr != nil {
		w.logger.Error("close record data file", "error", rdatErr)
		return rdatErr
	}
	if ridxErr != nil {
		w.logger.Error("close record index file", "error", ridxErr)
		return ridxErr
	}
	if lockErr != nil {
		w.logger.Error("release annotation writer lock", "error", lockErr)
		return lockErr
	}
	w.logger.Info("annotation writer closed")
	return nil
}
