package core

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// UniversalHeaderBytes is the fixed on-disk size of a UniversalHeader,
// identical across every file in a session: metadata, data, index,
// record data, record index and manifest files all start with one.
const UniversalHeaderBytes = 1024

const (
	sessionNameBytes    = 256
	channelNameBytes    = 256
	anonymizedNameBytes = 256
	fileTypeStringBytes = 8
)

// UniversalHeader is the fixed-size preamble written at offset 0 of every
// file in a MEF session. header_CRC covers every byte of the header from
// byte 4 onward (everything after header_CRC, body_CRC included); body_CRC
// covers the file's payload and is filled in by the caller before the
// header is (re)written.
type UniversalHeader struct {
	HeaderCRC         uint32
	BodyCRC           uint32
	FileTypeString    string // up to 8 bytes, NUL-padded
	MEFVersionMajor   uint8
	MEFVersionMinor   uint8
	ByteOrderCode     uint8
	SessionName       string // up to 256 bytes, NUL-padded
	ChannelName       string // up to 256 bytes, NUL-padded
	AnonymizedName    string // up to 256 bytes, NUL-padded
	SegmentNumber     int32
	FileUUID          UUID
	LevelUUID         UUID
	StartTime         int64
	EndTime           int64
	NumberOfEntries   int64
	MaximumEntrySize  int64
}

// littleEndianByteOrderCode is the single byte-order value this
// implementation ever writes; readers that see anything else know the
// file came from a big-endian writer and must bail out.
const littleEndianByteOrderCode uint8 = 0

func fixedString(s string, n int) ([]byte, error) {
	if len(s) > n {
		return nil, fmt.Errorf("%q exceeds %d-byte field", s, n)
	}
	b := make([]byte, n)
	copy(b, s)
	return b, nil
}

func trimFixedString(b []byte) string {
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		return string(b)
	}
	return string(b[:i])
}

// MarshalBinary serializes the header to its fixed UniversalHeaderBytes
// on-disk representation. HeaderCRC is written as-is; callers compute it
// over bytes [4:] of the result before the final write.
func (h *UniversalHeader) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(UniversalHeaderBytes)

	if err := binary.Write(buf, binary.LittleEndian, h.HeaderCRC); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, h.BodyCRC); err != nil {
		return nil, err
	}

	ftype, err := fixedString(h.FileTypeString, fileTypeStringBytes)
	if err != nil {
		return nil, fmt.Errorf("file_type_string: %w", err)
	}
	buf.Write(ftype)

	buf.WriteByte(h.MEFVersionMajor)
	buf.WriteByte(h.MEFVersionMinor)
	buf.WriteByte(littleEndianByteOrderCode)

	session, err := fixedString(h.SessionName, sessionNameBytes)
	if err != nil {
		return nil, fmt.Errorf("session_name: %w", err)
	}
	buf.Write(session)

	channel, err := fixedString(h.ChannelName, channelNameBytes)
	if err != nil {
		return nil, fmt.Errorf("channel_name: %w", err)
	}
	buf.Write(channel)

	anon, err := fixedString(h.AnonymizedName, anonymizedNameBytes)
	if err != nil {
		return nil, fmt.Errorf("anonymized_name: %w", err)
	}
	buf.Write(anon)

	if err := binary.Write(buf, binary.LittleEndian, h.SegmentNumber); err != nil {
		return nil, err
	}
	buf.Write(h.FileUUID[:])
	buf.Write(h.LevelUUID[:])
	if err := binary.Write(buf, binary.LittleEndian, h.StartTime); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, h.EndTime); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, h.NumberOfEntries); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, h.MaximumEntrySize); err != nil {
		return nil, err
	}

	if buf.Len() > UniversalHeaderBytes {
		return nil, fmt.Errorf("universal header overflowed fixed size: %d > %d", buf.Len(), UniversalHeaderBytes)
	}
	out := make([]byte, UniversalHeaderBytes)
	copy(out, buf.Bytes())
	return out, nil
}

// UnmarshalBinary parses a UniversalHeaderBytes-length buffer written by
// MarshalBinary. It does not verify HeaderCRC; callers that care use
// core.CRCCalculate on b[4:] and compare against HeaderCRC themselves.
func (h *UniversalHeader) UnmarshalBinary(b []byte) error {
	if len(b) < UniversalHeaderBytes {
		return fmt.Errorf("universal header short read: got %d bytes, want %d", len(b), UniversalHeaderBytes)
	}
	r := bytes.NewReader(b)

	if err := binary.Read(r, binary.LittleEndian, &h.HeaderCRC); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &h.BodyCRC); err != nil {
		return err
	}

	ftype := make([]byte, fileTypeStringBytes)
	if _, err := r.Read(ftype); err != nil {
		return err
	}
	h.FileTypeString = trimFixedString(ftype)

	major, err := r.ReadByte()
	if err != nil {
		return err
	}
	minor, err := r.ReadByte()
	if err != nil {
		return err
	}
	order, err := r.ReadByte()
	if err != nil {
		return err
	}
	h.MEFVersionMajor, h.MEFVersionMinor, h.ByteOrderCode = major, minor, order

	session := make([]byte, sessionNameBytes)
	if _, err := r.Read(session); err != nil {
		return err
	}
	h.SessionName = trimFixedString(session)

	channel := make([]byte, channelNameBytes)
	if _, err := r.Read(channel); err != nil {
		return err
	}
	h.ChannelName = trimFixedString(channel)

	anon := make([]byte, anonymizedNameBytes)
	if _, err := r.Read(anon); err != nil {
		return err
	}
	h.AnonymizedName = trimFixedString(anon)

	if err := binary.Read(r, binary.LittleEndian, &h.SegmentNumber); err != nil {
		return err
	}
	if _, err := r.Read(h.FileUUID[:]); err != nil {
		return err
	}
	if _, err := r.Read(h.LevelUUID[:]); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &h.StartTime); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &h.EndTime); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &h.NumberOfEntries); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &h.MaximumEntrySize); err != nil {
		return err
	}
	return nil
}
