// Package header reads and writes the universal header every on-disk
// file in a session begins with.
package header

import (
	"fmt"
	"io"

	"github.com/msel-source/mefwriter/core"
	"github.com/msel-source/mefwriter/sys"
)

// Write serializes h and writes it at offset 0 of fh with WriteAt, leaving
// the cursor where it was. HeaderCRC is (re)computed here, last, over every
// byte from offset 4 onward (everything after the header_CRC field).
func Write(fh sys.FileHandle, h *core.UniversalHeader) error {
	h.HeaderCRC = 0
	raw, err := h.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal universal header: %w", err)
	}
	h.HeaderCRC = core.CRCCalculate(raw[4:])
	raw, err = h.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal universal header after crc: %w", err)
	}

	if _, err := fh.WriteAt(raw, 0); err != nil {
		return core.NewIOError("write universal header", fh.Name(), err)
	}
	return nil
}

// Rewrite is Write plus restoring the file cursor to cursor afterward, the
// pattern every flush/close path uses: seek to 0, overwrite the header in
// place, then resume appending where the caller left off.
func Rewrite(fh sys.FileHandle, h *core.UniversalHeader, cursor int64) error {
	if err := Write(fh, h); err != nil {
		return err
	}
	if _, err := fh.Seek(cursor, io.SeekStart); err != nil {
		return core.NewIOError("seek after header rewrite", fh.Name(), err)
	}
	return nil
}

// Read parses the universal header at offset 0 of fh with ReadAt, so fh's
// cursor is left where it was.
func Read(fh sys.FileHandle) (*core.UniversalHeader, error) {
	buf := make([]byte, core.UniversalHeaderBytes)
	if _, err := fh.ReadAt(buf, 0); err != nil {
		return nil, core.NewIOError("read universal header", fh.Name(), err)
	}
	h := &core.UniversalHeader{}
	if err := h.UnmarshalBinary(buf); err != nil {
		return nil, fmt.Errorf("unmarshal universal header: %w", err)
	}
	return h, nil
}
