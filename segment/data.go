package segment

import (
	"io"

	"github.com/msel-source/mefwriter/core"
	"github.com/msel-source/mefwriter/header"
	"github.com/msel-source/mefwriter/sys"
)

// dataWriter appends variable-length compressed blocks to a segment's
// .tdat file, maintaining its universal header's body CRC as it goes.
// Unlike index.Writer, entries here have no fixed width; offsets are
// recovered from file size on reopen rather than from entry count.
type dataWriter struct {
	fh     sys.FileHandle
	header *core.UniversalHeader
	offset int64
}

func createDataWriter(path string, h *core.UniversalHeader) (*dataWriter, error) {
	fh, err := sys.Create(path)
	if err != nil {
		return nil, core.NewIOError("create data file", path, err)
	}
	h.BodyCRC = core.CRCStart
	if err := header.Write(fh, h); err != nil {
		fh.Close()
		return nil, err
	}
	return &dataWriter{fh: fh, header: h, offset: int64(core.UniversalHeaderBytes)}, nil
}

func openDataWriter(path string) (*dataWriter, error) {
	fh, err := sys.OpenReadWrite(path)
	if err != nil {
		return nil, core.NewIOError("open data file", path, err)
	}
	h, err := header.Read(fh)
	if err != nil {
		fh.Close()
		return nil, err
	}
	end, err := fh.Seek(0, io.SeekEnd)
	if err != nil {
		fh.Close()
		return nil, core.NewIOError("seek data file to end", path, err)
	}
	return &dataWriter{fh: fh, header: h, offset: end}, nil
}

// append writes raw at the current end of the data file and returns the
// byte offset it was written at, for the caller to stamp into the
// matching index entry.
func (w *dataWriter) append(raw []byte) (int64, error) {
	start := w.offset
	if _, err := w.fh.WriteAt(raw, start); err != nil {
		return 0, core.NewIOError("write data block", w.fh.Name(), err)
	}
	w.header.BodyCRC = core.CRCUpdate(raw, w.header.BodyCRC)
	w.offset += int64(len(raw))
	return start, nil
}

func (w *dataWriter) sync() error {
	return header.Rewrite(w.fh, w.header, w.offset)
}

func (w *dataWriter) close() error {
	return w.fh.Close()
}
