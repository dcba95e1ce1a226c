package compressors

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/msel-source/mefwriter/core"
)

// SnappyCompressor is the "snappy" entropy stage: a fast, low-ratio
// second pass over a block's zig-zag-varint delta stream. Good default
// for channels where flush latency matters more than file size.
type SnappyCompressor struct{}

// snappyBlockReader exposes a decoded block as an io.ReadCloser; snappy's
// block API already returns the whole payload in memory, so Close never
// has anything to release.
type snappyBlockReader struct {
	*bytes.Reader
}

func (r *snappyBlockReader) Close() error { return nil }

var _ core.Compressor = (*SnappyCompressor)(nil)
var _ io.ReadCloser = (*snappyBlockReader)(nil)

func NewSnappyCompressor() *SnappyCompressor {
	return &SnappyCompressor{}
}

func (c *SnappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (c *SnappyCompressor) Decompress(data []byte) (io.ReadCloser, error) {
	decoded, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("snappy decompress block: %w", err)
	}
	return &snappyBlockReader{Reader: bytes.NewReader(decoded)}, nil
}

func (c *SnappyCompressor) Type() core.CompressionType {
	return core.CompressionSnappy
}

// CompressTo encodes src with snappy's block format into dst, the same
// format Decompress expects (snappy's streaming writer is not used here:
// it would require a streaming reader on the decode side, and every
// block this codec emits is already a single, complete unit).
func (c *SnappyCompressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	dst.Write(snappy.Encode(nil, src))
	return nil
}
