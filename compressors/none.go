package compressors

import (
	"bytes"
	"io"

	"github.com/msel-source/mefwriter/core"
)

// NoCompressionCompressor is the identity entropy stage: the RED-coded
// delta stream is written to (and read from) a block unchanged. Selected
// when a channel's compression backend is "none", e.g. for channels
// whose delta stream is already close to incompressible.
type NoCompressionCompressor struct{}

// passthroughReader wraps the uncompressed block bytes in an io.ReadCloser
// so NoCompressionCompressor satisfies the same Decompress signature as
// every other entropy stage.
type passthroughReader struct {
	*bytes.Reader
}

func (r *passthroughReader) Close() error { return nil }

var _ core.Compressor = (*NoCompressionCompressor)(nil)

func (c *NoCompressionCompressor) Compress(data []byte) ([]byte, error) {
	return data, nil
}

func (c *NoCompressionCompressor) Decompress(data []byte) (io.ReadCloser, error) {
	return &passthroughReader{Reader: bytes.NewReader(data)}, nil
}

func (c *NoCompressionCompressor) Type() core.CompressionType {
	return core.CompressionNone
}

// CompressTo copies src into dst with no transformation, avoiding the
// allocation Compress would otherwise force on every block flush.
func (c *NoCompressionCompressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	_, err := dst.Write(src)
	return err
}
