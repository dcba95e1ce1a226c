package compressors

import (
	"fmt"

	"github.com/msel-source/mefwriter/core"
)

// New constructs the Compressor registered for t, used by the channel
// writer to select a channel's entropy-stage backend from configuration.
func New(t core.CompressionType) (core.Compressor, error) {
	switch t {
	case core.CompressionNone:
		return &NoCompressionCompressor{}, nil
	case core.CompressionSnappy:
		return NewSnappyCompressor(), nil
	case core.CompressionLZ4:
		return NewLz4Compressor(), nil
	case core.CompressionZSTD:
		return NewZstdCompressor(), nil
	default:
		return nil, fmt.Errorf("compressors: unknown compression type %v", t)
	}
}
