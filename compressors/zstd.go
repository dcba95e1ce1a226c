package compressors

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/msel-source/mefwriter/core"
	"github.com/klauspost/compress/zstd"
)

// ZstdCompressor is the "zstd" entropy stage: the best compression ratio
// of the four backends, at the cost of slower block flushes. Encoders and
// decoders are pooled since both are expensive to construct and a channel
// writer calls into this on every block flush.
type ZstdCompressor struct {
	encoders sync.Pool
	decoders sync.Pool
}

// zstdBlockReader exposes a decoded block as an io.ReadCloser; the block
// is already fully decoded into memory by the time Decompress returns it,
// so Close has nothing left to release.
type zstdBlockReader struct {
	*bytes.Reader
}

func (r *zstdBlockReader) Close() error { return nil }

var _ core.Compressor = (*ZstdCompressor)(nil)
var _ io.ReadCloser = (*zstdBlockReader)(nil)

func NewZstdCompressor() *ZstdCompressor {
	c := &ZstdCompressor{}
	c.encoders.New = func() interface{} {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil
		}
		return enc
	}
	c.decoders.New = func() interface{} {
		dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(100*1024*1024))
		if err != nil {
			return nil
		}
		return dec
	}
	return c
}

func (c *ZstdCompressor) takeEncoder(dst io.Writer) (*zstd.Encoder, error) {
	v := c.encoders.Get()
	enc, ok := v.(*zstd.Encoder)
	if !ok {
		return nil, fmt.Errorf("zstd: encoder pool returned no encoder")
	}
	enc.Reset(dst)
	return enc, nil
}

func (c *ZstdCompressor) takeDecoder(src io.Reader) (*zstd.Decoder, error) {
	v := c.decoders.Get()
	dec, ok := v.(*zstd.Decoder)
	if !ok {
		return nil, fmt.Errorf("zstd: decoder pool returned no decoder")
	}
	if err := dec.Reset(src); err != nil {
		c.decoders.Put(dec)
		return nil, fmt.Errorf("zstd decoder reset: %w", err)
	}
	return dec, nil
}

func (c *ZstdCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.CompressTo(&buf, data); err != nil {
		return nil, err
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func (c *ZstdCompressor) Decompress(data []byte) (io.ReadCloser, error) {
	dec, err := c.takeDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer c.decoders.Put(dec)

	decoded, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress block: %w", err)
	}

	return &zstdBlockReader{Reader: bytes.NewReader(decoded)}, nil
}

func (c *ZstdCompressor) Type() core.CompressionType {
	return core.CompressionZSTD
}

// CompressTo compresses src into dst using a pooled encoder, closing it
// (which flushes the frame) before returning the encoder to the pool.
func (c *ZstdCompressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	enc, err := c.takeEncoder(dst)
	if err != nil {
		return err
	}
	defer c.encoders.Put(enc)

	if _, err := enc.Write(src); err != nil {
		_ = enc.Close()
		return fmt.Errorf("zstd compress write error: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("zstd compress close error: %w", err)
	}
	return nil
}
