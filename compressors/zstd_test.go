package compressors

import (
	"bytes"
	"io"
	"testing"

	"github.com/msel-source/mefwriter/core"
)

func TestZstdCompressorRoundTrip(t *testing.T) {
	compressor := NewZstdCompressor()

	if compressor.Type() != core.CompressionZSTD {
		t.Errorf("Type() got = %v, want %v", compressor.Type(), core.CompressionZSTD)
	}

	data := deltaStreamFixture()

	compressed, err := compressor.Compress(data)
	if err != nil {
		t.Fatalf("Compress() returned an unexpected error: %v", err)
	}

	reader, err := compressor.Decompress(compressed)
	if err != nil {
		t.Fatalf("Decompress() returned an unexpected error: %v", err)
	}
	defer reader.Close()

	decoded, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("failed to read decompressed data: %v", err)
	}
	if !bytes.Equal(data, decoded) {
		t.Errorf("decompressed data does not match original data")
	}
}

func TestZstdCompressorCompressTo(t *testing.T) {
	compressor := NewZstdCompressor()
	data := deltaStreamFixture()

	var buf bytes.Buffer
	if err := compressor.CompressTo(&buf, data); err != nil {
		t.Fatalf("CompressTo() returned an unexpected error: %v", err)
	}

	reader, err := compressor.Decompress(buf.Bytes())
	if err != nil {
		t.Fatalf("Decompress() after CompressTo() returned an unexpected error: %v", err)
	}
	defer reader.Close()

	decoded, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("failed to read decompressed data: %v", err)
	}
	if !bytes.Equal(data, decoded) {
		t.Errorf("decompressed data from CompressTo does not match original data")
	}
}

func TestZstdCompressorEmptyInput(t *testing.T) {
	compressor := NewZstdCompressor()

	compressed, err := compressor.Compress(nil)
	if err != nil {
		t.Fatalf("Compress(nil) returned an unexpected error: %v", err)
	}

	reader, err := compressor.Decompress(compressed)
	if err != nil {
		t.Fatalf("Decompress() of empty input returned an unexpected error: %v", err)
	}
	defer reader.Close()

	decoded, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("failed to read decompressed data: %v", err)
	}
	if len(decoded) != 0 {
		t.Errorf("expected empty decompressed output, got %d bytes", len(decoded))
	}
}

// TestZstdCompressorReusesPooledEncoder exercises the same compressor
// across several calls so the pooled encoder/decoder path (Reset between
// uses, not just construction) is actually covered.
func TestZstdCompressorReusesPooledEncoder(t *testing.T) {
	compressor := NewZstdCompressor()
	data := deltaStreamFixture()

	for i := 0; i < 3; i++ {
		compressed, err := compressor.Compress(data)
		if err != nil {
			t.Fatalf("Compress() call %d returned an unexpected error: %v", i, err)
		}
		reader, err := compressor.Decompress(compressed)
		if err != nil {
			t.Fatalf("Decompress() call %d returned an unexpected error: %v", i, err)
		}
		decoded, err := io.ReadAll(reader)
		reader.Close()
		if err != nil {
			t.Fatalf("read call %d: %v", i, err)
		}
		if !bytes.Equal(data, decoded) {
			t.Errorf("call %d: decompressed data does not match original", i)
		}
	}
}
