package compressors

import (
	"bytes"
	"io"
	"testing"

	"github.com/msel-source/mefwriter/core"
)

func TestSnappyCompressorRoundTrip(t *testing.T) {
	compressor := NewSnappyCompressor()

	if compressor.Type() != core.CompressionSnappy {
		t.Errorf("Type() got = %v, want %v", compressor.Type(), core.CompressionSnappy)
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

func TestSnappyCompressorCompressTo(t *testing.T) {
	compressor := NewSnappyCompressor()
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

func TestSnappyCompressorEmptyInput(t *testing.T) {
	compressor := NewSnappyCompressor()

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
