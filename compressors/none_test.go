package compressors

import (
	"bytes"
	"io"
	"testing"

	"github.com/msel-source/mefwriter/core"
)

// deltaStreamFixture mimics the byte shape redcodec actually hands an
// entropy stage: a run of small zig-zag varints (mostly 1-2 bytes each)
// rather than arbitrary text.
func deltaStreamFixture() []byte {
	var buf []byte
	for i := 0; i < 200; i++ {
		v := byte((i * 3) % 11)
		buf = append(buf, v, v>>1)
	}
	return buf
}

func TestNoCompressionCompressor(t *testing.T) {
	compressor := &NoCompressionCompressor{}

	if compressor.Type() != core.CompressionNone {
		t.Errorf("Type() got = %v, want %v", compressor.Type(), core.CompressionNone)
	}

	data := deltaStreamFixture()

	compressed, err := compressor.Compress(data)
	if err != nil {
		t.Fatalf("Compress() returned an unexpected error: %v", err)
	}
	if !bytes.Equal(data, compressed) {
		t.Errorf("expected Compress() to return data unchanged")
	}

	decompressedReader, err := compressor.Decompress(compressed)
	if err != nil {
		t.Fatalf("Decompress() returned an unexpected error: %v", err)
	}
	defer decompressedReader.Close()

	decompressed, err := io.ReadAll(decompressedReader)
	if err != nil {
		t.Fatalf("failed to read decompressed data: %v", err)
	}
	if !bytes.Equal(data, decompressed) {
		t.Errorf("decompressed data does not match original data")
	}
}

func TestNoCompressionCompressorCompressTo(t *testing.T) {
	compressor := &NoCompressionCompressor{}
	data := deltaStreamFixture()

	var buf bytes.Buffer
	if err := compressor.CompressTo(&buf, data); err != nil {
		t.Fatalf("CompressTo() returned an unexpected error: %v", err)
	}
	if !bytes.Equal(data, buf.Bytes()) {
		t.Errorf("CompressTo() wrote unexpected bytes")
	}

	// A second call with shorter input must not leave stale bytes behind.
	if err := compressor.CompressTo(&buf, data[:4]); err != nil {
		t.Fatalf("CompressTo() second call returned an unexpected error: %v", err)
	}
	if !bytes.Equal(data[:4], buf.Bytes()) {
		t.Errorf("CompressTo() did not reset the destination buffer between calls")
	}
}

func BenchmarkNoCompressionCompress(b *testing.B) {
	compressor := &NoCompressionCompressor{}
	data := deltaStreamFixture()

	b.ResetTimer()
	b.SetBytes(int64(len(data)))
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_, _ = compressor.Compress(data)
	}
}

func BenchmarkNoCompressionDecompress(b *testing.B) {
	compressor := &NoCompressionCompressor{}
	data := deltaStreamFixture()
	compressed, _ := compressor.Compress(data)

	b.ResetTimer()
	b.SetBytes(int64(len(data)))
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		decompressedReader, _ := compressor.Decompress(compressed)
		_, _ = io.Copy(io.Discard, decompressedReader)
		_ = decompressedReader.Close()
	}
}
