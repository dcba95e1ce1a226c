package redcodec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/msel-source/mefwriter/core"
)

// Decode reverses Encode: given the same entropy stage and the number of
// samples a block claims, it reconstructs the original int32 vector. It
// exists primarily so tests can round-trip a Block without depending on
// an external RED decoder.
func Decode(entropy core.Compressor, compressed []byte, numberOfSamples uint32) ([]int32, error) {
	var diffBytes []byte
	if entropy != nil {
		rc, err := entropy.Decompress(compressed)
		if err != nil {
			return nil, fmt.Errorf("entropy stage decompress: %w", err)
		}
		defer rc.Close()
		diffBytes, err = io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read decompressed stream: %w", err)
		}
	} else {
		diffBytes = compressed
	}

	r := bytes.NewReader(diffBytes)
	samples := make([]int32, 0, numberOfSamples)
	var prev int32
	for i := uint32(0); i < numberOfSamples; i++ {
		zz, err := binary.ReadVarint(r)
		if err != nil {
			return nil, fmt.Errorf("read delta %d: %w", i, err)
		}
		delta := unzigzag(uint32(zz))
		var v int32
		if i == 0 {
			v = delta
		} else {
			v = prev + delta
		}
		prev = v
		samples = append(samples, v)
	}
	return samples, nil
}
