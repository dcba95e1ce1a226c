package core

import "hash/crc32"

// CRCStart is the seed value used for every CRC-32/IEEE checksum in the
// container format, matching the convention of an empty running checksum.
const CRCStart uint32 = 0xFFFFFFFF

// CRCUpdate folds data into a running checksum value.
func CRCUpdate(data []byte, running uint32) uint32 {
	return crc32.Update(running, crc32.IEEETable, data)
}

// CRCCalculate computes the checksum of a single buffer from CRCStart.
func CRCCalculate(data []byte) uint32 {
	return CRCUpdate(data, CRCStart)
}
