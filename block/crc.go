package block

import (
	"encoding/binary"
	"hash/crc32"
)

// Every block written by the filesystem carries a CRC-32C (Castagnoli) over
// bytes 0..508 in its last four bytes, stored little-endian.

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// ComputeCRC calculates the checksum over the given bytes.
func ComputeCRC(data []byte) [4]byte {
	var buffer [4]byte
	binary.LittleEndian.PutUint32(buffer[:], crc32.Checksum(data, castagnoli))
	return buffer
}

// AddCRC recomputes the checksum of the block's payload and stores it in the
// trailing four bytes.
func AddCRC(data *[BytesPerBlock]byte) {
	crc := ComputeCRC(data[:CRCOffset])
	copy(data[CRCOffset:], crc[:])
}

// CheckCRC reports whether the stored checksum matches the block data.
func CheckCRC(data *[BytesPerBlock]byte) bool {
	existing := data[CRCOffset:]
	computed := ComputeCRC(data[:CRCOffset])
	return existing[0] == computed[0] &&
		existing[1] == computed[1] &&
		existing[2] == computed[2] &&
		existing[3] == computed[3]
}
