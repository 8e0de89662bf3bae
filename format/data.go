package format

import "github.com/flusterfs/fluster/block"

// Data blocks have a one-byte flag (currently unused), 507 bytes of file
// payload, and the trailing CRC.
const (
	// DataBlockOverhead is the flag byte plus the CRC.
	DataBlockOverhead = 5
	// DataCapacity is how many file bytes one data block holds.
	DataCapacity = block.BytesPerBlock - DataBlockOverhead
	// DataOffset is where file payload begins within a data block.
	DataOffset = 1
)
