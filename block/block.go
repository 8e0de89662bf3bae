// Package block implements the 512-byte block primitives: the raw block
// container, disk pointers, CRC protection and direct device I/O.
package block

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// BytesPerBlock is the size of one block on disk.
	BytesPerBlock = 512
	// BlocksPerDisk is the number of blocks on a 3.5" HD floppy.
	BlocksPerDisk = 2880
	// DiskSizeBytes is the exact size of a disk device or image file.
	DiskSizeBytes = BytesPerBlock * BlocksPerDisk
	// CRCOffset is where the trailing CRC-32C begins within a block.
	CRCOffset = 508
)

// NoDisk and NoBlock are the sentinel halves of a pointer with no destination.
const (
	NoDisk  = math.MaxUint16
	NoBlock = math.MaxUint16
)

// DiskPointer addresses a specific block on a specific disk in the pool.
type DiskPointer struct {
	Disk  uint16
	Block uint16
}

// FinalPointer returns the sentinel pointer that terminates block chains.
func FinalPointer() DiskPointer {
	return DiskPointer{Disk: NoDisk, Block: NoBlock}
}

// NoDestination reports whether this pointer doesn't go anywhere.
func (p DiskPointer) NoDestination() bool {
	return p.Disk == NoDisk || p.Block == NoBlock
}

// ToBytes serializes the pointer as disk then block, both little-endian.
func (p DiskPointer) ToBytes() [4]byte {
	var buffer [4]byte
	binary.LittleEndian.PutUint16(buffer[:2], p.Disk)
	binary.LittleEndian.PutUint16(buffer[2:], p.Block)
	return buffer
}

// PointerFromBytes is the inverse of ToBytes.
func PointerFromBytes(bytes [4]byte) DiskPointer {
	return DiskPointer{
		Disk:  binary.LittleEndian.Uint16(bytes[:2]),
		Block: binary.LittleEndian.Uint16(bytes[2:]),
	}
}

func (p DiskPointer) String() string {
	if p.NoDestination() {
		return "(nowhere)"
	}
	return fmt.Sprintf("(disk %d block %d)", p.Disk, p.Block)
}

// Block is a raw 512-byte block together with its in-memory identity. The
// origin is never serialized; it exists so error reports and cache keys stay
// unambiguous.
type Block struct {
	// Origin is where this block came from, or is headed.
	Origin DiskPointer
	// Data is the block in its entirety, CRC included.
	Data [BytesPerBlock]byte
}
