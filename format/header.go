package format

import (
	"bytes"
	"encoding/binary"

	"github.com/flusterfs/fluster/block"
	"github.com/flusterfs/fluster/errors"
	"github.com/noxer/bytewriter"
)

// Magic identifies every header block in the pool.
const Magic = "Fluster!"

// Header flag bits. Bit 6 is reserved for dense disks, which are not
// implemented; a header carrying it is invalid.
const (
	// PoolHeaderBit must be set on the pool disk's header and on nothing else.
	PoolHeaderBit = 0b10000000
	// DenseHeaderBit is reserved.
	DenseHeaderBit = 0b01000000
	// StandardHeaderBit must be set on every standard disk's header.
	StandardHeaderBit = 0b00100000
)

// Byte offsets shared by both header layouts.
const (
	headerFlagsOffset  = 8
	headerNumberOffset = 9
	headerTableOffset  = 148
)

// poolFreeBlocksOffset is where the pool-wide free block counter lives.
const poolFreeBlocksOffset = 13

// HasMagic looks for the magic string at the front of a block.
func HasMagic(data []byte) bool {
	return bytes.Equal(data[:len(Magic)], []byte(Magic))
}

func isAllZero(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}

////////////////////////////////////////////////////////////////////////////////
// Pool header

// PoolHeader is block 0 of disk 0: pool-wide counters plus disk 0's own
// allocation bitmap.
type PoolHeader struct {
	Flags byte
	// HighestKnownDisk is the highest disk number the pool has created.
	HighestKnownDisk uint16
	// DiskWithNextFreeBlock is where the allocator starts searching. NoDisk
	// means none known.
	DiskWithNextFreeBlock uint16
	// FreeBlocks counts unallocated blocks across the whole pool.
	FreeBlocks uint32
	// Table maps block usage on the pool disk itself.
	Table AllocationTable
}

// NewPoolHeader builds the header for a brand-new pool: no standard disks yet,
// nowhere to allocate, and only the header block itself in use.
func NewPoolHeader() *PoolHeader {
	header := &PoolHeader{
		Flags:                 PoolHeaderBit,
		HighestKnownDisk:      0,
		DiskWithNextFreeBlock: block.NoDisk,
		FreeBlocks:            0,
	}
	header.Table.Allocate([]uint16{0})
	return header
}

// ToBlock serializes the header into its CRC-stamped block. Pool headers
// always live at (0, 0).
func (header *PoolHeader) ToBlock() block.Block {
	result := block.Block{Origin: block.DiskPointer{Disk: 0, Block: 0}}

	writer := bytewriter.New(result.Data[:])
	writer.Write([]byte(Magic))
	writer.Write([]byte{header.Flags})
	binary.Write(writer, binary.LittleEndian, header.HighestKnownDisk)
	binary.Write(writer, binary.LittleEndian, header.DiskWithNextFreeBlock)
	binary.Write(writer, binary.LittleEndian, header.FreeBlocks)
	copy(result.Data[headerTableOffset:headerTableOffset+TableSize], header.Table[:])

	block.AddCRC(&result.Data)
	return result
}

// ParsePoolHeader reconstructs the pool header from block 0 of disk 0.
func ParsePoolHeader(b *block.Block) (*PoolHeader, error) {
	if !HasMagic(b.Data[:]) {
		if isAllZero(b.Data[:]) {
			return nil, errors.ErrBlankHeader
		}
		return nil, errors.ErrInvalidHeader
	}

	// Pool headers carry exactly the pool bit; anything else set means this is
	// a different disk type or corruption.
	if b.Data[headerFlagsOffset] != PoolHeaderBit {
		return nil, errors.ErrInvalidHeader
	}

	header := &PoolHeader{
		Flags:                 b.Data[headerFlagsOffset],
		HighestKnownDisk:      binary.LittleEndian.Uint16(b.Data[headerNumberOffset : headerNumberOffset+2]),
		DiskWithNextFreeBlock: binary.LittleEndian.Uint16(b.Data[headerNumberOffset+2 : headerNumberOffset+4]),
		FreeBlocks:            binary.LittleEndian.Uint32(b.Data[poolFreeBlocksOffset : poolFreeBlocksOffset+4]),
	}
	copy(header.Table[:], b.Data[headerTableOffset:headerTableOffset+TableSize])
	return header, nil
}

////////////////////////////////////////////////////////////////////////////////
// Standard-disk header

// StandardHeader is block 0 of every disk numbered 1 and up.
type StandardHeader struct {
	Flags      byte
	DiskNumber uint16
	// Table maps block usage on this disk.
	Table AllocationTable
}

// NewStandardHeader builds the header for a freshly initialized standard
// disk. Blocks 0 and 1 are pre-marked: the header itself and the disk's first
// inode block.
func NewStandardHeader(diskNumber uint16) *StandardHeader {
	header := &StandardHeader{
		Flags:      StandardHeaderBit,
		DiskNumber: diskNumber,
	}
	header.Table.Allocate([]uint16{0, 1})
	return header
}

// ToBlock serializes the header into its CRC-stamped block at block 0.
func (header *StandardHeader) ToBlock() block.Block {
	result := block.Block{Origin: block.DiskPointer{Disk: header.DiskNumber, Block: 0}}

	writer := bytewriter.New(result.Data[:])
	writer.Write([]byte(Magic))
	writer.Write([]byte{header.Flags})
	binary.Write(writer, binary.LittleEndian, header.DiskNumber)
	copy(result.Data[headerTableOffset:headerTableOffset+TableSize], header.Table[:])

	block.AddCRC(&result.Data)
	return result
}

// ParseStandardHeader reconstructs a standard-disk header from block 0.
func ParseStandardHeader(b *block.Block) (*StandardHeader, error) {
	if !HasMagic(b.Data[:]) {
		if isAllZero(b.Data[:]) {
			return nil, errors.ErrBlankHeader
		}
		return nil, errors.ErrNotAHeaderBlock
	}

	flags := b.Data[headerFlagsOffset]
	diskNumber := binary.LittleEndian.Uint16(b.Data[headerNumberOffset : headerNumberOffset+2])

	// Disk zero, or anything with the pool bit, is the pool header and must
	// not be deserialized here.
	if diskNumber == 0 || flags&PoolHeaderBit != 0 {
		return nil, errors.ErrInvalidHeader
	}
	if flags != StandardHeaderBit {
		return nil, errors.ErrInvalidHeader
	}

	header := &StandardHeader{
		Flags:      flags,
		DiskNumber: diskNumber,
	}
	copy(header.Table[:], b.Data[headerTableOffset:headerTableOffset+TableSize])
	return header, nil
}
