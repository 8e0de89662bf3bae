// Package format implements the on-disk layouts: the per-disk allocation
// bitmap, the pool and standard-disk headers, and the three container block
// types (inode, directory, file-extent) with their item codecs.
package format

import (
	"fmt"

	"github.com/flusterfs/fluster/block"
)

// TableSize is the size of the allocation bitmap: one bit per block.
const TableSize = block.BlocksPerDisk / 8

// AllocationTable is a per-disk block usage bitmap. It is indexed literally:
// block n is bit 7-(n%8) of byte n/8, so block 0 is the highest bit of the
// first byte.
//
// Allocation state is authoritative. Misusing the table indicates a logic
// error elsewhere, so double-allocating or double-freeing a block panics
// rather than returning an error.
type AllocationTable [TableSize]byte

// FindFree scans left to right for unallocated blocks and returns up to
// `count` of their indices. A short result means the disk does not have
// enough room; the length tells the caller how many it can actually get.
func (table *AllocationTable) FindFree(count uint16) []uint16 {
	free := make([]uint16, 0, count)
	if count == 0 {
		return free
	}
	for byteIndex, b := range table {
		for bit := 0; bit < 8; bit++ {
			if (b<<bit)&0b10000000 == 0 {
				free = append(free, uint16(byteIndex*8+bit))
				if len(free) == int(count) {
					return free
				}
			}
		}
	}
	return free
}

// Allocate marks the given blocks as used and returns how many were marked.
// Panics if any block is already allocated.
func (table *AllocationTable) Allocate(blocks []uint16) uint16 {
	return table.update(blocks, true)
}

// Free marks the given blocks as unused and returns how many were cleared.
// Panics if any block is already free.
func (table *AllocationTable) Free(blocks []uint16) uint16 {
	return table.update(blocks, false)
}

func (table *AllocationTable) update(blocks []uint16, allocate bool) uint16 {
	if len(blocks) == 0 {
		panic("should allocate or free at least one block")
	}
	for _, blockIndex := range blocks {
		if blockIndex >= block.BlocksPerDisk {
			panic(fmt.Sprintf("block %d is past the end of the table", blockIndex))
		}
		byteIndex := blockIndex / 8
		testBit := byte(1) << (7 - (blockIndex % 8))
		isSet := table[byteIndex]&testBit != 0

		switch {
		case allocate && isSet:
			panic(fmt.Sprintf("cannot allocate block %d: already allocated", blockIndex))
		case !allocate && !isSet:
			panic(fmt.Sprintf("cannot free block %d: already free", blockIndex))
		case allocate:
			table[byteIndex] |= testBit
		default:
			table[byteIndex] ^= testBit
		}
	}
	return uint16(len(blocks))
}

// IsAllocated checks a single block's bit.
func (table *AllocationTable) IsAllocated(blockIndex uint16) bool {
	if blockIndex >= block.BlocksPerDisk {
		panic(fmt.Sprintf("block %d is past the end of the table", blockIndex))
	}
	return table[blockIndex/8]&(byte(1)<<(7-(blockIndex%8))) != 0
}

// FreeCount returns the number of unallocated blocks on the disk.
func (table *AllocationTable) FreeCount() uint32 {
	var used uint32
	for _, b := range table {
		for bit := 0; bit < 8; bit++ {
			if (b<<bit)&0b10000000 != 0 {
				used++
			}
		}
	}
	return block.BlocksPerDisk - used
}
