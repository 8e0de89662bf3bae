package format_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flusterfs/fluster/block"
	"github.com/flusterfs/fluster/format"
)

func TestFindFreeScansMSBFirst(t *testing.T) {
	var table format.AllocationTable
	free := table.FindFree(3)
	// Block 0 is bit 7 of byte 0, so a fresh table hands out 0, 1, 2.
	assert.Equal(t, []uint16{0, 1, 2}, free)
}

func TestAllocateSetsLiteralBits(t *testing.T) {
	var table format.AllocationTable
	table.Allocate([]uint16{0, 1, 2})
	// Blocks 0..2 are the top three bits of the first byte.
	assert.Equal(t, byte(0b11100000), table[0])
	assert.Equal(t, byte(0b00100000), func() byte {
		var second format.AllocationTable
		second.Allocate([]uint16{10})
		return second[1]
	}())
}

func TestAllocateThenTestThenFree(t *testing.T) {
	var table format.AllocationTable

	require.False(t, table.IsAllocated(100))
	assert.Equal(t, uint16(1), table.Allocate([]uint16{100}))
	assert.True(t, table.IsAllocated(100))

	assert.Equal(t, uint16(1), table.Free([]uint16{100}))
	assert.False(t, table.IsAllocated(100))
}

func TestFindFreeReturnsOnlyClearBits(t *testing.T) {
	var table format.AllocationTable
	first := table.FindFree(10)
	table.Allocate(first)

	second := table.FindFree(10)
	for _, index := range second {
		assert.False(t, table.IsAllocated(index))
		for _, previous := range first {
			assert.NotEqual(t, previous, index)
		}
	}
}

func TestFindFreeShortResult(t *testing.T) {
	var table format.AllocationTable
	everything := table.FindFree(block.BlocksPerDisk)
	require.Len(t, everything, block.BlocksPerDisk)
	table.Allocate(everything[:block.BlocksPerDisk-5])

	short := table.FindFree(100)
	assert.Len(t, short, 5)
}

func TestDoubleAllocatePanics(t *testing.T) {
	var table format.AllocationTable
	table.Allocate([]uint16{7})
	assert.Panics(t, func() { table.Allocate([]uint16{7}) })
}

func TestDoubleFreePanics(t *testing.T) {
	var table format.AllocationTable
	assert.Panics(t, func() { table.Free([]uint16{7}) })
}

func TestOutOfRangeBlockPanics(t *testing.T) {
	var table format.AllocationTable
	assert.Panics(t, func() { table.Allocate([]uint16{block.BlocksPerDisk}) })
	assert.Panics(t, func() { table.IsAllocated(block.BlocksPerDisk) })
}

func TestFreeCount(t *testing.T) {
	var table format.AllocationTable
	assert.Equal(t, uint32(block.BlocksPerDisk), table.FreeCount())
	table.Allocate([]uint16{0, 1, 2, 500})
	assert.Equal(t, uint32(block.BlocksPerDisk-4), table.FreeCount())
}
