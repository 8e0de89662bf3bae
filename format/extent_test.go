package format_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flusterfs/fluster/block"
	"github.com/flusterfs/fluster/errors"
	"github.com/flusterfs/fluster/format"
)

func TestExtentBlockRoundTrip(t *testing.T) {
	origin := block.DiskPointer{Disk: 2, Block: 10}
	eb := format.NewFileExtentBlock(origin)
	eb.NextBlock = block.DiskPointer{Disk: 5, Block: 99}

	local := format.FileExtent{Disk: 2, HasDisk: true, StartBlock: 100, Length: 8}
	remote := format.FileExtent{Disk: 3, HasDisk: true, StartBlock: 2, Length: 255}
	require.NoError(t, eb.TryAddExtent(local))
	require.NoError(t, eb.TryAddExtent(remote))
	// Local extents are 4 bytes, remote ones 6.
	assert.Equal(t, uint16(format.ContainerPayload-4-6), eb.BytesFree)

	raw := eb.ToBlock()
	assert.True(t, block.CheckCRC(&raw.Data))

	parsed := format.FileExtentBlockFromBlock(&raw)
	assert.Equal(t, eb, parsed)
}

func TestExtentBlockCapacity(t *testing.T) {
	eb := format.NewFileExtentBlock(block.DiskPointer{Disk: 1, Block: 10})
	extent := format.FileExtent{Disk: 1, HasDisk: true, StartBlock: 0, Length: 1}

	added := 0
	for {
		extent.StartBlock = uint16(added)
		if err := eb.TryAddExtent(extent); err != nil {
			assert.ErrorIs(t, err, errors.ErrOutOfRoom)
			break
		}
		added++
	}
	// 501 / 4 local extents.
	assert.Equal(t, 125, added)
}

func TestExtentPointersExpansion(t *testing.T) {
	extent := format.FileExtent{Disk: 4, HasDisk: true, StartBlock: 7, Length: 3}
	assert.Equal(t, []block.DiskPointer{
		{Disk: 4, Block: 7},
		{Disk: 4, Block: 8},
		{Disk: 4, Block: 9},
	}, extent.Pointers())
}

func TestExtentsFromPointersCoalesces(t *testing.T) {
	pointers := []block.DiskPointer{
		{Disk: 1, Block: 10},
		{Disk: 1, Block: 11},
		{Disk: 1, Block: 12},
		{Disk: 1, Block: 20}, // gap
		{Disk: 2, Block: 21}, // disk change
		{Disk: 2, Block: 22},
	}
	extents := format.ExtentsFromPointers(pointers)
	assert.Equal(t, []format.FileExtent{
		{Disk: 1, HasDisk: true, StartBlock: 10, Length: 3},
		{Disk: 1, HasDisk: true, StartBlock: 20, Length: 1},
		{Disk: 2, HasDisk: true, StartBlock: 21, Length: 2},
	}, extents)
}

func TestExtentsFromPointersCapsRunLength(t *testing.T) {
	pointers := make([]block.DiskPointer, 300)
	for i := range pointers {
		pointers[i] = block.DiskPointer{Disk: 1, Block: uint16(i)}
	}
	extents := format.ExtentsFromPointers(pointers)
	require.Len(t, extents, 2)
	assert.Equal(t, uint8(255), extents[0].Length)
	assert.Equal(t, uint16(255), extents[1].StartBlock)
	assert.Equal(t, uint8(45), extents[1].Length)
}

func TestExtentsFromPointersRoundTripThroughBlock(t *testing.T) {
	// Allocation results must survive the serialize/parse cycle intact.
	pointers := []block.DiskPointer{
		{Disk: 1, Block: 3},
		{Disk: 1, Block: 4},
		{Disk: 6, Block: 1000},
	}
	eb := format.NewFileExtentBlock(block.DiskPointer{Disk: 1, Block: 2})
	for _, extent := range format.ExtentsFromPointers(pointers) {
		require.NoError(t, eb.TryAddExtent(extent))
	}

	raw := eb.ToBlock()
	parsed := format.FileExtentBlockFromBlock(&raw)

	var expanded []block.DiskPointer
	for _, extent := range parsed.Extents {
		expanded = append(expanded, extent.Pointers()...)
	}
	assert.Equal(t, pointers, expanded)
}

func TestExtentBlockReset(t *testing.T) {
	origin := block.DiskPointer{Disk: 1, Block: 3}
	eb := format.NewFileExtentBlock(origin)
	require.NoError(t, eb.TryAddExtent(format.FileExtent{Disk: 1, HasDisk: true, StartBlock: 5, Length: 2}))
	eb.NextBlock = block.DiskPointer{Disk: 2, Block: 2}

	eb.Reset()
	assert.Equal(t, format.NewFileExtentBlock(origin), eb)
}

func TestZeroLengthExtentPanics(t *testing.T) {
	eb := format.NewFileExtentBlock(block.DiskPointer{Disk: 1, Block: 3})
	assert.Panics(t, func() {
		_ = eb.TryAddExtent(format.FileExtent{Disk: 1, HasDisk: true, StartBlock: 5})
	})
}
