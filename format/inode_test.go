package format_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flusterfs/fluster/block"
	"github.com/flusterfs/fluster/errors"
	"github.com/flusterfs/fluster/format"
)

func sampleTimestamp(seconds uint64) format.Timestamp {
	return format.Timestamp{Seconds: seconds, Nanos: 123456789}
}

func sampleFileInode() format.Inode {
	inode := format.NewFileInode(block.DiskPointer{Disk: 2, Block: 40}, sampleTimestamp(1_700_000_000))
	inode.Size = 0xDEADBEEF
	return inode
}

func sampleDirectoryInode() format.Inode {
	return format.NewDirectoryInode(block.DiskPointer{Disk: 1, Block: 9}, sampleTimestamp(1_650_000_000))
}

func TestInodeSerializedSizes(t *testing.T) {
	assert.Equal(t, 37, sampleFileInode().SerializedSize())
	assert.Equal(t, 29, sampleDirectoryInode().SerializedSize())
	assert.Len(t, sampleFileInode().ToBytes(), 37)
	assert.Len(t, sampleDirectoryInode().ToBytes(), 29)
}

func TestInodeRoundTrip(t *testing.T) {
	for _, inode := range []format.Inode{sampleFileInode(), sampleDirectoryInode()} {
		parsed := format.InodeFromBytes(inode.ToBytes())
		assert.Equal(t, inode, parsed)
	}
}

func TestInodeFromBytesIgnoresTrailingBytes(t *testing.T) {
	inode := sampleDirectoryInode()
	padded := append(inode.ToBytes(), 0xFF, 0xFF, 0xFF)
	assert.Equal(t, inode, format.InodeFromBytes(padded))
}

func TestInodeBlockAddAndRead(t *testing.T) {
	ib := format.NewInodeBlock(block.DiskPointer{Disk: 1, Block: 1})
	require.Equal(t, uint16(format.ContainerPayload), ib.BytesFree)

	first, err := ib.TryAddInode(sampleDirectoryInode())
	require.NoError(t, err)
	assert.Equal(t, uint16(0), first)

	second, err := ib.TryAddInode(sampleFileInode())
	require.NoError(t, err)
	assert.Equal(t, uint16(29), second)
	assert.Equal(t, uint16(format.ContainerPayload-29-37), ib.BytesFree)

	read, err := ib.ReadInode(second)
	require.NoError(t, err)
	assert.Equal(t, sampleFileInode(), read)
}

func TestInodeBlockRoundTrip(t *testing.T) {
	origin := block.DiskPointer{Disk: 3, Block: 77}
	ib := format.NewInodeBlock(origin)
	ib.SetNext(block.DiskPointer{Disk: 4, Block: 1})
	_, err := ib.TryAddInode(sampleFileInode())
	require.NoError(t, err)
	_, err = ib.TryAddInode(sampleDirectoryInode())
	require.NoError(t, err)

	raw := ib.ToBlock()
	assert.True(t, block.CheckCRC(&raw.Data))
	assert.Equal(t, origin, raw.Origin)

	parsed := format.InodeBlockFromBlock(&raw)
	assert.Equal(t, ib, parsed)
}

func TestInodeBlockRemoveLeavesHole(t *testing.T) {
	ib := format.NewInodeBlock(block.DiskPointer{Disk: 1, Block: 1})
	first, err := ib.TryAddInode(sampleDirectoryInode())
	require.NoError(t, err)
	_, err = ib.TryAddInode(sampleFileInode())
	require.NoError(t, err)

	freeBefore := ib.BytesFree
	require.NoError(t, ib.RemoveInode(first))
	assert.Equal(t, freeBefore+29, ib.BytesFree)

	_, err = ib.ReadInode(first)
	assert.ErrorIs(t, err, errors.ErrNotPresent)

	// A directory inode fits exactly in the hole and must reuse it.
	offset, err := ib.TryAddInode(sampleDirectoryInode())
	require.NoError(t, err)
	assert.Equal(t, first, offset)
}

func TestInodeBlockFragmentation(t *testing.T) {
	ib := format.NewInodeBlock(block.DiskPointer{Disk: 1, Block: 1})

	// Fill the block with directory inodes: 501 / 29 = 17 fit, 8 bytes spare.
	var offsets []uint16
	for {
		offset, err := ib.TryAddInode(sampleDirectoryInode())
		if err != nil {
			assert.ErrorIs(t, err, errors.ErrOutOfRoom)
			break
		}
		offsets = append(offsets, offset)
	}
	require.Len(t, offsets, 17)

	// Free a 29-byte hole: a 37-byte file inode now passes the free-bytes
	// check (29 + 8 spare = 37) but cannot fit contiguously.
	require.NoError(t, ib.RemoveInode(offsets[3]))
	_, err := ib.TryAddInode(sampleFileInode())
	assert.ErrorIs(t, err, errors.ErrBlockFragmented)
}

func TestInodeBlockRemoveBadOffset(t *testing.T) {
	ib := format.NewInodeBlock(block.DiskPointer{Disk: 1, Block: 1})
	_, err := ib.TryAddInode(sampleFileInode())
	require.NoError(t, err)

	// Offset into the middle of an inode: the size byte there (0xAD) has
	// reserved bits set.
	assert.ErrorIs(t, ib.RemoveInode(3), errors.ErrImpossible)
	// Way out of bounds.
	assert.ErrorIs(t, ib.RemoveInode(600), errors.ErrImpossible)
}

func TestInodeBlockUpdateInode(t *testing.T) {
	ib := format.NewInodeBlock(block.DiskPointer{Disk: 1, Block: 1})
	offset, err := ib.TryAddInode(sampleFileInode())
	require.NoError(t, err)

	updated := sampleFileInode()
	updated.Size = 42
	updated.Modified = sampleTimestamp(1_800_000_000)
	require.NoError(t, ib.UpdateInode(offset, updated))

	read, err := ib.ReadInode(offset)
	require.NoError(t, err)
	assert.Equal(t, updated, read)

	// Replacing a file inode with a directory inode shrinks it; forbidden.
	assert.Panics(t, func() { _ = ib.UpdateInode(offset, sampleDirectoryInode()) })
}

func TestTimestampRoundTripThroughInode(t *testing.T) {
	ts := sampleTimestamp(1_234_567_890)
	inode := format.NewDirectoryInode(block.DiskPointer{Disk: 1, Block: 2}, ts)
	parsed := format.InodeFromBytes(inode.ToBytes())
	assert.Equal(t, ts, parsed.Created)
	assert.Equal(t, int64(1_234_567_890), parsed.Created.Time().Unix())
}
