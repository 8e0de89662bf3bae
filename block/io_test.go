package block_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"

	"github.com/flusterfs/fluster/block"
	"github.com/flusterfs/fluster/errors"
)

func newMemoryDevice() block.Device {
	return bytesextra.NewReadWriteSeeker(make([]byte, block.DiskSizeBytes))
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	dev := newMemoryDevice()
	origin := block.DiskPointer{Disk: 3, Block: 17}

	written := block.Block{Origin: origin, Data: randomBlockData(t)}
	block.AddCRC(&written.Data)
	require.NoError(t, block.WriteDirect(dev, &written))

	read, err := block.ReadDirect(dev, origin, false)
	require.NoError(t, err)
	assert.Equal(t, written.Data, read.Data)
	assert.Equal(t, origin, read.Origin)
}

func TestReadRejectsBadCRC(t *testing.T) {
	dev := newMemoryDevice()
	origin := block.DiskPointer{Block: 5}

	written := block.Block{Origin: origin, Data: randomBlockData(t)}
	// No CRC stamped, so the read must fail...
	require.NoError(t, block.WriteDirect(dev, &written))
	_, err := block.ReadDirect(dev, origin, false)
	assert.ErrorIs(t, err, errors.ErrInvalidCRC)

	// ...unless the check is explicitly skipped.
	read, err := block.ReadDirect(dev, origin, true)
	require.NoError(t, err)
	assert.Equal(t, written.Data, read.Data)
}

func TestOutOfBoundsAccess(t *testing.T) {
	dev := newMemoryDevice()

	_, err := block.ReadDirect(dev, block.DiskPointer{Block: block.BlocksPerDisk}, false)
	assert.ErrorIs(t, err, errors.ErrInvalidOffset)

	bad := block.Block{Origin: block.DiskPointer{Block: block.BlocksPerDisk}}
	assert.ErrorIs(t, block.WriteDirect(dev, &bad), errors.ErrInvalidOffset)
}

func TestWriteLargeDirect(t *testing.T) {
	dev := newMemoryDevice()

	payload := make([]byte, block.BytesPerBlock*4)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	start := block.DiskPointer{Block: 10}
	require.NoError(t, block.WriteLargeDirect(dev, payload, start))

	for i := 0; i < 4; i++ {
		read, err := block.ReadDirect(dev, block.DiskPointer{Block: uint16(10 + i)}, true)
		require.NoError(t, err)
		assert.Equal(t, payload[i*block.BytesPerBlock:(i+1)*block.BytesPerBlock], read.Data[:])
	}

	// Partial blocks and runs off the end of the disk are rejected.
	assert.Error(t, block.WriteLargeDirect(dev, payload[:100], start))
	assert.ErrorIs(
		t,
		block.WriteLargeDirect(dev, payload, block.DiskPointer{Block: block.BlocksPerDisk - 2}),
		errors.ErrInvalidOffset,
	)
}

func TestPointerRoundTrip(t *testing.T) {
	pointers := []block.DiskPointer{
		{Disk: 0, Block: 0},
		{Disk: 1, Block: 2},
		{Disk: 0x1234, Block: 0xABCD},
		block.FinalPointer(),
	}
	for _, pointer := range pointers {
		assert.Equal(t, pointer, block.PointerFromBytes(pointer.ToBytes()))
	}
}

func TestFinalPointerGoesNowhere(t *testing.T) {
	assert.True(t, block.FinalPointer().NoDestination())
	assert.False(t, block.DiskPointer{Disk: 1, Block: 2}.NoDestination())
	// Either half being the sentinel is enough.
	assert.True(t, block.DiskPointer{Disk: block.NoDisk, Block: 7}.NoDestination())
	assert.True(t, block.DiskPointer{Disk: 7, Block: block.NoBlock}.NoDestination())
}
