package pool

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flusterfs/fluster/block"
	"github.com/flusterfs/fluster/errors"
	"github.com/flusterfs/fluster/format"
)

func testPool(t *testing.T) *Pool {
	t.Helper()
	return &Pool{
		Config:      Config{VirtualDiskDir: t.TempDir()},
		devices:     map[uint16]block.Device{},
		currentDisk: block.NoDisk,
	}
}

func writeDiskImage(t *testing.T, pool *Pool, number uint16, block0 *block.Block) {
	t.Helper()
	data := make([]byte, block.DiskSizeBytes)
	if block0 != nil {
		copy(data, block0.Data[:])
	}
	path := filepath.Join(pool.Config.VirtualDiskDir, diskFileName(number))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestDeduceBlankDisk(t *testing.T) {
	pool := testPool(t)
	writeDiskImage(t, pool, 3, nil)

	disk, err := pool.openDirect(3, false)
	require.NoError(t, err)
	assert.Equal(t, DiskBlank, disk.Kind)
}

func TestDeduceUnknownDisk(t *testing.T) {
	pool := testPool(t)
	var junk block.Block
	copy(junk.Data[:], "definitely not a header")
	writeDiskImage(t, pool, 3, &junk)

	disk, err := pool.openDirect(3, false)
	require.NoError(t, err)
	assert.Equal(t, DiskUnknown, disk.Kind)
}

func TestDeducePoolDisk(t *testing.T) {
	pool := testPool(t)
	headerBlock := format.NewPoolHeader().ToBlock()
	writeDiskImage(t, pool, 0, &headerBlock)

	disk, err := pool.openDirect(0, false)
	require.NoError(t, err)
	assert.Equal(t, DiskPool, disk.Kind)
	assert.Equal(t, uint16(0), disk.Number)
}

func TestDeduceStandardDisk(t *testing.T) {
	pool := testPool(t)
	headerBlock := format.NewStandardHeader(7).ToBlock()
	writeDiskImage(t, pool, 7, &headerBlock)

	disk, err := pool.openDirect(7, false)
	require.NoError(t, err)
	assert.Equal(t, DiskStandard, disk.Kind)
	assert.Equal(t, uint16(7), disk.Number)
	require.NotNil(t, disk.Header)
	assert.True(t, disk.Header.Table.IsAllocated(1))
}

func TestOpenDiskRejectsWrongNumberWhenNotInteractive(t *testing.T) {
	pool := testPool(t)
	// The image file is named disk2.fsr but carries disk 9's header, like a
	// mislabeled floppy.
	headerBlock := format.NewStandardHeader(9).ToBlock()
	writeDiskImage(t, pool, 2, &headerBlock)

	_, err := pool.openDisk(2)
	assert.ErrorIs(t, err, errors.ErrWrongDisk)
}

func TestOpenDiskRejectsBlank(t *testing.T) {
	pool := testPool(t)
	writeDiskImage(t, pool, 2, nil)
	_, err := pool.openDisk(2)
	assert.ErrorIs(t, err, errors.ErrUninitialized)
}

func TestCorruptHeaderFailsCRC(t *testing.T) {
	pool := testPool(t)
	headerBlock := format.NewStandardHeader(4).ToBlock()
	headerBlock.Data[200] ^= 0xFF
	writeDiskImage(t, pool, 4, &headerBlock)

	_, err := pool.openDirect(4, false)
	assert.ErrorIs(t, err, errors.ErrInvalidCRC)
}

func TestWipeZeroesWholeDisk(t *testing.T) {
	pool := testPool(t)
	headerBlock := format.NewStandardHeader(5).ToBlock()
	writeDiskImage(t, pool, 5, &headerBlock)

	dev, err := pool.deviceFor(5, false)
	require.NoError(t, err)
	require.NoError(t, pool.wipe(dev))

	data, err := os.ReadFile(filepath.Join(pool.Config.VirtualDiskDir, diskFileName(5)))
	require.NoError(t, err)
	for _, b := range data {
		require.Zero(t, b)
	}
}

func TestSwapCounting(t *testing.T) {
	pool := testPool(t)
	disk1 := format.NewStandardHeader(1).ToBlock()
	disk2 := format.NewStandardHeader(2).ToBlock()
	writeDiskImage(t, pool, 1, &disk1)
	writeDiskImage(t, pool, 2, &disk2)

	_, err := pool.openDisk(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), pool.Stats.Swaps)

	// Re-opening the same disk is not a swap.
	_, err = pool.openDisk(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), pool.Stats.Swaps)

	_, err = pool.openDisk(2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), pool.Stats.Swaps)
}
