// Package flustertest provides fixtures for tests that need a working pool
// without a physical floppy drive.
package flustertest

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"

	"github.com/flusterfs/fluster/block"
	"github.com/flusterfs/fluster/pool"
)

// NewVirtualPool loads a brand-new pool backed by virtual disk files in a
// temporary directory. The pool arrives fully bootstrapped: disk 0 with the
// pool header, disk 1 with the root inode and root directory.
func NewVirtualPool(t *testing.T) *pool.Pool {
	t.Helper()
	p, err := pool.Load(pool.Config{VirtualDiskDir: t.TempDir()})
	require.NoError(t, err, "loading a fresh virtual pool must succeed")
	return p
}

// ReopenVirtualPool loads a pool from an existing virtual disk directory, the
// way a remount would.
func ReopenVirtualPool(t *testing.T, dir string) *pool.Pool {
	t.Helper()
	p, err := pool.Load(pool.Config{VirtualDiskDir: dir})
	require.NoError(t, err, "reopening the virtual pool must succeed")
	return p
}

// NewMemoryDevice returns an in-memory block device of exactly one disk,
// optionally seeded with initial contents.
func NewMemoryDevice(t *testing.T, seed []byte) block.Device {
	t.Helper()
	storage := make([]byte, block.DiskSizeBytes)
	require.LessOrEqual(t, len(seed), len(storage), "seed larger than a disk")
	copy(storage, seed)
	return bytesextra.NewReadWriteSeeker(storage)
}
