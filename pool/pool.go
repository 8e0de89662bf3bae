// Package pool implements the pool of floppy disks behind the filesystem: the
// drive, the tiered block cache, the pool-wide allocator, and the inode,
// directory and file-chain operations on top of them.
//
// Everything hangs off a single Pool value that is passed explicitly to the
// layers above. The pool assumes it has exclusive access to the block device
// for the duration of every operation; the FUSE adapter serializes calls at
// its boundary.
package pool

import (
	"os"
	"path/filepath"

	"github.com/flusterfs/fluster/block"
	"github.com/flusterfs/fluster/errors"
	"github.com/flusterfs/fluster/format"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
)

// Config carries the knobs the CLI hands the pool.
type Config struct {
	// DevicePath is the floppy drive block device.
	DevicePath string
	// VirtualDiskDir, when set, replaces the physical drive with a directory
	// of per-disk image files named disk{N}.fsr. Used for development and
	// tests; waiting for real disk seeks is slow and loud.
	VirtualDiskDir string
	// BackupDir, when set, receives a mirror of each virtual disk file after
	// header updates.
	BackupDir string
	// Interactive enables disk-swap prompts on the terminal. Without it a
	// wrong or missing disk is an error instead of a prompt loop.
	Interactive bool
}

// RootDirectoryPointer is where the root directory always lives: disk 1,
// block 2.
var RootDirectoryPointer = block.DiskPointer{Disk: 1, Block: 2}

// rootInodePointer is where the root inode block lives.
var rootInodePointer = block.DiskPointer{Disk: 1, Block: 1}

// Pool is the filesystem context: the pool header, the cache, drive state and
// statistics, owned exclusively by the caller.
type Pool struct {
	Config Config
	Header *format.PoolHeader
	// LatestInodeWrite points at the inode block that most recently accepted
	// an inode. Advisory only; never persisted, reseeded each launch.
	LatestInodeWrite block.DiskPointer
	Stats            PoolStatistics

	cache cache

	// devices caches open virtual-disk files by disk number. In real-drive
	// mode the single device handle lives under drive instead.
	devices map[uint16]block.Device
	drive   block.Device
	// currentDisk is the disk currently in the drive; NoDisk before the first
	// open.
	currentDisk uint16
}

// Load opens (or creates) the pool and returns a ready-to-use context.
//
// If disk 0 is blank the user is offered a brand-new pool; with virtual disks
// the pool is created immediately. A brand-new pool also bootstraps disk 1
// with the root inode and root directory.
func Load(config Config) (*Pool, error) {
	log.Debug("loading pool information")

	pool := &Pool{
		Config:           config,
		LatestInodeWrite: rootInodePointer,
		devices:          map[uint16]block.Device{},
		currentDisk:      block.NoDisk,
	}

	header, err := pool.readPoolHeader()
	if err != nil {
		return nil, err
	}
	pool.Header = header

	// A pool that has never seen a standard disk needs first-time setup: disk
	// 1, the root inode block and the root directory.
	if pool.Header.HighestKnownDisk == 0 {
		log.Debug("brand new pool, running first time setup")
		disk, err := pool.addStandardDisk()
		if err != nil {
			return nil, err
		}
		if disk.Number != 1 {
			panic("first standard disk did not come out as disk 1")
		}
		pool.Header.DiskWithNextFreeBlock = 1
		if err := pool.FlushHeader(); err != nil {
			return nil, err
		}
	}

	return pool, nil
}

// readPoolHeader reads block 0 of disk 0, offering to initialize a new pool
// when the disk is blank.
func (pool *Pool) readPoolHeader() (*format.PoolHeader, error) {
	pool.promptf("Please insert the pool root disk (Disk 0), then press enter.")

	for {
		disk, err := pool.openDirect(0, true)
		if err != nil {
			if errors.IsTransient(err) {
				log.WithError(err).Info("opening the pool disk failed, but was not fatal")
				continue
			}
			return nil, err
		}

		switch disk.Kind {
		case DiskPool:
			return disk.poolHeader, nil
		case DiskBlank:
			header, err := pool.createNewPool(disk)
			if err != nil {
				return nil, err
			}
			if header != nil {
				return header, nil
			}
			// The user declined; ask again.
			pool.promptf("Please insert the pool root disk (Disk 0), then press enter.")
		default:
			// Some other disk is in the drive.
			if !pool.Config.Interactive {
				return nil, errors.ErrWrongDisk.WithMessage("disk 0 is not a pool disk")
			}
			pool.promptf("That is not the pool disk. Insert disk 0, then press enter.")
		}
	}
}

// createNewPool writes a fresh pool header onto a blank disk. Returns nil
// without error if the user declines.
func (pool *Pool) createNewPool(disk *Disk) (*format.PoolHeader, error) {
	if pool.Config.Interactive && pool.Config.VirtualDiskDir == "" {
		if !pool.promptYesNo("This disk is blank. Do you wish to create a new pool?") {
			return nil, nil
		}
	}

	log.Info("initializing a new pool on the inserted disk")
	header := format.NewPoolHeader()
	headerBlock := header.ToBlock()
	if err := pool.ForciblyWriteBlock(&headerBlock, disk.dev); err != nil {
		return nil, err
	}
	pool.backupDisk(0)
	return header, nil
}

// FlushHeader writes the in-memory pool header back to disk 0 through the
// cache.
func (pool *Pool) FlushHeader() error {
	headerBlock := pool.Header.ToBlock()
	if err := pool.UpdateBlock(&headerBlock); err != nil {
		return err
	}
	pool.backupDisk(0)
	return nil
}

// Close flushes the cache and the pool header, then reports statistics. The
// pool must not be used afterwards.
func (pool *Pool) Close() error {
	var result *multierror.Error

	if err := pool.FlushCache(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := pool.FlushHeader(); err != nil {
		result = multierror.Append(result, err)
	}

	log.WithFields(log.Fields{
		"swaps":       pool.Stats.Swaps,
		"swaps_saved": pool.cache.stats.SwapsSaved,
		"hit_rate":    pool.cache.stats.HitRate(),
		"bytes_read":  pool.Stats.TotalBytesRead,
		"bytes_sent":  pool.Stats.TotalBytesWritten,
	}).Info("pool closed")

	return result.ErrorOrNil()
}

// CacheHitRate exposes the rolling cache hit rate.
func (pool *Pool) CacheHitRate() float64 {
	return pool.cache.stats.HitRate()
}

// RootDirectory reads the root directory's first block. The root is always at
// (1, 2).
func (pool *Pool) RootDirectory() (*format.DirectoryBlock, error) {
	raw, err := pool.ReadBlock(RootDirectoryPointer)
	if err != nil {
		return nil, err
	}
	return format.DirectoryBlockFromBlock(&raw), nil
}

// RootItem fabricates the directory item describing the root directory. The
// root inode always lives at disk 1, block 1, offset 0.
func (pool *Pool) RootItem() format.DirectoryItem {
	return format.DirectoryItem{
		Flags: format.DirMarkerBit | format.DirIsDirectory,
		Name:  string(os.PathSeparator),
		Location: format.InodeLocation{
			Disk:    rootInodePointer.Disk,
			Block:   rootInodePointer.Block,
			Offset:  0,
			HasDisk: true,
		},
	}
}

// backupDisk mirrors a virtual disk file into the backup directory, if one is
// configured. Failures are logged, never fatal; the backup is best-effort
// recovery material.
func (pool *Pool) backupDisk(number uint16) {
	if pool.Config.BackupDir == "" || pool.Config.VirtualDiskDir == "" {
		return
	}
	source := filepath.Join(pool.Config.VirtualDiskDir, diskFileName(number))
	if err := backupFile(source, pool.Config.BackupDir, diskFileName(number)); err != nil {
		log.WithError(err).Warnf("failed to back up disk %d", number)
	}
}
