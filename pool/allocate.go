package pool

import (
	"fmt"
	"sort"

	"github.com/flusterfs/fluster/block"
	"github.com/flusterfs/fluster/format"
	log "github.com/sirupsen/logrus"
)

// allocationView is a disk stand-in for allocation bookkeeping that reads and
// writes the disk's header through the cache instead of opening the drive.
// Flushing it pushes the updated bitmap back through the cache.
type allocationView struct {
	pool   *Pool
	header *format.StandardHeader
	dirty  bool
}

func (pool *Pool) openAllocationView(disk uint16) (*allocationView, error) {
	if disk == 0 {
		panic("the pool disk does not hold allocatable data blocks")
	}
	raw, err := pool.ReadBlock(block.DiskPointer{Disk: disk, Block: 0})
	if err != nil {
		return nil, err
	}
	header, err := format.ParseStandardHeader(&raw)
	if err != nil {
		return nil, err
	}
	return &allocationView{pool: pool, header: header}, nil
}

// flushAttempts is how many times a bitmap flush may fail before the
// filesystem is considered unrecoverable.
const flushAttempts = 10

// flush writes the (possibly updated) header back. If this fails repeatedly
// the filesystem is in an unrecoverable state and we give up entirely.
func (view *allocationView) flush() {
	if !view.dirty {
		return
	}
	headerBlock := view.header.ToBlock()
	for attempt := flushAttempts; attempt > 0; attempt-- {
		err := view.pool.UpdateBlock(&headerBlock)
		if err == nil {
			view.pool.backupDisk(view.header.DiskNumber)
			view.dirty = false
			return
		}
		log.WithError(err).Errorf(
			"failed to flush allocation table for disk %d, %d attempts remaining",
			view.header.DiskNumber, attempt-1)
	}
	log.Fatal("filesystem is in an unrecoverable state; giving up")
}

// FindAndAllocate finds `count` free blocks anywhere in the pool, marks them
// allocated, and returns their pointers sorted by (disk, block) to reduce
// swap distance for the caller.
//
// The search starts from the disk recorded in the header as having the next
// free block and walks upward, creating brand-new standard disks once the
// existing ones are exhausted. When preCRC is set, each new block is
// immediately stamped with a zeroed, CRC-valid image so data blocks can be
// read back before their first real write.
func (pool *Pool) FindAndAllocate(count uint16, preCRC bool) ([]block.DiskPointer, error) {
	log.Debugf("allocating %d blocks across the pool", count)
	if count == 0 {
		panic("should allocate at least one block")
	}

	diskToCheck := pool.Header.DiskWithNextFreeBlock
	if diskToCheck == block.NoDisk {
		diskToCheck = 1
	}

	found := make([]block.DiskPointer, 0, count)
	for uint16(len(found)) < count {
		if diskToCheck > pool.Header.HighestKnownDisk {
			log.Debug("ran out of room, creating a new disk")
			if _, err := pool.addStandardDisk(); err != nil {
				return nil, err
			}
		}

		view, err := pool.openAllocationView(diskToCheck)
		if err != nil {
			return nil, err
		}

		indices := view.header.Table.FindFree(count - uint16(len(found)))
		if len(indices) == 0 {
			log.Debugf("disk %d is full, moving on", diskToCheck)
			diskToCheck++
			continue
		}

		view.header.Table.Allocate(indices)
		view.dirty = true
		view.flush()
		pool.Header.FreeBlocks -= uint32(len(indices))

		for _, index := range indices {
			found = append(found, block.DiskPointer{Disk: diskToCheck, Block: index})
		}
		log.Debugf("took %d blocks from disk %d", len(indices), diskToCheck)

		if preCRC {
			if err := pool.stampEmptyBlocks(found[len(found)-len(indices):]); err != nil {
				return nil, err
			}
		}

		if uint16(len(found)) < count {
			diskToCheck++
		}
	}

	// The most probable disk for the next allocation is wherever we finished.
	pool.Header.DiskWithNextFreeBlock = diskToCheck

	sort.Slice(found, func(i, j int) bool {
		if found[i].Disk != found[j].Disk {
			return found[i].Disk < found[j].Disk
		}
		return found[i].Block < found[j].Block
	})
	return found, nil
}

// stampEmptyBlocks writes a zeroed, CRC-stamped block to each pointer, for
// data blocks whose CRC must be valid before the first read.
func (pool *Pool) stampEmptyBlocks(pointers []block.DiskPointer) error {
	var empty block.Block
	block.AddCRC(&empty.Data)
	for _, pointer := range pointers {
		stamped := block.Block{Origin: pointer, Data: empty.Data}
		if err := pool.UpdateBlock(&stamped); err != nil {
			return err
		}
	}
	return nil
}

// FreePoolBlocks releases blocks back to the pool: cache eviction, durable
// zero-fill, then bitmap clear. All pointers must be on the same disk.
// Returns how many blocks were freed.
//
// The ordering matters for crash safety: zeroing before unmarking can leak a
// block, but can never leave two logical owners.
func (pool *Pool) FreePoolBlocks(pointers []block.DiskPointer) (uint16, error) {
	if len(pointers) == 0 {
		panic("why are we freeing zero blocks?")
	}
	diskNumber := pointers[0].Disk
	indices := make([]uint16, len(pointers))
	for i, pointer := range pointers {
		if pointer.Disk != diskNumber {
			panic(fmt.Sprintf("freeing blocks from mixed disks: %d and %d", diskNumber, pointer.Disk))
		}
		indices[i] = pointer.Block
	}

	for _, pointer := range pointers {
		pool.EvictBlock(pointer)
	}

	// Zero the blocks on disk, bypassing the cache so the zeroing is durable
	// regardless of what the cache does afterwards.
	disk, err := pool.openDisk(diskNumber)
	if err != nil {
		return 0, err
	}
	for _, pointer := range pointers {
		empty := block.Block{Origin: pointer}
		if err := pool.ForciblyWriteBlock(&empty, disk.dev); err != nil {
			return 0, err
		}
	}

	view, err := pool.openAllocationView(diskNumber)
	if err != nil {
		return 0, err
	}
	freed := view.header.Table.Free(indices)
	view.dirty = true
	view.flush()

	// Freed space below the search cursor moves the cursor back.
	if pool.Header.DiskWithNextFreeBlock > diskNumber {
		pool.Header.DiskWithNextFreeBlock = diskNumber
	}
	pool.Header.FreeBlocks += uint32(freed)
	return freed, nil
}

// freeGroupedByDisk sorts pointers and frees them one disk at a time.
func (pool *Pool) freeGroupedByDisk(pointers []block.DiskPointer) error {
	if len(pointers) == 0 {
		return nil
	}
	sort.Slice(pointers, func(i, j int) bool {
		if pointers[i].Disk != pointers[j].Disk {
			return pointers[i].Disk < pointers[j].Disk
		}
		return pointers[i].Block < pointers[j].Block
	})

	start := 0
	for i := 1; i <= len(pointers); i++ {
		if i == len(pointers) || pointers[i].Disk != pointers[start].Disk {
			chunk := pointers[start:i]
			freed, err := pool.FreePoolBlocks(chunk)
			if err != nil {
				return err
			}
			if int(freed) != len(chunk) {
				panic("freed a different number of blocks than requested")
			}
			start = i
		}
	}
	return nil
}

// addStandardDisk initializes the next standard disk in sequence on a blank
// floppy and registers it with the pool. Disk 1 additionally receives the
// root directory and the root inode.
func (pool *Pool) addStandardDisk() (*Disk, error) {
	number := pool.Header.HighestKnownDisk + 1
	log.Debugf("bootstrapping standard disk %d", number)

	blank, err := pool.promptBlankDisk(number)
	if err != nil {
		return nil, err
	}

	// Fresh standard disks pre-mark the header and the disk's first inode
	// block.
	header := format.NewStandardHeader(number)
	headerBlock := header.ToBlock()
	if err := pool.ForciblyWriteBlock(&headerBlock, blank.dev); err != nil {
		return nil, err
	}

	disk := &Disk{Kind: DiskStandard, Number: number, Header: header, dev: blank.dev}
	pool.Header.HighestKnownDisk = number
	pool.Header.FreeBlocks += block.BlocksPerDisk - 2

	// Every disk's block 1 starts life as an empty inode block.
	inodeBlock := format.NewInodeBlock(block.DiskPointer{Disk: number, Block: 1})
	rawInode := inodeBlock.ToBlock()
	if err := pool.UpdateBlock(&rawInode); err != nil {
		return nil, err
	}

	if number == 1 {
		if err := pool.bootstrapRoot(disk); err != nil {
			return nil, err
		}
	}

	pool.backupDisk(number)
	log.Debugf("disk %d ready", number)
	return disk, nil
}

// bootstrapRoot writes the root directory at (1, 2) and a root inode at
// block 1 offset 0 pointing at it.
func (pool *Pool) bootstrapRoot(disk *Disk) error {
	rootDirectory := format.NewDirectoryBlock(RootDirectoryPointer)
	rawDirectory := rootDirectory.ToBlock()
	// The write marks block 2 as used and persists the bitmap.
	if err := pool.WriteBlock(&rawDirectory); err != nil {
		return err
	}

	raw, err := pool.ReadBlock(rootInodePointer)
	if err != nil {
		return err
	}
	inodeBlock := format.InodeBlockFromBlock(&raw)
	offset, err := inodeBlock.TryAddInode(format.NewDirectoryInode(RootDirectoryPointer, format.Now()))
	if err != nil {
		return err
	}
	if offset != 0 {
		panic("root inode did not land at offset 0 of a fresh inode block")
	}
	updated := inodeBlock.ToBlock()
	return pool.UpdateBlock(&updated)
}
