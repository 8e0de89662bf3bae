package pool

import (
	goerrors "errors"

	"github.com/flusterfs/fluster/block"
	"github.com/flusterfs/fluster/errors"
	"github.com/flusterfs/fluster/format"
	log "github.com/sirupsen/logrus"
)

// Inodes live in a single pool-wide chain of inode blocks that starts at
// (1, 1) and grows on demand, freely crossing disks.

// FastAddInode adds an inode to the chain, starting the search from the block
// that most recently accepted one. Returns where the inode ended up.
func (pool *Pool) FastAddInode(inode format.Inode) (format.InodeLocation, error) {
	log.Trace("fast adding inode")
	location, err := pool.addInodeFrom(pool.LatestInodeWrite, inode)
	if err != nil {
		return format.InodeLocation{}, err
	}
	pool.LatestInodeWrite = location.Pointer()
	return location, nil
}

// AddInode adds an inode to the chain starting from the origin block. Slower
// than FastAddInode but guarantees the first open slot in the whole chain.
func (pool *Pool) AddInode(inode format.Inode) (format.InodeLocation, error) {
	log.Trace("adding inode from the chain origin")
	location, err := pool.addInodeFrom(rootInodePointer, inode)
	if err != nil {
		return format.InodeLocation{}, err
	}
	pool.LatestInodeWrite = location.Pointer()
	return location, nil
}

func (pool *Pool) addInodeFrom(start block.DiskPointer, inode format.Inode) (format.InodeLocation, error) {
	raw, err := pool.ReadBlock(start)
	if err != nil {
		return format.InodeLocation{}, err
	}
	current := format.InodeBlockFromBlock(&raw)

	var offset uint16
	for {
		offset, err = current.TryAddInode(inode)
		if err == nil {
			break
		}
		if !goerrors.Is(err, errors.ErrOutOfRoom) && !goerrors.Is(err, errors.ErrBlockFragmented) {
			return format.InodeLocation{}, err
		}

		// No room here; follow the chain, extending it at the tail.
		next, err := pool.nextInodeBlock(current)
		if err != nil {
			return format.InodeLocation{}, err
		}
		raw, err := pool.ReadBlock(next)
		if err != nil {
			return format.InodeLocation{}, err
		}
		current = format.InodeBlockFromBlock(&raw)
	}

	updated := current.ToBlock()
	if err := pool.UpdateBlock(&updated); err != nil {
		return format.InodeLocation{}, err
	}

	return format.InodeLocation{
		Disk:    current.Origin.Disk,
		Block:   current.Origin.Block,
		Offset:  offset,
		HasDisk: true,
	}, nil
}

// nextInodeBlock returns the successor of the given block, creating and
// linking a brand-new inode block when the chain ends.
func (pool *Pool) nextInodeBlock(current *format.InodeBlock) (block.DiskPointer, error) {
	if next, ok := current.Next(); ok {
		return next, nil
	}

	// The CRC will be overwritten immediately, so no pre-stamping.
	pointers, err := pool.FindAndAllocate(1, false)
	if err != nil {
		return block.DiskPointer{}, err
	}
	location := pointers[0]

	fresh := format.NewInodeBlock(location)
	rawFresh := fresh.ToBlock()
	if err := pool.UpdateBlock(&rawFresh); err != nil {
		return block.DiskPointer{}, err
	}

	current.SetNext(location)
	rawCurrent := current.ToBlock()
	if err := pool.UpdateBlock(&rawCurrent); err != nil {
		return block.DiskPointer{}, err
	}
	return location, nil
}

// ReadInodeAt loads the inode at a location along with its containing block.
func (pool *Pool) ReadInodeAt(location format.InodeLocation) (format.Inode, *format.InodeBlock, error) {
	raw, err := pool.ReadBlock(location.Pointer())
	if err != nil {
		return format.Inode{}, nil, err
	}
	inodeBlock := format.InodeBlockFromBlock(&raw)
	inode, err := inodeBlock.ReadInode(location.Offset)
	if err != nil {
		return format.Inode{}, nil, err
	}
	return inode, inodeBlock, nil
}

// UpdateInodeAt replaces the inode at a location and writes its block back.
func (pool *Pool) UpdateInodeAt(location format.InodeLocation, inode format.Inode) error {
	_, inodeBlock, err := pool.ReadInodeAt(location)
	if err != nil {
		return err
	}
	if err := inodeBlock.UpdateInode(location.Offset, inode); err != nil {
		return err
	}
	updated := inodeBlock.ToBlock()
	return pool.UpdateBlock(&updated)
}

// RemoveInodeAt zeroes the inode at a location and writes its block back. The
// caller is responsible for having freed whatever the inode pointed at.
func (pool *Pool) RemoveInodeAt(location format.InodeLocation) error {
	raw, err := pool.ReadBlock(location.Pointer())
	if err != nil {
		return err
	}
	inodeBlock := format.InodeBlockFromBlock(&raw)
	if err := inodeBlock.RemoveInode(location.Offset); err != nil {
		return err
	}
	updated := inodeBlock.ToBlock()
	return pool.UpdateBlock(&updated)
}
