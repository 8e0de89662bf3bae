package pool

import (
	goerrors "errors"
	"fmt"

	"github.com/flusterfs/fluster/block"
	"github.com/flusterfs/fluster/errors"
	"github.com/flusterfs/fluster/format"
	log "github.com/sirupsen/logrus"
)

// A file is an inode whose pointer addresses the first of a chain of extent
// blocks; the extents, in order, map the file's bytes onto data blocks
// anywhere in the pool.

// byteFinder locates a byte offset within a file's block list: which pointer
// index it falls in, and the data offset within that block (not counting the
// flag byte).
func byteFinder(offset uint64) (blockIndex int, withinBlock uint16) {
	return int(offset / format.DataCapacity), uint16(offset % format.DataCapacity)
}

// fileBlocks walks a file's extent chain and returns the chain block pointers
// (first extent block included, in chain order) and the data block pointers
// in file order.
func (pool *Pool) fileBlocks(first block.DiskPointer) (chain []block.DiskPointer, data []block.DiskPointer, err error) {
	log.Debug("extracting extents for a file")
	if first.NoDestination() {
		panic("file inode points nowhere")
	}

	current := first
	for {
		chain = append(chain, current)
		raw, err := pool.ReadBlock(current)
		if err != nil {
			return nil, nil, err
		}
		extentBlock := format.FileExtentBlockFromBlock(&raw)
		for _, extent := range extentBlock.Extents {
			data = append(data, extent.Pointers()...)
		}

		next, ok := extentBlock.Next()
		if !ok {
			return chain, data, nil
		}
		current = next
	}
}

// readFileInode loads a file item's inode, rejecting directories.
func (pool *Pool) readFileInode(item *format.DirectoryItem) (format.Inode, error) {
	if item.IsDirectory() {
		return format.Inode{}, errors.ErrIsADirectory
	}
	inode, err := pool.ItemInode(item)
	if err != nil {
		return format.Inode{}, err
	}
	if !inode.IsFile() {
		panic(fmt.Sprintf("directory item %q is flagged as a file but its inode is not", item.Name))
	}
	return inode, nil
}

// ReadFileAt returns up to size bytes of the file starting at seek, clamped
// at end of file.
func (pool *Pool) ReadFileAt(item *format.DirectoryItem, seek uint64, size uint32) ([]byte, error) {
	inode, err := pool.readFileInode(item)
	if err != nil {
		return nil, err
	}

	if seek >= inode.Size || size == 0 {
		return nil, nil
	}
	if remaining := inode.Size - seek; uint64(size) > remaining {
		size = uint32(remaining)
	}

	_, data, err := pool.fileBlocks(inode.Pointer)
	if err != nil {
		return nil, err
	}

	collected := make([]byte, 0, size)
	blockIndex, within := byteFinder(seek)
	for uint32(len(collected)) < size {
		chunk := uint32(format.DataCapacity - within)
		if remaining := size - uint32(len(collected)); chunk > remaining {
			chunk = remaining
		}

		raw, err := pool.ReadBlock(data[blockIndex])
		if err != nil {
			return nil, err
		}
		start := format.DataOffset + int(within)
		collected = append(collected, raw.Data[start:start+int(chunk)]...)

		// After the first block everything is aligned.
		within = 0
		blockIndex++
	}

	pool.Stats.DataBytesRead += uint64(len(collected))
	return collected, nil
}

// WriteFileAt writes bytes into the file at seek, growing it with freshly
// allocated blocks as needed, and updates the inode's size and modification
// time. Returns the number of bytes written.
func (pool *Pool) WriteFileAt(item *format.DirectoryItem, data []byte, seek uint64) (uint32, error) {
	if len(data) == 0 {
		return 0, nil
	}

	inode, err := pool.readFileInode(item)
	if err != nil {
		return 0, err
	}

	_, pointers, err := pool.fileBlocks(inode.Pointer)
	if err != nil {
		return 0, err
	}

	startIndex, within := byteFinder(seek)
	if startIndex > len(pointers) {
		// Writing cannot begin in unallocated space past the end of the file.
		return 0, errors.ErrInvalidOffset.WithMessage("seek beyond end of file")
	}

	// The index of the block holding the final byte tells us how many blocks
	// this write needs in total; at least one block must always exist.
	finalIndex, _ := byteFinder(seek + uint64(len(data)) - 1)
	needed := finalIndex + 1 - len(pointers)
	if needed > 0 {
		fresh, err := pool.expandFile(&inode, uint16(needed))
		if err != nil {
			return 0, err
		}
		pointers = append(pointers, fresh...)
	}

	written := 0
	for blockIndex := startIndex; written < len(data); blockIndex++ {
		chunk := format.DataCapacity - int(within)
		if remaining := len(data) - written; chunk > remaining {
			chunk = remaining
		}

		raw, err := pool.ReadBlock(pointers[blockIndex])
		if err != nil {
			return 0, err
		}
		start := format.DataOffset + int(within)
		copy(raw.Data[start:start+chunk], data[written:written+chunk])
		block.AddCRC(&raw.Data)
		if err := pool.UpdateBlock(&raw); err != nil {
			return 0, err
		}

		written += chunk
		within = 0
	}

	if end := seek + uint64(written); end > inode.Size {
		inode.Size = end
	}
	inode.Modified = format.Now()
	if err := pool.UpdateInodeAt(item.Location, inode); err != nil {
		return 0, err
	}

	pool.Stats.DataBytesWritten += uint64(written)
	return uint32(written), nil
}

// expandFile grows a file by `count` data blocks, splicing the new extents
// onto the end of the extent chain. Returns the new pointers in order.
func (pool *Pool) expandFile(inode *format.Inode, count uint16) ([]block.DiskPointer, error) {
	log.Debugf("expanding a file by %d blocks", count)
	// Data blocks must be readable before their first real write, so their
	// CRCs are stamped up front.
	reserved, err := pool.FindAndAllocate(count, true)
	if err != nil {
		return nil, err
	}

	extents := format.ExtentsFromPointers(reserved)
	if err := pool.appendExtents(inode.Pointer, extents); err != nil {
		return nil, err
	}
	return reserved, nil
}

// appendExtents walks the extent chain to its tail and appends the given
// extents, allocating additional extent blocks whenever the tail fills up.
func (pool *Pool) appendExtents(first block.DiskPointer, extents []format.FileExtent) error {
	raw, err := pool.ReadBlock(first)
	if err != nil {
		return err
	}
	current := format.FileExtentBlockFromBlock(&raw)

	// Start from the final block in the chain.
	for {
		next, ok := current.Next()
		if !ok {
			break
		}
		raw, err := pool.ReadBlock(next)
		if err != nil {
			return err
		}
		current = format.FileExtentBlockFromBlock(&raw)
	}

	for _, extent := range extents {
		err := current.TryAddExtent(extent)
		if err == nil {
			continue
		}
		if !goerrors.Is(err, errors.ErrOutOfRoom) {
			return err
		}

		// This block is full: allocate a continuation, link it, flush the old
		// tail, and carry on in the new one.
		pointers, err := pool.FindAndAllocate(1, false)
		if err != nil {
			return err
		}
		location := pointers[0]

		fresh := format.NewFileExtentBlock(location)
		rawFresh := fresh.ToBlock()
		if err := pool.UpdateBlock(&rawFresh); err != nil {
			return err
		}

		current.NextBlock = location
		rawCurrent := current.ToBlock()
		if err := pool.UpdateBlock(&rawCurrent); err != nil {
			return err
		}

		current = fresh
		if err := current.TryAddExtent(extent); err != nil {
			return err
		}
	}

	rawCurrent := current.ToBlock()
	return pool.UpdateBlock(&rawCurrent)
}

// TruncateFile resets a file to zero bytes, freeing every data block and
// every extent block except the first, which is reset in place.
func (pool *Pool) TruncateFile(item *format.DirectoryItem) error {
	log.Debugf("truncating %q", item.Name)
	inode, err := pool.readFileInode(item)
	if err != nil {
		return err
	}

	chain, data, err := pool.fileBlocks(inode.Pointer)
	if err != nil {
		return err
	}

	// Everything goes except the first extent block.
	doomed := append(data, chain[1:]...)
	if err := pool.freeGroupedByDisk(doomed); err != nil {
		return err
	}

	reset := format.NewFileExtentBlock(inode.Pointer)
	rawReset := reset.ToBlock()
	if err := pool.UpdateBlock(&rawReset); err != nil {
		return err
	}

	inode.Size = 0
	inode.Modified = format.Now()
	return pool.UpdateInodeAt(item.Location, inode)
}

// TruncateFileTo changes a file's size, deallocating blocks past the new end
// or zero-filling up to it.
func (pool *Pool) TruncateFileTo(item *format.DirectoryItem, size uint64) error {
	inode, err := pool.readFileInode(item)
	if err != nil {
		return err
	}

	switch {
	case size == inode.Size:
		return nil
	case size == 0:
		return pool.TruncateFile(item)
	case size < inode.Size:
		// Shrink by rebuilding from the surviving prefix. Crude but keeps the
		// extent splicing logic in one place.
		head, err := pool.ReadFileAt(item, 0, uint32(size))
		if err != nil {
			return err
		}
		if err := pool.TruncateFile(item); err != nil {
			return err
		}
		_, err = pool.WriteFileAt(item, head, 0)
		return err
	default:
		zeros := make([]byte, size-inode.Size)
		_, err := pool.WriteFileAt(item, zeros, inode.Size)
		return err
	}
}

// deleteFileData frees all data blocks of a file and its extent chain; the
// first extent block is freed only when includeFirstExtent is set.
func (pool *Pool) deleteFileData(item *format.DirectoryItem, includeFirstExtent bool) error {
	inode, err := pool.readFileInode(item)
	if err != nil {
		return err
	}

	chain, data, err := pool.fileBlocks(inode.Pointer)
	if err != nil {
		return err
	}

	doomed := data
	if includeFirstExtent {
		doomed = append(doomed, chain...)
	} else {
		doomed = append(doomed, chain[1:]...)
	}
	return pool.freeGroupedByDisk(doomed)
}
