package pool

import (
	goerrors "errors"
	"sort"
	"strings"

	"github.com/flusterfs/fluster/block"
	"github.com/flusterfs/fluster/errors"
	"github.com/flusterfs/fluster/format"
	log "github.com/sirupsen/logrus"
)

// List walks the whole directory chain and returns its items sorted by
// lowercased name. Local items come back with their disk imputed, so every
// returned location is absolute.
func (pool *Pool) List(directory *format.DirectoryBlock) ([]format.DirectoryItem, error) {
	log.Debug("listing a directory")
	var items []format.DirectoryItem

	current := directory
	for {
		items = append(items, current.Items...)
		next, ok := current.Next()
		if !ok {
			break
		}
		raw, err := pool.ReadBlock(next)
		if err != nil {
			return nil, err
		}
		current = format.DirectoryBlockFromBlock(&raw)
	}

	sort.SliceStable(items, func(i, j int) bool {
		return strings.ToLower(items[i].Name) < strings.ToLower(items[j].Name)
	})
	return items, nil
}

// FindItem searches the whole directory for an item with the given name.
func (pool *Pool) FindItem(directory *format.DirectoryBlock, name string) (*format.DirectoryItem, error) {
	items, err := pool.List(directory)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].Name == name {
			return &items[i], nil
		}
	}
	return nil, nil
}

// AddItem adds an item to the directory, following the chain and extending it
// with a freshly allocated block when every existing block is full. Item
// locality flags are recomputed at serialization time, so an item that lands
// on a different disk than it started needs no surgery here.
func (pool *Pool) AddItem(directory *format.DirectoryBlock, item format.DirectoryItem) error {
	log.Debugf("adding %q to a directory", item.Name)
	if item.Flags&format.DirMarkerBit == 0 {
		panic("added items must have their marker bit set")
	}

	current := directory
	for {
		if err := current.TryAddItem(item); err == nil {
			break
		} else if !goerrors.Is(err, errors.ErrOutOfRoom) {
			return err
		}

		next, err := pool.nextDirectoryBlock(current)
		if err != nil {
			return err
		}
		raw, err := pool.ReadBlock(next)
		if err != nil {
			return err
		}
		current = format.DirectoryBlockFromBlock(&raw)
	}

	updated := current.ToBlock()
	return pool.UpdateBlock(&updated)
}

// nextDirectoryBlock returns the continuation of the directory, allocating
// and linking a new block when there is none.
func (pool *Pool) nextDirectoryBlock(current *format.DirectoryBlock) (block.DiskPointer, error) {
	if next, ok := current.Next(); ok {
		return next, nil
	}

	pointers, err := pool.FindAndAllocate(1, false)
	if err != nil {
		return block.DiskPointer{}, err
	}
	location := pointers[0]

	fresh := format.NewDirectoryBlock(location)
	rawFresh := fresh.ToBlock()
	if err := pool.UpdateBlock(&rawFresh); err != nil {
		return block.DiskPointer{}, err
	}

	current.NextBlock = location
	rawCurrent := current.ToBlock()
	if err := pool.UpdateBlock(&rawCurrent); err != nil {
		return block.DiskPointer{}, err
	}
	return location, nil
}

// removeItemFromChain finds and removes the named item from whichever block
// of the chain holds it, and returns it.
func (pool *Pool) removeItemFromChain(directory *format.DirectoryBlock, name string, isDirectory bool) (format.DirectoryItem, error) {
	current := directory
	for {
		item, err := current.RemoveItem(name, isDirectory)
		if err == nil {
			updated := current.ToBlock()
			if err := pool.UpdateBlock(&updated); err != nil {
				return format.DirectoryItem{}, err
			}
			return item, nil
		}
		if !goerrors.Is(err, errors.ErrNotPresent) {
			return format.DirectoryItem{}, err
		}

		next, ok := current.Next()
		if !ok {
			return format.DirectoryItem{}, errors.ErrNoSuchItem
		}
		raw, err := pool.ReadBlock(next)
		if err != nil {
			return format.DirectoryItem{}, err
		}
		current = format.DirectoryBlockFromBlock(&raw)
	}
}

// MakeDirectory creates an empty directory inside the given one and returns
// its item.
func (pool *Pool) MakeDirectory(parent *format.DirectoryBlock, name string) (format.DirectoryItem, error) {
	log.Debugf("creating directory %q", name)
	if err := pool.checkNewName(parent, name); err != nil {
		return format.DirectoryItem{}, err
	}

	pointers, err := pool.FindAndAllocate(1, false)
	if err != nil {
		return format.DirectoryItem{}, err
	}
	location := pointers[0]

	fresh := format.NewDirectoryBlock(location)
	rawFresh := fresh.ToBlock()
	if err := pool.UpdateBlock(&rawFresh); err != nil {
		return format.DirectoryItem{}, err
	}

	inodeLocation, err := pool.FastAddInode(format.NewDirectoryInode(location, format.Now()))
	if err != nil {
		return format.DirectoryItem{}, err
	}

	item := format.DirectoryItem{
		Flags:    format.DirMarkerBit | format.DirIsDirectory,
		Name:     name,
		Location: inodeLocation,
	}
	if err := pool.AddItem(parent, item); err != nil {
		return format.DirectoryItem{}, err
	}
	return item, nil
}

// CreateFile creates an empty file inside the given directory and returns its
// item. The file starts with a single empty extent block and size zero.
func (pool *Pool) CreateFile(parent *format.DirectoryBlock, name string) (format.DirectoryItem, error) {
	log.Debugf("creating file %q", name)
	if err := pool.checkNewName(parent, name); err != nil {
		return format.DirectoryItem{}, err
	}

	pointers, err := pool.FindAndAllocate(1, false)
	if err != nil {
		return format.DirectoryItem{}, err
	}
	location := pointers[0]

	fresh := format.NewFileExtentBlock(location)
	rawFresh := fresh.ToBlock()
	if err := pool.UpdateBlock(&rawFresh); err != nil {
		return format.DirectoryItem{}, err
	}

	inodeLocation, err := pool.FastAddInode(format.NewFileInode(location, format.Now()))
	if err != nil {
		return format.DirectoryItem{}, err
	}

	item := format.DirectoryItem{
		Flags:    format.DirMarkerBit,
		Name:     name,
		Location: inodeLocation,
	}
	if err := pool.AddItem(parent, item); err != nil {
		return format.DirectoryItem{}, err
	}
	return item, nil
}

// checkNewName enforces name length and uniqueness for new items.
func (pool *Pool) checkNewName(parent *format.DirectoryBlock, name string) error {
	if len(name) == 0 || len(name) > format.MaxNameLength {
		return errors.ErrNameTooLong
	}
	existing, err := pool.FindItem(parent, name)
	if err != nil {
		return err
	}
	if existing != nil {
		return errors.ErrItemExists
	}
	return nil
}

// ItemInode loads the inode a directory item points at.
func (pool *Pool) ItemInode(item *format.DirectoryItem) (format.Inode, error) {
	inode, _, err := pool.ReadInodeAt(item.Location)
	return inode, err
}

// ChangeDirectory opens the named directory within the given one.
func (pool *Pool) ChangeDirectory(directory *format.DirectoryBlock, name string) (*format.DirectoryBlock, error) {
	item, err := pool.FindItem(directory, name)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, errors.ErrNoSuchItem
	}
	if !item.IsDirectory() {
		return nil, errors.ErrNotADirectory
	}
	return pool.DirectoryOfItem(item)
}

// DirectoryOfItem loads the first directory block of a directory item.
func (pool *Pool) DirectoryOfItem(item *format.DirectoryItem) (*format.DirectoryBlock, error) {
	inode, err := pool.ItemInode(item)
	if err != nil {
		return nil, err
	}
	if inode.IsFile() {
		return nil, errors.ErrNotADirectory
	}
	if inode.Pointer.NoDestination() {
		panic("directory inode points nowhere")
	}
	raw, err := pool.ReadBlock(inode.Pointer)
	if err != nil {
		return nil, err
	}
	return format.DirectoryBlockFromBlock(&raw), nil
}

// FindDirectory resolves an absolute path to a directory block. The empty
// path (or "/") is the root itself.
func (pool *Pool) FindDirectory(path string) (*format.DirectoryBlock, error) {
	current, err := pool.RootDirectory()
	if err != nil {
		return nil, err
	}
	for _, component := range splitPath(path) {
		current, err = pool.ChangeDirectory(current, component)
		if err != nil {
			return nil, err
		}
	}
	return current, nil
}

// Resolve resolves an absolute path to its directory item and the first block
// of the directory containing it. The root resolves to the fabricated root
// item with a nil parent.
func (pool *Pool) Resolve(path string) (format.DirectoryItem, *format.DirectoryBlock, error) {
	components := splitPath(path)
	if len(components) == 0 {
		return pool.RootItem(), nil, nil
	}

	parentPath := components[:len(components)-1]
	name := components[len(components)-1]

	parent, err := pool.RootDirectory()
	if err != nil {
		return format.DirectoryItem{}, nil, err
	}
	for _, component := range parentPath {
		parent, err = pool.ChangeDirectory(parent, component)
		if err != nil {
			return format.DirectoryItem{}, nil, err
		}
	}

	item, err := pool.FindItem(parent, name)
	if err != nil {
		return format.DirectoryItem{}, nil, err
	}
	if item == nil {
		return format.DirectoryItem{}, nil, errors.ErrNoSuchItem
	}
	return *item, parent, nil
}

func splitPath(path string) []string {
	var components []string
	for _, component := range strings.Split(path, "/") {
		if component != "" {
			components = append(components, component)
		}
	}
	return components
}

// Unlink removes a file from the directory and frees every block it used.
func (pool *Pool) Unlink(parent *format.DirectoryBlock, name string) error {
	log.Debugf("unlinking %q", name)
	item, err := pool.FindItem(parent, name)
	if err != nil {
		return err
	}
	if item == nil {
		return errors.ErrNoSuchItem
	}
	if item.IsDirectory() {
		return errors.ErrIsADirectory
	}

	if err := pool.deleteFileData(item, true); err != nil {
		return err
	}
	if _, err := pool.removeItemFromChain(parent, name, false); err != nil {
		return err
	}
	return pool.RemoveInodeAt(item.Location)
}

// RemoveDirectory removes an empty directory: its blocks, its inode, and its
// entry in the parent.
func (pool *Pool) RemoveDirectory(parent *format.DirectoryBlock, name string) error {
	log.Debugf("removing directory %q", name)
	item, err := pool.FindItem(parent, name)
	if err != nil {
		return err
	}
	if item == nil {
		return errors.ErrNoSuchItem
	}
	if !item.IsDirectory() {
		return errors.ErrNotADirectory
	}

	target, err := pool.DirectoryOfItem(item)
	if err != nil {
		return err
	}
	items, err := pool.List(target)
	if err != nil {
		return err
	}
	if len(items) != 0 {
		return errors.ErrDirectoryNotEmpty
	}

	// Free the whole chain of this (empty) directory.
	chain := []block.DiskPointer{target.Origin}
	current := target
	for {
		next, ok := current.Next()
		if !ok {
			break
		}
		chain = append(chain, next)
		raw, err := pool.ReadBlock(next)
		if err != nil {
			return err
		}
		current = format.DirectoryBlockFromBlock(&raw)
	}
	if err := pool.freeGroupedByDisk(chain); err != nil {
		return err
	}

	if _, err := pool.removeItemFromChain(parent, name, true); err != nil {
		return err
	}
	return pool.RemoveInodeAt(item.Location)
}

// Rename moves an item between directories, possibly replacing an existing
// item of the same kind at the destination.
func (pool *Pool) Rename(oldParent *format.DirectoryBlock, oldName string, newParent *format.DirectoryBlock, newName string) error {
	log.Debugf("renaming %q to %q", oldName, newName)
	if len(newName) == 0 || len(newName) > format.MaxNameLength {
		return errors.ErrNameTooLong
	}

	source, err := pool.FindItem(oldParent, oldName)
	if err != nil {
		return err
	}
	if source == nil {
		return errors.ErrNoSuchItem
	}

	existing, err := pool.FindItem(newParent, newName)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.IsDirectory() != source.IsDirectory() {
			if existing.IsDirectory() {
				return errors.ErrIsADirectory
			}
			return errors.ErrNotADirectory
		}
		if existing.IsDirectory() {
			if err := pool.RemoveDirectory(newParent, newName); err != nil {
				return err
			}
		} else {
			if err := pool.Unlink(newParent, newName); err != nil {
				return err
			}
		}
	}

	moved, err := pool.removeItemFromChain(oldParent, oldName, source.IsDirectory())
	if err != nil {
		return err
	}
	moved.Name = newName

	// The parents may share blocks that our snapshots predate; re-read the
	// destination fresh before inserting.
	raw, err := pool.ReadBlock(newParent.Origin)
	if err != nil {
		return err
	}
	return pool.AddItem(format.DirectoryBlockFromBlock(&raw), moved)
}

// ItemSize reports the byte size of an item: the inode size for files, one
// block per chain link for directories.
func (pool *Pool) ItemSize(item *format.DirectoryItem) (uint64, error) {
	inode, err := pool.ItemInode(item)
	if err != nil {
		return 0, err
	}
	if inode.IsFile() {
		return inode.Size, nil
	}

	size := uint64(block.BytesPerBlock)
	raw, err := pool.ReadBlock(inode.Pointer)
	if err != nil {
		return 0, err
	}
	current := format.DirectoryBlockFromBlock(&raw)
	for {
		next, ok := current.Next()
		if !ok {
			return size, nil
		}
		size += block.BytesPerBlock
		raw, err := pool.ReadBlock(next)
		if err != nil {
			return 0, err
		}
		current = format.DirectoryBlockFromBlock(&raw)
	}
}
