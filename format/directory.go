package format

import (
	"github.com/flusterfs/fluster/block"
	"github.com/flusterfs/fluster/errors"
)

// Directory item flag bits.
const (
	DirMarkerBit   = block.MarkerBit
	DirIsDirectory = 0b00000010
	DirOnThisDisk  = 0b00000001
)

// MaxNameLength is the longest directory item name, in bytes.
const MaxNameLength = 255

// DirectoryItem is one entry in a directory: a name plus the location of the
// inode it refers to. When the inode lives on the same disk as the directory
// block, the on-disk form omits the disk number.
type DirectoryItem struct {
	Flags byte
	// Name is UTF-8, 1..=255 bytes. Names are unique within a directory.
	Name     string
	Location InodeLocation
}

// IsDirectory reports whether the item names a directory.
func (item DirectoryItem) IsDirectory() bool {
	return item.Flags&DirIsDirectory != 0
}

// SameNamedItem reports whether the item has the given name and is of the
// given kind.
func (item DirectoryItem) SameNamedItem(name string, isDirectory bool) bool {
	return item.Name == name && item.IsDirectory() == isDirectory
}

// toBytes serializes the item as it should appear inside a block on
// destinationDisk. The OnThisDisk flag and the optional disk field are kept
// consistent with each other here, regardless of how the runtime struct is
// flagged.
func (item DirectoryItem) toBytes(destinationDisk uint16) []byte {
	local := item.Location.HasDisk && item.Location.Disk == destinationDisk

	flags := item.Flags | DirMarkerBit
	if local {
		flags |= DirOnThisDisk
	} else {
		flags &^= DirOnThisDisk
	}

	buffer := make([]byte, 0, 2+len(item.Name)+6)
	buffer = append(buffer, flags, byte(len(item.Name)))
	buffer = append(buffer, item.Name...)
	buffer = append(buffer, item.Location.toBytes(local)...)
	return buffer
}

// serializedLen is the number of bytes the item occupies inside a block on
// destinationDisk.
func (item DirectoryItem) serializedLen(destinationDisk uint16) int {
	length := 2 + len(item.Name) + 4
	if !(item.Location.HasDisk && item.Location.Disk == destinationDisk) {
		length += 2
	}
	return length
}

// directoryItemFromBytes reads one item from the front of the slice and
// returns it along with its serialized length. Local items have the origin
// disk imputed into their location.
func directoryItemFromBytes(data []byte, originDisk uint16) (DirectoryItem, int) {
	flags := data[0]
	if flags&DirMarkerBit == 0 {
		panic("tried to decode a directory item without its marker bit")
	}
	nameLength := int(data[1])
	index := 2

	name := string(data[index : index+nameLength])
	index += nameLength

	local := flags&DirOnThisDisk != 0
	location, locationLen := inodeLocationFromBytes(data[index:], local)
	index += locationLen
	if local {
		location.Disk = originDisk
		location.HasDisk = true
	}

	return DirectoryItem{Flags: flags, Name: name, Location: location}, index
}

////////////////////////////////////////////////////////////////////////////////
// Directory block

// DirectoryBlock holds a directory's item stream. NextBlock points to the
// continuation of *this* directory — separate directories are only reachable
// through their inodes, never by following next pointers.
type DirectoryBlock struct {
	Flags     byte
	BytesFree uint16
	NextBlock block.DiskPointer
	// Origin is runtime-only; it must always be set, since local items can
	// only be resolved relative to it.
	Origin block.DiskPointer
	Items  []DirectoryItem
}

// NewDirectoryBlock creates an empty directory block destined for origin.
func NewDirectoryBlock(origin block.DiskPointer) *DirectoryBlock {
	return &DirectoryBlock{
		BytesFree: ContainerPayload,
		NextBlock: block.FinalPointer(),
		Origin:    origin,
	}
}

// DirectoryBlockFromBlock deserializes a directory block, keeping the raw
// block's origin so local items can be resolved.
func DirectoryBlockFromBlock(b *block.Block) *DirectoryBlock {
	result := &DirectoryBlock{Origin: b.Origin}
	result.Flags, result.BytesFree, result.NextBlock = readContainerPrefix(&b.Data)

	payload := b.Data[containerPayloadOffset:block.CRCOffset]
	index := 0
	for index < len(payload) && payload[index]&DirMarkerBit != 0 {
		item, length := directoryItemFromBytes(payload[index:], b.Origin.Disk)
		result.Items = append(result.Items, item)
		index += length
	}
	return result
}

// ToBlock serializes the block back into a CRC-stamped raw block headed for
// its origin. Items are re-packed front to front; holes do not survive a
// round trip, which is fine because free bytes only ever live at the tail
// between packs.
func (db *DirectoryBlock) ToBlock() block.Block {
	result := block.Block{Origin: db.Origin}
	writeContainerPrefix(&result.Data, db.Flags, db.BytesFree, db.NextBlock)

	index := containerPayloadOffset
	for _, item := range db.Items {
		serialized := item.toBytes(db.Origin.Disk)
		copy(result.Data[index:index+len(serialized)], serialized)
		index += len(serialized)
	}

	block.AddCRC(&result.Data)
	return result
}

// TryAddItem appends an item if the block has room for its serialized form.
func (db *DirectoryBlock) TryAddItem(item DirectoryItem) error {
	length := item.serializedLen(db.Origin.Disk)
	if length > int(db.BytesFree) {
		return errors.ErrOutOfRoom
	}
	db.Items = append(db.Items, item)
	db.BytesFree -= uint16(length)
	return nil
}

// RemoveItem removes the item matching the given name and kind, crediting the
// free-byte counter.
func (db *DirectoryBlock) RemoveItem(name string, isDirectory bool) (DirectoryItem, error) {
	for i, item := range db.Items {
		if item.SameNamedItem(name, isDirectory) {
			db.BytesFree += uint16(item.serializedLen(db.Origin.Disk))
			db.Items = append(db.Items[:i], db.Items[i+1:]...)
			return item, nil
		}
	}
	return DirectoryItem{}, errors.ErrNotPresent
}

// Next returns the continuation of this directory, or false at the end of the
// chain.
func (db *DirectoryBlock) Next() (block.DiskPointer, bool) {
	if db.NextBlock.NoDestination() {
		return block.DiskPointer{}, false
	}
	return db.NextBlock, true
}
