package format

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/flusterfs/fluster/block"
	"github.com/flusterfs/fluster/errors"
)

// Inode flag bits.
const (
	// InodeMarkerBit is set on every live inode.
	InodeMarkerBit = block.MarkerBit
	// InodeFileBit discriminates files from directories.
	InodeFileBit = 0b00000001
)

// Serialized inode sizes. A file inode carries a size and a pointer; a
// directory inode only a pointer. Both carry two timestamps.
const (
	FileInodeSize      = 1 + 8 + 4 + 12 + 12
	DirectoryInodeSize = 1 + 4 + 12 + 12
)

// Timestamp is seconds and nanoseconds relative to the Unix epoch.
type Timestamp struct {
	Seconds uint64
	Nanos   uint32
}

// Now returns a timestamp for the current moment.
func Now() Timestamp {
	now := time.Now()
	return Timestamp{Seconds: uint64(now.Unix()), Nanos: uint32(now.Nanosecond())}
}

// Time converts the timestamp back into a time.Time.
func (ts Timestamp) Time() time.Time {
	return time.Unix(int64(ts.Seconds), int64(ts.Nanos))
}

func (ts Timestamp) toBytes() [12]byte {
	var buffer [12]byte
	binary.LittleEndian.PutUint64(buffer[:8], ts.Seconds)
	binary.LittleEndian.PutUint32(buffer[8:], ts.Nanos)
	return buffer
}

func timestampFromBytes(data []byte) Timestamp {
	return Timestamp{
		Seconds: binary.LittleEndian.Uint64(data[:8]),
		Nanos:   binary.LittleEndian.Uint32(data[8:12]),
	}
}

// Inode names a file or directory. For files, Size is the byte length and
// Pointer addresses the first file-extent block; for directories, Pointer
// addresses the first directory block and Size is unused.
type Inode struct {
	Flags    byte
	Size     uint64
	Pointer  block.DiskPointer
	Created  Timestamp
	Modified Timestamp
}

// NewFileInode builds a zero-length file inode pointing at its first extent
// block.
func NewFileInode(extents block.DiskPointer, now Timestamp) Inode {
	return Inode{
		Flags:    InodeMarkerBit | InodeFileBit,
		Size:     0,
		Pointer:  extents,
		Created:  now,
		Modified: now,
	}
}

// NewDirectoryInode builds a directory inode pointing at its first directory
// block.
func NewDirectoryInode(directory block.DiskPointer, now Timestamp) Inode {
	return Inode{
		Flags:    InodeMarkerBit,
		Pointer:  directory,
		Created:  now,
		Modified: now,
	}
}

// IsFile reports whether the inode names a file rather than a directory.
func (inode Inode) IsFile() bool {
	return inode.Flags&InodeFileBit != 0
}

// SerializedSize is the number of bytes the inode occupies in its block.
func (inode Inode) SerializedSize() int {
	if inode.IsFile() {
		return FileInodeSize
	}
	return DirectoryInodeSize
}

// ToBytes serializes the inode.
func (inode Inode) ToBytes() []byte {
	buffer := make([]byte, 0, FileInodeSize)
	buffer = append(buffer, inode.Flags)

	if inode.IsFile() {
		var size [8]byte
		binary.LittleEndian.PutUint64(size[:], inode.Size)
		buffer = append(buffer, size[:]...)
	}
	pointer := inode.Pointer.ToBytes()
	buffer = append(buffer, pointer[:]...)

	created := inode.Created.toBytes()
	buffer = append(buffer, created[:]...)
	modified := inode.Modified.toBytes()
	buffer = append(buffer, modified[:]...)
	return buffer
}

// InodeFromBytes reads the first inode in the slice. The caller must ensure a
// valid inode starts at byte zero; no validation beyond the marker bit is
// possible at this level.
func InodeFromBytes(data []byte) Inode {
	flags := data[0]
	if flags&InodeMarkerBit == 0 {
		panic("tried to decode an inode without its marker bit")
	}

	inode := Inode{Flags: flags}
	index := 1
	if inode.IsFile() {
		inode.Size = binary.LittleEndian.Uint64(data[index : index+8])
		index += 8
	}
	var pointer [4]byte
	copy(pointer[:], data[index:index+4])
	inode.Pointer = block.PointerFromBytes(pointer)
	index += 4

	inode.Created = timestampFromBytes(data[index : index+12])
	index += 12
	inode.Modified = timestampFromBytes(data[index : index+12])
	return inode
}

// inodeSizeAt reports the serialized length of the inode starting at the
// front of the slice, for the free-space scanner.
func inodeSizeAt(data []byte) int {
	if data[0]&InodeFileBit != 0 {
		return FileInodeSize
	}
	return DirectoryInodeSize
}

////////////////////////////////////////////////////////////////////////////////
// Inode location

// InodeLocation addresses an inode: the block that holds it, the byte offset
// of the inode within that block's payload, and the disk — which is omitted
// on disk when the location is local to the block that refers to it.
type InodeLocation struct {
	Disk   uint16
	Block  uint16
	Offset uint16
	// HasDisk is false for local locations whose disk has not been imputed
	// yet. Listing a directory always imputes the disk.
	HasDisk bool
}

// Pointer returns the inode block's pointer. The disk must be known.
func (loc InodeLocation) Pointer() block.DiskPointer {
	if !loc.HasDisk {
		panic("inode location has no disk information")
	}
	return block.DiskPointer{Disk: loc.Disk, Block: loc.Block}
}

func (loc InodeLocation) toBytes(local bool) []byte {
	buffer := make([]byte, 0, 6)
	if !local {
		if !loc.HasDisk {
			panic("cannot serialize a remote inode location without its disk")
		}
		var disk [2]byte
		binary.LittleEndian.PutUint16(disk[:], loc.Disk)
		buffer = append(buffer, disk[:]...)
	}
	var scratch [2]byte
	binary.LittleEndian.PutUint16(scratch[:], loc.Block)
	buffer = append(buffer, scratch[:]...)
	binary.LittleEndian.PutUint16(scratch[:], loc.Offset)
	buffer = append(buffer, scratch[:]...)
	return buffer
}

func inodeLocationFromBytes(data []byte, local bool) (InodeLocation, int) {
	var loc InodeLocation
	index := 0
	if !local {
		loc.Disk = binary.LittleEndian.Uint16(data[:2])
		loc.HasDisk = true
		index = 2
	}
	loc.Block = binary.LittleEndian.Uint16(data[index : index+2])
	loc.Offset = binary.LittleEndian.Uint16(data[index+2 : index+4])
	return loc, index + 4
}

////////////////////////////////////////////////////////////////////////////////
// Inode block

// InodeBlock packs a stream of variable-length inodes into a container block.
// Unlike the other containers it keeps its payload as raw bytes, because
// inodes are addressed by byte offset and removal must leave holes in place.
type InodeBlock struct {
	Flags     byte
	BytesFree uint16
	NextBlock block.DiskPointer
	// Origin is runtime-only and never serialized.
	Origin  block.DiskPointer
	payload [ContainerPayload]byte
}

// NewInodeBlock creates an empty inode block. New blocks are the new final
// block in the chain; the caller is responsible for pointing the previous
// block at this one.
func NewInodeBlock(origin block.DiskPointer) *InodeBlock {
	return &InodeBlock{
		BytesFree: ContainerPayload,
		NextBlock: block.FinalPointer(),
		Origin:    origin,
	}
}

// InodeBlockFromBlock deserializes an inode block, keeping the raw block's
// origin.
func InodeBlockFromBlock(b *block.Block) *InodeBlock {
	result := &InodeBlock{Origin: b.Origin}
	result.Flags, result.BytesFree, result.NextBlock = readContainerPrefix(&b.Data)
	copy(result.payload[:], b.Data[containerPayloadOffset:block.CRCOffset])
	return result
}

// ToBlock serializes the inode block back into a CRC-stamped raw block headed
// for its origin.
func (ib *InodeBlock) ToBlock() block.Block {
	result := block.Block{Origin: ib.Origin}
	writeContainerPrefix(&result.Data, ib.Flags, ib.BytesFree, ib.NextBlock)
	copy(result.Data[containerPayloadOffset:block.CRCOffset], ib.payload[:])
	block.AddCRC(&result.Data)
	return result
}

// TryAddInode places an inode in the first-fit hole in the payload and
// returns its offset. Fails with ErrOutOfRoom when the counter says the block
// is full, or ErrBlockFragmented when the bytes exist but not contiguously.
func (ib *InodeBlock) TryAddInode(inode Inode) (uint16, error) {
	serialized := inode.ToBytes()
	if len(serialized) > int(ib.BytesFree) {
		return 0, errors.ErrOutOfRoom
	}

	offset := block.FindFreeSpace(ib.payload[:], len(serialized), inodeSizeAt)
	if offset < 0 {
		return 0, errors.ErrBlockFragmented
	}

	copy(ib.payload[offset:offset+len(serialized)], serialized)
	ib.BytesFree -= uint16(len(serialized))
	return uint16(offset), nil
}

// ReadInode decodes the inode at the given payload offset.
func (ib *InodeBlock) ReadInode(offset uint16) (Inode, error) {
	if int(offset) >= len(ib.payload) {
		return Inode{}, errors.ErrImpossible
	}
	flags := ib.payload[offset]
	if flags&InodeMarkerBit == 0 || flags&^(InodeMarkerBit|InodeFileBit) != 0 {
		return Inode{}, errors.ErrNotPresent
	}
	return InodeFromBytes(ib.payload[offset:]), nil
}

// RemoveInode zeroes the inode at the given offset in place and credits the
// free-byte counter. The caller is responsible for freeing whatever the inode
// pointed at.
func (ib *InodeBlock) RemoveInode(offset uint16) error {
	if int(offset) >= len(ib.payload) {
		return errors.ErrImpossible
	}
	flags := ib.payload[offset]
	// An inode must start here: marker set and no reserved bits.
	if flags&InodeMarkerBit == 0 || flags&^(InodeMarkerBit|InodeFileBit) != 0 {
		return errors.ErrImpossible
	}

	length := inodeSizeAt(ib.payload[offset:])
	for i := 0; i < length; i++ {
		ib.payload[int(offset)+i] = 0
	}
	ib.BytesFree += uint16(length)
	return nil
}

// UpdateInode overwrites the inode at the given offset with a new one of the
// same on-disk size. Growing or shrinking an inode in place is a logic error.
func (ib *InodeBlock) UpdateInode(offset uint16, inode Inode) error {
	existing, err := ib.ReadInode(offset)
	if err != nil {
		return err
	}
	if existing.SerializedSize() != inode.SerializedSize() {
		panic(fmt.Sprintf(
			"inode at offset %d is %d bytes, replacement is %d",
			offset, existing.SerializedSize(), inode.SerializedSize(),
		))
	}
	copy(ib.payload[offset:], inode.ToBytes())
	return nil
}

// Next returns the pointer to the next inode block in the pool-wide chain, or
// false if this is the final block.
func (ib *InodeBlock) Next() (block.DiskPointer, bool) {
	if ib.NextBlock.NoDestination() {
		return block.DiskPointer{}, false
	}
	return ib.NextBlock, true
}

// SetNext points this block at a new successor. Only updates memory; the
// caller must write the block back.
func (ib *InodeBlock) SetNext(pointer block.DiskPointer) {
	ib.NextBlock = pointer
}
