package format

import (
	"encoding/binary"

	"github.com/flusterfs/fluster/block"
	"github.com/flusterfs/fluster/errors"
)

// Extent flag bits.
const (
	ExtentMarkerBit  = block.MarkerBit
	ExtentOnThisDisk = 0b00000010
)

// MaxExtentLength is the longest run a single extent can describe; the length
// field is a single byte and a run of zero is meaningless.
const MaxExtentLength = 255

// FileExtent is a contiguous run of data blocks on one disk belonging to a
// file. A run never crosses disks.
type FileExtent struct {
	Disk uint16
	// HasDisk is false for local extents that haven't had their disk imputed.
	HasDisk    bool
	StartBlock uint16
	// Length is the number of blocks in the run, always non-zero on disk.
	Length uint8
}

func (extent FileExtent) toBytes(destinationDisk uint16) []byte {
	local := extent.HasDisk && extent.Disk == destinationDisk

	flags := byte(ExtentMarkerBit)
	if local {
		flags |= ExtentOnThisDisk
	}

	buffer := make([]byte, 0, 6)
	buffer = append(buffer, flags)
	var scratch [2]byte
	if !local {
		if !extent.HasDisk {
			panic("cannot serialize a remote extent without its disk")
		}
		binary.LittleEndian.PutUint16(scratch[:], extent.Disk)
		buffer = append(buffer, scratch[:]...)
	}
	binary.LittleEndian.PutUint16(scratch[:], extent.StartBlock)
	buffer = append(buffer, scratch[:]...)
	buffer = append(buffer, extent.Length)
	return buffer
}

func (extent FileExtent) serializedLen(destinationDisk uint16) int {
	if extent.HasDisk && extent.Disk == destinationDisk {
		return 4
	}
	return 6
}

// extentFromBytes reads one extent from the front of the slice and returns it
// with its serialized length. Local extents get the origin disk imputed.
func extentFromBytes(data []byte, originDisk uint16) (FileExtent, int) {
	flags := data[0]
	if flags&ExtentMarkerBit == 0 {
		panic("tried to decode an extent without its marker bit")
	}

	var extent FileExtent
	index := 1
	if flags&ExtentOnThisDisk != 0 {
		extent.Disk = originDisk
		extent.HasDisk = true
	} else {
		extent.Disk = binary.LittleEndian.Uint16(data[index : index+2])
		extent.HasDisk = true
		index += 2
	}
	extent.StartBlock = binary.LittleEndian.Uint16(data[index : index+2])
	index += 2
	extent.Length = data[index]
	return extent, index + 1
}

// Pointers expands the extent into the data-block pointers it covers, in
// order. The disk must be known.
func (extent FileExtent) Pointers() []block.DiskPointer {
	if !extent.HasDisk {
		panic("cannot expand an extent without its disk")
	}
	pointers := make([]block.DiskPointer, extent.Length)
	for i := range pointers {
		pointers[i] = block.DiskPointer{Disk: extent.Disk, Block: extent.StartBlock + uint16(i)}
	}
	return pointers
}

// ExtentsFromPointers coalesces a sorted slice of disk pointers into the
// fewest extents that cover them. A run continues while the disk matches, the
// blocks are consecutive, and the run is shorter than MaxExtentLength.
func ExtentsFromPointers(pointers []block.DiskPointer) []FileExtent {
	var extents []FileExtent
	var current *FileExtent

	for _, pointer := range pointers {
		if current != nil &&
			current.Disk == pointer.Disk &&
			pointer.Block == current.StartBlock+uint16(current.Length) &&
			current.Length < MaxExtentLength {
			current.Length++
			continue
		}
		extents = append(extents, FileExtent{
			Disk:       pointer.Disk,
			HasDisk:    true,
			StartBlock: pointer.Block,
			Length:     1,
		})
		current = &extents[len(extents)-1]
	}
	return extents
}

////////////////////////////////////////////////////////////////////////////////
// File-extent block

// FileExtentBlock holds part of a file's extent stream. The chain of extent
// blocks, in order, describes the entire file.
type FileExtentBlock struct {
	Flags     byte
	BytesFree uint16
	NextBlock block.DiskPointer
	// Origin is runtime-only; local extents resolve relative to it.
	Origin  block.DiskPointer
	Extents []FileExtent
}

// NewFileExtentBlock creates an empty extent block destined for origin.
func NewFileExtentBlock(origin block.DiskPointer) *FileExtentBlock {
	return &FileExtentBlock{
		BytesFree: ContainerPayload,
		NextBlock: block.FinalPointer(),
		Origin:    origin,
	}
}

// FileExtentBlockFromBlock deserializes an extent block, keeping the raw
// block's origin.
func FileExtentBlockFromBlock(b *block.Block) *FileExtentBlock {
	result := &FileExtentBlock{Origin: b.Origin}
	result.Flags, result.BytesFree, result.NextBlock = readContainerPrefix(&b.Data)

	payload := b.Data[containerPayloadOffset:block.CRCOffset]
	index := 0
	for index < len(payload) && payload[index]&ExtentMarkerBit != 0 {
		extent, length := extentFromBytes(payload[index:], b.Origin.Disk)
		result.Extents = append(result.Extents, extent)
		index += length
	}
	return result
}

// ToBlock serializes the block back into a CRC-stamped raw block headed for
// its origin.
func (eb *FileExtentBlock) ToBlock() block.Block {
	result := block.Block{Origin: eb.Origin}
	writeContainerPrefix(&result.Data, eb.Flags, eb.BytesFree, eb.NextBlock)

	index := containerPayloadOffset
	for _, extent := range eb.Extents {
		serialized := extent.toBytes(eb.Origin.Disk)
		copy(result.Data[index:index+len(serialized)], serialized)
		index += len(serialized)
	}

	block.AddCRC(&result.Data)
	return result
}

// TryAddExtent appends an extent if the block has room for its serialized
// form.
func (eb *FileExtentBlock) TryAddExtent(extent FileExtent) error {
	if extent.Length == 0 {
		panic("extents must cover at least one block")
	}
	length := extent.serializedLen(eb.Origin.Disk)
	if length > int(eb.BytesFree) {
		return errors.ErrOutOfRoom
	}
	eb.Extents = append(eb.Extents, extent)
	eb.BytesFree -= uint16(length)
	return nil
}

// Reset empties the block, keeping its origin. Used by truncate, which
// preserves a file's first extent block.
func (eb *FileExtentBlock) Reset() {
	eb.Flags = 0
	eb.BytesFree = ContainerPayload
	eb.NextBlock = block.FinalPointer()
	eb.Extents = nil
}

// Next returns the next block in the extent chain, or false at the end.
func (eb *FileExtentBlock) Next() (block.DiskPointer, bool) {
	if eb.NextBlock.NoDestination() {
		return block.DiskPointer{}, false
	}
	return eb.NextBlock, true
}
