package format

import (
	"encoding/binary"

	"github.com/flusterfs/fluster/block"
)

// Container blocks (inode, directory, file-extent) share a fixed layout: a
// flags byte, a little-endian free-byte counter, a pointer to the next block
// in the chain, then a 501-byte item region, then the CRC.
const (
	containerFreeOffset    = 1
	containerNextOffset    = 3
	containerPayloadOffset = 7
	// ContainerPayload is the number of item bytes a container block holds.
	ContainerPayload = block.CRCOffset - containerPayloadOffset
)

// writeContainerPrefix fills in the shared prefix of a container block.
func writeContainerPrefix(data *[block.BytesPerBlock]byte, flags byte, bytesFree uint16, next block.DiskPointer) {
	data[0] = flags
	binary.LittleEndian.PutUint16(data[containerFreeOffset:containerNextOffset], bytesFree)
	pointer := next.ToBytes()
	copy(data[containerNextOffset:containerPayloadOffset], pointer[:])
}

// readContainerPrefix is the inverse of writeContainerPrefix.
func readContainerPrefix(data *[block.BytesPerBlock]byte) (flags byte, bytesFree uint16, next block.DiskPointer) {
	flags = data[0]
	bytesFree = binary.LittleEndian.Uint16(data[containerFreeOffset:containerNextOffset])
	var pointer [4]byte
	copy(pointer[:], data[containerNextOffset:containerPayloadOffset])
	next = block.PointerFromBytes(pointer)
	return
}
