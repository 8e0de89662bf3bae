package block

// MarkerBit is set in the first byte of every live item inside a container
// block. A byte without it marks the start of unused space.
const MarkerBit = 0b10000000

// ItemSizeFunc reports the serialized length of the item beginning at the
// start of the given slice. It is only called on bytes whose marker bit is
// set, so an item is guaranteed to start there.
type ItemSizeFunc func(data []byte) int

// FindFreeSpace locates a contiguous run of `requested` zero bytes in a
// container payload, skipping over live items by their self-described length.
// This permits reuse of holes left behind by removed items.
//
// Returns the offset of the run, or -1 if no run large enough exists (the
// caller is expected to have checked the free-byte counter already, so -1
// means the block is fragmented).
func FindFreeSpace(data []byte, requested int, sizeOf ItemSizeFunc) int {
	if requested > len(data) {
		panic("free-space request larger than the payload itself")
	}

	index := 0
	// Bytes too close to the end can't start a large-enough run.
	for index <= len(data)-requested {
		if data[index]&MarkerBit != 0 {
			// A live item starts here; seek past it.
			index += sizeOf(data[index:])
			continue
		}

		// Check whether the next `requested` bytes are all empty.
		blocker := -1
		for i := 0; i < requested; i++ {
			if data[index+i] != 0 {
				blocker = i
				break
			}
		}
		if blocker == -1 {
			return index
		}

		// A byte was in the way. Jump to it and start over; it is either the
		// start of an item or leading garbage we will step past one byte at a
		// time.
		if blocker == 0 {
			index++
			continue
		}
		index += blocker
	}

	return -1
}
