package pool

import (
	"fmt"
	"time"

	"github.com/flusterfs/fluster/block"
	"github.com/flusterfs/fluster/errors"
	log "github.com/sirupsen/logrus"
)

// The block cache is what makes the filesystem usable on removable media:
// every read served from memory is potentially a disk swap that never
// happened.
//
// It is two fixed-capacity vectors. Tier 1 holds blocks that have been cached
// but not re-read; a second read promotes an entry to tier 2. Within tier 2,
// each hit swaps the entry with its predecessor, bubble-sort style, so
// frequently wanted blocks drift to the front and the linear scan stays
// cheap. There is deliberately no dirty bit: every cache mutation is paired
// with a disk write in the same call, so eviction is always just a drop.

// cacheTierSize caps each tier at one floppy's worth of blocks.
const cacheTierSize = block.BlocksPerDisk

type cachedBlock struct {
	origin block.DiskPointer
	data   [block.BytesPerBlock]byte
}

type cache struct {
	tier1 []cachedBlock
	tier2 []cachedBlock
	stats CacheStatistics
}

// peek reports whether a block is cached without promoting it or touching
// statistics. Used by swap accounting.
func (c *cache) peek(origin block.DiskPointer) (*cachedBlock, bool) {
	for i := range c.tier2 {
		if c.tier2[i].origin == origin {
			return &c.tier2[i], true
		}
	}
	for i := range c.tier1 {
		if c.tier1[i].origin == origin {
			return &c.tier1[i], true
		}
	}
	return nil, false
}

// lookup finds a block, promoting on hit. Tier 2 hits bubble the entry one
// position forward; tier 1 hits move the entry to tier 2's tail.
func (c *cache) lookup(origin block.DiskPointer) (*cachedBlock, bool) {
	for i := range c.tier2 {
		if c.tier2[i].origin != origin {
			continue
		}
		if i > 0 {
			c.tier2[i], c.tier2[i-1] = c.tier2[i-1], c.tier2[i]
			i--
		}
		return &c.tier2[i], true
	}

	for i := range c.tier1 {
		if c.tier1[i].origin != origin {
			continue
		}
		entry := c.tier1[i]
		c.tier1 = append(c.tier1[:i], c.tier1[i+1:]...)
		c.pushTier2(entry)
		return &c.tier2[len(c.tier2)-1], true
	}

	return nil, false
}

// pushTier2 appends to tier 2, dropping its tail first if full. Dropped
// entries need no writeback; their contents are already on disk.
func (c *cache) pushTier2(entry cachedBlock) {
	if len(c.tier2) >= cacheTierSize {
		c.tier2 = c.tier2[:len(c.tier2)-1]
	}
	c.tier2 = append(c.tier2, entry)
}

// pushTier1 appends to tier 1, dropping its tail first if full.
func (c *cache) pushTier1(entry cachedBlock) {
	if len(c.tier1) >= cacheTierSize {
		c.tier1 = c.tier1[:len(c.tier1)-1]
	}
	c.tier1 = append(c.tier1, entry)
}

// store updates a cached block in place if present, otherwise adds it at tier
// 2's tail (it was just written, which is as good a sign of worth as a read).
func (c *cache) store(origin block.DiskPointer, data *[block.BytesPerBlock]byte) {
	if entry, ok := c.peek(origin); ok {
		entry.data = *data
		return
	}
	c.pushTier2(cachedBlock{origin: origin, data: *data})
}

// remove drops a block from both tiers.
func (c *cache) remove(origin block.DiskPointer) {
	for i := range c.tier1 {
		if c.tier1[i].origin == origin {
			c.tier1 = append(c.tier1[:i], c.tier1[i+1:]...)
			break
		}
	}
	for i := range c.tier2 {
		if c.tier2[i].origin == origin {
			c.tier2 = append(c.tier2[:i], c.tier2[i+1:]...)
			break
		}
	}
}

////////////////////////////////////////////////////////////////////////////////
// Cached, checked block I/O.
//
// These are the only I/O entry points above the drive. They assert the
// allocation bitmap agrees with the operation: reads require the bit set,
// writes require it clear, updates require it set. Violations are logic
// errors and panic.

// ioAttempts caps local retries of transient I/O failures.
const ioAttempts = 3

// retryDelay is how long to pause before retrying a transient failure.
const retryDelay = time.Second

func withRetries(op func() error) error {
	var err error
	for attempt := 0; attempt < ioAttempts; attempt++ {
		err = op()
		if err == nil || !errors.IsTransient(err) {
			return err
		}
		log.WithError(err).Warn("transient I/O failure, retrying")
		time.Sleep(retryDelay)
	}
	return err
}

// ReadBlock reads a block through the cache. A miss opens the owning disk,
// which may prompt for a swap.
func (pool *Pool) ReadBlock(origin block.DiskPointer) (block.Block, error) {
	if entry, ok := pool.cache.lookup(origin); ok {
		pool.cache.stats.Record(true)
		if origin.Disk != pool.currentDisk {
			// Without the cache this read would have meant a swap.
			pool.cache.stats.SwapsSaved++
		}
		return block.Block{Origin: origin, Data: entry.data}, nil
	}
	pool.cache.stats.Record(false)

	disk, err := pool.openDisk(origin.Disk)
	if err != nil {
		return block.Block{}, err
	}
	if !disk.table(pool).IsAllocated(origin.Block) {
		panic(fmt.Sprintf("checked read of unallocated block %s", origin))
	}

	var raw block.Block
	err = withRetries(func() error {
		var readErr error
		raw, readErr = block.ReadDirect(disk.dev, origin, false)
		return readErr
	})
	if err != nil {
		return block.Block{}, err
	}
	pool.Stats.TotalBytesRead += block.BytesPerBlock

	pool.cache.pushTier1(cachedBlock{origin: origin, data: raw.Data})
	return raw, nil
}

// WriteBlock writes a freshly allocated block: the bitmap bit must be clear,
// and is set (and persisted) as part of the write. The block lands in tier 2.
func (pool *Pool) WriteBlock(b *block.Block) error {
	disk, err := pool.openDisk(b.Origin.Disk)
	if err != nil {
		return err
	}
	table := disk.table(pool)
	if table.IsAllocated(b.Origin.Block) {
		panic(fmt.Sprintf("checked write to already-allocated block %s", b.Origin))
	}

	if err := withRetries(func() error { return block.WriteDirect(disk.dev, b) }); err != nil {
		return err
	}
	pool.Stats.TotalBytesWritten += block.BytesPerBlock

	table.Allocate([]uint16{b.Origin.Block})
	if disk.Kind == DiskStandard {
		pool.Header.FreeBlocks--
		if err := pool.persistStandardHeader(disk); err != nil {
			return err
		}
	}

	pool.cache.store(b.Origin, &b.Data)
	return nil
}

// UpdateBlock overwrites an already-allocated block: the bitmap bit must be
// set and is left alone.
func (pool *Pool) UpdateBlock(b *block.Block) error {
	disk, err := pool.openDisk(b.Origin.Disk)
	if err != nil {
		return err
	}
	if !disk.table(pool).IsAllocated(b.Origin.Block) {
		panic(fmt.Sprintf("checked update of unallocated block %s", b.Origin))
	}

	if err := withRetries(func() error { return block.WriteDirect(disk.dev, b) }); err != nil {
		return err
	}
	pool.Stats.TotalBytesWritten += block.BytesPerBlock

	pool.cache.store(b.Origin, &b.Data)
	return nil
}

// ForciblyWriteBlock writes straight to a device, skipping the cache and the
// allocation bitmap.
//
// This exists solely for bootstrapping pool and standard-disk headers before
// the cache knows about them. Anywhere else it will corrupt cache coherence;
// you had better know what you are doing.
func (pool *Pool) ForciblyWriteBlock(b *block.Block, dev block.Device) error {
	if err := withRetries(func() error { return block.WriteDirect(dev, b) }); err != nil {
		return err
	}
	pool.Stats.TotalBytesWritten += block.BytesPerBlock
	return nil
}

// persistStandardHeader writes a standard disk's header block (containing its
// allocation bitmap) back to disk and the cache.
func (pool *Pool) persistStandardHeader(disk *Disk) error {
	headerBlock := disk.Header.ToBlock()
	if err := withRetries(func() error { return block.WriteDirect(disk.dev, &headerBlock) }); err != nil {
		return err
	}
	pool.Stats.TotalBytesWritten += block.BytesPerBlock
	pool.cache.store(headerBlock.Origin, &headerBlock.Data)
	pool.backupDisk(disk.Number)
	return nil
}

// EvictBlock drops a block from the cache, if present.
func (pool *Pool) EvictBlock(origin block.DiskPointer) {
	pool.cache.remove(origin)
}

// FlushCache re-writes every cached entry through checked I/O. The cache is
// synchronous, so this is a belt-and-braces step for shutdown.
func (pool *Pool) FlushCache() error {
	flushTier := func(tier []cachedBlock) error {
		for i := range tier {
			entry := &tier[i]
			b := block.Block{Origin: entry.origin, Data: entry.data}
			if err := pool.UpdateBlock(&b); err != nil {
				return err
			}
		}
		return nil
	}

	if err := flushTier(pool.cache.tier2); err != nil {
		return err
	}
	return flushTier(pool.cache.tier1)
}
