package block

import (
	"io"

	"github.com/flusterfs/fluster/errors"
)

// Device is the lower boundary of the filesystem: a seekable, read-write byte
// device of exactly DiskSizeBytes. On development builds this is a file in the
// virtual-disks directory; in production it is the floppy block device.
type Device io.ReadWriteSeeker

// Syncer is implemented by devices whose writes must be made durable
// explicitly. os.File implements it; in-memory test devices do not.
type Syncer interface {
	Sync() error
}

// ReadDirect reads a single block from the device. Only the lowest layers may
// call this; everything above the drive goes through the cache.
//
// The CRC check should only be skipped when absolutely needed, such as when
// reading block 0 from a disk of unknown provenance.
func ReadDirect(dev Device, origin DiskPointer, ignoreCRC bool) (Block, error) {
	result := Block{Origin: origin}

	if origin.Block >= BlocksPerDisk {
		return result, errors.ErrInvalidOffset
	}

	if _, err := dev.Seek(int64(origin.Block)*BytesPerBlock, io.SeekStart); err != nil {
		return result, errors.FromOS(err)
	}
	if _, err := io.ReadFull(dev, result.Data[:]); err != nil {
		return result, errors.FromOS(err)
	}

	if !ignoreCRC && !CheckCRC(&result.Data) {
		return result, errors.ErrInvalidCRC
	}
	return result, nil
}

// WriteDirect writes a single block to the device and flushes it. Only for
// use by the drive and disk-initialization code.
func WriteDirect(dev Device, b *Block) error {
	if b.Origin.Block >= BlocksPerDisk {
		return errors.ErrInvalidOffset
	}

	if _, err := dev.Seek(int64(b.Origin.Block)*BytesPerBlock, io.SeekStart); err != nil {
		return errors.FromOS(err)
	}
	written, err := dev.Write(b.Data[:])
	if err != nil {
		return errors.FromOS(err)
	}
	if written != BytesPerBlock {
		return errors.ErrWriteFailure
	}

	if syncer, ok := dev.(Syncer); ok {
		if err := syncer.Sync(); err != nil {
			return errors.FromOS(err)
		}
	}
	return nil
}

// WriteLargeDirect writes a run of whole blocks in one pass, starting at the
// given pointer. The data length must be a multiple of the block size. Used
// for chunked operations like wiping a disk.
func WriteLargeDirect(dev Device, data []byte, start DiskPointer) error {
	if len(data)%BytesPerBlock != 0 {
		return errors.ErrInvalid.WithMessage("large writes must be whole blocks")
	}
	lastBlock := uint(start.Block) + uint(len(data))/BytesPerBlock
	if lastBlock > BlocksPerDisk {
		return errors.ErrInvalidOffset
	}

	if _, err := dev.Seek(int64(start.Block)*BytesPerBlock, io.SeekStart); err != nil {
		return errors.FromOS(err)
	}
	written, err := dev.Write(data)
	if err != nil {
		return errors.FromOS(err)
	}
	if written != len(data) {
		return errors.ErrWriteFailure
	}

	if syncer, ok := dev.(Syncer); ok {
		if err := syncer.Sync(); err != nil {
			return errors.FromOS(err)
		}
	}
	return nil
}
