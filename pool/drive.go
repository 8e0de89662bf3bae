package pool

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/flusterfs/fluster/backup"
	"github.com/flusterfs/fluster/block"
	"github.com/flusterfs/fluster/errors"
	"github.com/flusterfs/fluster/format"
	"github.com/mattn/go-isatty"
	log "github.com/sirupsen/logrus"
	"github.com/vbauerster/mpb/v5"
	"github.com/vbauerster/mpb/v5/decor"
)

// DiskKind classifies whatever is currently in the drive, deduced from block
// 0. Dense disks are reserved in the flag layout but not implemented.
type DiskKind int

const (
	DiskUnknown DiskKind = iota
	DiskBlank
	DiskPool
	DiskStandard
)

func (kind DiskKind) String() string {
	switch kind {
	case DiskBlank:
		return "blank"
	case DiskPool:
		return "pool"
	case DiskStandard:
		return "standard"
	default:
		return "unknown"
	}
}

// Disk is an opened disk: its deduced kind, its header if it has one, and the
// device it was read from. Opening a disk transfers ownership of the device
// handle to it.
type Disk struct {
	Kind   DiskKind
	Number uint16
	// Header is set for standard disks only.
	Header *format.StandardHeader
	// poolHeader is set when the pool disk itself was opened.
	poolHeader *format.PoolHeader

	dev block.Device
}

// table returns the disk's allocation bitmap. Blank and unknown disks have
// none; asking for one is a logic error.
func (disk *Disk) table(pool *Pool) *format.AllocationTable {
	switch disk.Kind {
	case DiskStandard:
		return &disk.Header.Table
	case DiskPool:
		// The in-memory pool header is authoritative while mounted.
		return &pool.Header.Table
	default:
		panic(fmt.Sprintf("block allocation is not supported on %s disks", disk.Kind))
	}
}

func diskFileName(number uint16) string {
	return fmt.Sprintf("disk%d.fsr", number)
}

// deviceFor returns the device holding the given disk. With virtual disks,
// each disk is its own image file, created on demand and held open; with a
// real drive there is a single device handle regardless of which floppy is
// inserted.
func (pool *Pool) deviceFor(number uint16, create bool) (block.Device, error) {
	if pool.Config.VirtualDiskDir == "" {
		if pool.drive == nil {
			file, err := os.OpenFile(pool.Config.DevicePath, os.O_RDWR, 0)
			if err != nil {
				return nil, errors.FromOS(err)
			}
			pool.drive = file
		}
		return pool.drive, nil
	}

	if dev, ok := pool.devices[number]; ok {
		return dev, nil
	}

	// Disk 0 must always exist, because the pool cannot create disk 0 without
	// first loading itself from disk 0.
	if number == 0 {
		create = true
	}

	log.Tracef("accessing virtual disk %d (create: %v)", number, create)
	path := filepath.Join(pool.Config.VirtualDiskDir, diskFileName(number))
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, errors.FromOS(err)
	}
	// Size the file like a floppy; pre-existing files are already this big.
	if err := file.Truncate(block.DiskSizeBytes); err != nil {
		file.Close()
		return nil, errors.FromOS(err)
	}

	pool.devices[number] = file
	return file, nil
}

// openDirect opens whatever disk is present and deduces its type from block
// 0. It never prompts and never creates disks (beyond the virtual image file
// itself).
func (pool *Pool) openDirect(number uint16, create bool) (*Disk, error) {
	log.Tracef("opening and deducing disk %d", number)
	dev, err := pool.deviceFor(number, create)
	if err != nil {
		return nil, err
	}

	// The CRC must be ignored here: we know nothing about the disk yet, and
	// the cache cannot be consulted while loading disk identity.
	headerBlock, err := block.ReadDirect(dev, block.DiskPointer{Disk: number, Block: 0}, true)
	if err != nil {
		return nil, err
	}

	if !format.HasMagic(headerBlock.Data[:]) {
		for _, b := range headerBlock.Data {
			if b != 0 {
				log.Trace("disk has data but no magic; unknown disk")
				return &Disk{Kind: DiskUnknown, dev: dev}, nil
			}
		}
		log.Trace("disk is blank")
		return &Disk{Kind: DiskBlank, dev: dev}, nil
	}

	flags := headerBlock.Data[8]
	switch {
	case flags&format.PoolHeaderBit != 0:
		if !block.CheckCRC(&headerBlock.Data) {
			return nil, errors.ErrInvalidCRC.WithMessage("pool header is corrupt")
		}
		header, err := format.ParsePoolHeader(&headerBlock)
		if err != nil {
			return nil, err
		}
		return &Disk{Kind: DiskPool, Number: 0, poolHeader: header, dev: dev}, nil
	case flags&format.StandardHeaderBit != 0:
		if !block.CheckCRC(&headerBlock.Data) {
			return nil, errors.ErrInvalidCRC.WithMessage(
				fmt.Sprintf("header of disk %d is corrupt", number))
		}
		header, err := format.ParseStandardHeader(&headerBlock)
		if err != nil {
			return nil, err
		}
		return &Disk{Kind: DiskStandard, Number: header.DiskNumber, Header: header, dev: dev}, nil
	}

	// A header with magic but no recognizable type bit is not something we
	// can continue with.
	panic(fmt.Sprintf("header of disk %d did not match any known disk type", number))
}

// openDisk opens a specific numbered disk, prompting the user to swap floppies
// until the right one is inserted. Returns only pool or standard disks.
func (pool *Pool) openDisk(number uint16) (*Disk, error) {
	wrongDiskAlready := false
	for {
		disk, err := pool.openDirect(number, false)
		if err != nil {
			if errors.IsTransient(err) {
				log.WithError(err).Warn("transient error while opening disk")
				continue
			}
			return nil, err
		}

		switch disk.Kind {
		case DiskPool, DiskStandard:
			pool.noteInsertedDisk(disk.Number)
			if disk.Number == number {
				return disk, nil
			}
			log.Warnf("wrong disk received, got disk %d", disk.Number)
		case DiskBlank:
			return nil, errors.ErrUninitialized.WithMessage(
				fmt.Sprintf("expected disk %d, found a blank disk", number))
		default:
			log.Warn("an unknown disk is in the drive")
		}

		if !pool.Config.Interactive {
			return nil, errors.ErrWrongDisk.WithMessage(
				fmt.Sprintf("expected disk %d", number))
		}
		if wrongDiskAlready {
			fmt.Fprintln(os.Stderr, "Wrong disk. Try again.")
		}
		wrongDiskAlready = true
		pool.promptf("Please insert disk %d, then press enter.", number)
	}
}

// noteInsertedDisk records a disk change for the swap counter. A change only
// counts as a physical swap if the disk's header was not served from cache.
func (pool *Pool) noteInsertedDisk(number uint16) {
	if number == pool.currentDisk {
		return
	}
	header := block.DiskPointer{Disk: number, Block: 0}
	if _, cached := pool.cache.peek(header); !cached {
		pool.currentDisk = number
		pool.Stats.Swaps++
		log.Debugf("disk swap: disk %d is now in the drive (%d swaps total)", number, pool.Stats.Swaps)
	}
}

// promptBlankDisk pesters the user until a blank disk is inserted, offering
// to wipe unknown disks along the way.
func (pool *Pool) promptBlankDisk(number uint16) (*Disk, error) {
	if pool.Config.VirtualDiskDir == "" && pool.Config.Interactive {
		pool.promptf("Please insert a blank disk, then press enter.")
	}

	for {
		disk, err := pool.openDirect(number, true)
		if err != nil {
			return nil, err
		}
		switch disk.Kind {
		case DiskBlank:
			return disk, nil
		case DiskUnknown:
			if pool.Config.Interactive &&
				pool.promptYesNo("The inserted disk is not recognized. Wipe it?") {
				if err := pool.wipe(disk.dev); err != nil {
					return nil, err
				}
				continue
			}
			return nil, errors.ErrNotBlank
		default:
			if !pool.Config.Interactive {
				return nil, errors.ErrNotBlank.WithMessage(
					fmt.Sprintf("disk in drive is a %s disk", disk.Kind))
			}
			pool.promptf("That disk is not blank. Please insert a blank disk, then hit enter.")
		}
	}
}

// wipeChunkBlocks is how many blocks are zeroed per write during a wipe.
const wipeChunkBlocks = 64

// wipeChunkTimeout bounds a single chunk write; a floppy that cannot zero 64
// blocks in this long is not going to get better.
const wipeChunkTimeout = 10 * time.Second

// wipe destroys all data on all blocks of the disk.
func (pool *Pool) wipe(dev block.Device) error {
	log.Debug("wiping currently inserted disk")
	zeros := make([]byte, block.BytesPerBlock*wipeChunkBlocks)
	totalChunks := block.BlocksPerDisk / wipeChunkBlocks

	var bar *mpb.Bar
	var progress *mpb.Progress
	if pool.Config.Interactive && isatty.IsTerminal(os.Stderr.Fd()) {
		progress = mpb.New(mpb.WithOutput(os.Stderr))
		bar = progress.AddBar(int64(totalChunks),
			mpb.PrependDecorators(decor.Name("wiping disk")),
			mpb.AppendDecorators(decor.Percentage()),
		)
	}

	for chunk := 0; chunk < totalChunks; chunk++ {
		start := block.DiskPointer{Block: uint16(chunk * wipeChunkBlocks)}
		began := time.Now()
		if err := block.WriteLargeDirect(dev, zeros, start); err != nil {
			if bar != nil {
				bar.Abort(true)
			}
			return errors.ErrWipeFailure.WrapError(err)
		}
		if time.Since(began) > wipeChunkTimeout {
			if bar != nil {
				bar.Abort(true)
			}
			return errors.ErrTakingTooLong
		}
		if bar != nil {
			bar.Increment()
		}
		log.Tracef("wipe %.1f%%", float64((chunk+1)*wipeChunkBlocks)/block.BlocksPerDisk*100)
	}
	if progress != nil {
		progress.Wait()
	}
	log.Debug("wipe complete")
	return nil
}

// promptf prints a prompt and waits for enter, when running interactively.
func (pool *Pool) promptf(message string, args ...any) {
	if !pool.Config.Interactive || pool.Config.VirtualDiskDir != "" {
		return
	}
	fmt.Fprintf(os.Stderr, message+" ", args...)
	_, _ = bufio.NewReader(os.Stdin).ReadString('\n')
}

// promptYesNo asks until it gets an answer starting with y or n.
func (pool *Pool) promptYesNo(question string) bool {
	if !pool.Config.Interactive || pool.Config.VirtualDiskDir != "" {
		return true
	}
	fmt.Fprintln(os.Stderr, question)
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Fprint(os.Stderr, "y/n: ")
		reply, err := reader.ReadString('\n')
		if err != nil {
			return false
		}
		switch {
		case len(reply) > 0 && (reply[0] == 'y' || reply[0] == 'Y'):
			return true
		case len(reply) > 0 && (reply[0] == 'n' || reply[0] == 'N'):
			return false
		}
		fmt.Fprintln(os.Stderr, "Try again.")
	}
}

// backupFile mirrors a disk image into the backup directory.
func backupFile(source, destDir, name string) error {
	return backup.Write(source, destDir, name)
}
