package fs

import (
	"os"

	"github.com/jacobsa/fuse/fuseops"

	"github.com/flusterfs/fluster/format"
	"github.com/flusterfs/fluster/pool"
)

// The pool format has no permission bits, so every file gets the same
// world-readable modes.
const (
	fileMode = 0o644
	dirMode  = os.ModeDir | 0o755
)

// itemAttributes builds the kernel-visible attributes for a directory item.
func itemAttributes(p *pool.Pool, item *format.DirectoryItem) (fuseops.InodeAttributes, error) {
	inode, err := p.ItemInode(item)
	if err != nil {
		return fuseops.InodeAttributes{}, err
	}
	size, err := p.ItemSize(item)
	if err != nil {
		return fuseops.InodeAttributes{}, err
	}

	attributes := fuseops.InodeAttributes{
		Size:  size,
		Nlink: 1,
		Mode:  fileMode,
		Atime: inode.Modified.Time(),
		Mtime: inode.Modified.Time(),
		Ctime: inode.Created.Time(),
	}
	if item.IsDirectory() {
		attributes.Mode = dirMode
	}
	return attributes, nil
}
