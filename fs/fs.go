// Package fs adapts the pool to the kernel through FUSE. It owns path
// resolution state (inode IDs, file handles) and serializes every operation
// behind one mutex; the pool below assumes exclusive access.
package fs

import (
	"context"
	"path"
	"sync"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	log "github.com/sirupsen/logrus"

	"github.com/flusterfs/fluster/block"
	"github.com/flusterfs/fluster/errors"
	"github.com/flusterfs/fluster/format"
	"github.com/flusterfs/fluster/pool"
)

// flusterFS implements the FUSE operations the kernel needs, mapping inode
// IDs to pool paths. Inode numbers are fabricated per lookup and stable for
// the life of the mount; the pool itself has no inode numbers.
type flusterFS struct {
	fuseutil.NotImplementedFileSystem

	mu   sync.Mutex
	pool *pool.Pool

	inodePaths map[fuseops.InodeID]string
	pathInodes map[string]fuseops.InodeID
	nextInode  fuseops.InodeID

	handles *handleTable
}

// NewServer wraps a loaded pool in a FUSE file system server.
func NewServer(p *pool.Pool) fuse.Server {
	fs := &flusterFS{
		pool:       p,
		inodePaths: map[fuseops.InodeID]string{fuseops.RootInodeID: "/"},
		pathInodes: map[string]fuseops.InodeID{"/": fuseops.RootInodeID},
		nextInode:  fuseops.RootInodeID + 1,
		handles:    newHandleTable(),
	}
	return fuseutil.NewFileSystemServer(fs)
}

// Mount mounts the filesystem and returns the join handle.
func Mount(mountPoint string, server fuse.Server) (*fuse.MountedFileSystem, error) {
	return fuse.Mount(mountPoint, server, &fuse.MountConfig{
		FSName:  "fluster",
		Subtype: "fluster",
	})
}

// errno converts internal errors into what the kernel should see, logging
// anything surprising.
func errno(err error) error {
	if err == nil {
		return nil
	}
	log.WithError(err).Debug("filesystem operation failed")
	return errors.Errno(err)
}

// inodeFor returns the stable inode ID for a path, minting one if needed.
// Callers must hold fs.mu.
func (fs *flusterFS) inodeFor(fullPath string) fuseops.InodeID {
	if id, ok := fs.pathInodes[fullPath]; ok {
		return id
	}
	id := fs.nextInode
	fs.nextInode++
	fs.pathInodes[fullPath] = id
	fs.inodePaths[id] = fullPath
	return id
}

// pathOf resolves an inode ID back to its path.
func (fs *flusterFS) pathOf(inode fuseops.InodeID) (string, error) {
	fullPath, ok := fs.inodePaths[inode]
	if !ok {
		return "", errors.ErrNoSuchItem
	}
	return fullPath, nil
}

// forgetPath drops inode and handle state for a removed path.
func (fs *flusterFS) forgetPath(fullPath string) {
	if id, ok := fs.pathInodes[fullPath]; ok {
		delete(fs.pathInodes, fullPath)
		delete(fs.inodePaths, id)
	}
}

// movePath rebinds inode state after a rename.
func (fs *flusterFS) movePath(oldPath, newPath string) {
	if id, ok := fs.pathInodes[oldPath]; ok {
		delete(fs.pathInodes, oldPath)
		fs.pathInodes[newPath] = id
		fs.inodePaths[id] = newPath
	}
	fs.handles.rename(oldPath, newPath)
}

// resolve looks a path up in the pool.
func (fs *flusterFS) resolve(fullPath string) (format.DirectoryItem, error) {
	item, _, err := fs.pool.Resolve(fullPath)
	return item, err
}

////////////////////////////////////////////////////////////////////////////////
// Filesystem-wide operations

func (fs *flusterFS) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	header := fs.pool.Header
	totalBlocks := uint64(header.HighestKnownDisk) * block.BlocksPerDisk
	op.BlockSize = block.BytesPerBlock
	op.IoSize = block.BytesPerBlock
	op.Blocks = totalBlocks
	op.BlocksFree = uint64(header.FreeBlocks)
	op.BlocksAvailable = uint64(header.FreeBlocks)
	return nil
}

func (fs *flusterFS) Destroy() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.pool.Close(); err != nil {
		log.WithError(err).Error("flushing the pool on unmount failed")
	}
}

////////////////////////////////////////////////////////////////////////////////
// Lookup and attributes

func (fs *flusterFS) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parentPath, err := fs.pathOf(op.Parent)
	if err != nil {
		return errno(err)
	}
	childPath := path.Join(parentPath, op.Name)

	item, err := fs.resolve(childPath)
	if err != nil {
		return errno(err)
	}
	attributes, err := itemAttributes(fs.pool, &item)
	if err != nil {
		return errno(err)
	}

	op.Entry = fuseops.ChildInodeEntry{
		Child:      fs.inodeFor(childPath),
		Attributes: attributes,
	}
	return nil
}

func (fs *flusterFS) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fullPath, err := fs.pathOf(op.Inode)
	if err != nil {
		return errno(err)
	}
	item, err := fs.resolve(fullPath)
	if err != nil {
		return errno(err)
	}
	attributes, err := itemAttributes(fs.pool, &item)
	if err != nil {
		return errno(err)
	}
	op.Attributes = attributes
	return nil
}

func (fs *flusterFS) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fullPath, err := fs.pathOf(op.Inode)
	if err != nil {
		return errno(err)
	}
	item, err := fs.resolve(fullPath)
	if err != nil {
		return errno(err)
	}

	if op.Size != nil {
		if item.IsDirectory() {
			return errno(errors.ErrIsADirectory)
		}
		if err := fs.pool.TruncateFileTo(&item, *op.Size); err != nil {
			return errno(err)
		}
	}
	// Mode and timestamp changes are accepted and ignored; the format does
	// not store them.

	attributes, err := itemAttributes(fs.pool, &item)
	if err != nil {
		return errno(err)
	}
	op.Attributes = attributes
	return nil
}

func (fs *flusterFS) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	return nil
}

////////////////////////////////////////////////////////////////////////////////
// Directories

func (fs *flusterFS) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parentPath, err := fs.pathOf(op.Parent)
	if err != nil {
		return errno(err)
	}
	parent, err := fs.pool.FindDirectory(parentPath)
	if err != nil {
		return errno(err)
	}

	item, err := fs.pool.MakeDirectory(parent, op.Name)
	if err != nil {
		return errno(err)
	}
	attributes, err := itemAttributes(fs.pool, &item)
	if err != nil {
		return errno(err)
	}

	op.Entry = fuseops.ChildInodeEntry{
		Child:      fs.inodeFor(path.Join(parentPath, op.Name)),
		Attributes: attributes,
	}
	return nil
}

func (fs *flusterFS) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fullPath, err := fs.pathOf(op.Inode)
	if err != nil {
		return errno(err)
	}
	if _, err := fs.pool.FindDirectory(fullPath); err != nil {
		return errno(err)
	}
	handle, err := fs.handles.allocate(fullPath)
	if err != nil {
		return errno(err)
	}
	op.Handle = handle
	return nil
}

func (fs *flusterFS) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fullPath, err := fs.handles.lookup(op.Handle)
	if err != nil {
		return errno(err)
	}
	directory, err := fs.pool.FindDirectory(fullPath)
	if err != nil {
		return errno(err)
	}
	items, err := fs.pool.List(directory)
	if err != nil {
		return errno(err)
	}

	for i := int(op.Offset); i < len(items); i++ {
		item := items[i]
		direntType := fuseutil.DT_File
		if item.IsDirectory() {
			direntType = fuseutil.DT_Directory
		}
		written := fuseutil.WriteDirent(op.Dst[op.BytesRead:], fuseutil.Dirent{
			Offset: fuseops.DirOffset(i + 1),
			Inode:  fs.inodeFor(path.Join(fullPath, item.Name)),
			Name:   item.Name,
			Type:   direntType,
		})
		if written == 0 {
			break
		}
		op.BytesRead += written
	}
	return nil
}

func (fs *flusterFS) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.handles.release(op.Handle)
	return nil
}

func (fs *flusterFS) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parentPath, err := fs.pathOf(op.Parent)
	if err != nil {
		return errno(err)
	}
	parent, err := fs.pool.FindDirectory(parentPath)
	if err != nil {
		return errno(err)
	}
	if err := fs.pool.RemoveDirectory(parent, op.Name); err != nil {
		return errno(err)
	}
	fs.forgetPath(path.Join(parentPath, op.Name))
	return nil
}

////////////////////////////////////////////////////////////////////////////////
// Files

func (fs *flusterFS) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parentPath, err := fs.pathOf(op.Parent)
	if err != nil {
		return errno(err)
	}
	parent, err := fs.pool.FindDirectory(parentPath)
	if err != nil {
		return errno(err)
	}

	item, err := fs.pool.CreateFile(parent, op.Name)
	if err != nil {
		return errno(err)
	}
	attributes, err := itemAttributes(fs.pool, &item)
	if err != nil {
		return errno(err)
	}

	childPath := path.Join(parentPath, op.Name)
	handle, err := fs.handles.allocate(childPath)
	if err != nil {
		return errno(err)
	}

	op.Entry = fuseops.ChildInodeEntry{
		Child:      fs.inodeFor(childPath),
		Attributes: attributes,
	}
	op.Handle = handle
	return nil
}

func (fs *flusterFS) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fullPath, err := fs.pathOf(op.Inode)
	if err != nil {
		return errno(err)
	}
	item, err := fs.resolve(fullPath)
	if err != nil {
		return errno(err)
	}
	if item.IsDirectory() {
		return errno(errors.ErrIsADirectory)
	}

	handle, err := fs.handles.allocate(fullPath)
	if err != nil {
		return errno(err)
	}
	op.Handle = handle
	return nil
}

func (fs *flusterFS) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fullPath, err := fs.handles.lookup(op.Handle)
	if err != nil {
		return errno(err)
	}
	item, err := fs.resolve(fullPath)
	if err != nil {
		return errno(err)
	}

	data, err := fs.pool.ReadFileAt(&item, uint64(op.Offset), uint32(len(op.Dst)))
	if err != nil {
		return errno(err)
	}
	op.BytesRead = copy(op.Dst, data)
	return nil
}

func (fs *flusterFS) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fullPath, err := fs.handles.lookup(op.Handle)
	if err != nil {
		return errno(err)
	}
	item, err := fs.resolve(fullPath)
	if err != nil {
		return errno(err)
	}

	if _, err := fs.pool.WriteFileAt(&item, op.Data, uint64(op.Offset)); err != nil {
		return errno(err)
	}
	return nil
}

func (fs *flusterFS) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	// Writes are synchronous all the way down; there is nothing buffered to
	// flush per file.
	return nil
}

func (fs *flusterFS) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error {
	return nil
}

func (fs *flusterFS) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.handles.release(op.Handle)
	return nil
}

func (fs *flusterFS) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parentPath, err := fs.pathOf(op.Parent)
	if err != nil {
		return errno(err)
	}
	parent, err := fs.pool.FindDirectory(parentPath)
	if err != nil {
		return errno(err)
	}
	if err := fs.pool.Unlink(parent, op.Name); err != nil {
		return errno(err)
	}
	fs.forgetPath(path.Join(parentPath, op.Name))
	return nil
}

func (fs *flusterFS) Rename(ctx context.Context, op *fuseops.RenameOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	oldParentPath, err := fs.pathOf(op.OldParent)
	if err != nil {
		return errno(err)
	}
	newParentPath, err := fs.pathOf(op.NewParent)
	if err != nil {
		return errno(err)
	}

	oldParent, err := fs.pool.FindDirectory(oldParentPath)
	if err != nil {
		return errno(err)
	}
	newParent, err := fs.pool.FindDirectory(newParentPath)
	if err != nil {
		return errno(err)
	}

	if err := fs.pool.Rename(oldParent, op.OldName, newParent, op.NewName); err != nil {
		return errno(err)
	}

	newPath := path.Join(newParentPath, op.NewName)
	fs.forgetPath(newPath)
	fs.movePath(path.Join(oldParentPath, op.OldName), newPath)
	return nil
}
