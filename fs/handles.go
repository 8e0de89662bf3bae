package fs

import (
	"github.com/boljen/go-bitmap"
	"github.com/jacobsa/fuse/fuseops"

	"github.com/flusterfs/fluster/errors"
)

// maxOpenHandles bounds the handle table. The kernel recycles handles
// aggressively, so this is far more than a single-user mount ever needs.
const maxOpenHandles = 4096

// handleTable hands out opaque u64 handles for open files and directories.
// Free slots are tracked in a bitmap so released handles are reused lowest
// first.
type handleTable struct {
	used  bitmap.Bitmap
	paths map[fuseops.HandleID]string
}

func newHandleTable() *handleTable {
	return &handleTable{
		used:  bitmap.New(maxOpenHandles),
		paths: make(map[fuseops.HandleID]string),
	}
}

// allocate reserves the lowest free handle for the given path.
func (table *handleTable) allocate(path string) (fuseops.HandleID, error) {
	for i := 0; i < maxOpenHandles; i++ {
		if table.used.Get(i) {
			continue
		}
		table.used.Set(i, true)
		handle := fuseops.HandleID(i)
		table.paths[handle] = path
		return handle, nil
	}
	return 0, errors.ErrBusy.WithMessage("out of file handles")
}

// lookup resolves a handle back to its path. A handle we never issued (or
// already released) is stale.
func (table *handleTable) lookup(handle fuseops.HandleID) (string, error) {
	path, ok := table.paths[handle]
	if !ok {
		return "", errors.ErrStaleHandle
	}
	return path, nil
}

// release frees a handle. Releasing an unknown handle is harmless; the kernel
// occasionally double-releases during unmount.
func (table *handleTable) release(handle fuseops.HandleID) {
	if _, ok := table.paths[handle]; !ok {
		return
	}
	delete(table.paths, handle)
	table.used.Set(int(handle), false)
}

// rename updates every open handle pointing at oldPath to follow the file to
// newPath.
func (table *handleTable) rename(oldPath, newPath string) {
	for handle, path := range table.paths {
		if path == oldPath {
			table.paths[handle] = newPath
		}
	}
}
