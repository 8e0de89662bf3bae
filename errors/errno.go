// Translation of filesystem error kinds to POSIX errno values for the FUSE
// boundary. Values follow errno(3).
package errors

import (
	"errors"
	"syscall"
)

// Errno maps an error to the errno the kernel should see. Unrecognized errors
// become EIO, the dreaded generic input/output error.
func Errno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrNoSuchItem), errors.Is(err, ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, ErrNameTooLong):
		return syscall.ENAMETOOLONG
	case errors.Is(err, ErrItemExists):
		return syscall.EEXIST
	case errors.Is(err, ErrNotADirectory):
		return syscall.ENOTDIR
	case errors.Is(err, ErrIsADirectory):
		return syscall.EISDIR
	case errors.Is(err, ErrDirectoryNotEmpty):
		return syscall.ENOTEMPTY
	case errors.Is(err, ErrUnimplemented):
		return syscall.ENOSYS
	case errors.Is(err, ErrTryAgain), errors.Is(err, ErrRetry), errors.Is(err, ErrInterrupted):
		return syscall.EINTR
	case errors.Is(err, ErrBusy), errors.Is(err, ErrDeviceBusy), errors.Is(err, ErrDriveEmpty):
		// Drive-empty should never make it to the filesystem level; tell the
		// kernel we are busy rather than lying about the file.
		return syscall.EBUSY
	case errors.Is(err, ErrStaleHandle):
		return syscall.ESTALE
	case errors.Is(err, ErrFileTooBig):
		return syscall.EFBIG
	case errors.Is(err, ErrPermissionDenied):
		return syscall.EACCES
	case errors.Is(err, ErrInvalid), errors.Is(err, ErrInvalidOffset), errors.Is(err, ErrImpossible):
		return syscall.EINVAL
	default:
		return syscall.EIO
	}
}
