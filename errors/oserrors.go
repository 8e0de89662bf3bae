// Mapping from OS-level I/O failures to block error kinds.
//
// The assumptions baked into this mapping: the user is accessing a floppy
// drive directly (no filesystem in between), and the process is single
// threaded. Errors that can only occur on exotic devices fall through to
// ErrUnknownIO with the OS text preserved.
package errors

import (
	"errors"
	"io"
	"io/fs"
	"syscall"
)

// errNoMedium is the raw errno Linux reports when the drive tray is empty.
// There is no named constant for it in the syscall package.
const errNoMedium = syscall.Errno(123)

// FromOS converts an error returned by the OS during disk I/O into one of the
// block-level error kinds. Errors that are already FlusterErrors pass through
// untouched. nil stays nil.
func FromOS(err error) error {
	if err == nil {
		return nil
	}
	var kind FlusterError
	if errors.As(err, &kind) {
		return err
	}

	// A drive with no disk inserted surfaces as an uncategorized errno, so it
	// has to be checked before the named kinds.
	var errno syscall.Errno
	if errors.As(err, &errno) && errno == errNoMedium {
		return ErrDriveEmpty.WrapError(err)
	}

	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ErrNotFound.WrapError(err)
	case errors.Is(err, fs.ErrPermission):
		return ErrPermissionDenied.WrapError(err)
	case errors.Is(err, fs.ErrInvalid), errors.Is(err, syscall.EINVAL):
		return ErrInvalid.WrapError(err)
	case errors.Is(err, io.ErrShortWrite):
		return ErrWriteFailure.WrapError(err)
	case errors.Is(err, syscall.EBUSY):
		return ErrDeviceBusy.WrapError(err)
	case errors.Is(err, syscall.EINTR):
		return ErrInterrupted.WrapError(err)
	}

	// No idea what this error is. Keep the OS text.
	return ErrUnknownIO.WithMessage(err.Error())
}

// IsTransient reports whether an error kind is worth retrying locally before
// giving up on the operation.
func IsTransient(err error) bool {
	return errors.Is(err, ErrDeviceBusy) ||
		errors.Is(err, ErrInterrupted) ||
		errors.Is(err, ErrRetry)
}
