// Package errors defines the error vocabulary shared by every layer of the
// filesystem. Each kind is a typed string constant so callers can match with
// the standard library's errors.Is through arbitrary levels of wrapping.
package errors

import (
	goerrors "errors"
	"fmt"
)

// DriveError is the error interface returned by every fallible operation in
// the module. It allows attaching context without losing the underlying kind.
type DriveError interface {
	error
	WithMessage(message string) DriveError
	WrapError(err error) DriveError
}

// -----------------------------------------------------------------------------

type wrappedDriveError struct {
	message       string
	originalError error
}

func (e wrappedDriveError) Error() string {
	return e.message
}

func (e wrappedDriveError) WithMessage(message string) DriveError {
	return wrappedDriveError{
		message:       fmt.Sprintf("%s: %s", e.message, message),
		originalError: e,
	}
}

func (e wrappedDriveError) WrapError(err error) DriveError {
	return wrappedDriveError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: err,
	}
}

func (e wrappedDriveError) Unwrap() error {
	return e.originalError
}

// -----------------------------------------------------------------------------

// FlusterError is a bare error kind. All the exported Err* constants are of
// this type.
type FlusterError string

func (e FlusterError) Error() string {
	return string(e)
}

func (e FlusterError) WithMessage(message string) DriveError {
	return wrappedDriveError{
		message:       fmt.Sprintf("%s: %s", string(e), message),
		originalError: e,
	}
}

func (e FlusterError) WrapError(err error) DriveError {
	return wrappedDriveError{
		message:       fmt.Sprintf("%s: %s", string(e), err.Error()),
		originalError: goerrors.Join(e, err),
	}
}

////////////////////////////////////////////////////////////////////////////////
// Block-level I/O

const ErrInvalidCRC = FlusterError("CRC checksum does not match block data")
const ErrInvalidOffset = FlusterError("attempted to access outside the bounds of the disk")
const ErrPermissionDenied = FlusterError("the host OS denied the operation")
const ErrWriteFailure = FlusterError("a write did not store all of the requested data")
const ErrDeviceBusy = FlusterError("the floppy drive is busy")
const ErrInterrupted = FlusterError("operation was interrupted and can typically be retried")
const ErrInvalid = FlusterError("the OS rejected the operation or its arguments")
const ErrNotFound = FlusterError("the disk we are attempting to access is not there")

// ErrUnknownIO is the catch-all for OS errors we have no mapping for; the OS
// text is preserved via WithMessage.
const ErrUnknownIO = FlusterError("the OS returned an unknown error accessing the disk")

////////////////////////////////////////////////////////////////////////////////
// Drive

const ErrDriveEmpty = FlusterError("no disk is currently inserted")
const ErrRetry = FlusterError("the operation failed without corrupting anything and can be retried")
const ErrTakingTooLong = FlusterError("an operation on this disk is taking too long")
const ErrWrongDisk = FlusterError("this is not the disk we want")
const ErrNotBlank = FlusterError("disk is not blank")
const ErrWipeFailure = FlusterError("wipe failed, disk is in an unknown state")
const ErrUninitialized = FlusterError("disk is uninitialized")

////////////////////////////////////////////////////////////////////////////////
// Headers

const ErrNotAHeaderBlock = FlusterError("this block is not a header")
const ErrBlankHeader = FlusterError("block 0 on this disk is completely blank")
const ErrInvalidHeader = FlusterError("header has reserved bits set or is the wrong disk type")

////////////////////////////////////////////////////////////////////////////////
// Container-block manipulation

const ErrOutOfRoom = FlusterError("the block does not have enough capacity for the new content")
const ErrBlockFragmented = FlusterError("enough free bytes exist but not contiguously")
const ErrNotFinalBlockInChain = FlusterError("only valid on the final block in the chain")
const ErrImpossible = FlusterError("arguments are out of bounds or otherwise unsupported")
const ErrNotPresent = FlusterError("the requested data does not exist in this block")

////////////////////////////////////////////////////////////////////////////////
// Filesystem boundary

const ErrNoSuchItem = FlusterError("no such file or directory")
const ErrNameTooLong = FlusterError("file name too long")
const ErrItemExists = FlusterError("item already exists")
const ErrNotADirectory = FlusterError("not a directory")
const ErrIsADirectory = FlusterError("is a directory")
const ErrDirectoryNotEmpty = FlusterError("directory not empty")
const ErrUnimplemented = FlusterError("function not implemented")
const ErrTryAgain = FlusterError("interrupted, try again")
const ErrBusy = FlusterError("device or resource busy")
const ErrStaleHandle = FlusterError("file handle is stale")
const ErrFileTooBig = FlusterError("file too large")
const ErrGenericFailure = FlusterError("input/output error")
