package errors_test

import (
	stderrors "errors"
	"io"
	"io/fs"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flusterfs/fluster/errors"
)

func TestWithMessageKeepsKind(t *testing.T) {
	err := errors.ErrInvalidCRC.WithMessage("block 17 on disk 3")
	assert.ErrorIs(t, err, errors.ErrInvalidCRC)
	assert.Contains(t, err.Error(), "block 17 on disk 3")
	assert.Contains(t, err.Error(), errors.ErrInvalidCRC.Error())
}

func TestWrapErrorKeepsBothSides(t *testing.T) {
	cause := stderrors.New("underlying os failure")
	err := errors.ErrWriteFailure.WrapError(cause)
	assert.ErrorIs(t, err, errors.ErrWriteFailure)
	assert.Contains(t, err.Error(), "underlying os failure")
}

func TestChainedWrapping(t *testing.T) {
	err := errors.ErrNotFound.
		WithMessage("disk 4").
		WithMessage("while walking the extent chain")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestFromOSMapping(t *testing.T) {
	cases := []struct {
		os       error
		expected error
	}{
		{fs.ErrNotExist, errors.ErrNotFound},
		{fs.ErrPermission, errors.ErrPermissionDenied},
		{fs.ErrInvalid, errors.ErrInvalid},
		{syscall.EINVAL, errors.ErrInvalid},
		{io.ErrShortWrite, errors.ErrWriteFailure},
		{syscall.EBUSY, errors.ErrDeviceBusy},
		{syscall.EINTR, errors.ErrInterrupted},
		// Raw errno 123: no medium in the drive.
		{syscall.Errno(123), errors.ErrDriveEmpty},
	}
	for _, c := range cases {
		assert.ErrorIs(t, errors.FromOS(c.os), c.expected)
	}
}

func TestFromOSPreservesUnknownText(t *testing.T) {
	err := errors.FromOS(stderrors.New("martian hardware fault"))
	assert.ErrorIs(t, err, errors.ErrUnknownIO)
	assert.Contains(t, err.Error(), "martian hardware fault")
}

func TestFromOSPassesFlusterErrorsThrough(t *testing.T) {
	original := errors.ErrInvalidCRC.WithMessage("already classified")
	assert.Equal(t, error(original), errors.FromOS(original))
	assert.Nil(t, errors.FromOS(nil))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, errors.IsTransient(errors.ErrDeviceBusy))
	assert.True(t, errors.IsTransient(errors.ErrInterrupted))
	assert.True(t, errors.IsTransient(errors.ErrRetry.WithMessage("context")))
	assert.False(t, errors.IsTransient(errors.ErrInvalidCRC))
	assert.False(t, errors.IsTransient(nil))
}

func TestErrnoMapping(t *testing.T) {
	cases := []struct {
		err      error
		expected syscall.Errno
	}{
		{errors.ErrNoSuchItem, syscall.ENOENT},
		{errors.ErrNameTooLong, syscall.ENAMETOOLONG},
		{errors.ErrItemExists, syscall.EEXIST},
		{errors.ErrNotADirectory, syscall.ENOTDIR},
		{errors.ErrIsADirectory, syscall.EISDIR},
		{errors.ErrDirectoryNotEmpty, syscall.ENOTEMPTY},
		{errors.ErrUnimplemented, syscall.ENOSYS},
		{errors.ErrStaleHandle, syscall.ESTALE},
		{errors.ErrDriveEmpty, syscall.EBUSY},
		{errors.ErrInvalidCRC, syscall.EIO},
		{errors.ErrNoSuchItem.WithMessage("deep in a chain"), syscall.ENOENT},
	}
	for _, c := range cases {
		assert.Equal(t, c.expected, errors.Errno(c.err))
	}
	assert.Equal(t, syscall.Errno(0), errors.Errno(nil))
}
