package fs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flusterfs/fluster/errors"
)

func TestHandleAllocateLookupRelease(t *testing.T) {
	table := newHandleTable()

	handle, err := table.allocate("/a/b")
	require.NoError(t, err)

	path, err := table.lookup(handle)
	require.NoError(t, err)
	assert.Equal(t, "/a/b", path)

	table.release(handle)
	_, err = table.lookup(handle)
	assert.ErrorIs(t, err, errors.ErrStaleHandle)
}

func TestHandlesAreReusedLowestFirst(t *testing.T) {
	table := newHandleTable()

	first, err := table.allocate("/one")
	require.NoError(t, err)
	second, err := table.allocate("/two")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	table.release(first)
	third, err := table.allocate("/three")
	require.NoError(t, err)
	assert.Equal(t, first, third)
}

func TestHandleRenameFollowsFile(t *testing.T) {
	table := newHandleTable()
	handle, err := table.allocate("/old")
	require.NoError(t, err)

	table.rename("/old", "/new")
	path, err := table.lookup(handle)
	require.NoError(t, err)
	assert.Equal(t, "/new", path)
}

func TestHandleExhaustion(t *testing.T) {
	table := newHandleTable()
	for i := 0; i < maxOpenHandles; i++ {
		_, err := table.allocate("/spam")
		require.NoError(t, err)
	}
	_, err := table.allocate("/one-too-many")
	assert.ErrorIs(t, err, errors.ErrBusy)
}
