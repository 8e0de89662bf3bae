package disks_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flusterfs/fluster/disks"
)

func TestPoolGeometryIsOneFloppy(t *testing.T) {
	geometry := disks.PoolGeometry()
	assert.Equal(t, int64(1_474_560), geometry.TotalSizeBytes())
	assert.Equal(t, int64(2880), geometry.TotalBlocks())
}

func TestGetPredefinedDiskGeometry(t *testing.T) {
	geometry, err := disks.GetPredefinedDiskGeometry("35dd")
	require.NoError(t, err)
	assert.Equal(t, int64(737_280), geometry.TotalSizeBytes())

	_, err = disks.GetPredefinedDiskGeometry("8-inch-mystery")
	assert.Error(t, err)
}

func TestValidateDeviceSize(t *testing.T) {
	assert.NoError(t, disks.ValidateDeviceSize(1_474_560))
	assert.Error(t, disks.ValidateDeviceSize(1_474_559))
	assert.Error(t, disks.ValidateDeviceSize(0))
}
