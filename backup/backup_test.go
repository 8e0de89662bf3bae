package backup_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flusterfs/fluster/backup"
)

func TestWriteAndRestore(t *testing.T) {
	sourceDir := t.TempDir()
	backupDir := filepath.Join(t.TempDir(), "backups")

	source := filepath.Join(sourceDir, "disk1.fsr")
	original := []byte("pretend this is a floppy image")
	require.NoError(t, os.WriteFile(source, original, 0o644))

	require.NoError(t, backup.Write(source, backupDir, "disk1.fsr"))

	copied, err := os.ReadFile(filepath.Join(backupDir, "disk1.fsr"))
	require.NoError(t, err)
	assert.Equal(t, original, copied)

	// Damage the source, then restore over it.
	require.NoError(t, os.WriteFile(source, []byte("corrupted"), 0o644))
	require.NoError(t, backup.Restore(backupDir, "disk1.fsr", source))

	restored, err := os.ReadFile(source)
	require.NoError(t, err)
	assert.Equal(t, original, restored)
}

func TestWriteMissingSource(t *testing.T) {
	assert.Error(t, backup.Write(filepath.Join(t.TempDir(), "nope.fsr"), t.TempDir(), "nope.fsr"))
}

func TestRestoreMissingBackup(t *testing.T) {
	assert.Error(t, backup.Restore(t.TempDir(), "nope.fsr", filepath.Join(t.TempDir(), "out.fsr")))
}
