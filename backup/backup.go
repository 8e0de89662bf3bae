// Package backup mirrors virtual disk image files into a recovery directory.
// Backups are written atomically so a crash mid-copy can never leave a
// half-written backup masquerading as a good one.
package backup

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio"
)

// Write copies the disk image at source into destDir under the given name.
func Write(source, destDir, name string) error {
	data, err := os.ReadFile(source)
	if err != nil {
		return fmt.Errorf("reading disk image for backup: %w", err)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("creating backup directory: %w", err)
	}
	if err := renameio.WriteFile(filepath.Join(destDir, name), data, 0o644); err != nil {
		return fmt.Errorf("writing backup: %w", err)
	}
	return nil
}

// Restore copies a backup over a (presumably damaged) disk image. The
// destination is replaced atomically.
func Restore(backupDir, name, destPath string) error {
	data, err := os.ReadFile(filepath.Join(backupDir, name))
	if err != nil {
		return fmt.Errorf("reading backup: %w", err)
	}
	if err := renameio.WriteFile(destPath, data, 0o644); err != nil {
		return fmt.Errorf("restoring disk image: %w", err)
	}
	return nil
}
