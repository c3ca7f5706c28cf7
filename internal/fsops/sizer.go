// Package fsops covers the filesystem side of tenant state: sizing the
// deployed directory and force-removing it when it resists deletion.
package fsops

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// DirSize returns the total byte size of all regular files under path.
// Entries that vanish mid-walk are skipped; a tenant teardown may be
// racing the walk.
func DirSize(path string) (int64, error) {
	var total int64
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to size %s: %w", path, err)
	}
	return total, nil
}

// FormatBytes renders a byte count for operator display
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
