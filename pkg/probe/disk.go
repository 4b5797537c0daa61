package probe

import (
	"os"
	"path/filepath"
)

// FreeSpaceGB returns the free space available to the current user on the
// filesystem holding path. A path that does not exist yet is measured at its
// nearest existing ancestor.
func FreeSpaceGB(path string) (float64, error) {
	dir := filepath.Clean(path)
	for {
		if _, err := os.Stat(dir); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	b, err := freeBytes(dir)
	if err != nil {
		return 0, err
	}
	return float64(b) / bytesPerGB, nil
}
