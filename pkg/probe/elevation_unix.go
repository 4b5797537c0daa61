//go:build !windows

package probe

import "os"

func isElevated() bool {
	return os.Geteuid() == 0
}
