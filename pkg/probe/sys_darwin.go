//go:build darwin

package probe

import "golang.org/x/sys/unix"

func systemMemoryBytes() (uint64, error) {
	return unix.SysctlUint64("hw.memsize")
}
