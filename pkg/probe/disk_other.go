//go:build !(linux || darwin || freebsd || windows)

package probe

func freeBytes(string) (uint64, error) {
	return 0, errNotApplicable
}
