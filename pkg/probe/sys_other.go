//go:build !linux && !darwin

package probe

func systemMemoryBytes() (uint64, error) {
	return 0, errNotApplicable
}
