//go:build !linux && !darwin && !windows && !freebsd && !openbsd && !netbsd && !dragonfly

package sysmem

// systemMemory returns a fallback for unsupported platforms.
// Returning false triggers the default fallback values.
func systemMemory() (total, avail uint64, ok bool) {
	return 0, 0, false
}
