//go:build darwin

package sysmem

import "golang.org/x/sys/unix"

// systemMemory returns total RAM on macOS using sysctl. macOS has no cheap
// available-memory probe, so avail is left to the caller's half-of-total
// fallback.
func systemMemory() (total, avail uint64, ok bool) {
	mem, err := unix.SysctlUint64("hw.memsize")
	if err != nil {
		return 0, 0, false
	}
	return mem, 0, true
}
