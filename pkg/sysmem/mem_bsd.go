//go:build freebsd || openbsd || netbsd || dragonfly

package sysmem

import "golang.org/x/sys/unix"

// systemMemory returns total RAM on BSD variants using sysctl.
func systemMemory() (total, avail uint64, ok bool) {
	mem, err := unix.SysctlUint64("hw.physmem")
	if err == nil && mem > 0 {
		return mem, 0, true
	}

	// hw.realmem exists on FreeBSD
	mem, err = unix.SysctlUint64("hw.realmem")
	if err == nil && mem > 0 {
		return mem, 0, true
	}

	return 0, 0, false
}
