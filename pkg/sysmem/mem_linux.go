//go:build linux

package sysmem

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// systemMemory returns total and available RAM on Linux.
// Total comes from sysinfo; available prefers MemAvailable from
// /proc/meminfo, which accounts for reclaimable page cache, falling back
// to sysinfo's free count.
func systemMemory() (total, avail uint64, ok bool) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, 0, false
	}
	unit := uint64(info.Unit)
	total = info.Totalram * unit

	if a, found := readMemAvailable(); found {
		return total, a, true
	}
	return total, info.Freeram * unit, true
}

func readMemAvailable() (uint64, bool) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, false
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, false
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, false
		}
		return kb * 1024, true
	}
	return 0, false
}
