// Package sysmem provides cross-platform system memory detection.
//
// The compression engine sizes its streaming buffers from the memory
// actually available to the process, so this package reports both total
// and available RAM, with safe defaults for unsupported platforms.
package sysmem

// DefaultAvailableBytes is the fallback available-memory value (1.5 GB)
// used when platform-specific detection fails. Conservative enough for a
// 2 GB container.
const DefaultAvailableBytes uint64 = 3 * 512 * 1024 * 1024

// Result holds the result of memory detection.
type Result struct {
	// TotalBytes is the total system memory in bytes.
	TotalBytes uint64

	// AvailableBytes is the memory currently available for allocation.
	// On platforms without an available-memory probe this is half of
	// TotalBytes.
	AvailableBytes uint64

	// Reliable indicates whether the values came from a platform-specific
	// probe (true) or are fallback defaults (false).
	Reliable bool
}

// Detect returns total and available system memory.
// If platform-specific detection fails or is unsupported, it returns
// DefaultAvailableBytes with Reliable=false.
func Detect() Result {
	total, avail, ok := systemMemory()
	if !ok || total == 0 {
		return Result{
			TotalBytes:     2 * DefaultAvailableBytes,
			AvailableBytes: DefaultAvailableBytes,
			Reliable:       false,
		}
	}
	if avail == 0 || avail > total {
		avail = total / 2
	}
	return Result{
		TotalBytes:     total,
		AvailableBytes: avail,
		Reliable:       true,
	}
}

// AvailableBytes is a convenience function that returns just the available
// memory. Use Detect() if you need to know whether the value is reliable.
func AvailableBytes() uint64 {
	return Detect().AvailableBytes
}
