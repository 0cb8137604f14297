package codec

// Fraction of available memory dedicated to streaming buffers, split
// between the read and write side.
const (
	bufferMemoryFraction = 0.15
	readBufferShare      = 0.45
	writeBufferShare     = 0.55

	// minBufferBytes keeps buffers usable on very small containers.
	minBufferBytes = 64 * 1024
	// maxBufferBytes caps each buffer so a huge host does not allocate
	// gigabyte buffers for no throughput gain.
	maxBufferBytes = 256 * 1024 * 1024
)

// Buffers holds the chunk sizes for streaming compression and
// decompression. Computed once per process from available memory.
type Buffers struct {
	Read  int
	Write int
}

// ComputeBuffers derives buffer sizes from available memory: 15% of it is
// granted to the codec, split 45% read / 55% write.
func ComputeBuffers(availableMemory uint64) Buffers {
	budget := float64(availableMemory) * bufferMemoryFraction
	return Buffers{
		Read:  clampBuffer(int(budget * readBufferShare)),
		Write: clampBuffer(int(budget * writeBufferShare)),
	}
}

func clampBuffer(n int) int {
	if n < minBufferBytes {
		return minBufferBytes
	}
	if n > maxBufferBytes {
		return maxBufferBytes
	}
	return n
}
