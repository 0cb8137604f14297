// Package codec implements the streaming archive engine: multiple source
// objects plus a manifest are framed with tar and compressed as a single
// zstd stream, processed in bounded-size chunks in both directions.
//
// Buffer sizes and the CPU normalization factor are computed once per
// process and carried in an Engine value that is passed to every component
// by reference; nothing in this package holds global state.
package codec

import (
	"errors"
	"fmt"
)

// Compression level bounds for zstd.
const (
	MinLevel = 1
	MaxLevel = 22
)

// ManifestMemberName is the archive member holding the serialized manifest.
const ManifestMemberName = "manifest.json"

// ObjectMemberPrefix is the namespace for object payload members. Each
// object is stored under objects/<relative key> to preserve directory
// structure and avoid basename collisions.
const ObjectMemberPrefix = "objects/"

// ErrCorruptArchive indicates the archive stream itself is malformed and
// the whole batch must be abandoned (the triggering message is left
// unacknowledged).
var ErrCorruptArchive = errors.New("corrupt archive stream")

// MemberError reports a failure confined to a single archive member, e.g.
// truncated payload bytes. The remaining members are still extractable.
type MemberError struct {
	Name string
	Err  error
}

func (e *MemberError) Error() string {
	return fmt.Sprintf("extract member %s: %v", e.Name, e.Err)
}

func (e *MemberError) Unwrap() error { return e.Err }

// ClampLevel bounds a compression level to the valid zstd range.
func ClampLevel(level int) int {
	if level < MinLevel {
		return MinLevel
	}
	if level > MaxLevel {
		return MaxLevel
	}
	return level
}

// Engine bundles the process-wide codec state: chunk buffer sizes, the
// compression thread bound, and the measured CPU normalization factor.
// Construct one at startup with NewEngine and share it by reference.
type Engine struct {
	Buffers   Buffers
	Threads   int
	CPUFactor float64
}

// NewEngine builds an Engine from detected available memory, a thread
// bound (typically the host core count), and a measured CPU factor.
func NewEngine(availableMemory uint64, threads int, cpuFactor float64) *Engine {
	if threads < 1 {
		threads = 1
	}
	if cpuFactor <= 0 {
		cpuFactor = 1.0
	}
	return &Engine{
		Buffers:   ComputeBuffers(availableMemory),
		Threads:   threads,
		CPUFactor: cpuFactor,
	}
}
