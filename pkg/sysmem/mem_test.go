package sysmem

import (
	"runtime"
	"testing"
)

func TestDetect(t *testing.T) {
	result := Detect()

	if result.TotalBytes == 0 {
		t.Error("Detect() returned 0 total bytes")
	}
	if result.AvailableBytes == 0 {
		t.Error("Detect() returned 0 available bytes")
	}
	if result.AvailableBytes > result.TotalBytes {
		t.Errorf("available %d exceeds total %d", result.AvailableBytes, result.TotalBytes)
	}

	switch runtime.GOOS {
	case "linux", "darwin", "windows", "freebsd", "openbsd", "netbsd", "dragonfly":
		if !result.Reliable {
			t.Logf("Warning: memory detection not reliable on %s (may indicate permission issue)", runtime.GOOS)
		}
	default:
		if result.Reliable {
			t.Errorf("Expected Reliable=false on %s, got true", runtime.GOOS)
		}
		if result.AvailableBytes != DefaultAvailableBytes {
			t.Errorf("Expected fallback value %d on %s, got %d", DefaultAvailableBytes, runtime.GOOS, result.AvailableBytes)
		}
	}

	t.Logf("Detected memory: total=%d available=%d reliable=%v",
		result.TotalBytes, result.AvailableBytes, result.Reliable)
}

func TestAvailableBytes(t *testing.T) {
	bytes := AvailableBytes()
	if bytes == 0 {
		t.Error("AvailableBytes() returned 0")
	}
}

func TestDefaultAvailableBytes(t *testing.T) {
	expected := uint64(1536 * 1024 * 1024)
	if DefaultAvailableBytes != expected {
		t.Errorf("DefaultAvailableBytes = %d, expected %d", DefaultAvailableBytes, expected)
	}
}
