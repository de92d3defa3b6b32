package domain

import "errors"

var (
	// ErrLibraryUnavailable is returned when no compatible driver or hardware is present
	ErrLibraryUnavailable = errors.New("device library not available")
	// ErrNotSupported is returned by a mock query that has not been scripted
	ErrNotSupported = errors.New("metric not supported")
)

// Utilization holds the sampled busy percentages of a device
type Utilization struct {
	GPU    uint32 `json:"gpu"`
	Memory uint32 `json:"memory"`
}

// MemoryInfo holds framebuffer memory in bytes
type MemoryInfo struct {
	Total uint64 `json:"total"`
	Used  uint64 `json:"used"`
}

// AllocatedPercent returns used/total*100, false when total is zero
func (m MemoryInfo) AllocatedPercent() (float64, bool) {
	if m.Total == 0 {
		return 0, false
	}
	return float64(m.Used) / float64(m.Total) * 100, true
}
