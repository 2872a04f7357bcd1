package telemetry

import (
	"fmt"
)

// Detector flags feeder readings that need the user's attention
type Detector struct {
	lowStoragePercent float64
}

// NewDetector creates a detector that flags storage levels at or below
// lowStoragePercent (a fraction, 0.15 means 15%)
func NewDetector(lowStoragePercent float64) *Detector {
	return &Detector{
		lowStoragePercent: lowStoragePercent,
	}
}

// DetectLowStorage checks a storage level reported by the device
func (d *Detector) DetectLowStorage(level float64) (bool, string) {
	// Check for out of range values
	if level < 0 || level > 1 {
		return true, fmt.Sprintf("storage level %.2f outside [0, 1]", level)
	}

	if level <= d.lowStoragePercent {
		return true, fmt.Sprintf("storage at %.0f%%, at or below %.0f%%",
			level*100, d.lowStoragePercent*100)
	}

	return false, ""
}
