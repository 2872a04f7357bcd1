package timeparser

import (
	"fmt"
	"time"
)

// AlarmLayout is the canonical zero-padded 24-hour alarm format.
const AlarmLayout = "15:04"

// ParseAlarm attempts to parse a meal alarm with the accepted input formats
func ParseAlarm(alarm string) (time.Time, error) {
	formats := []string{
		AlarmLayout, // HH:mm
		"15:04:05",  // HH:mm:ss
		"3:04PM",    // h:mmAM/PM
		"3:04 PM",   // h:mm AM/PM
	}

	var lastErr error
	for _, format := range formats {
		t, err := time.Parse(format, alarm)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("failed to parse alarm '%s': %w", alarm, lastErr)
}

// NormalizeAlarm parses an alarm and renders it as zero-padded HH:MM,
// e.g. "7:05" becomes "07:05" and "6:30 PM" becomes "18:30".
func NormalizeAlarm(alarm string) (string, error) {
	t, err := ParseAlarm(alarm)
	if err != nil {
		return "", err
	}
	return t.Format(AlarmLayout), nil
}

// IsCanonical reports whether alarm is already in zero-padded HH:MM form
func IsCanonical(alarm string) bool {
	t, err := time.Parse(AlarmLayout, alarm)
	if err != nil {
		return false
	}
	return t.Format(AlarmLayout) == alarm
}
