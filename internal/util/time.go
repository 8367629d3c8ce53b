package util

import (
	"fmt"
	"time"
)

// humanTimeFormat is the layout for timestamps shown to operators.
const humanTimeFormat = "2 Jan 2006 15:04 MST"

// HumanTime returns the current local time for operator messages.
func HumanTime() string {
	return FormatHumanTime(time.Now())
}

// FormatHumanTime formats t as local time, or "unknown" for the zero time.
func FormatHumanTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Local().Format(humanTimeFormat)
}

// FormatDuration formats d with at most two units, e.g. "45s", "2m 34s" or
// "1h 23m".
func FormatDuration(d time.Duration) string {
	s := int64(d / time.Second)
	switch {
	case s < 60:
		return fmt.Sprintf("%ds", s)
	case s < 3600:
		return fmt.Sprintf("%dm %ds", s/60, s%60)
	default:
		return fmt.Sprintf("%dh %dm", s/3600, (s/60)%60)
	}
}
