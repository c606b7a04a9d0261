package util

import (
	"fmt"
	"regexp"
	"time"
)

// stampPattern matches a capture stamp: YYYY-MM-DD with an optional -HH-MM-SS.
var stampPattern = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})(-\d{2}-\d{2}-\d{2})?`)

// FilenameTime returns the capture stamp embedded in a filename, in UTC.
// A date without a time of day yields midnight.
func FilenameTime(filename string) (time.Time, bool) {
	m := stampPattern.FindStringSubmatch(filename)
	if m == nil {
		return time.Time{}, false
	}
	if m[2] != "" {
		if t, err := time.Parse("2006-01-02-15-04-05", m[1]+m[2]); err == nil {
			return t, true
		}
	}
	t, err := time.Parse(time.DateOnly, m[1])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// humanTimeFormat is the layout for timestamps shown in notifications.
const humanTimeFormat = "2 Jan 2006 15:04 MST"

// HumanTime formats t in local time for notification bodies.
func HumanTime(t time.Time) string {
	return t.Local().Format(humanTimeFormat)
}

// FormatHumanTime converts an RFC3339 build stamp to local human time.
// Unparseable input is returned unchanged.
func FormatHumanTime(rfc3339 string) string {
	if rfc3339 == "" || rfc3339 == "unknown" {
		return "unknown"
	}
	t, err := time.Parse(time.RFC3339, rfc3339)
	if err != nil {
		return rfc3339
	}
	return HumanTime(t)
}

// FormatDuration renders d coarsely: "45s", "2m 34s", "1h 23m".
func FormatDuration(d time.Duration) string {
	s := int64(d / time.Second)
	switch {
	case s < 60:
		return fmt.Sprintf("%ds", s)
	case s < 3600:
		return fmt.Sprintf("%dm %ds", s/60, s%60)
	default:
		return fmt.Sprintf("%dh %dm", s/3600, (s%3600)/60)
	}
}
