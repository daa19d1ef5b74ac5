package hue

import "time"

// TimeLayout is the second-resolution timestamp format used throughout the API.
const TimeLayout = "2006-01-02T15:04:05"

// FormatTime renders t in local time.
func FormatTime(t time.Time) string {
	return t.Local().Format(TimeLayout)
}

// FormatUTC renders t in UTC.
func FormatUTC(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a local timestamp; "none" and other non-timestamps fail.
func ParseTime(s string) (time.Time, error) {
	return time.ParseInLocation(TimeLayout, s, time.Local)
}
