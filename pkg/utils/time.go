package utils

import "time"

// TimestampLayout is the ISO-8601 layout used for every stored timestamp.
// Fixed-width millisecond precision keeps lexical and chronological order equal.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Now returns the current time truncated to millisecond precision in UTC
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// FormatTimestamp formats t in UTC using TimestampLayout
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// NowTimestamp returns the current time formatted with TimestampLayout
func NowTimestamp() string {
	return FormatTimestamp(Now())
}

// ParseTimestamp parses a stored timestamp. RFC3339 input is accepted as well.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(TimestampLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// NormalizeTimestamp re-formats any accepted timestamp into TimestampLayout.
// Unparseable input is returned unchanged.
func NormalizeTimestamp(s string) string {
	t, err := ParseTimestamp(s)
	if err != nil {
		return s
	}
	return FormatTimestamp(t)
}
