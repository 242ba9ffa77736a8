package utils

import (
	"fmt"
	"time"
)

// Layouts accepted for timestamps embedded in log lines, most specific first.
var logTimeLayouts = []string{
	"02/Jan/2006:15:04:05 -0700", // common/combined log format
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"Jan _2 15:04:05", // syslog, no year
}

// ParseLogTime parses a timestamp in any of the layouts commonly found in access and system logs.
func ParseLogTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	for _, layout := range logTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse time: unsupported layout %q", value)
}

// HourWindow returns the start of the hour containing t, in UTC.
func HourWindow(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}
