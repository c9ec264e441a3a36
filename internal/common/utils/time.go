package utils

import (
	"fmt"
	"time"
)

// ParseDuration parses a duration string with support for days ("d") and
// weeks ("w") on top of time.ParseDuration.
//
// Examples:
//
//	ParseDuration("10s")   // 10 seconds
//	ParseDuration("1d")    // 24 hours
//	ParseDuration("2w")    // 336 hours
func ParseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	var n int
	var unit string
	if count, err := fmt.Sscanf(s, "%d%s", &n, &unit); err == nil && count == 2 {
		switch unit {
		case "d":
			return time.Duration(n) * 24 * time.Hour, nil
		case "w":
			return time.Duration(n) * 7 * 24 * time.Hour, nil
		}
	}

	return 0, fmt.Errorf("invalid duration: %s", s)
}

// FormatDuration formats a duration for log output using the largest
// sensible unit.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%.0fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%.0fm", d.Minutes())
	case d < 24*time.Hour:
		return fmt.Sprintf("%.1fh", d.Hours())
	default:
		return fmt.Sprintf("%.1fd", d.Hours()/24)
	}
}
