package ir

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	Day  = 24 * time.Hour
	Week = 7 * Day
)

// ParseWindow parses a window or frequency expression.
//
// Accepted forms:
//   - named frequencies: "hourly", "daily", "weekly"
//   - day and week suffixes: "7d", "1w", "2w"
//   - anything time.ParseDuration accepts: "90m", "36h"
func ParseWindow(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return 0, fmt.Errorf("empty window")
	case "hourly":
		return time.Hour, nil
	case "daily":
		return Day, nil
	case "weekly":
		return Week, nil
	}

	var unit time.Duration
	switch {
	case strings.HasSuffix(s, "d"):
		unit = Day
	case strings.HasSuffix(s, "w"):
		unit = Week
	}
	if unit != 0 {
		n, err := strconv.Atoi(strings.TrimSpace(s[:len(s)-1]))
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid window %q", s)
		}
		return time.Duration(n) * unit, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid window %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("window %q must be positive", s)
	}
	return d, nil
}
