package action

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseWhen parses the time formats planners emit for reminders and alarms.
// Supports: relative duration ("5m", "1h30m"), Unix epoch seconds, RFC 3339,
// "2006-01-02T15:04:05", "2006-01-02 15:04", and "15:04" (today or tomorrow).
// Layouts without a zone are interpreted in now's location.
func ParseWhen(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}

	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return now.Add(d), nil
	}

	if len(s) >= 10 && isDigits(s) {
		if epoch, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Unix(epoch, 0), nil
		}
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}

	loc := now.Location()
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}

	if t, err := time.ParseInLocation("15:04", s, loc); err == nil {
		target := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, loc)
		if target.Before(now) {
			target = target.AddDate(0, 0, 1)
		}
		return target, nil
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %s", s)
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
