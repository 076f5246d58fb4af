package logic

import (
	"fmt"
	"strings"
	"time"
)

// TimeOfDay is an offset from midnight, truncated to whole seconds.
type TimeOfDay time.Duration

// Day is the length of one day.
const Day = TimeOfDay(24 * time.Hour)

// Clock returns the TimeOfDay for h:m:s. Values are not range checked.
func Clock(h, m, s int) TimeOfDay {
	return TimeOfDay(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second)
}

// TimeOfDayOf extracts the time of day from t in t's location.
func TimeOfDayOf(t time.Time) TimeOfDay {
	h, m, s := t.Clock()
	return Clock(h, m, s)
}

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDayOf(t), nil
		}
	}
	return 0, fmt.Errorf("parse time of day %q: want HH:MM or HH:MM:SS", s)
}

// Hour returns the hour component.
func (t TimeOfDay) Hour() int {
	return int(time.Duration(t) / time.Hour)
}

// String formats as HH:MM, or HH:MM:SS when seconds are non-zero.
func (t TimeOfDay) String() string {
	d := time.Duration(t)
	h := int(d / time.Hour)
	m := int(d/time.Minute) % 60
	s := int(d/time.Second) % 60
	if s != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", h, m)
}

// IsNight reports whether now falls inside [start, end). A window that
// starts after it ends wraps past midnight; start == end is never night.
func IsNight(now, start, end TimeOfDay) bool {
	if start == end {
		return false
	}
	if start < end {
		return now >= start && now < end
	}
	return now >= start || now < end
}
