package scheduling

import (
	"fmt"
	"strings"
	"time"
)

const minutesPerDay = 24 * 60

// TimeOfDay is a wall-clock time expressed in minutes after midnight.
// 24:00 is accepted as an end-of-day boundary.
type TimeOfDay int

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// ParseTimeOfDay accepts "15:04" or "15:04:05" (seconds are dropped).
// Anything else, including trailing input, is rejected.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("parse time of day %q: want HH:MM", s)
	}
	h, ok := clockField(parts[0], 1)
	if !ok || h > 24 {
		return 0, fmt.Errorf("parse time of day %q: bad hour", s)
	}
	m, ok := clockField(parts[1], 2)
	if !ok || m > 59 {
		return 0, fmt.Errorf("parse time of day %q: bad minute", s)
	}
	if len(parts) == 3 {
		if sec, ok := clockField(parts[2], 2); !ok || sec > 59 {
			return 0, fmt.Errorf("parse time of day %q: bad second", s)
		}
	}
	if h == 24 && (m != 0 || (len(parts) == 3 && parts[2] != "00")) {
		return 0, fmt.Errorf("parse time of day %q: out of range", s)
	}
	return NewTimeOfDay(h, m), nil
}

// clockField parses a field of minDigits to 2 ASCII digits.
func clockField(f string, minDigits int) (int, bool) {
	if len(f) < minDigits || len(f) > 2 {
		return 0, false
	}
	n := 0
	for i := 0; i < len(f); i++ {
		c := f[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) Duration() time.Duration {
	return time.Duration(t) * time.Minute
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ClockOf returns the time of day of an instant in its own location.
func ClockOf(t time.Time) TimeOfDay {
	return NewTimeOfDay(t.Hour(), t.Minute())
}

// Interval is a half-open [Start, End) range within one calendar day.
type Interval struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

func NewInterval(start, end TimeOfDay) Interval {
	return Interval{Start: start, End: end}
}

func (i Interval) Validate() error {
	if i.Start < 0 || i.Start >= minutesPerDay {
		return &ValidationError{Field: "start", Message: "start must be between 00:00 and 23:59"}
	}
	if i.End <= 0 || i.End > minutesPerDay {
		return &ValidationError{Field: "end", Message: "end must be between 00:01 and 24:00"}
	}
	if i.Start >= i.End {
		return &ValidationError{Field: "end", Message: fmt.Sprintf("end %s must be after start %s", i.End, i.Start)}
	}
	return nil
}

func (i Interval) Length() time.Duration {
	return time.Duration(i.End-i.Start) * time.Minute
}

// Overlaps uses half-open semantics: touching boundaries do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start < o.End && o.Start < i.End
}

// Contains reports whether t falls inside [Start, End).
func (i Interval) Contains(t TimeOfDay) bool {
	return i.Start <= t && t < i.End
}

func (i Interval) String() string {
	return i.Start.String() + "-" + i.End.String()
}

const dateLayout = "2006-01-02"

// DateOf drops the clock part of t, keeping its calendar date, at midnight UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func NewDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return d, nil
}

func FormatDate(d time.Time) string {
	return d.Format(dateLayout)
}
