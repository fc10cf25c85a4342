package scheduling

import (
	"fmt"
	"time"
)

const (
	maxNoteLength   = 1000
	maxReasonLength = 500

	maxTransitionAttempts = 3
)

// BookingPolicy holds the clinic rules applied to new and moved
// appointments. The zero value enforces nothing.
type BookingPolicy struct {
	Enforce       bool
	MinDuration   time.Duration
	MaxDuration   time.Duration
	MaxAdvance    time.Duration
	EarliestStart TimeOfDay
	LatestStart   TimeOfDay
	LatestEnd     TimeOfDay
	AllowWeekends bool
}

func DefaultBookingPolicy() BookingPolicy {
	return BookingPolicy{
		Enforce:       true,
		MinDuration:   5 * time.Minute,
		MaxDuration:   4 * time.Hour,
		MaxAdvance:    365 * 24 * time.Hour,
		EarliestStart: NewTimeOfDay(7, 0),
		LatestStart:   NewTimeOfDay(20, 0),
		LatestEnd:     NewTimeOfDay(21, 0),
	}
}

// Check validates a slot against the policy. now is the current instant.
func (p BookingPolicy) Check(kind AppointmentKind, date time.Time, iv Interval, now time.Time) error {
	if !p.Enforce {
		return nil
	}

	length := iv.Length()
	if p.MinDuration > 0 && length < p.MinDuration {
		return &ValidationError{Field: "end", Message: fmt.Sprintf("appointment must last at least %s", p.MinDuration)}
	}
	if p.MaxDuration > 0 && length > p.MaxDuration {
		return &ValidationError{Field: "end", Message: fmt.Sprintf("appointment cannot last longer than %s", p.MaxDuration)}
	}

	today := DateOf(now)
	day := DateOf(date)
	if day.Before(today) {
		return &ValidationError{Field: "date", Message: "appointments cannot be booked in the past"}
	}
	if p.MaxAdvance > 0 && day.After(today.Add(p.MaxAdvance)) {
		return &ValidationError{Field: "date", Message: "appointments cannot be booked more than a year ahead"}
	}

	if kind == KindEmergency {
		return nil
	}
	if iv.Start < p.EarliestStart || iv.Start > p.LatestStart {
		return &ValidationError{Field: "start", Message: fmt.Sprintf("appointments must start between %s and %s", p.EarliestStart, p.LatestStart)}
	}
	if p.LatestEnd > 0 && iv.End > p.LatestEnd {
		return &ValidationError{Field: "end", Message: fmt.Sprintf("appointments must end by %s", p.LatestEnd)}
	}
	if !p.AllowWeekends {
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			return &ValidationError{Field: "date", Message: "appointments cannot be booked on weekends"}
		}
	}
	return nil
}
