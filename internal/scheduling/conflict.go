package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ConflictQuery struct {
	PractitionerID uuid.UUID
	Date           time.Time
	Interval       Interval
	// ExcludeID skips the appointment being edited.
	ExcludeID *uuid.UUID
}

func (q ConflictQuery) validate() error {
	if q.PractitionerID == uuid.Nil {
		return &ValidationError{Field: "practitioner_id", Message: "practitioner is required"}
	}
	if q.Date.IsZero() {
		return &ValidationError{Field: "date", Message: "date is required"}
	}
	return q.Interval.Validate()
}

// ConflictChecker decides whether a practitioner is free for an interval.
type ConflictChecker struct {
	core
}

func NewConflictChecker(repo Repository, opts Options) *ConflictChecker {
	return &ConflictChecker{core: newCore(repo, opts, "conflict_checker")}
}

// HasConflict reports whether any non-cancelled appointment of the
// practitioner on the date overlaps the requested interval.
func (c *ConflictChecker) HasConflict(ctx context.Context, q ConflictQuery) (bool, error) {
	existing, err := c.FindConflict(ctx, q)
	if err != nil {
		return false, err
	}
	return existing != nil, nil
}

// FindConflict returns the earliest overlapping appointment, or nil when the
// slot is free.
func (c *ConflictChecker) FindConflict(ctx context.Context, q ConflictQuery) (_ *Appointment, err error) {
	ctx, finish := c.startOp(ctx, "conflict.check")
	defer func() { finish(err) }()

	if err := q.validate(); err != nil {
		return nil, err
	}
	return findConflict(ctx, c.repo, q)
}

// findConflict runs the overlap scan against repo, which may be bound to a
// transaction.
func findConflict(ctx context.Context, repo Repository, q ConflictQuery) (*Appointment, error) {
	day, err := repo.ListActiveAppointments(ctx, q.PractitionerID, DateOf(q.Date), q.ExcludeID)
	if err != nil {
		return nil, persistence("list active appointments", err)
	}
	var first *Appointment
	for i := range day {
		a := day[i]
		if a.Status == StatusCancelled {
			continue
		}
		if q.ExcludeID != nil && a.ID == *q.ExcludeID {
			continue
		}
		if !a.Interval.Overlaps(q.Interval) {
			continue
		}
		if first == nil || a.Interval.Start < first.Interval.Start {
			first = &a
		}
	}
	return first, nil
}
