package scheduling

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error kinds. Every error returned by the services matches exactly one of
// these through errors.Is.
var (
	ErrValidation      = errors.New("validation failed")
	ErrConflict        = errors.New("scheduling conflict")
	ErrNotFound        = errors.New("not found")
	ErrStateTransition = errors.New("invalid state transition")
	ErrPersistence     = errors.New("persistence failure")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ConflictError carries the appointment that blocks the requested slot.
// Existing is nil when the overlap was caught by the database constraint
// rather than by the in-transaction check.
type ConflictError struct {
	PractitionerID uuid.UUID
	Date           string
	Requested      Interval
	Existing       *Appointment
}

func (e *ConflictError) Error() string {
	if e.Existing == nil {
		return fmt.Sprintf("practitioner %s already has an appointment overlapping %s on %s",
			e.PractitionerID, e.Requested, e.Date)
	}
	return fmt.Sprintf("practitioner %s already has appointment %s from %s to %s on %s",
		e.PractitionerID, e.Existing.ID, e.Existing.Interval.Start, e.Existing.Interval.End, e.Date)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

type NotFoundError struct {
	Entity string
	ID     uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

type StateTransitionError struct {
	Entity string
	ID     uuid.UUID
	From   string
	Action string
	Reason string
}

func (e *StateTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s %s: %s", e.Entity, e.ID, e.Reason)
	}
	return fmt.Sprintf("%s %s cannot %s from status %s", e.Entity, e.ID, e.Action, e.From)
}

func (e *StateTransitionError) Is(target error) bool { return target == ErrStateTransition }

type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// persistence wraps storage failures unless they already carry a domain kind.
func persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrStateTransition) || errors.Is(err, ErrPersistence) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
