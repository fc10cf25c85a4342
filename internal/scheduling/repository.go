package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrEncounterNotFound   = errors.New("encounter not found")
	// ErrStaleStatus is returned by compare-and-swap updates when the row is
	// no longer in one of the expected statuses.
	ErrStaleStatus = errors.New("status changed concurrently")
	// ErrSlotTaken is returned when the storage-level overlap constraint rejects a write.
	ErrSlotTaken = errors.New("slot overlaps an existing appointment")
	// ErrEncounterExists is returned when an appointment already has an encounter.
	ErrEncounterExists = errors.New("appointment already has an encounter")
)

type StatusUpdate struct {
	ID           uuid.UUID
	From         []AppointmentStatus
	To           AppointmentStatus
	Actor        *uuid.UUID
	At           time.Time
	CancelReason *string
}

type ScheduleUpdate struct {
	ID       uuid.UUID
	From     []AppointmentStatus
	Date     time.Time
	Interval Interval
	Actor    *uuid.UUID
	At       time.Time
}

type NotesUpdate struct {
	ID             uuid.UUID
	ChiefComplaint string
	Diagnosis      string
	Actor          *uuid.UUID
	At             time.Time
}

type FinalizeUpdate struct {
	ID              uuid.UUID
	DurationMinutes int
	Actor           *uuid.UUID
	At              time.Time
}

// AppointmentFilter narrows range queries. Zero values mean "no filter".
type AppointmentFilter struct {
	From           time.Time
	To             time.Time // inclusive
	PractitionerID *uuid.UUID
	Statuses       []AppointmentStatus
}

// Repository contains all storage interactions needed by the services.
type Repository interface {
	// RunInTx executes fn inside one transaction. The Repository handed to fn
	// is bound to that transaction.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error
	// LockPractitionerDay serialises writers for one practitioner and date
	// until the surrounding transaction ends.
	LockPractitionerDay(ctx context.Context, practitionerID uuid.UUID, date time.Time) error

	// Conflict checks: every appointment of the day except cancelled ones.
	ListActiveAppointments(ctx context.Context, practitionerID uuid.UUID, date time.Time, excludeID *uuid.UUID) ([]Appointment, error)

	InsertAppointment(ctx context.Context, a *Appointment) error
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, u StatusUpdate) (*Appointment, error)
	UpdateAppointmentSchedule(ctx context.Context, u ScheduleUpdate) (*Appointment, error)
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error)

	InsertEncounter(ctx context.Context, e *Encounter) error
	GetEncounter(ctx context.Context, id uuid.UUID) (*Encounter, error)
	// LockEncounter reads the encounter and holds a row lock for the rest of the transaction.
	LockEncounter(ctx context.Context, id uuid.UUID) (*Encounter, error)
	EncounterExistsForAppointment(ctx context.Context, appointmentID uuid.UUID) (bool, error)
	UpdateEncounterNotes(ctx context.Context, u NotesUpdate) (*Encounter, error)
	// MissingClinicalFields names the mandatory clinical fields still empty.
	MissingClinicalFields(ctx context.Context, encounterID uuid.UUID) ([]string, error)
	FinalizeEncounter(ctx context.Context, u FinalizeUpdate) (*Encounter, error)
	ListFinalizedEncounters(ctx context.Context, from, to time.Time, practitionerID *uuid.UUID) ([]Encounter, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}

// Locker guards a critical section across processes.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Clock returns the current instant. Services default to UTC wall time.
type Clock func() time.Time

// SystemClock is the default Clock: wall time in UTC.
func SystemClock() time.Time { return time.Now().UTC() }
