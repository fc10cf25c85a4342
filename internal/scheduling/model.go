package scheduling

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled   AppointmentStatus = "scheduled"
	StatusConfirmed   AppointmentStatus = "confirmed"
	StatusCheckedIn   AppointmentStatus = "checked_in"
	StatusInEncounter AppointmentStatus = "in_encounter"
	StatusCompleted   AppointmentStatus = "completed"
	StatusCancelled   AppointmentStatus = "cancelled"
	StatusNoShow      AppointmentStatus = "no_show"
)

// AppointmentStatuses lists every status in lifecycle order.
var AppointmentStatuses = []AppointmentStatus{
	StatusScheduled,
	StatusConfirmed,
	StatusCheckedIn,
	StatusInEncounter,
	StatusCompleted,
	StatusCancelled,
	StatusNoShow,
}

func (s AppointmentStatus) Valid() bool {
	for _, known := range AppointmentStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s AppointmentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

type AppointmentKind string

const (
	KindInitialConsult AppointmentKind = "initial_consult"
	KindFollowUp       AppointmentKind = "follow_up"
	KindGeneralConsult AppointmentKind = "general_consult"
	KindInvestigation  AppointmentKind = "investigation"
	KindProcedure      AppointmentKind = "procedure"
	KindEmergency      AppointmentKind = "emergency"
	KindTelemedicine   AppointmentKind = "telemedicine"
	KindHomeVisit      AppointmentKind = "home_visit"
	// KindBlockedSlot reserves practitioner time without a patient.
	KindBlockedSlot AppointmentKind = "blocked_slot"
)

var AppointmentKinds = []AppointmentKind{
	KindInitialConsult,
	KindFollowUp,
	KindGeneralConsult,
	KindInvestigation,
	KindProcedure,
	KindEmergency,
	KindTelemedicine,
	KindHomeVisit,
	KindBlockedSlot,
}

var defaultKindDurations = map[AppointmentKind]time.Duration{
	KindInitialConsult: 45 * time.Minute,
	KindFollowUp:       30 * time.Minute,
	KindGeneralConsult: 30 * time.Minute,
	KindInvestigation:  20 * time.Minute,
	KindProcedure:      time.Hour,
	KindEmergency:      15 * time.Minute,
	KindTelemedicine:   20 * time.Minute,
	KindHomeVisit:      time.Hour,
	KindBlockedSlot:    time.Hour,
}

func (k AppointmentKind) Valid() bool {
	_, ok := defaultKindDurations[k]
	return ok
}

// DefaultDuration is the slot length the front desk proposes for the kind.
func (k AppointmentKind) DefaultDuration() time.Duration {
	if d, ok := defaultKindDurations[k]; ok {
		return d
	}
	return 30 * time.Minute
}

// RequiresPatient is false only for blocked slots.
func (k AppointmentKind) RequiresPatient() bool {
	return k != KindBlockedSlot
}

type Appointment struct {
	ID             uuid.UUID
	PractitionerID uuid.UUID
	PatientID      uuid.UUID // uuid.Nil for blocked slots
	Date           time.Time
	Interval       Interval
	Kind           AppointmentKind
	Status         AppointmentStatus
	Note           string
	CancelReason   *string
	CreatedAt      time.Time
	CreatedBy      *uuid.UUID
	ModifiedAt     *time.Time
	ModifiedBy     *uuid.UUID
}

// StartsAt returns the absolute start instant in UTC.
func (a Appointment) StartsAt() time.Time {
	return a.Date.Add(a.Interval.Start.Duration())
}

func (a Appointment) EndsAt() time.Time {
	return a.Date.Add(a.Interval.End.Duration())
}

type EncounterStatus string

const (
	EncounterInProgress EncounterStatus = "in_progress"
	EncounterFinalized  EncounterStatus = "finalized"
)

type Encounter struct {
	ID             uuid.UUID
	AppointmentID  *uuid.UUID // nil for walk-ins
	PatientID      uuid.UUID
	PractitionerID uuid.UUID
	Date           time.Time
	Status         EncounterStatus
	ChiefComplaint string
	Diagnosis      string
	// DurationMinutes stays nil until the encounter is finalized.
	DurationMinutes *int
	FinalizedAt     *time.Time
	FinalizedBy     *uuid.UUID
	CreatedAt       time.Time
	CreatedBy       *uuid.UUID
	ModifiedAt      *time.Time
	ModifiedBy      *uuid.UUID
}

type EventLog struct {
	ID         int64
	EventType  string
	EntityType string
	EntityID   *uuid.UUID
	ActorID    *uuid.UUID
	Payload    []byte
	CreatedAt  time.Time
}
