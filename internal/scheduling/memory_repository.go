package scheduling

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryState struct {
	appointments map[uuid.UUID]Appointment
	encounters   map[uuid.UUID]Encounter
	events       []EventLog
}

func newMemoryState() memoryState {
	return memoryState{
		appointments: map[uuid.UUID]Appointment{},
		encounters:   map[uuid.UUID]Encounter{},
	}
}

func (s memoryState) clone() memoryState {
	c := memoryState{
		appointments: make(map[uuid.UUID]Appointment, len(s.appointments)),
		encounters:   make(map[uuid.UUID]Encounter, len(s.encounters)),
		events:       append([]EventLog(nil), s.events...),
	}
	for k, v := range s.appointments {
		c.appointments[k] = v
	}
	for k, v := range s.encounters {
		c.encounters[k] = v
	}
	return c
}

// MemoryRepository is a process-local Repository. Transactions are
// serialised and roll back by restoring a snapshot. It mirrors the storage
// constraints of the Postgres schema: overlapping active appointments and a
// second encounter for one appointment are rejected. A rollback also discards
// writes made outside the transaction while it was open.
type MemoryRepository struct {
	txMu  sync.Mutex
	mu    sync.RWMutex
	state memoryState
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{state: newMemoryState()}
}

func (r *MemoryRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.RLock()
	snapshot := r.state.clone()
	r.mu.RUnlock()

	err := fn(ctx, r)
	if err == nil {
		// a cancelled context fails the commit, as it does in Postgres
		err = ctx.Err()
	}
	if err != nil {
		r.mu.Lock()
		r.state = snapshot
		r.mu.Unlock()
		return err
	}
	return nil
}

// LockPractitionerDay is a no-op: RunInTx already serialises transactions.
func (r *MemoryRepository) LockPractitionerDay(ctx context.Context, practitionerID uuid.UUID, date time.Time) error {
	return ctx.Err()
}

func (r *MemoryRepository) ListActiveAppointments(ctx context.Context, practitionerID uuid.UUID, date time.Time, excludeID *uuid.UUID) ([]Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	day := DateOf(date)
	var out []Appointment
	for _, a := range r.state.appointments {
		if a.PractitionerID != practitionerID || !a.Date.Equal(day) || a.Status == StatusCancelled {
			continue
		}
		if excludeID != nil && a.ID == *excludeID {
			continue
		}
		out = append(out, a)
	}
	sortAppointments(out)
	return out, nil
}

func (r *MemoryRepository) InsertAppointment(ctx context.Context, a *Appointment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.Status != StatusCancelled && r.overlapsLocked(a.ID, a.PractitionerID, a.Date, a.Interval) {
		return ErrSlotTaken
	}
	r.state.appointments[a.ID] = *a
	return nil
}

func (r *MemoryRepository) overlapsLocked(self, practitionerID uuid.UUID, date time.Time, iv Interval) bool {
	for _, other := range r.state.appointments {
		if other.ID == self || other.Status == StatusCancelled || other.PractitionerID != practitionerID {
			continue
		}
		if other.Date.Equal(DateOf(date)) && other.Interval.Overlaps(iv) {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.state.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func statusIn(s AppointmentStatus, set []AppointmentStatus) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) UpdateAppointmentStatus(ctx context.Context, u StatusUpdate) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.state.appointments[u.ID]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if !statusIn(a.Status, u.From) {
		return nil, ErrStaleStatus
	}
	at := u.At
	a.Status = u.To
	a.ModifiedAt = &at
	a.ModifiedBy = u.Actor
	if u.CancelReason != nil {
		reason := *u.CancelReason
		a.CancelReason = &reason
	}
	r.state.appointments[a.ID] = a
	return &a, nil
}

func (r *MemoryRepository) UpdateAppointmentSchedule(ctx context.Context, u ScheduleUpdate) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.state.appointments[u.ID]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if !statusIn(a.Status, u.From) {
		return nil, ErrStaleStatus
	}
	if r.overlapsLocked(a.ID, a.PractitionerID, u.Date, u.Interval) {
		return nil, ErrSlotTaken
	}
	at := u.At
	a.Date = DateOf(u.Date)
	a.Interval = u.Interval
	a.ModifiedAt = &at
	a.ModifiedBy = u.Actor
	r.state.appointments[a.ID] = a
	return &a, nil
}

func (r *MemoryRepository) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Appointment
	for _, a := range r.state.appointments {
		if !f.From.IsZero() && a.Date.Before(DateOf(f.From)) {
			continue
		}
		if !f.To.IsZero() && a.Date.After(DateOf(f.To)) {
			continue
		}
		if f.PractitionerID != nil && a.PractitionerID != *f.PractitionerID {
			continue
		}
		if len(f.Statuses) > 0 && !statusIn(a.Status, f.Statuses) {
			continue
		}
		out = append(out, a)
	}
	sortAppointments(out)
	return out, nil
}

func sortAppointments(appts []Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		a, b := appts[i], appts[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Interval.Start != b.Interval.Start {
			return a.Interval.Start < b.Interval.Start
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

func (r *MemoryRepository) InsertEncounter(ctx context.Context, e *Encounter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.AppointmentID != nil {
		for _, other := range r.state.encounters {
			if other.AppointmentID != nil && *other.AppointmentID == *e.AppointmentID {
				return ErrEncounterExists
			}
		}
	}
	r.state.encounters[e.ID] = *e
	return nil
}

func (r *MemoryRepository) GetEncounter(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.state.encounters[id]
	if !ok {
		return nil, ErrEncounterNotFound
	}
	return &e, nil
}

func (r *MemoryRepository) LockEncounter(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return r.GetEncounter(ctx, id)
}

func (r *MemoryRepository) EncounterExistsForAppointment(ctx context.Context, appointmentID uuid.UUID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.state.encounters {
		if e.AppointmentID != nil && *e.AppointmentID == appointmentID {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) UpdateEncounterNotes(ctx context.Context, u NotesUpdate) (*Encounter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.state.encounters[u.ID]
	if !ok {
		return nil, ErrEncounterNotFound
	}
	if e.Status != EncounterInProgress {
		return nil, ErrStaleStatus
	}
	at := u.At
	e.ChiefComplaint = u.ChiefComplaint
	e.Diagnosis = u.Diagnosis
	e.ModifiedAt = &at
	e.ModifiedBy = u.Actor
	r.state.encounters[e.ID] = e
	return &e, nil
}

func (r *MemoryRepository) MissingClinicalFields(ctx context.Context, encounterID uuid.UUID) ([]string, error) {
	e, err := r.GetEncounter(ctx, encounterID)
	if err != nil {
		return nil, err
	}
	var missing []string
	if strings.TrimSpace(e.ChiefComplaint) == "" {
		missing = append(missing, "chief_complaint")
	}
	if strings.TrimSpace(e.Diagnosis) == "" {
		missing = append(missing, "diagnosis")
	}
	return missing, nil
}

func (r *MemoryRepository) FinalizeEncounter(ctx context.Context, u FinalizeUpdate) (*Encounter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.state.encounters[u.ID]
	if !ok {
		return nil, ErrEncounterNotFound
	}
	if e.Status != EncounterInProgress {
		return nil, ErrStaleStatus
	}
	at := u.At
	minutes := u.DurationMinutes
	e.Status = EncounterFinalized
	e.DurationMinutes = &minutes
	e.FinalizedAt = &at
	e.FinalizedBy = u.Actor
	e.ModifiedAt = &at
	e.ModifiedBy = u.Actor
	r.state.encounters[e.ID] = e
	return &e, nil
}

func (r *MemoryRepository) ListFinalizedEncounters(ctx context.Context, from, to time.Time, practitionerID *uuid.UUID) ([]Encounter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Encounter
	for _, e := range r.state.encounters {
		if e.Status != EncounterFinalized {
			continue
		}
		if e.Date.Before(DateOf(from)) || e.Date.After(DateOf(to)) {
			continue
		}
		if practitionerID != nil && e.PractitionerID != *practitionerID {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	ev.ID = int64(len(r.state.events) + 1)
	r.state.events = append(r.state.events, ev)
	return nil
}

// Events returns a copy of the audit trail in insertion order.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]EventLog(nil), r.state.events...)
}
