package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var errStorageDown = errors.New("connection refused")

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

type harness struct {
	repo         *MemoryRepository
	clock        *fixedClock
	checker      *ConflictChecker
	appointments *AppointmentService
	encounters   *EncounterService
	stats        *StatisticsService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithRepo(t, NewMemoryRepository())
}

func newHarnessWithRepo(t *testing.T, repo *MemoryRepository) *harness {
	t.Helper()
	clock := &fixedClock{now: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
	opts := Options{Clock: clock.Now, Policy: DefaultBookingPolicy()}
	return &harness{
		repo:         repo,
		clock:        clock,
		checker:      NewConflictChecker(repo, opts),
		appointments: NewAppointmentService(repo, nil, opts),
		encounters:   NewEncounterService(repo, opts),
		stats:        NewStatisticsService(repo, opts),
	}
}

func at(hour, minute int) TimeOfDay { return NewTimeOfDay(hour, minute) }

func span(h1, m1, h2, m2 int) Interval { return NewInterval(at(h1, m1), at(h2, m2)) }

var march10 = NewDate(2025, time.March, 10)

func (h *harness) book(t *testing.T, practitioner uuid.UUID, date time.Time, iv Interval) *Appointment {
	t.Helper()
	appt, err := h.appointments.Book(context.Background(), BookRequest{
		PractitionerID: practitioner,
		PatientID:      uuid.New(),
		Date:           date,
		Interval:       iv,
		Kind:           KindGeneralConsult,
	})
	require.NoError(t, err)
	return appt
}

func (h *harness) eventTypes() []string {
	var out []string
	for _, ev := range h.repo.Events() {
		out = append(out, ev.EventType)
	}
	return out
}

// faultyRepo fails selected operations of an otherwise working repository.
type faultyRepo struct {
	*MemoryRepository
	failList         bool
	failStatusUpdate bool
	failEvents       bool
}

func (f *faultyRepo) ListActiveAppointments(ctx context.Context, practitionerID uuid.UUID, date time.Time, excludeID *uuid.UUID) ([]Appointment, error) {
	if f.failList {
		return nil, errStorageDown
	}
	return f.MemoryRepository.ListActiveAppointments(ctx, practitionerID, date, excludeID)
}

func (f *faultyRepo) UpdateAppointmentStatus(ctx context.Context, u StatusUpdate) (*Appointment, error) {
	if f.failStatusUpdate {
		return nil, errStorageDown
	}
	return f.MemoryRepository.UpdateAppointmentStatus(ctx, u)
}

func (f *faultyRepo) InsertEvent(ctx context.Context, ev EventLog) error {
	if f.failEvents {
		return errStorageDown
	}
	return f.MemoryRepository.InsertEvent(ctx, ev)
}

func (f *faultyRepo) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	return f.MemoryRepository.RunInTx(ctx, func(ctx context.Context, _ Repository) error {
		return fn(ctx, f)
	})
}
