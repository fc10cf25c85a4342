package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (h *harness) openWithNotes(t *testing.T, appt *Appointment) *Encounter {
	t.Helper()
	ctx := context.Background()
	enc, err := h.encounters.Open(ctx, OpenEncounterRequest{AppointmentID: &appt.ID})
	require.NoError(t, err)
	_, err = h.encounters.UpdateClinicalNotes(ctx, enc.ID, "persistent cough", "acute bronchitis", uuid.Nil)
	require.NoError(t, err)
	return enc
}

func TestOpenAdvancesAppointment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	appt := h.book(t, uuid.New(), march10, span(9, 0, 9, 30))

	enc, err := h.encounters.Open(ctx, OpenEncounterRequest{AppointmentID: &appt.ID})
	require.NoError(t, err)
	assert.Equal(t, EncounterInProgress, enc.Status)
	assert.Equal(t, appt.PatientID, enc.PatientID)
	assert.Equal(t, appt.PractitionerID, enc.PractitionerID)
	assert.Equal(t, march10, enc.Date)
	assert.Nil(t, enc.DurationMinutes)

	got, err := h.appointments.Get(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInEncounter, got.Status)
}

func TestOpenWalkIn(t *testing.T) {
	h := newHarness(t)
	enc, err := h.encounters.Open(context.Background(), OpenEncounterRequest{
		PatientID:      uuid.New(),
		PractitionerID: uuid.New(),
	})
	require.NoError(t, err)
	assert.Nil(t, enc.AppointmentID)
	assert.Equal(t, DateOf(h.clock.now), enc.Date)
}

func TestOpenRejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	appt := h.book(t, uuid.New(), march10, span(9, 0, 9, 30))
	_, err := h.encounters.Open(ctx, OpenEncounterRequest{AppointmentID: &appt.ID})
	require.NoError(t, err)

	_, err = h.encounters.Open(ctx, OpenEncounterRequest{AppointmentID: &appt.ID})
	assert.True(t, errors.Is(err, ErrStateTransition), "second encounter for one appointment: %v", err)

	missing := uuid.New()
	_, err = h.encounters.Open(ctx, OpenEncounterRequest{AppointmentID: &missing})
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = h.encounters.Open(ctx, OpenEncounterRequest{PractitionerID: uuid.New()})
	assert.True(t, errors.Is(err, ErrValidation))

	other := h.book(t, uuid.New(), march10, span(9, 0, 9, 30))
	_, err = h.encounters.Open(ctx, OpenEncounterRequest{AppointmentID: &other.ID, PatientID: uuid.New()})
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestOpenSurvivesFailedAppointmentAdvance(t *testing.T) {
	repo := &faultyRepo{MemoryRepository: NewMemoryRepository()}
	h := newHarnessWithRepo(t, repo.MemoryRepository)
	appt := h.book(t, uuid.New(), march10, span(9, 0, 9, 30))

	repo.failStatusUpdate = true
	svc := NewEncounterService(repo, Options{})
	enc, err := svc.Open(context.Background(), OpenEncounterRequest{AppointmentID: &appt.ID})
	require.NoError(t, err)
	assert.Equal(t, EncounterInProgress, enc.Status)

	got, err := h.appointments.Get(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, got.Status)
}

func TestFinalizeCompletesAppointment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	appt := h.book(t, uuid.New(), march10, span(9, 0, 9, 30))
	enc := h.openWithNotes(t, appt)
	h.clock.now = time.Date(2025, 3, 10, 9, 25, 0, 0, time.UTC)
	actor := uuid.New()

	res, err := h.encounters.Finalize(ctx, FinalizeRequest{EncounterID: enc.ID, DurationMinutes: 20, Actor: actor})
	require.NoError(t, err)
	assert.Equal(t, EncounterFinalized, res.Encounter.Status)
	require.NotNil(t, res.Encounter.DurationMinutes)
	assert.Equal(t, 20, *res.Encounter.DurationMinutes)
	require.NotNil(t, res.Encounter.FinalizedAt)
	assert.Equal(t, h.clock.now, *res.Encounter.FinalizedAt)
	assert.Contains(t, res.Message, "20 minutes")
	assert.Empty(t, res.Warnings)

	got, err := h.appointments.Get(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)

	assert.Contains(t, h.eventTypes(), EventEncounterFinalized)
	assert.Contains(t, h.eventTypes(), EventAppointmentCompleted)
}

func TestFinalizeDurationBounds(t *testing.T) {
	tests := []struct {
		minutes int
		ok      bool
		warn    bool
	}{
		{minutes: 0},
		{minutes: -5},
		{minutes: 1, ok: true},
		{minutes: 240, ok: true},
		{minutes: 241, ok: true, warn: true},
		{minutes: 480, ok: true, warn: true},
		{minutes: 481},
	}

	for _, tt := range tests {
		h := newHarness(t)
		appt := h.book(t, uuid.New(), march10, span(9, 0, 9, 30))
		enc := h.openWithNotes(t, appt)

		res, err := h.encounters.Finalize(context.Background(), FinalizeRequest{EncounterID: enc.ID, DurationMinutes: tt.minutes})
		if !tt.ok {
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "%d minutes: %v", tt.minutes, err)
			assert.Equal(t, "duration_minutes", verr.Field)

			got, err := h.encounters.Get(context.Background(), enc.ID)
			require.NoError(t, err)
			assert.Equal(t, EncounterInProgress, got.Status, "rejected finalize must not change state")
			continue
		}
		require.NoError(t, err, "%d minutes", tt.minutes)
		assert.Equal(t, tt.warn, len(res.Warnings) > 0, "%d minutes", tt.minutes)
	}
}

func TestFinalizeCheckOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.encounters.Finalize(ctx, FinalizeRequest{EncounterID: uuid.New(), DurationMinutes: 0})
	assert.True(t, errors.Is(err, ErrNotFound), "existence is checked before duration")

	appt := h.book(t, uuid.New(), march10, span(9, 0, 9, 30))
	enc, err := h.encounters.Open(ctx, OpenEncounterRequest{AppointmentID: &appt.ID})
	require.NoError(t, err)

	_, err = h.encounters.Finalize(ctx, FinalizeRequest{EncounterID: enc.ID, DurationMinutes: 900})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "chief_complaint,diagnosis", verr.Field, "clinical fields are checked before duration")

	_, err = h.encounters.UpdateClinicalNotes(ctx, enc.ID, "headache", "", uuid.Nil)
	require.NoError(t, err)
	_, err = h.encounters.Finalize(ctx, FinalizeRequest{EncounterID: enc.ID, DurationMinutes: 15})
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "diagnosis", verr.Field)

	_, err = h.encounters.UpdateClinicalNotes(ctx, enc.ID, "headache", "tension headache", uuid.Nil)
	require.NoError(t, err)
	_, err = h.encounters.Finalize(ctx, FinalizeRequest{EncounterID: enc.ID, DurationMinutes: 15})
	require.NoError(t, err)

	_, err = h.encounters.Finalize(ctx, FinalizeRequest{EncounterID: enc.ID, DurationMinutes: 0})
	var ste *StateTransitionError
	require.True(t, errors.As(err, &ste), "finalized state is checked before duration: %v", err)
	assert.Equal(t, "encounter is already finalized", ste.Reason)
}

func TestFinalizeLeavesTerminalAppointmentUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	appt := h.book(t, uuid.New(), march10, span(9, 0, 9, 30))
	enc := h.openWithNotes(t, appt)

	_, err := h.appointments.MarkNoShow(ctx, appt.ID, uuid.Nil)
	require.NoError(t, err)

	res, err := h.encounters.Finalize(ctx, FinalizeRequest{EncounterID: enc.ID, DurationMinutes: 10})
	require.NoError(t, err)
	assert.Equal(t, EncounterFinalized, res.Encounter.Status)

	got, err := h.appointments.Get(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNoShow, got.Status)
}

func TestUpdateClinicalNotesAfterFinalize(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	appt := h.book(t, uuid.New(), march10, span(9, 0, 9, 30))
	enc := h.openWithNotes(t, appt)
	_, err := h.encounters.Finalize(ctx, FinalizeRequest{EncounterID: enc.ID, DurationMinutes: 30})
	require.NoError(t, err)

	_, err = h.encounters.UpdateClinicalNotes(ctx, enc.ID, "changed", "changed", uuid.Nil)
	assert.True(t, errors.Is(err, ErrStateTransition))

	_, err = h.encounters.UpdateClinicalNotes(ctx, uuid.New(), "x", "y", uuid.Nil)
	assert.True(t, errors.Is(err, ErrNotFound))
}
