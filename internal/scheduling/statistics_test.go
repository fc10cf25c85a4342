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

func TestGrowth(t *testing.T) {
	tests := []struct {
		current, previous, want int
	}{
		{0, 0, 0},
		{3, 0, 300},
		{1, 0, 100},
		{5, 5, 0},
		{6, 4, 50},
		{2, 4, -50},
		{0, 4, -100},
		{4, 3, 33},
		{3, 8, -62}, // -62.5 rounds to even
		{5, 8, -38}, // -37.5 rounds to even
		{10, 1, 900},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Growth(tt.current, tt.previous), "Growth(%d, %d)", tt.current, tt.previous)
	}
}

func TestRateRoundsHalfToEven(t *testing.T) {
	assert.Equal(t, 3.12, rate(1, 32))
	assert.Equal(t, 9.38, rate(3, 32))
	assert.Equal(t, 33.33, rate(1, 3))
	assert.Equal(t, 66.67, rate(2, 3))
	assert.Zero(t, rate(1, 0))
}

func TestComputeStatistics(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	drA, drB := uuid.New(), uuid.New()
	patient := uuid.New()

	book := func(pr, pa uuid.UUID, date time.Time, iv Interval, kind AppointmentKind) *Appointment {
		appt, err := h.appointments.Book(ctx, BookRequest{PractitionerID: pr, PatientID: pa, Date: date, Interval: iv, Kind: kind})
		require.NoError(t, err)
		return appt
	}

	a1 := book(drA, patient, march10, span(9, 0, 9, 30), KindGeneralConsult)
	a2 := book(drA, uuid.New(), march10, span(10, 0, 10, 30), KindFollowUp)
	a3 := book(drA, patient, march10.AddDate(0, 0, 1), span(9, 0, 9, 30), KindGeneralConsult)
	book(drB, uuid.New(), march10, span(9, 0, 9, 30), KindProcedure)
	book(drB, uuid.New(), march10.AddDate(0, 0, 10), span(9, 0, 9, 30), KindProcedure) // outside range

	_, err := h.appointments.Cancel(ctx, a2.ID, uuid.Nil, "")
	require.NoError(t, err)
	_, err = h.appointments.MarkNoShow(ctx, a3.ID, uuid.Nil)
	require.NoError(t, err)

	enc := h.openWithNotes(t, a1)
	_, err = h.encounters.Finalize(ctx, FinalizeRequest{EncounterID: enc.ID, DurationMinutes: 25})
	require.NoError(t, err)
	walkIn, err := h.encounters.Open(ctx, OpenEncounterRequest{PatientID: uuid.New(), PractitionerID: drB, Date: march10})
	require.NoError(t, err)
	_, err = h.encounters.UpdateClinicalNotes(ctx, walkIn.ID, "fever", "influenza", uuid.Nil)
	require.NoError(t, err)
	_, err = h.encounters.Finalize(ctx, FinalizeRequest{EncounterID: walkIn.ID, DurationMinutes: 10})
	require.NoError(t, err)

	snap, err := h.stats.Compute(ctx, DateRange{From: march10, To: march10.AddDate(0, 0, 6)}, nil)
	require.NoError(t, err)

	assert.Equal(t, 4, snap.Total)
	assert.Equal(t, 1, snap.ByStatus[StatusCompleted])
	assert.Equal(t, 1, snap.ByStatus[StatusCancelled])
	assert.Equal(t, 1, snap.ByStatus[StatusNoShow])
	assert.Equal(t, 1, snap.ByStatus[StatusScheduled])
	assert.Equal(t, 2, snap.ByKind[KindGeneralConsult])
	assert.Equal(t, 2, snap.ActivePractitioners)
	assert.Equal(t, 3, snap.UniquePatients)
	assert.Equal(t, 2, snap.FinalizedEncounters)
	assert.InDelta(t, 17.5, snap.AverageDurationMinutes, 0.001)
	assert.InDelta(t, 25.0, snap.CompletionRate, 0.001)
	assert.InDelta(t, 50.0, snap.AttendanceRate, 0.001)
	assert.InDelta(t, 25.0, snap.CancellationRate, 0.001)
	assert.InDelta(t, 25.0, snap.NoShowRate, 0.001)
	require.NotEmpty(t, snap.TopPractitioners)
	assert.Equal(t, drA, snap.TopPractitioners[0].PractitionerID)
	assert.Equal(t, 3, snap.TopPractitioners[0].Count)
	require.NotEmpty(t, snap.BusiestDays)
	assert.Equal(t, march10, snap.BusiestDays[0].Date)

	onlyB, err := h.stats.Compute(ctx, DateRange{From: march10, To: march10.AddDate(0, 0, 6)}, &drB)
	require.NoError(t, err)
	assert.Equal(t, 1, onlyB.Total)
	assert.Equal(t, 1, onlyB.FinalizedEncounters)
	assert.InDelta(t, 10.0, onlyB.AverageDurationMinutes, 0.001)
}

func TestComputeEmptyRange(t *testing.T) {
	h := newHarness(t)
	snap, err := h.stats.Compute(context.Background(), DateRange{From: march10, To: march10}, nil)
	require.NoError(t, err)
	assert.Zero(t, snap.Total)
	assert.Zero(t, snap.AverageDurationMinutes)
	assert.Zero(t, snap.CompletionRate)
	assert.Empty(t, snap.TopPractitioners)
}

func TestComputeRejectsInvertedRange(t *testing.T) {
	h := newHarness(t)
	_, err := h.stats.Compute(context.Background(), DateRange{From: march10, To: march10.AddDate(0, 0, -1)}, nil)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestDailySummary(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	practitioner := uuid.New()
	monday := march10
	tuesday := march10.AddDate(0, 0, 1)

	h.book(t, practitioner, monday, span(9, 0, 9, 30))
	h.book(t, practitioner, monday, span(10, 0, 10, 30))

	waiting := h.book(t, practitioner, tuesday, span(9, 0, 9, 30))
	done := h.book(t, practitioner, tuesday, span(10, 0, 10, 30))
	cancelled := h.book(t, practitioner, tuesday, span(11, 0, 11, 30))

	_, err := h.appointments.CheckIn(ctx, waiting.ID, uuid.Nil)
	require.NoError(t, err)
	enc := h.openWithNotes(t, done)
	_, err = h.encounters.Finalize(ctx, FinalizeRequest{EncounterID: enc.ID, DurationMinutes: 20})
	require.NoError(t, err)
	_, err = h.appointments.Cancel(ctx, cancelled.ID, uuid.Nil, "")
	require.NoError(t, err)

	sum, err := h.stats.DailySummary(ctx, tuesday, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Today)
	assert.Equal(t, 2, sum.Yesterday)
	assert.Equal(t, 50, sum.Growth)
	assert.Equal(t, 1, sum.Waiting)
	assert.Equal(t, 1, sum.Completed)
	assert.Equal(t, 1, sum.Cancelled)
	assert.Equal(t, 1, sum.Remaining)
	assert.Equal(t, 5, sum.PatientsWeek)

	first, err := h.stats.DailySummary(ctx, monday, &practitioner)
	require.NoError(t, err)
	assert.Equal(t, 0, first.Yesterday)
	assert.Equal(t, 200, first.Growth)
}
