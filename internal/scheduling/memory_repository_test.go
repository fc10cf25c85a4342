package scheduling

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRunInTxRollsBackWhenContextCancelled(t *testing.T) {
	repo := NewMemoryRepository()
	ctx, cancel := context.WithCancel(context.Background())

	err := repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		require.NoError(t, tx.InsertAppointment(ctx, &Appointment{
			ID:             uuid.New(),
			PractitionerID: uuid.New(),
			PatientID:      uuid.New(),
			Date:           march10,
			Interval:       span(9, 0, 9, 30),
			Status:         StatusScheduled,
		}))
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	rows, err := repo.ListAppointments(context.Background(), AppointmentFilter{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestMemoryRunInTxCommits(t *testing.T) {
	repo := NewMemoryRepository()

	err := repo.RunInTx(context.Background(), func(ctx context.Context, tx Repository) error {
		return tx.InsertAppointment(ctx, &Appointment{
			ID:             uuid.New(),
			PractitionerID: uuid.New(),
			PatientID:      uuid.New(),
			Date:           march10,
			Interval:       span(9, 0, 9, 30),
			Status:         StatusScheduled,
		})
	})
	require.NoError(t, err)

	rows, err := repo.ListAppointments(context.Background(), AppointmentFilter{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
