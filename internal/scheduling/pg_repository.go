package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SQLSTATE codes mapped to domain sentinels.
const (
	pgExclusionViolation = "23P01"
	pgUniqueViolation    = "23505"
)

// dbtx is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txBeginner interface {
	dbtx
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgRepository struct {
	db dbtx
	// pool is nil when the repository is bound to a transaction.
	pool txBeginner
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{db: pool, pool: pool}
}

// NewPgRepositoryWithDB builds a repository over any pool-like connection.
func NewPgRepositoryWithDB(db txBeginner) *PgRepository {
	return &PgRepository{db: db, pool: db}
}

func (r *PgRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	if r.pool == nil {
		return fn(ctx, r)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(ctx, &PgRepository{db: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, fmt.Errorf("rollback tx: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *PgRepository) LockPractitionerDay(ctx context.Context, practitionerID uuid.UUID, date time.Time) error {
	_, err := r.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
		practitionerDayKey(practitionerID, date))
	if err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	return nil
}

// Helpers

type rowScanner interface {
	Scan(dest ...any) error
}

const appointmentColumns = `id, practitioner_id, patient_id, date, start_minute, end_minute, kind, status,
		note, cancel_reason, created_at, created_by, modified_at, modified_by`

func scanAppointment(row rowScanner) (*Appointment, error) {
	var a Appointment
	var patientID *uuid.UUID
	var start, end int

	err := row.Scan(
		&a.ID,
		&a.PractitionerID,
		&patientID,
		&a.Date,
		&start,
		&end,
		&a.Kind,
		&a.Status,
		&a.Note,
		&a.CancelReason,
		&a.CreatedAt,
		&a.CreatedBy,
		&a.ModifiedAt,
		&a.ModifiedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if patientID != nil {
		a.PatientID = *patientID
	}
	a.Date = DateOf(a.Date)
	a.Interval = Interval{Start: TimeOfDay(start), End: TimeOfDay(end)}
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

const encounterColumns = `id, appointment_id, patient_id, practitioner_id, date, status, chief_complaint, diagnosis,
		duration_minutes, finalized_at, finalized_by, created_at, created_by, modified_at, modified_by`

func scanEncounter(row rowScanner) (*Encounter, error) {
	var e Encounter

	err := row.Scan(
		&e.ID,
		&e.AppointmentID,
		&e.PatientID,
		&e.PractitionerID,
		&e.Date,
		&e.Status,
		&e.ChiefComplaint,
		&e.Diagnosis,
		&e.DurationMinutes,
		&e.FinalizedAt,
		&e.FinalizedBy,
		&e.CreatedAt,
		&e.CreatedBy,
		&e.ModifiedAt,
		&e.ModifiedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEncounterNotFound
		}
		return nil, err
	}

	e.Date = DateOf(e.Date)
	return &e, nil
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func statusStrings(statuses []AppointmentStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func nullableUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Appointments

func (r *PgRepository) ListActiveAppointments(ctx context.Context, practitionerID uuid.UUID, date time.Time, excludeID *uuid.UUID) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE practitioner_id = $1
		  AND date = $2
		  AND status <> 'cancelled'
		  AND ($3::uuid IS NULL OR id <> $3)
		ORDER BY start_minute
	`, practitionerID, DateOf(date), excludeID)
	if err != nil {
		return nil, fmt.Errorf("list active appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) InsertAppointment(ctx context.Context, a *Appointment) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO appointments (id, practitioner_id, patient_id, date, start_minute, end_minute, kind, status,
		                          note, created_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, now()), $11)
	`, a.ID, a.PractitionerID, nullableUUID(a.PatientID), a.Date, int(a.Interval.Start), int(a.Interval.End),
		string(a.Kind), string(a.Status), a.Note, nullableTime(a.CreatedAt), a.CreatedBy)
	if err != nil {
		if pgErrorCode(err) == pgExclusionViolation {
			return ErrSlotTaken
		}
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *PgRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, u StatusUpdate) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    modified_at = $3,
		    modified_by = $4,
		    cancel_reason = COALESCE($5, cancel_reason)
		WHERE id = $1
		  AND status = ANY($6)
		RETURNING `+appointmentColumns,
		u.ID, string(u.To), u.At, u.Actor, u.CancelReason, statusStrings(u.From))

	a, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, ErrStaleStatus
	}
	return a, err
}

func (r *PgRepository) UpdateAppointmentSchedule(ctx context.Context, u ScheduleUpdate) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET date = $2,
		    start_minute = $3,
		    end_minute = $4,
		    modified_at = $5,
		    modified_by = $6
		WHERE id = $1
		  AND status = ANY($7)
		RETURNING `+appointmentColumns,
		u.ID, DateOf(u.Date), int(u.Interval.Start), int(u.Interval.End), u.At, u.Actor, statusStrings(u.From))

	a, err := scanAppointment(row)
	switch {
	case err == nil:
		return a, nil
	case errors.Is(err, ErrAppointmentNotFound):
		return nil, ErrStaleStatus
	case pgErrorCode(err) == pgExclusionViolation:
		return nil, ErrSlotTaken
	default:
		return nil, fmt.Errorf("update appointment schedule: %w", err)
	}
}

func (r *PgRepository) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if !f.From.IsZero() {
		where = append(where, "date >= "+arg(DateOf(f.From)))
	}
	if !f.To.IsZero() {
		where = append(where, "date <= "+arg(DateOf(f.To)))
	}
	if f.PractitionerID != nil {
		where = append(where, "practitioner_id = "+arg(*f.PractitionerID))
	}
	if len(f.Statuses) > 0 {
		where = append(where, "status = ANY("+arg(statusStrings(f.Statuses))+")")
	}

	query := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date, start_minute, created_at"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return collectAppointments(rows)
}

// Encounters

func (r *PgRepository) InsertEncounter(ctx context.Context, e *Encounter) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO encounters (id, appointment_id, patient_id, practitioner_id, date, status,
		                        chief_complaint, diagnosis, created_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, now()), $10)
	`, e.ID, e.AppointmentID, e.PatientID, e.PractitionerID, e.Date, string(e.Status),
		e.ChiefComplaint, e.Diagnosis, nullableTime(e.CreatedAt), e.CreatedBy)
	if err != nil {
		if pgErrorCode(err) == pgUniqueViolation {
			return ErrEncounterExists
		}
		return fmt.Errorf("insert encounter: %w", err)
	}
	return nil
}

func (r *PgRepository) GetEncounter(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+encounterColumns+`
		FROM encounters
		WHERE id = $1
	`, id)
	return scanEncounter(row)
}

func (r *PgRepository) LockEncounter(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+encounterColumns+`
		FROM encounters
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanEncounter(row)
}

func (r *PgRepository) EncounterExistsForAppointment(ctx context.Context, appointmentID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM encounters WHERE appointment_id = $1)
	`, appointmentID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check encounter for appointment: %w", err)
	}
	return exists, nil
}

func (r *PgRepository) UpdateEncounterNotes(ctx context.Context, u NotesUpdate) (*Encounter, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE encounters
		SET chief_complaint = $2,
		    diagnosis = $3,
		    modified_at = $4,
		    modified_by = $5
		WHERE id = $1
		  AND status = 'in_progress'
		RETURNING `+encounterColumns,
		u.ID, u.ChiefComplaint, u.Diagnosis, u.At, u.Actor)

	e, err := scanEncounter(row)
	if errors.Is(err, ErrEncounterNotFound) {
		return nil, ErrStaleStatus
	}
	return e, err
}

func (r *PgRepository) MissingClinicalFields(ctx context.Context, encounterID uuid.UUID) ([]string, error) {
	var noComplaint, noDiagnosis bool
	err := r.db.QueryRow(ctx, `
		SELECT btrim(chief_complaint) = '', btrim(diagnosis) = ''
		FROM encounters
		WHERE id = $1
	`, encounterID).Scan(&noComplaint, &noDiagnosis)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEncounterNotFound
		}
		return nil, fmt.Errorf("check clinical fields: %w", err)
	}

	var missing []string
	if noComplaint {
		missing = append(missing, "chief_complaint")
	}
	if noDiagnosis {
		missing = append(missing, "diagnosis")
	}
	return missing, nil
}

func (r *PgRepository) FinalizeEncounter(ctx context.Context, u FinalizeUpdate) (*Encounter, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE encounters
		SET status = 'finalized',
		    duration_minutes = $2,
		    finalized_at = $3,
		    finalized_by = $4,
		    modified_at = $3,
		    modified_by = $4
		WHERE id = $1
		  AND status = 'in_progress'
		RETURNING `+encounterColumns,
		u.ID, u.DurationMinutes, u.At, u.Actor)

	e, err := scanEncounter(row)
	if errors.Is(err, ErrEncounterNotFound) {
		return nil, ErrStaleStatus
	}
	return e, err
}

func (r *PgRepository) ListFinalizedEncounters(ctx context.Context, from, to time.Time, practitionerID *uuid.UUID) ([]Encounter, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+encounterColumns+`
		FROM encounters
		WHERE status = 'finalized'
		  AND date BETWEEN $1 AND $2
		  AND ($3::uuid IS NULL OR practitioner_id = $3)
		ORDER BY created_at
	`, DateOf(from), DateOf(to), practitionerID)
	if err != nil {
		return nil, fmt.Errorf("list finalized encounters: %w", err)
	}
	defer rows.Close()

	var result []Encounter
	for rows.Next() {
		e, err := scanEncounter(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Event logging

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, entity_type, entity_id, actor_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()))
	`, ev.EventType, ev.EntityType, ev.EntityID, ev.ActorID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}
