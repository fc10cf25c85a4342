package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

type BookRequest struct {
	PractitionerID uuid.UUID
	PatientID      uuid.UUID
	Date           time.Time
	Interval       Interval
	Kind           AppointmentKind
	Note           string
	Actor          uuid.UUID
}

func (r BookRequest) validate() error {
	if r.PractitionerID == uuid.Nil {
		return &ValidationError{Field: "practitioner_id", Message: "practitioner is required"}
	}
	if !r.Kind.Valid() {
		return &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown appointment kind %q", r.Kind)}
	}
	if r.Kind.RequiresPatient() && r.PatientID == uuid.Nil {
		return &ValidationError{Field: "patient_id", Message: "patient is required"}
	}
	if r.PatientID != uuid.Nil && r.PatientID == r.PractitionerID {
		return &ValidationError{Field: "patient_id", Message: "patient and practitioner must differ"}
	}
	if r.Date.IsZero() {
		return &ValidationError{Field: "date", Message: "date is required"}
	}
	if utf8.RuneCountInString(r.Note) > maxNoteLength {
		return &ValidationError{Field: "note", Message: fmt.Sprintf("note cannot exceed %d characters", maxNoteLength)}
	}
	return r.Interval.Validate()
}

type RescheduleRequest struct {
	ID       uuid.UUID
	Date     time.Time
	Interval Interval
	Actor    uuid.UUID
}

// CancelResult reports the cancelled appointment plus any anomalies the
// front desk should know about.
type CancelResult struct {
	Appointment *Appointment
	Message     string
	Warnings    []string
}

var transitionEvents = map[Action]string{
	ActionConfirm:        EventAppointmentConfirmed,
	ActionCheckIn:        EventAppointmentCheckedIn,
	ActionStartEncounter: EventAppointmentInEncounter,
	ActionComplete:       EventAppointmentCompleted,
	ActionCancel:         EventAppointmentCancelled,
	ActionNoShow:         EventAppointmentNoShow,
}

// AppointmentService drives the appointment lifecycle.
type AppointmentService struct {
	core
	locker Locker
	policy BookingPolicy
}

// NewAppointmentService wires the service. locker may be nil, in which case
// only the database transaction serialises bookings.
func NewAppointmentService(repo Repository, locker Locker, opts Options) *AppointmentService {
	return &AppointmentService{
		core:   newCore(repo, opts, "appointments"),
		locker: locker,
		policy: opts.Policy,
	}
}

func practitionerDayKey(practitionerID uuid.UUID, date time.Time) string {
	return fmt.Sprintf("lock:practitioner:%s:%s", practitionerID, FormatDate(date))
}

func (s *AppointmentService) withPractitionerDay(ctx context.Context, practitionerID uuid.UUID, date time.Time, fn func(ctx context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	return s.locker.WithLock(ctx, practitionerDayKey(practitionerID, date), fn)
}

// Book reserves a slot. The overlap check and the insert happen in one
// transaction holding the practitioner/day lock, so two concurrent bookings
// for overlapping intervals cannot both succeed.
func (s *AppointmentService) Book(ctx context.Context, req BookRequest) (_ *Appointment, err error) {
	ctx, finish := s.startOp(ctx, "appointment.book")
	defer func() {
		s.metrics.ObserveTransition("appointment", "book", outcome(err))
		finish(err)
	}()

	if err := req.validate(); err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.policy.Check(req.Kind, req.Date, req.Interval, now); err != nil {
		return nil, err
	}

	date := DateOf(req.Date)
	appt := &Appointment{
		ID:             uuid.New(),
		PractitionerID: req.PractitionerID,
		PatientID:      req.PatientID,
		Date:           date,
		Interval:       req.Interval,
		Kind:           req.Kind,
		Status:         StatusScheduled,
		Note:           req.Note,
		CreatedAt:      now,
		CreatedBy:      actorPtr(req.Actor),
	}
	q := ConflictQuery{PractitionerID: req.PractitionerID, Date: date, Interval: req.Interval}

	err = s.withPractitionerDay(ctx, req.PractitionerID, date, func(lockCtx context.Context) error {
		return s.repo.RunInTx(lockCtx, func(txCtx context.Context, tx Repository) error {
			if err := tx.LockPractitionerDay(txCtx, req.PractitionerID, date); err != nil {
				return persistence("lock practitioner day", err)
			}
			existing, err := findConflict(txCtx, tx, q)
			if err != nil {
				return err
			}
			if existing != nil {
				return &ConflictError{PractitionerID: req.PractitionerID, Date: FormatDate(date), Requested: req.Interval, Existing: existing}
			}
			if err := tx.InsertAppointment(txCtx, appt); err != nil {
				if errors.Is(err, ErrSlotTaken) {
					return &ConflictError{PractitionerID: req.PractitionerID, Date: FormatDate(date), Requested: req.Interval}
				}
				return persistence("insert appointment", err)
			}
			return nil
		})
	})
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			s.rejectConflict(ctx, "book", req.Actor, conflict)
		}
		return nil, persistence("book appointment", err)
	}

	s.logEvent(ctx, "appointment", appt.ID, appt.CreatedBy, EventAppointmentBooked, map[string]any{
		"practitioner_id": appt.PractitionerID.String(),
		"patient_id":      appt.PatientID.String(),
		"date":            FormatDate(appt.Date),
		"start":           appt.Interval.Start.String(),
		"end":             appt.Interval.End.String(),
		"kind":            appt.Kind,
	})
	s.log.Info().
		Str("appointment_id", appt.ID.String()).
		Str("practitioner_id", appt.PractitionerID.String()).
		Str("date", FormatDate(appt.Date)).
		Str("interval", appt.Interval.String()).
		Msg("appointment booked")

	return appt, nil
}

func (s *AppointmentService) rejectConflict(ctx context.Context, op string, actor uuid.UUID, conflict *ConflictError) {
	s.metrics.ObserveConflict(op)
	payload := map[string]any{
		"operation": op,
		"date":      conflict.Date,
		"start":     conflict.Requested.Start.String(),
		"end":       conflict.Requested.End.String(),
	}
	ev := s.log.Warn().
		Str("operation", op).
		Str("practitioner_id", conflict.PractitionerID.String()).
		Str("date", conflict.Date).
		Str("requested", conflict.Requested.String())
	if conflict.Existing != nil {
		payload["conflicting_appointment_id"] = conflict.Existing.ID.String()
		ev = ev.Str("conflicting_appointment_id", conflict.Existing.ID.String())
	}
	ev.Msg("scheduling conflict rejected")
	s.logEvent(ctx, "practitioner", conflict.PractitionerID, actorPtr(actor), EventAppointmentConflictRejected, payload)
}

func (s *AppointmentService) Confirm(ctx context.Context, id, actor uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, s.repo, id, ActionConfirm, actor, nil)
}

func (s *AppointmentService) CheckIn(ctx context.Context, id, actor uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, s.repo, id, ActionCheckIn, actor, nil)
}

func (s *AppointmentService) MarkNoShow(ctx context.Context, id, actor uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, s.repo, id, ActionNoShow, actor, nil)
}

// Cancel soft-cancels an appointment. Cancelling twice fails the second time.
func (s *AppointmentService) Cancel(ctx context.Context, id, actor uuid.UUID, reason string) (*CancelResult, error) {
	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}
	if utf8.RuneCountInString(reason) > maxReasonLength {
		return nil, &ValidationError{Field: "reason", Message: fmt.Sprintf("reason cannot exceed %d characters", maxReasonLength)}
	}

	updated, err := s.transition(ctx, s.repo, id, ActionCancel, actor, reasonPtr)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var warnings []string
	today := DateOf(now)
	switch {
	case updated.Date.Before(today):
		warnings = append(warnings, "appointment date is in the past")
	case updated.Date.Equal(today) && updated.Interval.Contains(ClockOf(now)):
		warnings = append(warnings, "appointment is currently in progress")
	}
	for _, w := range warnings {
		s.log.Warn().
			Str("appointment_id", id.String()).
			Str("date", FormatDate(updated.Date)).
			Str("interval", updated.Interval.String()).
			Msg("cancellation: " + w)
	}

	return &CancelResult{
		Appointment: updated,
		Message: fmt.Sprintf("Appointment on %s at %s was cancelled",
			FormatDate(updated.Date), updated.Interval.Start),
		Warnings: warnings,
	}, nil
}

// transition applies a table-driven status change as a compare-and-swap
// against the status that was read.
func (s *AppointmentService) transition(ctx context.Context, repo Repository, id uuid.UUID, action Action, actor uuid.UUID, reason *string) (_ *Appointment, err error) {
	ctx, finish := s.startOp(ctx, "appointment."+string(action))
	defer func() {
		s.metrics.ObserveTransition("appointment", string(action), outcome(err))
		finish(err)
	}()

	for attempt := 1; ; attempt++ {
		current, err := getAppointment(ctx, repo, id)
		if err != nil {
			return nil, err
		}
		to, err := Transition(id, current.Status, action)
		if err != nil {
			return nil, err
		}

		updated, err := repo.UpdateAppointmentStatus(ctx, StatusUpdate{
			ID:           id,
			From:         []AppointmentStatus{current.Status},
			To:           to,
			Actor:        actorPtr(actor),
			At:           s.now(),
			CancelReason: reason,
		})
		if errors.Is(err, ErrStaleStatus) && attempt < maxTransitionAttempts {
			// status moved since it was read; re-evaluate against the new one
			continue
		}
		if err != nil {
			if errors.Is(err, ErrStaleStatus) || errors.Is(err, ErrAppointmentNotFound) {
				return nil, staleAppointment(ctx, repo, id, action)
			}
			return nil, persistence("update appointment status", err)
		}

		payload := map[string]any{"from": current.Status, "to": to}
		if reason != nil {
			payload["reason"] = *reason
		}
		s.logEvent(ctx, "appointment", id, actorPtr(actor), transitionEvents[action], payload)
		return updated, nil
	}
}

// staleAppointment explains a lost compare-and-swap using the current row.
func staleAppointment(ctx context.Context, repo Repository, id uuid.UUID, action Action) error {
	current, err := getAppointment(ctx, repo, id)
	if err != nil {
		return err
	}
	return &StateTransitionError{Entity: "appointment", ID: id, From: string(current.Status), Action: string(action)}
}

func getAppointment(ctx context.Context, repo Repository, id uuid.UUID) (*Appointment, error) {
	appt, err := repo.GetAppointment(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, &NotFoundError{Entity: "appointment", ID: id}
		}
		return nil, persistence("load appointment", err)
	}
	return appt, nil
}

// Reschedule moves an appointment to a new date and interval, re-running the
// overlap check with the appointment itself excluded.
func (s *AppointmentService) Reschedule(ctx context.Context, req RescheduleRequest) (_ *Appointment, err error) {
	ctx, finish := s.startOp(ctx, "appointment.reschedule")
	defer func() {
		s.metrics.ObserveTransition("appointment", string(ActionReschedule), outcome(err))
		finish(err)
	}()

	if req.Date.IsZero() {
		return nil, &ValidationError{Field: "date", Message: "date is required"}
	}
	if err := req.Interval.Validate(); err != nil {
		return nil, err
	}

	current, err := getAppointment(ctx, s.repo, req.ID)
	if err != nil {
		return nil, err
	}
	if _, err := Transition(req.ID, current.Status, ActionReschedule); err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.policy.Check(current.Kind, req.Date, req.Interval, now); err != nil {
		return nil, err
	}

	date := DateOf(req.Date)
	self := req.ID
	q := ConflictQuery{PractitionerID: current.PractitionerID, Date: date, Interval: req.Interval, ExcludeID: &self}

	var updated *Appointment
	err = s.withPractitionerDay(ctx, current.PractitionerID, date, func(lockCtx context.Context) error {
		return s.repo.RunInTx(lockCtx, func(txCtx context.Context, tx Repository) error {
			if err := tx.LockPractitionerDay(txCtx, current.PractitionerID, date); err != nil {
				return persistence("lock practitioner day", err)
			}
			existing, err := findConflict(txCtx, tx, q)
			if err != nil {
				return err
			}
			if existing != nil {
				return &ConflictError{PractitionerID: current.PractitionerID, Date: FormatDate(date), Requested: req.Interval, Existing: existing}
			}
			updated, err = tx.UpdateAppointmentSchedule(txCtx, ScheduleUpdate{
				ID:       req.ID,
				From:     AllowedFrom(ActionReschedule),
				Date:     date,
				Interval: req.Interval,
				Actor:    actorPtr(req.Actor),
				At:       now,
			})
			switch {
			case err == nil:
				return nil
			case errors.Is(err, ErrSlotTaken):
				return &ConflictError{PractitionerID: current.PractitionerID, Date: FormatDate(date), Requested: req.Interval}
			case errors.Is(err, ErrStaleStatus) || errors.Is(err, ErrAppointmentNotFound):
				return staleAppointment(txCtx, tx, req.ID, ActionReschedule)
			default:
				return persistence("update appointment schedule", err)
			}
		})
	})
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			s.rejectConflict(ctx, "reschedule", req.Actor, conflict)
		}
		return nil, persistence("reschedule appointment", err)
	}

	s.logEvent(ctx, "appointment", req.ID, actorPtr(req.Actor), EventAppointmentRescheduled, map[string]any{
		"from_date":  FormatDate(current.Date),
		"from_start": current.Interval.Start.String(),
		"from_end":   current.Interval.End.String(),
		"to_date":    FormatDate(date),
		"to_start":   req.Interval.Start.String(),
		"to_end":     req.Interval.End.String(),
	})
	return updated, nil
}

func (s *AppointmentService) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return getAppointment(ctx, s.repo, id)
}

// ListDay returns the appointments of one date ordered by start time,
// optionally restricted to one practitioner.
func (s *AppointmentService) ListDay(ctx context.Context, date time.Time, practitionerID *uuid.UUID) ([]Appointment, error) {
	if date.IsZero() {
		return nil, &ValidationError{Field: "date", Message: "date is required"}
	}
	day := DateOf(date)
	appts, err := s.repo.ListAppointments(ctx, AppointmentFilter{From: day, To: day, PractitionerID: practitionerID})
	if err != nil {
		return nil, persistence("list appointments", err)
	}
	return appts, nil
}

// SweepNoShows marks scheduled and confirmed appointments dated before the
// given day as no-shows. It returns how many were marked.
func (s *AppointmentService) SweepNoShows(ctx context.Context, before time.Time) (_ int, err error) {
	ctx, finish := s.startOp(ctx, "appointment.sweep_no_shows")
	defer func() { finish(err) }()

	cutoff := DateOf(before).AddDate(0, 0, -1)
	stale, err := s.repo.ListAppointments(ctx, AppointmentFilter{
		To:       cutoff,
		Statuses: []AppointmentStatus{StatusScheduled, StatusConfirmed},
	})
	if err != nil {
		return 0, persistence("find stale appointments", err)
	}

	marked := 0
	for _, appt := range stale {
		_, err := s.repo.UpdateAppointmentStatus(ctx, StatusUpdate{
			ID:   appt.ID,
			From: []AppointmentStatus{StatusScheduled, StatusConfirmed},
			To:   StatusNoShow,
			At:   s.now(),
		})
		if err != nil {
			if !errors.Is(err, ErrStaleStatus) && !errors.Is(err, ErrAppointmentNotFound) {
				s.log.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("failed to mark appointment as no-show")
			}
			continue
		}
		marked++
		s.metrics.ObserveTransition("appointment", string(ActionNoShow), "ok")
		s.logEvent(ctx, "appointment", appt.ID, nil, EventAppointmentNoShow, map[string]any{
			"from":   appt.Status,
			"reason": "sweep",
		})
	}
	return marked, nil
}
