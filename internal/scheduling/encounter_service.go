package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	MinEncounterMinutes = 1
	MaxEncounterMinutes = 480
	// LongEncounterMinutes is the threshold above which a duration is
	// accepted but flagged.
	LongEncounterMinutes = 240

	maxClinicalTextLength = 4000
)

type OpenEncounterRequest struct {
	AppointmentID  *uuid.UUID
	PatientID      uuid.UUID
	PractitionerID uuid.UUID
	Date           time.Time
	Actor          uuid.UUID
}

type FinalizeRequest struct {
	EncounterID     uuid.UUID
	DurationMinutes int
	Actor           uuid.UUID
}

type FinalizeResult struct {
	Encounter *Encounter
	Message   string
	Warnings  []string
}

// EncounterService drives the clinical visit lifecycle.
type EncounterService struct {
	core
}

func NewEncounterService(repo Repository, opts Options) *EncounterService {
	return &EncounterService{core: newCore(repo, opts, "encounters")}
}

// Open starts an encounter. When bound to an appointment the appointment is
// advanced to in_encounter on a best-effort basis.
func (s *EncounterService) Open(ctx context.Context, req OpenEncounterRequest) (_ *Encounter, err error) {
	ctx, finish := s.startOp(ctx, "encounter.open")
	defer func() {
		s.metrics.ObserveTransition("encounter", "open", outcome(err))
		finish(err)
	}()

	now := s.now()
	var appt *Appointment
	if req.AppointmentID != nil {
		appt, err = getAppointment(ctx, s.repo, *req.AppointmentID)
		if err != nil {
			return nil, err
		}
		if req.PatientID == uuid.Nil {
			req.PatientID = appt.PatientID
		}
		if req.PractitionerID == uuid.Nil {
			req.PractitionerID = appt.PractitionerID
		}
		if req.Date.IsZero() {
			req.Date = appt.Date
		}
		if req.PatientID != appt.PatientID {
			return nil, &ValidationError{Field: "patient_id", Message: "patient does not match the appointment"}
		}
		if req.PractitionerID != appt.PractitionerID {
			return nil, &ValidationError{Field: "practitioner_id", Message: "practitioner does not match the appointment"}
		}
	}
	if req.PatientID == uuid.Nil {
		return nil, &ValidationError{Field: "patient_id", Message: "patient is required"}
	}
	if req.PractitionerID == uuid.Nil {
		return nil, &ValidationError{Field: "practitioner_id", Message: "practitioner is required"}
	}
	if req.Date.IsZero() {
		req.Date = now
	}

	enc := &Encounter{
		ID:             uuid.New(),
		AppointmentID:  req.AppointmentID,
		PatientID:      req.PatientID,
		PractitionerID: req.PractitionerID,
		Date:           DateOf(req.Date),
		Status:         EncounterInProgress,
		CreatedAt:      now,
		CreatedBy:      actorPtr(req.Actor),
	}

	err = s.repo.RunInTx(ctx, func(txCtx context.Context, tx Repository) error {
		if appt != nil {
			exists, err := tx.EncounterExistsForAppointment(txCtx, appt.ID)
			if err != nil {
				return persistence("check existing encounter", err)
			}
			if exists {
				return alreadyHasEncounter(appt)
			}
		}
		if err := tx.InsertEncounter(txCtx, enc); err != nil {
			if errors.Is(err, ErrEncounterExists) && appt != nil {
				return alreadyHasEncounter(appt)
			}
			return persistence("insert encounter", err)
		}
		return nil
	})
	if err != nil {
		return nil, persistence("open encounter", err)
	}

	s.logEvent(ctx, "encounter", enc.ID, enc.CreatedBy, EventEncounterOpened, map[string]any{
		"appointment_id":  optionalID(enc.AppointmentID),
		"patient_id":      enc.PatientID.String(),
		"practitioner_id": enc.PractitionerID.String(),
	})

	if appt != nil {
		s.advanceAppointment(ctx, appt, req.Actor)
	}
	return enc, nil
}

func alreadyHasEncounter(appt *Appointment) error {
	return &StateTransitionError{
		Entity: "appointment",
		ID:     appt.ID,
		From:   string(appt.Status),
		Action: "open_encounter",
		Reason: "appointment already has an encounter",
	}
}

// advanceAppointment moves the bound appointment to in_encounter. Failures
// are logged and never block the encounter.
func (s *EncounterService) advanceAppointment(ctx context.Context, appt *Appointment, actor uuid.UUID) {
	logger := s.log.With().Str("appointment_id", appt.ID.String()).Logger()
	if appt.Status == StatusInEncounter {
		return
	}
	if !CanTransition(appt.Status, ActionStartEncounter) {
		logger.Warn().Str("status", string(appt.Status)).Msg("appointment not advanced to in_encounter")
		return
	}
	_, err := s.repo.UpdateAppointmentStatus(ctx, StatusUpdate{
		ID:    appt.ID,
		From:  AllowedFrom(ActionStartEncounter),
		To:    StatusInEncounter,
		Actor: actorPtr(actor),
		At:    s.now(),
	})
	if err != nil {
		logger.Warn().Err(err).Msg("failed to advance appointment to in_encounter")
		return
	}
	s.metrics.ObserveTransition("appointment", string(ActionStartEncounter), "ok")
	s.logEvent(ctx, "appointment", appt.ID, actorPtr(actor), EventAppointmentInEncounter, map[string]any{
		"from": appt.Status,
		"to":   StatusInEncounter,
	})
}

// UpdateClinicalNotes records chief complaint and diagnosis while the
// encounter is in progress.
func (s *EncounterService) UpdateClinicalNotes(ctx context.Context, id uuid.UUID, chiefComplaint, diagnosis string, actor uuid.UUID) (_ *Encounter, err error) {
	ctx, finish := s.startOp(ctx, "encounter.update_notes")
	defer func() {
		s.metrics.ObserveTransition("encounter", "update_notes", outcome(err))
		finish(err)
	}()

	if utf8.RuneCountInString(chiefComplaint) > maxClinicalTextLength {
		return nil, &ValidationError{Field: "chief_complaint", Message: fmt.Sprintf("cannot exceed %d characters", maxClinicalTextLength)}
	}
	if utf8.RuneCountInString(diagnosis) > maxClinicalTextLength {
		return nil, &ValidationError{Field: "diagnosis", Message: fmt.Sprintf("cannot exceed %d characters", maxClinicalTextLength)}
	}

	current, err := getEncounter(ctx, s.repo, id)
	if err != nil {
		return nil, err
	}
	if current.Status == EncounterFinalized {
		return nil, alreadyFinalized(id, "update_notes")
	}

	updated, err := s.repo.UpdateEncounterNotes(ctx, NotesUpdate{
		ID:             id,
		ChiefComplaint: chiefComplaint,
		Diagnosis:      diagnosis,
		Actor:          actorPtr(actor),
		At:             s.now(),
	})
	if err != nil {
		if errors.Is(err, ErrStaleStatus) {
			return nil, alreadyFinalized(id, "update_notes")
		}
		if errors.Is(err, ErrEncounterNotFound) {
			return nil, &NotFoundError{Entity: "encounter", ID: id}
		}
		return nil, persistence("update clinical notes", err)
	}

	s.logEvent(ctx, "encounter", id, actorPtr(actor), EventEncounterNotesUpdated, map[string]any{
		"has_chief_complaint": strings.TrimSpace(chiefComplaint) != "",
		"has_diagnosis":       strings.TrimSpace(diagnosis) != "",
	})
	return updated, nil
}

// Finalize closes the encounter and completes the bound appointment in the
// same transaction. Checks run in a fixed order: existence and state, then
// mandatory clinical fields, then duration bounds.
func (s *EncounterService) Finalize(ctx context.Context, req FinalizeRequest) (_ *FinalizeResult, err error) {
	ctx, finish := s.startOp(ctx, "encounter.finalize")
	defer func() {
		s.metrics.ObserveTransition("encounter", "finalize", outcome(err))
		finish(err)
	}()

	now := s.now()
	var (
		finalized *Encounter
		completed *Appointment
		warnings  []string
	)

	err = s.repo.RunInTx(ctx, func(txCtx context.Context, tx Repository) error {
		enc, err := tx.LockEncounter(txCtx, req.EncounterID)
		if err != nil {
			if errors.Is(err, ErrEncounterNotFound) {
				return &NotFoundError{Entity: "encounter", ID: req.EncounterID}
			}
			return persistence("load encounter", err)
		}
		if enc.Status == EncounterFinalized {
			return alreadyFinalized(enc.ID, "finalize")
		}

		missing, err := tx.MissingClinicalFields(txCtx, enc.ID)
		if err != nil {
			return persistence("check clinical fields", err)
		}
		if len(missing) > 0 {
			return &ValidationError{
				Field:   strings.Join(missing, ","),
				Message: "missing mandatory fields: " + strings.Join(missing, ", "),
			}
		}

		if req.DurationMinutes < MinEncounterMinutes || req.DurationMinutes > MaxEncounterMinutes {
			return &ValidationError{
				Field:   "duration_minutes",
				Message: fmt.Sprintf("duration must be between %d and %d minutes", MinEncounterMinutes, MaxEncounterMinutes),
			}
		}
		if req.DurationMinutes > LongEncounterMinutes {
			warnings = append(warnings, fmt.Sprintf("encounter lasted %d minutes, longer than %d", req.DurationMinutes, LongEncounterMinutes))
		}

		finalized, err = tx.FinalizeEncounter(txCtx, FinalizeUpdate{
			ID:              enc.ID,
			DurationMinutes: req.DurationMinutes,
			Actor:           actorPtr(req.Actor),
			At:              now,
		})
		if err != nil {
			if errors.Is(err, ErrStaleStatus) {
				return alreadyFinalized(enc.ID, "finalize")
			}
			return persistence("finalize encounter", err)
		}

		if enc.AppointmentID == nil {
			return nil
		}
		completed, err = s.completeAppointment(txCtx, tx, *enc.AppointmentID, req.Actor, now)
		return err
	})
	if err != nil {
		return nil, persistence("finalize encounter", err)
	}

	for _, w := range warnings {
		s.log.Warn().Str("encounter_id", req.EncounterID.String()).Int("duration_minutes", req.DurationMinutes).Msg(w)
	}
	s.logEvent(ctx, "encounter", finalized.ID, actorPtr(req.Actor), EventEncounterFinalized, map[string]any{
		"duration_minutes": req.DurationMinutes,
	})
	if completed != nil {
		s.metrics.ObserveTransition("appointment", string(ActionComplete), "ok")
		s.logEvent(ctx, "appointment", completed.ID, actorPtr(req.Actor), EventAppointmentCompleted, map[string]any{
			"encounter_id": finalized.ID.String(),
		})
	}

	return &FinalizeResult{
		Encounter: finalized,
		Message:   fmt.Sprintf("Encounter finalized after %d minutes", req.DurationMinutes),
		Warnings:  warnings,
	}, nil
}

// completeAppointment forces the bound appointment to completed. Appointments
// already in a terminal status are left as they are.
func (s *EncounterService) completeAppointment(ctx context.Context, tx Repository, id, actor uuid.UUID, now time.Time) (*Appointment, error) {
	appt, err := tx.GetAppointment(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			s.log.Warn().Str("appointment_id", id.String()).Msg("finalized encounter references a missing appointment")
			return nil, nil
		}
		return nil, persistence("load appointment", err)
	}
	if appt.Status.IsTerminal() {
		s.log.Warn().
			Str("appointment_id", id.String()).
			Str("status", string(appt.Status)).
			Msg("appointment already terminal, not completed")
		return nil, nil
	}

	updated, err := tx.UpdateAppointmentStatus(ctx, StatusUpdate{
		ID:    id,
		From:  AllowedFrom(ActionComplete),
		To:    StatusCompleted,
		Actor: actorPtr(actor),
		At:    now,
	})
	if err != nil {
		if errors.Is(err, ErrStaleStatus) {
			s.log.Warn().Str("appointment_id", id.String()).Msg("appointment changed concurrently, not completed")
			return nil, nil
		}
		return nil, persistence("complete appointment", err)
	}
	return updated, nil
}

func alreadyFinalized(id uuid.UUID, action string) error {
	return &StateTransitionError{
		Entity: "encounter",
		ID:     id,
		From:   string(EncounterFinalized),
		Action: action,
		Reason: "encounter is already finalized",
	}
}

func (s *EncounterService) Get(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return getEncounter(ctx, s.repo, id)
}

func getEncounter(ctx context.Context, repo Repository, id uuid.UUID) (*Encounter, error) {
	enc, err := repo.GetEncounter(ctx, id)
	if err != nil {
		if errors.Is(err, ErrEncounterNotFound) {
			return nil, &NotFoundError{Entity: "encounter", ID: id}
		}
		return nil, persistence("load encounter", err)
	}
	return enc, nil
}

func optionalID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}
