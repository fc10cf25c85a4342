package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

func checkConflictHandler(checker *scheduling.ConflictChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ConflictCheckRequest
		if !decodeBody(w, r, &req) {
			return
		}

		date, _ := scheduling.ParseDate(req.Date)
		iv, err := parseInterval(req.Start, req.End)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		exclude, _ := optionalUUID(req.ExcludeAppointmentID)

		existing, err := checker.FindConflict(r.Context(), scheduling.ConflictQuery{
			PractitionerID: uuid.MustParse(req.PractitionerID),
			Date:           date,
			Interval:       iv,
			ExcludeID:      exclude,
		})
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		resp := ConflictCheckResponse{Conflict: existing != nil}
		if existing != nil {
			a := NewAppointmentResponse(existing)
			resp.Existing = &a
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func bookAppointmentHandler(svc *scheduling.AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorID(w, r)
		if !ok {
			return
		}
		var req BookAppointmentRequest
		if !decodeBody(w, r, &req) {
			return
		}

		kind := scheduling.AppointmentKind(req.Kind)
		end := req.End
		if end == "" {
			start, err := scheduling.ParseTimeOfDay(req.Start)
			if err != nil {
				handleServiceError(w, r, &scheduling.ValidationError{Field: "start", Message: "must be HH:MM"})
				return
			}
			end = (start + scheduling.TimeOfDay(kind.DefaultDuration().Minutes())).String()
		}
		iv, err := parseInterval(req.Start, end)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		date, _ := scheduling.ParseDate(req.Date)
		patient, _ := optionalUUID(req.PatientID)

		book := scheduling.BookRequest{
			PractitionerID: uuid.MustParse(req.PractitionerID),
			Date:           date,
			Interval:       iv,
			Kind:           kind,
			Note:           req.Note,
			Actor:          actor,
		}
		if patient != nil {
			book.PatientID = *patient
		}

		appt, err := svc.Book(r.Context(), book)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, NewAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc *scheduling.AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date, ok := queryDate(w, r, "date", time.Time{})
		if !ok {
			return
		}
		practitioner, ok := queryUUID(w, r, "practitioner_id")
		if !ok {
			return
		}

		appts, err := svc.ListDay(r.Context(), date, practitioner)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, NewAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getAppointmentHandler(svc *scheduling.AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		appt, err := svc.Get(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, NewAppointmentResponse(appt))
	}
}

// transitionHandler serves the body-less confirm, check-in and no-show routes.
func transitionHandler(svc *scheduling.AppointmentService, action scheduling.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		actor, ok := actorID(w, r)
		if !ok {
			return
		}

		var (
			appt *scheduling.Appointment
			err  error
		)
		switch action {
		case scheduling.ActionConfirm:
			appt, err = svc.Confirm(r.Context(), id, actor)
		case scheduling.ActionCheckIn:
			appt, err = svc.CheckIn(r.Context(), id, actor)
		case scheduling.ActionNoShow:
			appt, err = svc.MarkNoShow(r.Context(), id, actor)
		default:
			writeError(w, http.StatusNotFound, "unknown_action", string(action))
			return
		}
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, NewAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc *scheduling.AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		actor, ok := actorID(w, r)
		if !ok {
			return
		}
		var req CancelAppointmentRequest
		if r.ContentLength != 0 && !decodeBody(w, r, &req) {
			return
		}

		res, err := svc.Cancel(r.Context(), id, actor, req.Reason)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, CancelResponse{
			Appointment: NewAppointmentResponse(res.Appointment),
			Message:     res.Message,
			Warnings:    res.Warnings,
		})
	}
}

func rescheduleAppointmentHandler(svc *scheduling.AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		actor, ok := actorID(w, r)
		if !ok {
			return
		}
		var req RescheduleRequest
		if !decodeBody(w, r, &req) {
			return
		}
		iv, err := parseInterval(req.Start, req.End)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		date, _ := scheduling.ParseDate(req.Date)

		appt, err := svc.Reschedule(r.Context(), scheduling.RescheduleRequest{ID: id, Date: date, Interval: iv, Actor: actor})
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, NewAppointmentResponse(appt))
	}
}

func openEncounterHandler(svc *scheduling.EncounterService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorID(w, r)
		if !ok {
			return
		}
		var req OpenEncounterRequest
		if !decodeBody(w, r, &req) {
			return
		}

		open := scheduling.OpenEncounterRequest{Actor: actor}
		open.AppointmentID, _ = optionalUUID(req.AppointmentID)
		if id, _ := optionalUUID(req.PatientID); id != nil {
			open.PatientID = *id
		}
		if id, _ := optionalUUID(req.PractitionerID); id != nil {
			open.PractitionerID = *id
		}
		if req.Date != "" {
			open.Date, _ = scheduling.ParseDate(req.Date)
		}

		enc, err := svc.Open(r.Context(), open)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, NewEncounterResponse(enc))
	}
}

func getEncounterHandler(svc *scheduling.EncounterService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		enc, err := svc.Get(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, NewEncounterResponse(enc))
	}
}

func updateNotesHandler(svc *scheduling.EncounterService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		actor, ok := actorID(w, r)
		if !ok {
			return
		}
		var req UpdateNotesRequest
		if !decodeBody(w, r, &req) {
			return
		}

		enc, err := svc.UpdateClinicalNotes(r.Context(), id, req.ChiefComplaint, req.Diagnosis, actor)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, NewEncounterResponse(enc))
	}
}

func finalizeEncounterHandler(svc *scheduling.EncounterService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		actor, ok := actorID(w, r)
		if !ok {
			return
		}
		var req FinalizeEncounterRequest
		if !decodeBody(w, r, &req) {
			return
		}

		res, err := svc.Finalize(r.Context(), scheduling.FinalizeRequest{
			EncounterID:     id,
			DurationMinutes: *req.DurationMinutes,
			Actor:           actor,
		})
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, FinalizeResponse{
			Encounter: NewEncounterResponse(res.Encounter),
			Message:   res.Message,
			Warnings:  res.Warnings,
		})
	}
}

func statisticsHandler(svc *scheduling.StatisticsService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, ok := queryDate(w, r, "from", time.Time{})
		if !ok {
			return
		}
		to, ok := queryDate(w, r, "to", from)
		if !ok {
			return
		}
		practitioner, ok := queryUUID(w, r, "practitioner_id")
		if !ok {
			return
		}

		snap, err := svc.Compute(r.Context(), scheduling.DateRange{From: from, To: to}, practitioner)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, NewStatisticsResponse(snap))
	}
}

func dailySummaryHandler(svc *scheduling.StatisticsService, now scheduling.Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date, ok := queryDate(w, r, "date", scheduling.DateOf(now()))
		if !ok {
			return
		}
		practitioner, ok := queryUUID(w, r, "practitioner_id")
		if !ok {
			return
		}

		sum, err := svc.DailySummary(r.Context(), date, practitioner)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, NewDailySummaryResponse(sum))
	}
}
