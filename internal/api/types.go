package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

// Requests. Dates are YYYY-MM-DD and times of day HH:MM.

type ConflictCheckRequest struct {
	PractitionerID       string `json:"practitioner_id" validate:"required,uuid"`
	Date                 string `json:"date" validate:"required,datetime=2006-01-02"`
	Start                string `json:"start" validate:"required"`
	End                  string `json:"end" validate:"required"`
	ExcludeAppointmentID string `json:"exclude_appointment_id" validate:"omitempty,uuid"`
}

type BookAppointmentRequest struct {
	PractitionerID string `json:"practitioner_id" validate:"required,uuid"`
	PatientID      string `json:"patient_id" validate:"omitempty,uuid"`
	Date           string `json:"date" validate:"required,datetime=2006-01-02"`
	Start          string `json:"start" validate:"required"`
	// End defaults to Start plus the kind's usual duration.
	End  string `json:"end"`
	Kind string `json:"kind" validate:"required"`
	Note string `json:"note" validate:"max=1000"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type RescheduleRequest struct {
	Date  string `json:"date" validate:"required,datetime=2006-01-02"`
	Start string `json:"start" validate:"required"`
	End   string `json:"end" validate:"required"`
}

type OpenEncounterRequest struct {
	AppointmentID  string `json:"appointment_id" validate:"omitempty,uuid"`
	PatientID      string `json:"patient_id" validate:"omitempty,uuid"`
	PractitionerID string `json:"practitioner_id" validate:"omitempty,uuid"`
	Date           string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

type UpdateNotesRequest struct {
	ChiefComplaint string `json:"chief_complaint" validate:"max=4000"`
	Diagnosis      string `json:"diagnosis" validate:"max=4000"`
}

// FinalizeEncounterRequest only requires presence here; range checks happen
// after the encounter has been found.
type FinalizeEncounterRequest struct {
	DurationMinutes *int `json:"duration_minutes" validate:"required"`
}

// Responses

type AppointmentResponse struct {
	ID             uuid.UUID  `json:"id"`
	PractitionerID uuid.UUID  `json:"practitioner_id"`
	PatientID      *uuid.UUID `json:"patient_id,omitempty"`
	Date           string     `json:"date"`
	Start          string     `json:"start"`
	End            string     `json:"end"`
	Kind           string     `json:"kind"`
	Status         string     `json:"status"`
	Note           string     `json:"note,omitempty"`
	CancelReason   *string    `json:"cancel_reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ModifiedAt     *time.Time `json:"modified_at,omitempty"`
}

func NewAppointmentResponse(a *scheduling.Appointment) AppointmentResponse {
	resp := AppointmentResponse{
		ID:             a.ID,
		PractitionerID: a.PractitionerID,
		Date:           scheduling.FormatDate(a.Date),
		Start:          a.Interval.Start.String(),
		End:            a.Interval.End.String(),
		Kind:           string(a.Kind),
		Status:         string(a.Status),
		Note:           a.Note,
		CancelReason:   a.CancelReason,
		CreatedAt:      a.CreatedAt,
		ModifiedAt:     a.ModifiedAt,
	}
	if a.PatientID != uuid.Nil {
		id := a.PatientID
		resp.PatientID = &id
	}
	return resp
}

type ConflictCheckResponse struct {
	Conflict bool                 `json:"conflict"`
	Existing *AppointmentResponse `json:"existing,omitempty"`
}

type CancelResponse struct {
	Appointment AppointmentResponse `json:"appointment"`
	Message     string              `json:"message"`
	Warnings    []string            `json:"warnings,omitempty"`
}

type EncounterResponse struct {
	ID              uuid.UUID  `json:"id"`
	AppointmentID   *uuid.UUID `json:"appointment_id,omitempty"`
	PatientID       uuid.UUID  `json:"patient_id"`
	PractitionerID  uuid.UUID  `json:"practitioner_id"`
	Date            string     `json:"date"`
	Status          string     `json:"status"`
	ChiefComplaint  string     `json:"chief_complaint"`
	Diagnosis       string     `json:"diagnosis"`
	DurationMinutes *int       `json:"duration_minutes,omitempty"`
	FinalizedAt     *time.Time `json:"finalized_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func NewEncounterResponse(e *scheduling.Encounter) EncounterResponse {
	return EncounterResponse{
		ID:              e.ID,
		AppointmentID:   e.AppointmentID,
		PatientID:       e.PatientID,
		PractitionerID:  e.PractitionerID,
		Date:            scheduling.FormatDate(e.Date),
		Status:          string(e.Status),
		ChiefComplaint:  e.ChiefComplaint,
		Diagnosis:       e.Diagnosis,
		DurationMinutes: e.DurationMinutes,
		FinalizedAt:     e.FinalizedAt,
		CreatedAt:       e.CreatedAt,
	}
}

type FinalizeResponse struct {
	Encounter EncounterResponse `json:"encounter"`
	Message   string            `json:"message"`
	Warnings  []string          `json:"warnings,omitempty"`
}

type DayCountResponse struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type StatisticsResponse struct {
	From                   string                         `json:"from"`
	To                     string                         `json:"to"`
	Total                  int                            `json:"total"`
	ByStatus               map[string]int                 `json:"by_status"`
	ByKind                 map[string]int                 `json:"by_kind"`
	ActivePractitioners    int                            `json:"active_practitioners"`
	UniquePatients         int                            `json:"unique_patients"`
	FinalizedEncounters    int                            `json:"finalized_encounters"`
	AverageDurationMinutes float64                        `json:"average_duration_minutes"`
	CompletionRate         float64                        `json:"completion_rate"`
	AttendanceRate         float64                        `json:"attendance_rate"`
	CancellationRate       float64                        `json:"cancellation_rate"`
	NoShowRate             float64                        `json:"no_show_rate"`
	TopPractitioners       []scheduling.PractitionerCount `json:"top_practitioners"`
	BusiestDays            []DayCountResponse             `json:"busiest_days"`
}

func NewStatisticsResponse(s *scheduling.StatsSnapshot) StatisticsResponse {
	resp := StatisticsResponse{
		From:                   scheduling.FormatDate(s.From),
		To:                     scheduling.FormatDate(s.To),
		Total:                  s.Total,
		ByStatus:               make(map[string]int, len(s.ByStatus)),
		ByKind:                 make(map[string]int, len(s.ByKind)),
		ActivePractitioners:    s.ActivePractitioners,
		UniquePatients:         s.UniquePatients,
		FinalizedEncounters:    s.FinalizedEncounters,
		AverageDurationMinutes: s.AverageDurationMinutes,
		CompletionRate:         s.CompletionRate,
		AttendanceRate:         s.AttendanceRate,
		CancellationRate:       s.CancellationRate,
		NoShowRate:             s.NoShowRate,
		TopPractitioners:       s.TopPractitioners,
		BusiestDays:            make([]DayCountResponse, 0, len(s.BusiestDays)),
	}
	for status, n := range s.ByStatus {
		resp.ByStatus[string(status)] = n
	}
	for kind, n := range s.ByKind {
		resp.ByKind[string(kind)] = n
	}
	for _, d := range s.BusiestDays {
		resp.BusiestDays = append(resp.BusiestDays, DayCountResponse{Date: scheduling.FormatDate(d.Date), Count: d.Count})
	}
	if resp.TopPractitioners == nil {
		resp.TopPractitioners = []scheduling.PractitionerCount{}
	}
	return resp
}

type DailySummaryResponse struct {
	Date         string `json:"date"`
	Today        int    `json:"today"`
	Yesterday    int    `json:"yesterday"`
	Growth       int    `json:"growth"`
	Waiting      int    `json:"waiting"`
	InEncounter  int    `json:"in_encounter"`
	Completed    int    `json:"completed"`
	Cancelled    int    `json:"cancelled"`
	NoShows      int    `json:"no_shows"`
	Remaining    int    `json:"remaining"`
	PatientsWeek int    `json:"patients_week"`
}

func NewDailySummaryResponse(s *scheduling.DailySummary) DailySummaryResponse {
	return DailySummaryResponse{
		Date:         scheduling.FormatDate(s.Date),
		Today:        s.Today,
		Yesterday:    s.Yesterday,
		Growth:       s.Growth,
		Waiting:      s.Waiting,
		InEncounter:  s.InEncounter,
		Completed:    s.Completed,
		Cancelled:    s.Cancelled,
		NoShows:      s.NoShows,
		Remaining:    s.Remaining,
		PatientsWeek: s.PatientsWeek,
	}
}

type ConflictDetails struct {
	PractitionerID uuid.UUID  `json:"practitioner_id"`
	Date           string     `json:"date"`
	Start          string     `json:"start"`
	End            string     `json:"end"`
	ExistingID     *uuid.UUID `json:"existing_appointment_id,omitempty"`
	ExistingStart  string     `json:"existing_start,omitempty"`
	ExistingEnd    string     `json:"existing_end,omitempty"`
}

type ErrorResponse struct {
	Error    string           `json:"error"`
	Details  string           `json:"details,omitempty"`
	Field    string           `json:"field,omitempty"`
	Conflict *ConflictDetails `json:"conflict,omitempty"`
}
