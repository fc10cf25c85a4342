package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// decodeBody parses a JSON body into dst and runs its validate tags.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return validateRequest(w, dst)
}

func validateRequest(w http.ResponseWriter, dst any) bool {
	err := validate.Struct(dst)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Field:   fe.Field(),
			Details: fmt.Sprintf("%s failed %q validation", fe.Field(), fe.Tag()),
		})
		return false
	}
	writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	return false
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// actorID reads the optional X-Actor-ID header identifying the staff member.
func actorID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.Header.Get("X-Actor-ID")
	if raw == "" {
		return uuid.Nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_actor_id", "X-Actor-ID must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func optionalUUID(raw string) (*uuid.UUID, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func queryUUID(w http.ResponseWriter, r *http.Request, name string) (*uuid.UUID, bool) {
	id, err := optionalUUID(r.URL.Query().Get(name))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_query", Field: name, Details: name + " must be a valid UUID"})
		return nil, false
	}
	return id, true
}

func queryDate(w http.ResponseWriter, r *http.Request, name string, fallback time.Time) (time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		if fallback.IsZero() {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_query", Field: name, Details: name + " is required"})
			return time.Time{}, false
		}
		return fallback, true
	}
	d, err := scheduling.ParseDate(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_query", Field: name, Details: name + " must be YYYY-MM-DD"})
		return time.Time{}, false
	}
	return d, true
}

// parseInterval turns HH:MM pair into an Interval; validation of the pair
// itself is left to the services.
func parseInterval(start, end string) (scheduling.Interval, error) {
	s, err := scheduling.ParseTimeOfDay(start)
	if err != nil {
		return scheduling.Interval{}, &scheduling.ValidationError{Field: "start", Message: "must be HH:MM"}
	}
	e, err := scheduling.ParseTimeOfDay(end)
	if err != nil {
		return scheduling.Interval{}, &scheduling.ValidationError{Field: "end", Message: "must be HH:MM"}
	}
	return scheduling.Interval{Start: s, End: e}, nil
}

// handleServiceError maps the scheduling error taxonomy onto HTTP. Internal
// details never reach the client.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr     *scheduling.ValidationError
		conflict *scheduling.ConflictError
		nf       *scheduling.NotFoundError
		ste      *scheduling.StateTransitionError
	)

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: "validation_failed", Field: verr.Field, Details: verr.Message})
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:    "schedule_conflict",
			Details:  conflict.Error(),
			Conflict: conflictDetails(conflict),
		})
	case errors.As(err, &nf):
		writeError(w, http.StatusNotFound, nf.Entity+"_not_found", nf.Error())
	case errors.As(err, &ste):
		writeError(w, http.StatusConflict, "invalid_state_transition", ste.Error())
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "schedule_busy", "the practitioner's schedule is being updated, please retry shortly")
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "")
	}
}

func conflictDetails(c *scheduling.ConflictError) *ConflictDetails {
	d := &ConflictDetails{
		PractitionerID: c.PractitionerID,
		Date:           c.Date,
		Start:          c.Requested.Start.String(),
		End:            c.Requested.End.String(),
	}
	if c.Existing != nil {
		id := c.Existing.ID
		d.ExistingID = &id
		d.ExistingStart = c.Existing.Interval.Start.String()
		d.ExistingEnd = c.Existing.Interval.End.String()
	}
	return d
}
