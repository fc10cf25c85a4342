package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

var testNow = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

type testServer struct {
	handler  http.Handler
	repo     *scheduling.MemoryRepository
	registry *prometheus.Registry
}

type routerOption func(*RouterConfig)

func newTestServer(t *testing.T, locker scheduling.Locker, options ...routerOption) *testServer {
	t.Helper()
	repo := scheduling.NewMemoryRepository()
	registry := prometheus.NewRegistry()
	opts := scheduling.Options{
		Clock:   func() time.Time { return testNow },
		Logger:  zerolog.Nop(),
		Metrics: metrics.NewSchedulingMetrics(registry),
	}

	cfg := RouterConfig{
		Appointments: scheduling.NewAppointmentService(repo, locker, opts),
		Encounters:   scheduling.NewEncounterService(repo, opts),
		Statistics:   scheduling.NewStatisticsService(repo, opts),
		Conflicts:    scheduling.NewConflictChecker(repo, opts),
		Clock:        opts.Clock,
		Logger:       zerolog.Nop(),
		HTTPMetrics:  metrics.NewHTTPMetrics(registry),
		Gatherer:     registry,
		Env:          "test",
		Version:      "dev",
	}
	for _, o := range options {
		o(&cfg)
	}
	return &testServer{handler: NewRouter(cfg), repo: repo, registry: registry}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) book(t *testing.T, practitioner uuid.UUID, start, end string) AppointmentResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/appointments", map[string]any{
		"practitioner_id": practitioner.String(),
		"patient_id":      uuid.NewString(),
		"date":            "2025-03-10",
		"start":           start,
		"end":             end,
		"kind":            "general_consult",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[AppointmentResponse](t, rec)
}

func TestBookAndConflict(t *testing.T) {
	srv := newTestServer(t, nil)
	practitioner := uuid.New()

	first := srv.book(t, practitioner, "09:00", "09:30")
	assert.Equal(t, "scheduled", first.Status)
	assert.Equal(t, "2025-03-10", first.Date)

	rec := srv.do(t, http.MethodPost, "/appointments", map[string]any{
		"practitioner_id": practitioner.String(),
		"patient_id":      uuid.NewString(),
		"date":            "2025-03-10",
		"start":           "09:15",
		"end":             "09:45",
		"kind":            "general_consult",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, "schedule_conflict", body.Error)
	require.NotNil(t, body.Conflict)
	require.NotNil(t, body.Conflict.ExistingID)
	assert.Equal(t, first.ID, *body.Conflict.ExistingID)
	assert.Equal(t, "09:00", body.Conflict.ExistingStart)

	// touching intervals do not overlap
	srv.book(t, practitioner, "09:30", "10:00")
}

func TestBookDefaultsEndFromKind(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(t, http.MethodPost, "/appointments", map[string]any{
		"practitioner_id": uuid.NewString(),
		"patient_id":      uuid.NewString(),
		"date":            "2025-03-10",
		"start":           "10:00",
		"kind":            "procedure",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "11:00", decode[AppointmentResponse](t, rec).End)
}

func TestBookRejectsBadInput(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(t, http.MethodPost, "/appointments", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodPost, "/appointments", map[string]any{
		"date":  "2025-03-10",
		"start": "09:00",
		"kind":  "follow_up",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "practitioner_id", decode[ErrorResponse](t, rec).Field)

	rec = srv.do(t, http.MethodPost, "/appointments", map[string]any{
		"practitioner_id": uuid.NewString(),
		"patient_id":      uuid.NewString(),
		"date":            "2025-03-10",
		"start":           "10:00",
		"end":             "09:00",
		"kind":            "follow_up",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = srv.do(t, http.MethodPost, "/appointments", map[string]any{
		"practitioner_id": uuid.NewString(),
		"patient_id":      uuid.NewString(),
		"date":            "2025-03-10",
		"start":           "9am",
		"end":             "10:00",
		"kind":            "follow_up",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "start", decode[ErrorResponse](t, rec).Field)

	rec = srv.do(t, http.MethodPost, "/appointments", map[string]any{
		"practitioner_id": uuid.NewString(),
		"patient_id":      uuid.NewString(),
		"date":            "2025-03-10",
		"start":           "10:00 pm",
		"end":             "23:00",
		"kind":            "follow_up",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "start", decode[ErrorResponse](t, rec).Field)
}

func TestGetAppointment(t *testing.T) {
	srv := newTestServer(t, nil)
	appt := srv.book(t, uuid.New(), "09:00", "09:30")

	rec := srv.do(t, http.MethodGet, "/appointments/"+appt.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, appt.ID, decode[AppointmentResponse](t, rec).ID)

	rec = srv.do(t, http.MethodGet, "/appointments/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "appointment_not_found", decode[ErrorResponse](t, rec).Error)

	rec = srv.do(t, http.MethodGet, "/appointments/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListDay(t *testing.T) {
	srv := newTestServer(t, nil)
	practitioner := uuid.New()
	srv.book(t, practitioner, "11:00", "11:30")
	srv.book(t, practitioner, "09:00", "09:30")
	srv.book(t, uuid.New(), "09:00", "09:30")

	rec := srv.do(t, http.MethodGet, "/appointments?date=2025-03-10&practitioner_id="+practitioner.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]AppointmentResponse](t, rec)
	require.Len(t, list, 2)
	assert.Equal(t, "09:00", list[0].Start)

	rec = srv.do(t, http.MethodGet, "/appointments", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelIsNotIdempotent(t *testing.T) {
	srv := newTestServer(t, nil)
	appt := srv.book(t, uuid.New(), "09:00", "09:30")
	path := "/appointments/" + appt.ID.String() + "/cancel"

	rec := srv.do(t, http.MethodPost, path, map[string]any{"reason": "patient called"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[CancelResponse](t, rec)
	assert.Equal(t, "cancelled", res.Appointment.Status)
	assert.NotEmpty(t, res.Message)

	rec = srv.do(t, http.MethodPost, path, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_state_transition", decode[ErrorResponse](t, rec).Error)
}

func TestEncounterFlow(t *testing.T) {
	srv := newTestServer(t, nil)
	appt := srv.book(t, uuid.New(), "09:00", "09:30")
	apptPath := "/appointments/" + appt.ID.String()

	for _, action := range []string{"confirm", "check-in"} {
		rec := srv.do(t, http.MethodPost, apptPath+"/"+action, nil)
		require.Equal(t, http.StatusOK, rec.Code, action)
	}

	rec := srv.do(t, http.MethodPost, "/encounters", map[string]any{"appointment_id": appt.ID.String()})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	enc := decode[EncounterResponse](t, rec)
	assert.Equal(t, "in_progress", enc.Status)
	encPath := "/encounters/" + enc.ID.String()

	rec = srv.do(t, http.MethodPost, encPath+"/finalize", map[string]any{"duration_minutes": 20})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "chief_complaint,diagnosis", decode[ErrorResponse](t, rec).Field)

	rec = srv.do(t, http.MethodPut, encPath+"/notes", map[string]any{
		"chief_complaint": "sore throat",
		"diagnosis":       "pharyngitis",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodPost, encPath+"/finalize", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodPost, encPath+"/finalize", map[string]any{"duration_minutes": 300})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	fin := decode[FinalizeResponse](t, rec)
	assert.Equal(t, "finalized", fin.Encounter.Status)
	assert.NotEmpty(t, fin.Warnings)

	rec = srv.do(t, http.MethodGet, apptPath, nil)
	assert.Equal(t, "completed", decode[AppointmentResponse](t, rec).Status)

	rec = srv.do(t, http.MethodPost, encPath+"/finalize", map[string]any{"duration_minutes": 20})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = srv.do(t, http.MethodGet, encPath, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[EncounterResponse](t, rec)
	require.NotNil(t, got.DurationMinutes)
	assert.Equal(t, 300, *got.DurationMinutes)
}

func TestFinalizeUnknownEncounterIsNotFound(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := srv.do(t, http.MethodPost, "/encounters/"+uuid.NewString()+"/finalize", map[string]any{"duration_minutes": 0})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRescheduleAndConflictCheck(t *testing.T) {
	srv := newTestServer(t, nil)
	practitioner := uuid.New()
	a := srv.book(t, practitioner, "09:00", "09:30")
	srv.book(t, practitioner, "10:00", "10:30")

	check := func(start, end string, exclude *uuid.UUID) ConflictCheckResponse {
		body := map[string]any{
			"practitioner_id": practitioner.String(),
			"date":            "2025-03-10",
			"start":           start,
			"end":             end,
		}
		if exclude != nil {
			body["exclude_appointment_id"] = exclude.String()
		}
		rec := srv.do(t, http.MethodPost, "/appointments/conflicts", body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		return decode[ConflictCheckResponse](t, rec)
	}

	assert.True(t, check("09:15", "09:20", nil).Conflict)
	assert.False(t, check("09:15", "09:20", &a.ID).Conflict)
	assert.False(t, check("09:30", "10:00", nil).Conflict)

	rec := srv.do(t, http.MethodPut, "/appointments/"+a.ID.String()+"/schedule", map[string]any{
		"date": "2025-03-10", "start": "10:15", "end": "10:45",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = srv.do(t, http.MethodPut, "/appointments/"+a.ID.String()+"/schedule", map[string]any{
		"date": "2025-03-10", "start": "09:10", "end": "09:40",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "09:10", decode[AppointmentResponse](t, rec).Start)
}

func TestStatisticsEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)
	practitioner := uuid.New()
	srv.book(t, practitioner, "09:00", "09:30")
	b := srv.book(t, practitioner, "10:00", "10:30")
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodPost, "/appointments/"+b.ID.String()+"/cancel", nil).Code)

	rec := srv.do(t, http.MethodGet, "/statistics?from=2025-03-10&to=2025-03-16", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stats := decode[StatisticsResponse](t, rec)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ByStatus["cancelled"])
	assert.InDelta(t, 50.0, stats.CancellationRate, 0.001)

	rec = srv.do(t, http.MethodGet, "/statistics?from=2025-03-16&to=2025-03-10", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = srv.do(t, http.MethodGet, "/statistics/daily", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	daily := decode[DailySummaryResponse](t, rec)
	assert.Equal(t, "2025-03-10", daily.Date)
	assert.Equal(t, 2, daily.Today)
	assert.Equal(t, 200, daily.Growth)
	assert.Equal(t, 1, daily.Cancelled)
}

type busyLocker struct{}

func (busyLocker) WithLock(context.Context, string, func(context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

func TestBusyScheduleIsRetryable(t *testing.T) {
	srv := newTestServer(t, busyLocker{})

	rec := srv.do(t, http.MethodPost, "/appointments", map[string]any{
		"practitioner_id": uuid.NewString(),
		"patient_id":      uuid.NewString(),
		"date":            "2025-03-10",
		"start":           "09:00",
		"kind":            "follow_up",
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestRateLimit(t *testing.T) {
	srv := newTestServer(t, nil, func(c *RouterConfig) { c.RateLimiter = NewRateLimiter(0.001, 1) })

	srv.book(t, uuid.New(), "09:00", "09:30")
	rec := srv.do(t, http.MethodPost, "/appointments", "{}")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// reads are not limited
	rec = srv.do(t, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadiness(t *testing.T) {
	down := func(context.Context) error { return errors.New("down") }
	up := func(context.Context) error { return nil }

	srv := newTestServer(t, nil, func(c *RouterConfig) {
		c.Dependencies = []Dependency{{Name: "postgres", Critical: true, Check: up}, {Name: "redis", Check: down}}
	})
	rec := srv.do(t, http.MethodGet, "/health/ready", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ready := decode[ReadinessResponse](t, rec)
	assert.Equal(t, "degraded", ready.Status)
	assert.Equal(t, "down", ready.Dependencies["redis"])

	srv = newTestServer(t, nil, func(c *RouterConfig) {
		c.Dependencies = []Dependency{{Name: "postgres", Critical: true, Check: down}}
	})
	rec = srv.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsAndRequestID(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.book(t, uuid.New(), "09:00", "09:30")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `clinic_http_requests_total{code="201",method="POST",route="/appointments"} 1`), body)
	assert.Contains(t, body, "clinic_scheduling_transitions_total")
}
