package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

type RouterConfig struct {
	Appointments *scheduling.AppointmentService
	Encounters   *scheduling.EncounterService
	Statistics   *scheduling.StatisticsService
	Conflicts    *scheduling.ConflictChecker
	// Clock resolves "today" for the daily summary; nil means wall time.
	Clock scheduling.Clock

	Logger      zerolog.Logger
	HTTPMetrics *metrics.HTTPMetrics
	// Gatherer backs /metrics; nil means the default registry.
	Gatherer    prometheus.Gatherer
	RateLimiter *RateLimiter

	Dependencies []Dependency
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Clock == nil {
		cfg.Clock = scheduling.SystemClock
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.RateLimiter == nil {
		cfg.RateLimiter = NewRateLimiter(0, 0)
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(MetricsMiddleware(cfg.HTTPMetrics))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.Dependencies, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))

	limited := r.With(cfg.RateLimiter.Middleware)

	r.Get("/appointments", listAppointmentsHandler(cfg.Appointments))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Appointments))
	limited.Post("/appointments/conflicts", checkConflictHandler(cfg.Conflicts))
	limited.Post("/appointments", bookAppointmentHandler(cfg.Appointments))
	limited.Post("/appointments/{id}/confirm", transitionHandler(cfg.Appointments, scheduling.ActionConfirm))
	limited.Post("/appointments/{id}/check-in", transitionHandler(cfg.Appointments, scheduling.ActionCheckIn))
	limited.Post("/appointments/{id}/no-show", transitionHandler(cfg.Appointments, scheduling.ActionNoShow))
	limited.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Appointments))
	limited.Put("/appointments/{id}/schedule", rescheduleAppointmentHandler(cfg.Appointments))

	limited.Post("/encounters", openEncounterHandler(cfg.Encounters))
	r.Get("/encounters/{id}", getEncounterHandler(cfg.Encounters))
	limited.Put("/encounters/{id}/notes", updateNotesHandler(cfg.Encounters))
	limited.Post("/encounters/{id}/finalize", finalizeEncounterHandler(cfg.Encounters))

	r.Get("/statistics", statisticsHandler(cfg.Statistics))
	r.Get("/statistics/daily", dailySummaryHandler(cfg.Statistics, cfg.Clock))

	return r
}
