package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

const (
	EventAppointmentBooked           = "APPOINTMENT_BOOKED"
	EventAppointmentConflictRejected = "APPOINTMENT_CONFLICT_REJECTED"
	EventAppointmentConfirmed        = "APPOINTMENT_CONFIRMED"
	EventAppointmentCheckedIn        = "APPOINTMENT_CHECKED_IN"
	EventAppointmentInEncounter      = "APPOINTMENT_IN_ENCOUNTER"
	EventAppointmentCompleted        = "APPOINTMENT_COMPLETED"
	EventAppointmentCancelled        = "APPOINTMENT_CANCELLED"
	EventAppointmentNoShow           = "APPOINTMENT_NO_SHOW"
	EventAppointmentRescheduled      = "APPOINTMENT_RESCHEDULED"
	EventEncounterOpened             = "ENCOUNTER_OPENED"
	EventEncounterNotesUpdated       = "ENCOUNTER_NOTES_UPDATED"
	EventEncounterFinalized          = "ENCOUNTER_FINALIZED"
)

var tracer = otel.Tracer("clinic/scheduling")

// Options carries the collaborators shared by every service. The zero value
// is usable: system clock, no-op logger, no metrics, no booking policy.
type Options struct {
	Clock   Clock
	Logger  zerolog.Logger
	Metrics *metrics.SchedulingMetrics
	Policy  BookingPolicy
}

// core holds the plumbing every service needs: clock, logging, metrics,
// tracing and the audit trail.
type core struct {
	repo    Repository
	now     Clock
	log     zerolog.Logger
	metrics *metrics.SchedulingMetrics
}

func newCore(repo Repository, opts Options, component string) core {
	now := opts.Clock
	if now == nil {
		now = SystemClock
	}
	return core{
		repo:    repo,
		now:     now,
		log:     opts.Logger.With().Str("component", component).Logger(),
		metrics: opts.Metrics,
	}
}

// startOp opens a span and returns a finish func recording latency and the
// error outcome.
func (c core) startOp(ctx context.Context, name string) (context.Context, func(err error)) {
	ctx, span := tracer.Start(ctx, "scheduling."+name)
	started := time.Now()
	return ctx, func(err error) {
		c.metrics.ObserveLatency(name, time.Since(started).Seconds())
		finishSpan(span, err)
	}
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrStateTransition):
		return "rejected"
	default:
		return "error"
	}
}

// logEvent appends to the audit trail. Failures are logged and never
// returned to the caller.
func (c core) logEvent(ctx context.Context, entityType string, entityID uuid.UUID, actor *uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.log.Warn().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	id := entityID
	ev := EventLog{
		EventType:  eventType,
		EntityType: entityType,
		EntityID:   &id,
		ActorID:    actor,
		Payload:    data,
		CreatedAt:  c.now(),
	}

	if err := c.repo.InsertEvent(ctx, ev); err != nil {
		c.log.Warn().Err(err).
			Str("event", eventType).
			Str("entity_id", entityID.String()).
			Msg("failed to insert event log")
	}
}

func actorPtr(actor uuid.UUID) *uuid.UUID {
	if actor == uuid.Nil {
		return nil
	}
	a := actor
	return &a
}
