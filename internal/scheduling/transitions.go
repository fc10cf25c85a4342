package scheduling

import "github.com/google/uuid"

type Action string

const (
	ActionConfirm        Action = "confirm"
	ActionCheckIn        Action = "check_in"
	ActionStartEncounter Action = "start_encounter"
	ActionComplete       Action = "complete"
	ActionCancel         Action = "cancel"
	ActionNoShow         Action = "no_show"
	ActionReschedule     Action = "reschedule"
)

type transitionRule struct {
	from []AppointmentStatus
	// to is empty for actions that keep the current status.
	to AppointmentStatus
}

var appointmentTransitions = map[Action]transitionRule{
	ActionConfirm: {
		from: []AppointmentStatus{StatusScheduled},
		to:   StatusConfirmed,
	},
	ActionCheckIn: {
		from: []AppointmentStatus{StatusScheduled, StatusConfirmed},
		to:   StatusCheckedIn,
	},
	ActionStartEncounter: {
		from: []AppointmentStatus{StatusScheduled, StatusConfirmed, StatusCheckedIn},
		to:   StatusInEncounter,
	},
	ActionComplete: {
		from: []AppointmentStatus{StatusScheduled, StatusConfirmed, StatusCheckedIn, StatusInEncounter},
		to:   StatusCompleted,
	},
	ActionCancel: {
		from: []AppointmentStatus{StatusScheduled, StatusConfirmed, StatusCheckedIn},
		to:   StatusCancelled,
	},
	ActionNoShow: {
		from: []AppointmentStatus{StatusScheduled, StatusConfirmed, StatusCheckedIn, StatusInEncounter},
		to:   StatusNoShow,
	},
	ActionReschedule: {
		from: []AppointmentStatus{StatusScheduled, StatusConfirmed},
	},
}

// AllowedFrom returns the statuses an action may be applied to.
func AllowedFrom(action Action) []AppointmentStatus {
	rule, ok := appointmentTransitions[action]
	if !ok {
		return nil
	}
	out := make([]AppointmentStatus, len(rule.from))
	copy(out, rule.from)
	return out
}

// CanTransition reports whether action is permitted from status.
func CanTransition(from AppointmentStatus, action Action) bool {
	rule, ok := appointmentTransitions[action]
	if !ok {
		return false
	}
	for _, s := range rule.from {
		if s == from {
			return true
		}
	}
	return false
}

// Transition resolves the target status for action applied to an appointment
// currently in status from. The returned error is a *StateTransitionError.
func Transition(id uuid.UUID, from AppointmentStatus, action Action) (AppointmentStatus, error) {
	if !CanTransition(from, action) {
		return "", &StateTransitionError{Entity: "appointment", ID: id, From: string(from), Action: string(action)}
	}
	rule := appointmentTransitions[action]
	if rule.to == "" {
		return from, nil
	}
	return rule.to, nil
}
