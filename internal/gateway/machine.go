package gateway

import (
	"errors"
)

var ErrAttemptSettled = errors.New("attempt already settled")
var ErrUnexpectedEvent = errors.New("event not valid in this phase")

type Phase string

const (
	PhaseUnattempted       Phase = "unattempted"
	PhasePendingValidation Phase = "pending_validation"
	PhaseRejected          Phase = "rejected"
	PhaseDuplicateRejected Phase = "duplicate_rejected"
	PhaseCommitted         Phase = "committed"
)

func (p Phase) Terminal() bool {
	switch p {
	case PhaseRejected, PhaseDuplicateRejected, PhaseCommitted:
		return true
	}
	return false
}

// State is one submission attempt for a (team, station) pair.
type State struct {
	Phase     Phase
	TeamID    string
	StationID string
	Points    int
	// Reason is the user-facing error for Rejected and DuplicateRejected.
	Reason error
}

func NewAttempt(teamID, stationID string, points int) State {
	return State{Phase: PhaseUnattempted, TeamID: teamID, StationID: stationID, Points: points}
}

type EventType string

/*
	Unattempted       -> EvtPointsInvalid   -> Rejected
	Unattempted       -> EvtValidationStart -> PendingValidation
	PendingValidation -> EvtPINUnavailable | EvtPINMismatch -> Rejected
	PendingValidation -> EvtDuplicateFound | EvtWriteConflict -> DuplicateRejected
	PendingValidation -> EvtWriteCommitted -> Committed
*/
const (
	EvtPointsInvalid   EventType = "PointsInvalid"
	EvtValidationStart EventType = "ValidationStarted"
	EvtPINUnavailable  EventType = "PINUnavailable"
	EvtPINMismatch     EventType = "PINMismatch"
	EvtDuplicateFound  EventType = "DuplicateFound"
	EvtWriteConflict   EventType = "WriteConflict"
	EvtWriteCommitted  EventType = "WriteCommitted"
)

type Event struct {
	Type EventType
	Err  error
}

// Apply is the pure transition function of one attempt. Invalid transitions
// leave the state untouched.
func Apply(s State, evt Event) (State, error) {
	if s.Phase.Terminal() {
		return s, ErrAttemptSettled
	}

	next := s
	switch s.Phase {
	case PhaseUnattempted:
		switch evt.Type {
		case EvtPointsInvalid:
			next.Phase = PhaseRejected
			next.Reason = evt.Err
		case EvtValidationStart:
			next.Phase = PhasePendingValidation
		default:
			return s, ErrUnexpectedEvent
		}

	case PhasePendingValidation:
		switch evt.Type {
		case EvtPINUnavailable, EvtPINMismatch:
			next.Phase = PhaseRejected
			next.Reason = evt.Err
		case EvtDuplicateFound, EvtWriteConflict:
			next.Phase = PhaseDuplicateRejected
			next.Reason = evt.Err
		case EvtWriteCommitted:
			next.Phase = PhaseCommitted
		default:
			return s, ErrUnexpectedEvent
		}

	default:
		return s, ErrUnexpectedEvent
	}
	return next, nil
}
