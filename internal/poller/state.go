// Package poller drives one payment session from its first status check to
// exactly one terminal outcome.
//
// The decision logic lives in the pure Transition function. Engine wraps it
// with a timer loop, cancellation and callbacks.
package poller

import (
	"github.com/yourorg/payment-confirmation/internal/status"
)

// Status is the lifecycle phase of a polling session.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusPolling Status = "polling"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusTimeout Status = "timeout"
	StatusError   Status = "error"
)

// IsTerminal reports whether s has no outgoing transition except a reset.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusTimeout, StatusError:
		return true
	}
	return false
}

// User-facing messages attached to each state.
const (
	MessageIdle        = "no payment in progress"
	MessageWaiting     = "waiting for confirmation"
	MessageRetrying    = "having trouble reaching the payment service, retrying"
	MessageSuccess     = "payment confirmed"
	MessageFailed      = "payment failed or was cancelled"
	MessageTimeout     = "payment confirmation is taking too long, please check your messages"
	MessageUnreachable = "unable to verify payment status, check your messages for confirmation"
	MessageNotFound    = "payment could not be initiated, please retry"
)

// State is the mutable record owned by one Engine. Readers always receive copies.
type State struct {
	SessionID           string `json:"sessionId"`
	Status              Status `json:"status"`
	Attempts            int    `json:"attempts"`
	ConsecutiveFailures int    `json:"consecutiveFailures"`
	Message             string `json:"message"`
}

// IdleState is the state before Start and after Reset.
func IdleState() State {
	return State{Status: StatusIdle, Message: MessageIdle}
}

// PollingState is the state right after Start.
func PollingState(sessionID string) State {
	return State{SessionID: sessionID, Status: StatusPolling, Message: MessageWaiting}
}

// Limits are the thresholds Transition enforces.
type Limits struct {
	MaxAttempts           int
	MaxFailures           int
	NotFoundGraceAttempts int
}

// EventKind identifies what happened to a polling session.
type EventKind int

const (
	EventTickStarted EventKind = iota
	EventGatewaySucceeded
	EventGatewayFailed
	EventCancelled
)

// Event is the input of Transition.
type Event struct {
	Kind      EventKind
	RawStatus string
	Err       error
}

func TickStarted() Event { return Event{Kind: EventTickStarted} }

func GatewaySucceeded(raw string) Event { return Event{Kind: EventGatewaySucceeded, RawStatus: raw} }

func GatewayFailed(err error) Event { return Event{Kind: EventGatewayFailed, Err: err} }

func Cancelled() Event { return Event{Kind: EventCancelled} }

// Effect tells the driver what to do after a transition.
type Effect int

const (
	EffectNone Effect = iota
	EffectCheckStatus
	EffectScheduleNext
	EffectReportSuccess
	EffectReportFailure
	EffectStop
)

func (e Effect) String() string {
	switch e {
	case EffectNone:
		return "none"
	case EffectCheckStatus:
		return "check_status"
	case EffectScheduleNext:
		return "schedule_next"
	case EffectReportSuccess:
		return "report_success"
	case EffectReportFailure:
		return "report_failure"
	case EffectStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Transition applies ev to s. Events other than Cancelled are ignored unless
// s is polling, so a terminal state can only be left through a reset.
func Transition(s State, ev Event, lim Limits) (State, Effect) {
	if ev.Kind == EventCancelled {
		return s, EffectStop
	}
	if s.Status != StatusPolling {
		return s, EffectNone
	}

	switch ev.Kind {
	case EventTickStarted:
		// The check for this tick never runs, so attempts stay at the limit.
		if s.Attempts+1 > lim.MaxAttempts {
			s.Status = StatusTimeout
			s.Message = MessageTimeout
			return s, EffectReportFailure
		}
		s.Attempts++
		return s, EffectCheckStatus

	case EventGatewayFailed:
		s.ConsecutiveFailures++
		if s.ConsecutiveFailures >= lim.MaxFailures {
			s.Status = StatusError
			s.Message = MessageUnreachable
			return s, EffectReportFailure
		}
		s.Message = MessageRetrying
		return s, EffectScheduleNext

	case EventGatewaySucceeded:
		s.ConsecutiveFailures = 0
		switch status.Classify(ev.RawStatus) {
		case status.AcceptedTerminalSuccess:
			s.Status = StatusSuccess
			s.Message = MessageSuccess
			return s, EffectReportSuccess
		case status.TerminalFailure:
			s.Status = StatusFailed
			s.Message = MessageFailed
			return s, EffectReportFailure
		case status.NotFound:
			if s.Attempts >= lim.NotFoundGraceAttempts {
				s.Status = StatusError
				s.Message = MessageNotFound
				return s, EffectReportFailure
			}
		}
		s.Message = MessageWaiting
		return s, EffectScheduleNext
	}
	return s, EffectNone
}
