// Package status maps raw mobile-money provider status strings onto the
// closed set of outcomes the polling engine reasons about.
package status

// Category is the semantic outcome of a raw provider status.
type Category int

const (
	// Pending means the provider has not settled the payment yet.
	Pending Category = iota
	// AcceptedTerminalSuccess means the payment is confirmed.
	AcceptedTerminalSuccess
	// TerminalFailure means the payment failed, was cancelled or rejected.
	TerminalFailure
	// NotFound means the provider does not know the deposit (yet).
	NotFound
	// Unrecognized is any status outside the known vocabulary.
	// It is handled exactly like Pending so a real payment is never abandoned early.
	Unrecognized
)

// Raw provider statuses known to the backend.
const (
	RawCompleted = "COMPLETED"
	RawAccepted  = "ACCEPTED"
	RawFailed    = "FAILED"
	RawCancelled = "CANCELLED"
	RawRejected  = "REJECTED"
	RawNotFound  = "NOT_FOUND"
	RawPending   = "PENDING"
	RawSubmitted = "SUBMITTED"
)

// Classify is case-sensitive: "completed" is Unrecognized.
func Classify(raw string) Category {
	switch raw {
	case RawCompleted, RawAccepted:
		return AcceptedTerminalSuccess
	case RawFailed, RawCancelled, RawRejected:
		return TerminalFailure
	case RawNotFound:
		return NotFound
	case RawPending, RawSubmitted:
		return Pending
	default:
		return Unrecognized
	}
}

// IsTerminal reports whether the category ends polling on its own.
// NotFound is not terminal here; the engine applies its grace period.
func (c Category) IsTerminal() bool {
	return c == AcceptedTerminalSuccess || c == TerminalFailure
}

func (c Category) String() string {
	switch c {
	case Pending:
		return "PENDING"
	case AcceptedTerminalSuccess:
		return "ACCEPTED_TERMINAL_SUCCESS"
	case TerminalFailure:
		return "TERMINAL_FAILURE"
	case NotFound:
		return "NOT_FOUND"
	case Unrecognized:
		return "UNRECOGNIZED"
	default:
		return "UNKNOWN"
	}
}
