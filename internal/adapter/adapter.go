// Package adapter defines the contract between the confirmation workflow
// and the remote payment backend. The backend proxies the mobile-money
// operators; adapters normalize every outcome of its two calls into
// InitiateResult and StatusResult so transport trouble never escapes as a
// Go error.
package adapter

import (
	stdcontext "context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidRequest marks a request rejected before any network call.
	ErrInvalidRequest = errors.New("invalid payment request")
	// ErrMissingToken is a precondition failure: no bearer token was available.
	ErrMissingToken = errors.New("missing bearer token")
)

// Provider identifies the mobile-money operator.
type Provider string

const (
	ProviderA Provider = "PROVIDER_A"
	ProviderB Provider = "PROVIDER_B"
)

// Valid reports whether p is a supported operator.
func (p Provider) Valid() bool {
	return p == ProviderA || p == ProviderB
}

// RequiresAuthCode reports whether the operator needs a pre-authorisation code.
func (p Provider) RequiresAuthCode() bool {
	return p == ProviderB
}

// TransactionType is the business purpose of a payment. The workflow passes it through untouched.
type TransactionType string

const (
	TransactionSubmission  TransactionType = "submission"
	TransactionPhotography TransactionType = "photography"
	TransactionLock        TransactionType = "lock"
	TransactionBoost       TransactionType = "boost"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionSubmission, TransactionPhotography, TransactionLock, TransactionBoost:
		return true
	}
	return false
}

const (
	// MinPhoneDigits is the shortest subscriber number accepted after normalization.
	MinPhoneDigits = 8
	// AuthCodeLength is the fixed length of a pre-authorisation code.
	AuthCodeLength = 4
)

// InitiateRequest holds everything needed to open a mobile-money payment.
type InitiateRequest struct {
	Amount          int64 // whole currency units
	PhoneNumber     string
	Provider        Provider
	TransactionType TransactionType
	Description     string
	CorrelationID   string         // optional, e.g. the property the payment relates to
	AuthCode        string         // only for providers that require it
	Metadata        map[string]any // optional, must be JSON-representable
}

// InitiateResult is the normalized outcome of an initiate call.
type InitiateResult struct {
	Success    bool
	SessionID  string // deposit id, needed for every status check
	RawStatus  string // may already be terminal when the provider confirms synchronously
	Error      string
	HTTPStatus int
	LatencyMs  int64
}

// StatusResult is the normalized outcome of a status check. Success is about
// reachability only: a FAILED payment is still Success=true.
type StatusResult struct {
	Success    bool
	RawStatus  string
	Error      string
	HTTPStatus int
	LatencyMs  int64
}

// StatusChecker is the part of the gateway the polling engine depends on.
type StatusChecker interface {
	CheckStatus(ctx stdcontext.Context, sessionID string) (StatusResult, error)
}

// Gateway is implemented by every payment backend client.
//
// A returned error means a precondition failed (see ErrInvalidRequest and
// ErrMissingToken); transport and HTTP failures are reported in the result.
type Gateway interface {
	StatusChecker
	Initiate(ctx stdcontext.Context, req InitiateRequest) (InitiateResult, error)
	// GetName returns the name of the backend (e.g., "momo-http").
	GetName() string
}

// NormalizePhoneNumber strips the separators users commonly type.
func NormalizePhoneNumber(phone string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(phone) {
		switch {
		case r == '+' && i == 0:
		case r == ' ', r == '-', r == '.', r == '(', r == ')':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Validate checks req and returns a copy with the phone number normalized.
func (req InitiateRequest) Validate() (InitiateRequest, error) {
	if req.Amount <= 0 {
		return req, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if !req.Provider.Valid() {
		return req, fmt.Errorf("%w: unsupported provider %q", ErrInvalidRequest, req.Provider)
	}
	if !req.TransactionType.Valid() {
		return req, fmt.Errorf("%w: unsupported transaction type %q", ErrInvalidRequest, req.TransactionType)
	}

	phone := NormalizePhoneNumber(req.PhoneNumber)
	if phone == "" {
		return req, fmt.Errorf("%w: phone number is required", ErrInvalidRequest)
	}
	if !isDigits(phone) {
		return req, fmt.Errorf("%w: phone number must contain digits only", ErrInvalidRequest)
	}
	if len(phone) < MinPhoneDigits {
		return req, fmt.Errorf("%w: phone number must have at least %d digits", ErrInvalidRequest, MinPhoneDigits)
	}
	req.PhoneNumber = phone

	if req.Provider.RequiresAuthCode() {
		if req.AuthCode == "" {
			return req, fmt.Errorf("%w: %s requires an authorisation code", ErrInvalidRequest, req.Provider)
		}
		if len(req.AuthCode) != AuthCodeLength || !isDigits(req.AuthCode) {
			return req, fmt.Errorf("%w: authorisation code must be %d digits", ErrInvalidRequest, AuthCodeLength)
		}
	} else {
		req.AuthCode = ""
	}
	return req, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
