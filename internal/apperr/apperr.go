// Package apperr maps workflow errors to stable kinds and HTTP statuses.
package apperr

import (
	"context"
	"errors"
	"net/http"

	"github.com/yourorg/payment-confirmation/internal/adapter"
	"github.com/yourorg/payment-confirmation/internal/circuitbreaker"
	"github.com/yourorg/payment-confirmation/internal/orchestrator"
	"github.com/yourorg/payment-confirmation/internal/poller"
)

// ErrInvalidBody is returned when a request body does not match the payment contract.
var ErrInvalidBody = errors.New("invalid request body")

func Kind(err error) string {
	switch {
	case err == nil:
		return ""

	case errors.Is(err, ErrInvalidBody),
		errors.Is(err, adapter.ErrInvalidRequest),
		errors.Is(err, poller.ErrEmptySession):
		return "invalid_request"

	case errors.Is(err, adapter.ErrMissingToken):
		return "missing_token"

	case errors.Is(err, orchestrator.ErrPolicyDenied):
		return "policy_denied"

	case errors.Is(err, orchestrator.ErrProviderUnavailable),
		errors.Is(err, circuitbreaker.ErrOpen):
		return "provider_unavailable"

	case errors.Is(err, orchestrator.ErrSessionNotFound):
		return "not_found"

	case errors.Is(err, poller.ErrAlreadyStarted):
		return "conflict"

	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"

	case errors.Is(err, context.Canceled):
		return "canceled"

	default:
		return "internal"
	}
}

func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK

	case errors.Is(err, ErrInvalidBody),
		errors.Is(err, adapter.ErrInvalidRequest),
		errors.Is(err, poller.ErrEmptySession):
		return http.StatusBadRequest

	case errors.Is(err, orchestrator.ErrPolicyDenied):
		return http.StatusForbidden

	case errors.Is(err, adapter.ErrMissingToken),
		errors.Is(err, orchestrator.ErrProviderUnavailable),
		errors.Is(err, circuitbreaker.ErrOpen):
		return http.StatusServiceUnavailable

	case errors.Is(err, orchestrator.ErrSessionNotFound):
		return http.StatusNotFound

	case errors.Is(err, poller.ErrAlreadyStarted):
		return http.StatusConflict

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout

	case errors.Is(err, context.Canceled):
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}
