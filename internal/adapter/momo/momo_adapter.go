// Package momo implements adapter.Gateway over the payment backend's REST
// proxy for mobile-money operators.
package momo

import (
	"bytes"
	stdcontext "context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/yourorg/payment-confirmation/internal/adapter"
	"github.com/yourorg/payment-confirmation/internal/context"
	"github.com/yourorg/payment-confirmation/internal/logging"
	"github.com/yourorg/payment-confirmation/internal/metrics"
)

const (
	gatewayName     = "momo-http"
	initiatePath    = "/payments/initiate"
	statusPath      = "/payments/status"
	defaultTimeout  = 15 * time.Second
	maxResponseBody = 1 << 20

	opInitiate = "initiate"
	opStatus   = "status"

	genericFailureMessage = "payment request failed"
)

// HTTPGateway talks JSON over HTTP to the payment backend.
type HTTPGateway struct {
	httpClient *http.Client
	apiBaseURL string
	tokens     TokenSource
	logger     logging.Logger
}

// NewHTTPGateway creates a gateway for baseURL. A nil client gets a default one.
func NewHTTPGateway(baseURL string, tokens TokenSource, client *http.Client, logger logging.Logger) *HTTPGateway {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &HTTPGateway{
		httpClient: client,
		apiBaseURL: strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		logger:     logging.OrDefault(logger),
	}
}

// GetName returns the name of the backend.
func (g *HTTPGateway) GetName() string {
	return gatewayName
}

type initiatePayload struct {
	Amount               int64                  `json:"amount"`
	PhoneNumber          string                 `json:"phoneNumber"`
	Provider             string                 `json:"provider"`
	TransactionType      string                 `json:"transactionType"`
	Description          string                 `json:"description"`
	PropertyID           string                 `json:"propertyId,omitempty"`
	PreAuthorisationCode string                 `json:"preAuthorisationCode,omitempty"`
	Metadata             map[string]interface{} `json:"metadata,omitempty"`
}

type initiateResponse struct {
	DepositID string `json:"depositId"`
	Status    string `json:"status"`
}

type statusPayload struct {
	DepositID string `json:"depositId"`
}

type statusResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body the backend sends with non-2xx answers.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details *struct {
		FailureReason *struct {
			FailureMessage string `json:"failureMessage"`
		} `json:"failureReason,omitempty"`
		ErrorMessage string `json:"errorMessage"`
	} `json:"details,omitempty"`
}

// failureMessage picks the most specific reason available: provider failure
// reason, provider error message, backend error, then the HTTP status.
func failureMessage(httpStatus int, body []byte) string {
	var er ErrorResponse
	if err := json.Unmarshal(body, &er); err == nil {
		if er.Details != nil {
			if er.Details.FailureReason != nil && er.Details.FailureReason.FailureMessage != "" {
				return er.Details.FailureReason.FailureMessage
			}
			if er.Details.ErrorMessage != "" {
				return er.Details.ErrorMessage
			}
		}
		if er.Error != "" {
			return er.Error
		}
	}
	if httpStatus > 0 {
		return fmt.Sprintf("%s with HTTP %d", genericFailureMessage, httpStatus)
	}
	return genericFailureMessage
}

// normalizeMetadata rejects values that have no JSON representation.
func normalizeMetadata(md map[string]any) (map[string]interface{}, error) {
	if len(md) == 0 {
		return nil, nil
	}
	s, err := structpb.NewStruct(md)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", adapter.ErrInvalidRequest, err)
	}
	return s.AsMap(), nil
}

type response struct {
	status  int
	body    []byte
	latency time.Duration
}

// post performs one call. The returned error is a transport failure; any
// HTTP answer, whatever its status, comes back as a response.
func (g *HTTPGateway) post(ctx stdcontext.Context, path, token string, payload interface{}, header http.Header) (response, error) {
	start := time.Now()
	body, err := json.Marshal(payload)
	if err != nil {
		return response{}, fmt.Errorf("momo: failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return response{}, fmt.Errorf("momo: failed to create http request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Trace-Id", context.FromContext(ctx).TraceID)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return response{latency: time.Since(start)}, fmt.Errorf("momo: http client error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return response{status: resp.StatusCode, latency: time.Since(start)}, fmt.Errorf("momo: failed to read response body: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		if inv, ok := g.tokens.(interface{ Invalidate() }); ok {
			inv.Invalidate()
		}
	}
	return response{status: resp.StatusCode, body: respBody, latency: time.Since(start)}, nil
}

func (g *HTTPGateway) token(ctx stdcontext.Context) (string, error) {
	if g.tokens == nil {
		return "", adapter.ErrMissingToken
	}
	tok, err := g.tokens.Token(ctx)
	if err != nil {
		if errors.Is(err, adapter.ErrMissingToken) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", adapter.ErrMissingToken, err)
	}
	if tok == "" {
		return "", adapter.ErrMissingToken
	}
	return tok, nil
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

// Initiate opens a payment with the operator.
func (g *HTTPGateway) Initiate(ctx stdcontext.Context, req adapter.InitiateRequest) (adapter.InitiateResult, error) {
	ctx, span := otel.Tracer("momo-gateway").Start(ctx, "HTTPGateway.Initiate")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.provider", string(req.Provider)),
		attribute.String("payment.transaction_type", string(req.TransactionType)),
	)

	valid, err := req.Validate()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return adapter.InitiateResult{Error: err.Error()}, err
	}
	md, err := normalizeMetadata(valid.Metadata)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return adapter.InitiateResult{Error: err.Error()}, err
	}
	tok, err := g.token(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return adapter.InitiateResult{Error: err.Error()}, err
	}

	payload := initiatePayload{
		Amount:               valid.Amount,
		PhoneNumber:          valid.PhoneNumber,
		Provider:             string(valid.Provider),
		TransactionType:      string(valid.TransactionType),
		Description:          valid.Description,
		PropertyID:           valid.CorrelationID,
		PreAuthorisationCode: valid.AuthCode,
		Metadata:             md,
	}
	header := http.Header{}
	header.Set("Idempotency-Key", uuid.NewString())

	resp, err := g.post(ctx, initiatePath, tok, payload, header)
	result := adapter.InitiateResult{HTTPStatus: resp.status, LatencyMs: resp.latency.Milliseconds()}
	if err != nil {
		g.logger.Printf("Gateway: initiate via %s failed: %v", valid.Provider, err)
		metrics.ObserveGatewayCall(opInitiate, metrics.OutcomeTransport, resp.latency.Seconds())
		span.SetStatus(codes.Error, err.Error())
		result.Error = fmt.Sprintf("payment service unreachable: %v", err)
		return result, nil
	}

	if !isSuccess(resp.status) {
		result.Error = failureMessage(resp.status, resp.body)
		g.logger.Printf("Gateway: initiate via %s rejected with HTTP %d: %s", valid.Provider, resp.status, result.Error)
		metrics.ObserveGatewayCall(opInitiate, metrics.OutcomeRejected, resp.latency.Seconds())
		span.SetStatus(codes.Error, result.Error)
		return result, nil
	}

	var body initiateResponse
	if err := json.Unmarshal(resp.body, &body); err != nil {
		result.Error = "malformed response from payment service"
		g.logger.Printf("Gateway: initiate response could not be decoded: %v", err)
		metrics.ObserveGatewayCall(opInitiate, metrics.OutcomeTransport, resp.latency.Seconds())
		span.SetStatus(codes.Error, result.Error)
		return result, nil
	}
	if body.DepositID == "" {
		result.Error = "payment service returned no deposit id"
		metrics.ObserveGatewayCall(opInitiate, metrics.OutcomeTransport, resp.latency.Seconds())
		span.SetStatus(codes.Error, result.Error)
		return result, nil
	}

	metrics.ObserveGatewayCall(opInitiate, metrics.OutcomeSuccess, resp.latency.Seconds())
	span.SetAttributes(attribute.String("payment.deposit_id", body.DepositID), attribute.String("payment.raw_status", body.Status))
	result.Success = true
	result.SessionID = body.DepositID
	result.RawStatus = body.Status
	return result, nil
}

// CheckStatus asks the backend for the current status of a deposit. It is idempotent.
func (g *HTTPGateway) CheckStatus(ctx stdcontext.Context, sessionID string) (adapter.StatusResult, error) {
	ctx, span := otel.Tracer("momo-gateway").Start(ctx, "HTTPGateway.CheckStatus")
	defer span.End()
	span.SetAttributes(attribute.String("payment.deposit_id", sessionID))

	if strings.TrimSpace(sessionID) == "" {
		err := fmt.Errorf("%w: session id is required", adapter.ErrInvalidRequest)
		span.SetStatus(codes.Error, err.Error())
		return adapter.StatusResult{Error: err.Error()}, err
	}
	tok, err := g.token(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return adapter.StatusResult{Error: err.Error()}, err
	}

	resp, err := g.post(ctx, statusPath, tok, statusPayload{DepositID: sessionID}, nil)
	result := adapter.StatusResult{HTTPStatus: resp.status, LatencyMs: resp.latency.Milliseconds()}
	if err != nil {
		metrics.ObserveGatewayCall(opStatus, metrics.OutcomeTransport, resp.latency.Seconds())
		span.SetStatus(codes.Error, err.Error())
		result.Error = fmt.Sprintf("payment service unreachable: %v", err)
		return result, nil
	}
	if !isSuccess(resp.status) {
		result.Error = failureMessage(resp.status, resp.body)
		metrics.ObserveGatewayCall(opStatus, metrics.OutcomeRejected, resp.latency.Seconds())
		span.SetStatus(codes.Error, result.Error)
		return result, nil
	}

	var body statusResponse
	if err := json.Unmarshal(resp.body, &body); err != nil || body.Status == "" {
		result.Error = "malformed response from payment service"
		metrics.ObserveGatewayCall(opStatus, metrics.OutcomeTransport, resp.latency.Seconds())
		span.SetStatus(codes.Error, result.Error)
		return result, nil
	}

	metrics.ObserveGatewayCall(opStatus, metrics.OutcomeSuccess, resp.latency.Seconds())
	span.SetAttributes(attribute.String("payment.raw_status", body.Status))
	result.Success = true
	result.RawStatus = body.Status
	return result, nil
}

var _ adapter.Gateway = (*HTTPGateway)(nil)
