package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adaptermock "github.com/yourorg/payment-confirmation/internal/adapter/mock"
	"github.com/yourorg/payment-confirmation/internal/circuitbreaker"
	"github.com/yourorg/payment-confirmation/internal/config"
	"github.com/yourorg/payment-confirmation/internal/logging"
	"github.com/yourorg/payment-confirmation/internal/monitor"
	"github.com/yourorg/payment-confirmation/internal/orchestrator"
	"github.com/yourorg/payment-confirmation/internal/policy"
	"github.com/yourorg/payment-confirmation/internal/poller"
	"github.com/yourorg/payment-confirmation/internal/reporting"
)

type testEnv struct {
	router  *gin.Engine
	gateway *adaptermock.MockAdapter
	clock   *poller.FakeClock
}

// setupTestRouter builds the routes on top of a scriptable gateway and a fake clock.
func setupTestRouter(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gw := adaptermock.NewMockAdapter("mock")
	clk := poller.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	pe, err := policy.NewPaymentPolicyEnforcer([]policy.PolicyRule{{
		ID:         "max_amount",
		Expression: "amount > 1000000",
		Decision:   policy.PolicyDecision{Allow: false, Reason: "amount exceeds the mobile-money limit"},
	}})
	require.NoError(t, err)
	cb := circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{}, logging.NoopLogger{})
	orch := orchestrator.NewOrchestrator(gw, pe, cb,
		reporting.NewRecorder(0),
		poller.Config{Interval: 3 * time.Second},
		orchestrator.WithClock(clk),
		orchestrator.WithLogger(logging.NoopLogger{}),
	)
	t.Cleanup(orch.Shutdown)
	mon, err := monitor.NewPaymentRequestMonitor()
	require.NoError(t, err)

	return &testEnv{router: setupRouter(newServer(orch, mon, cb, gw.GetName())), gateway: gw, clock: clk}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf *bytes.Buffer
	switch b := body.(type) {
	case nil:
		buf = &bytes.Buffer{}
	case string:
		buf = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err, "Failed to marshal payload")
		buf = bytes.NewBuffer(raw)
	}
	req, err := http.NewRequest(method, path, buf)
	require.NoError(t, err, "Failed to create request")
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func validPayload() map[string]interface{} {
	return map[string]interface{}{
		"amount":          2500,
		"phoneNumber":     "07 12 34 56 78",
		"provider":        "PROVIDER_A",
		"transactionType": "submission",
		"description":     "Listing submission fee",
		"propertyId":      "prop-42",
		"metadata":        map[string]interface{}{"listingTitle": "Villa"},
	}
}

func decodeSession(t *testing.T, w *httptest.ResponseRecorder) sessionResponse {
	t.Helper()
	var resp sessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "Failed to unmarshal response body")
	return resp
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp struct {
		Error map[string]interface{} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "Failed to unmarshal error response")
	require.NotNil(t, resp.Error)
	return resp.Error
}

func TestCreatePayment_ConfirmedAtInitiation(t *testing.T) {
	env := setupTestRouter(t)
	env.gateway.InitialStatus = "ACCEPTED"

	w := env.do(t, http.MethodPost, "/payments", validPayload())
	assert.Equal(t, http.StatusOK, w.Code)

	resp := decodeSession(t, w)
	assert.NotEmpty(t, resp.SessionID)
	assert.False(t, resp.Polled)
	assert.Equal(t, poller.StatusSuccess, resp.State.Status)
	assert.Equal(t, "check-circle", resp.View.Icon)
	assert.True(t, resp.View.Terminal)

	received := env.gateway.Initiated()
	require.Len(t, received, 1)
	assert.Equal(t, "0712345678", received[0].PhoneNumber)
	assert.Equal(t, "prop-42", received[0].CorrelationID)
}

func TestCreatePayment_PendingThenCancel(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do(t, http.MethodPost, "/payments", validPayload())
	require.Equal(t, http.StatusAccepted, w.Code)
	created := decodeSession(t, w)
	assert.True(t, created.Polled)
	assert.Equal(t, poller.StatusPolling, created.State.Status)
	assert.Equal(t, "spinner", created.View.Icon)

	w = env.do(t, http.MethodGet, "/payments", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), created.SessionID)

	w = env.do(t, http.MethodGet, "/payments/"+created.SessionID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, created.SessionID, decodeSession(t, w).SessionID)

	w = env.do(t, http.MethodDelete, "/payments/"+created.SessionID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodDelete, "/payments/"+created.SessionID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decodeError(t, w)["kind"])
}

func TestCreatePayment_PollsToSuccess(t *testing.T) {
	env := setupTestRouter(t)
	env.gateway.QueueStatuses("COMPLETED")

	w := env.do(t, http.MethodPost, "/payments", validPayload())
	require.Equal(t, http.StatusAccepted, w.Code)
	id := decodeSession(t, w).SessionID

	env.clock.BlockUntil(1)
	env.clock.Advance(3 * time.Second)

	require.Eventually(t, func() bool {
		w := env.do(t, http.MethodGet, "/payments/"+id, nil)
		return w.Code == http.StatusOK && decodeSession(t, w).State.Status == poller.StatusSuccess
	}, 2*time.Second, 5*time.Millisecond)

	w = env.do(t, http.MethodGet, "/reports/retrospective", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var report reporting.RetrospectiveReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 1, report.Confirmed)
	assert.Equal(t, int64(2500), report.TotalAmountConfirmed)
}

func TestCreatePayment_InvalidRequests(t *testing.T) {
	env := setupTestRouter(t)

	withoutAmount := validPayload()
	delete(withoutAmount, "amount")
	shortPhone := validPayload()
	shortPhone["phoneNumber"] = "0712"
	badAuthCode := validPayload()
	badAuthCode["provider"] = "PROVIDER_B"
	badAuthCode["authCode"] = "12ab"
	missingAuthCode := validPayload()
	missingAuthCode["provider"] = "PROVIDER_B"

	tests := []struct {
		name       string
		body       interface{}
		wantStatus int
		wantKind   string
		wantDetail string
	}{
		{"MalformedJSON", "this is not json", http.StatusBadRequest, "invalid_request", "not valid JSON"},
		{"MissingAmount", withoutAmount, http.StatusBadRequest, "invalid_request", "amount"},
		{"BadAuthCodePattern", badAuthCode, http.StatusBadRequest, "invalid_request", "authCode"},
		{"ShortPhone", shortPhone, http.StatusBadRequest, "invalid_request", "at least 8 digits"},
		{"MissingAuthCode", missingAuthCode, http.StatusBadRequest, "invalid_request", "authorisation code"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/payments", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantKind, decodeError(t, w)["kind"])
			assert.Contains(t, w.Body.String(), tt.wantDetail)
		})
	}
	assert.Empty(t, env.gateway.Initiated())
}

func TestCreatePayment_PolicyDenied(t *testing.T) {
	env := setupTestRouter(t)
	payload := validPayload()
	payload["amount"] = 5000000

	w := env.do(t, http.MethodPost, "/payments", payload)
	assert.Equal(t, http.StatusForbidden, w.Code)
	errBody := decodeError(t, w)
	assert.Equal(t, "policy_denied", errBody["kind"])
	assert.Contains(t, errBody["message"], "amount exceeds the mobile-money limit")
}

func TestGetPayment_Unknown(t *testing.T) {
	env := setupTestRouter(t)
	w := env.do(t, http.MethodGet, "/payments/dep-missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decodeError(t, w)["kind"])
}

func TestHealthzAndMetrics(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "mock", health["gateway"])
	providers, ok := health["providers"].(map[string]interface{})
	require.True(t, ok, "healthz should report provider circuits")
	for _, p := range []string{"PROVIDER_A", "PROVIDER_B"} {
		circuit, ok := providers[p].(map[string]interface{})
		require.True(t, ok, "missing circuit for %s", p)
		assert.Equal(t, "closed", circuit["state"])
		assert.Equal(t, true, circuit["allowRequests"])
	}

	env.gateway.InitialStatus = "ACCEPTED"
	env.do(t, http.MethodPost, "/payments", validPayload())

	w = env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "payment_confirmation_"), "metrics should expose service collectors")
}

func TestNewDemoGateway_ConfirmsAfterPending(t *testing.T) {
	demo := newDemoGateway()
	ctx := context.Background()
	for i := 0; i < demoConfirmAfter; i++ {
		res, err := demo.CheckStatus(ctx, "dep-1")
		require.NoError(t, err)
		assert.Equal(t, "PENDING", res.RawStatus)
	}
	res, err := demo.CheckStatus(ctx, "dep-1")
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", res.RawStatus)

	res, err = demo.CheckStatus(ctx, "dep-2")
	require.NoError(t, err)
	assert.Equal(t, "PENDING", res.RawStatus)
}

func TestNewOrchestrator_FromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.PolicyRulesFile = "../../internal/policy/testdata/rules.json"
	cb := circuitbreaker.NewCircuitBreaker(cfg.Breaker, logging.NoopLogger{})
	orch, err := newOrchestrator(cfg, newDemoGateway(), cb)
	require.NoError(t, err)
	assert.Equal(t, cfg.Poll, orch.PollConfig())

	cfg.PolicyRulesFile = "does-not-exist.json"
	_, err = newOrchestrator(cfg, newDemoGateway(), cb)
	assert.Error(t, err)
}

func TestNewMonitor_SchemaFileOverridesEmbedded(t *testing.T) {
	withoutProperty := []byte(`{"amount": 2500, "phoneNumber": "0712345678", "provider": "PROVIDER_A", "transactionType": "lock"}`)

	cfg := config.Default()
	embedded, err := newMonitor(cfg)
	require.NoError(t, err)
	valid, _, err := embedded.Validate(withoutProperty)
	require.NoError(t, err)
	assert.True(t, valid)

	cfg.ContractSchemaFile = "../../internal/monitor/testdata/payment_request_strict.json"
	strict, err := newMonitor(cfg)
	require.NoError(t, err)
	valid, violations, err := strict.Validate(withoutProperty)
	require.NoError(t, err)
	assert.False(t, valid)
	assert.Contains(t, strings.Join(violations, "; "), "propertyId is required")

	cfg.ContractSchemaFile = "does-not-exist.json"
	_, err = newMonitor(cfg)
	assert.Error(t, err)
}
