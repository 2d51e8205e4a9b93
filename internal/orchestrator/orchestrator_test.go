package orchestrator_test

import (
	stdcontext "context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/payment-confirmation/internal/adapter"
	adaptermock "github.com/yourorg/payment-confirmation/internal/adapter/mock"
	"github.com/yourorg/payment-confirmation/internal/circuitbreaker"
	"github.com/yourorg/payment-confirmation/internal/logging"
	"github.com/yourorg/payment-confirmation/internal/orchestrator"
	"github.com/yourorg/payment-confirmation/internal/policy"
	"github.com/yourorg/payment-confirmation/internal/poller"
	"github.com/yourorg/payment-confirmation/internal/presenter"
	"github.com/yourorg/payment-confirmation/internal/reporting"
)

const testInterval = 3 * time.Second

type outcome struct {
	success bool
	value   string
}

// sink collects callback invocations.
type sink struct {
	ch chan outcome
}

func newSink() *sink {
	return &sink{ch: make(chan outcome, 8)}
}

func (s *sink) callbacks() orchestrator.Callbacks {
	return orchestrator.Callbacks{
		OnSuccess: func(id string) { s.ch <- outcome{success: true, value: id} },
		OnFailure: func(msg string) { s.ch <- outcome{value: msg} },
	}
}

func (s *sink) wait(t *testing.T) outcome {
	t.Helper()
	select {
	case o := <-s.ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("no callback fired")
		return outcome{}
	}
}

func (s *sink) assertNone(t *testing.T) {
	t.Helper()
	select {
	case o := <-s.ch:
		t.Fatalf("unexpected callback: %+v", o)
	case <-time.After(20 * time.Millisecond):
	}
}

type fixture struct {
	orch     *orchestrator.Orchestrator
	gateway  *adaptermock.MockAdapter
	clock    *poller.FakeClock
	recorder *reporting.Recorder
	breaker  *circuitbreaker.CircuitBreaker
}

func newFixture(t *testing.T, rules ...policy.PolicyRule) *fixture {
	t.Helper()
	return newFixtureConfig(t, poller.Config{Interval: testInterval, MaxAttempts: 5, MaxFailures: 3, NotFoundGraceAttempts: 2}, rules...)
}

func newFixtureConfig(t *testing.T, cfg poller.Config, rules ...policy.PolicyRule) *fixture {
	t.Helper()
	pe, err := policy.NewPaymentPolicyEnforcer(rules)
	require.NoError(t, err)

	f := &fixture{
		gateway:  adaptermock.NewMockAdapter("mock"),
		clock:    poller.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)),
		recorder: reporting.NewRecorder(0),
		breaker:  circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{FailureThreshold: 2, ResetTimeout: time.Minute}, logging.NoopLogger{}),
	}
	f.orch = orchestrator.NewOrchestrator(f.gateway, pe, f.breaker, f.recorder, cfg,
		orchestrator.WithClock(f.clock),
		orchestrator.WithLogger(logging.NoopLogger{}),
	)
	t.Cleanup(f.orch.Shutdown)
	return f
}

// tick releases the next scheduled status check.
func (f *fixture) tick() {
	f.clock.BlockUntil(1)
	f.clock.Advance(testInterval)
}

func (f *fixture) waitOutcome(t *testing.T, s *orchestrator.Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
	}
}

func paymentRequest() orchestrator.PaymentRequest {
	return orchestrator.PaymentRequest{
		Amount:          2500,
		PhoneNumber:     "07 12 34 56 78",
		Provider:        adapter.ProviderA,
		TransactionType: adapter.TransactionLock,
		Description:     "Listing lock",
		CorrelationID:   "prop-42",
	}
}

func TestNewOrchestrator_PanicsOnNilDependencies(t *testing.T) {
	pe, _ := policy.NewPaymentPolicyEnforcer(nil)
	gw := adaptermock.NewMockAdapter("mock")
	cb := circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{}, nil)
	rec := reporting.NewRecorder(0)

	assert.Panics(t, func() { orchestrator.NewOrchestrator(nil, pe, cb, rec, poller.Config{}) })
	assert.Panics(t, func() { orchestrator.NewOrchestrator(gw, nil, cb, rec, poller.Config{}) })
	assert.Panics(t, func() { orchestrator.NewOrchestrator(gw, pe, nil, rec, poller.Config{}) })
	assert.Panics(t, func() { orchestrator.NewOrchestrator(gw, pe, cb, nil, poller.Config{}) })
	assert.NotPanics(t, func() { orchestrator.NewOrchestrator(gw, pe, cb, rec, poller.Config{}) })
}

func TestPay_AcceptedAtInitiationSkipsPolling(t *testing.T) {
	f := newFixture(t)
	f.gateway.InitialStatus = "ACCEPTED"
	out := newSink()

	s, err := f.orch.Pay(stdcontext.Background(), paymentRequest(), out.callbacks())
	require.NoError(t, err)
	require.NotNil(t, s)

	got := out.wait(t)
	assert.True(t, got.success)
	assert.Equal(t, s.ID, got.value)
	out.assertNone(t)

	assert.False(t, s.Polled())
	assert.Equal(t, poller.StatusSuccess, s.State().Status)
	assert.Equal(t, presenter.IconSuccess, s.View().Icon)
	assert.Equal(t, 0, f.clock.Pending())
	assert.Equal(t, 0, f.gateway.StatusCalls(s.ID))
	assert.Empty(t, f.orch.Active())

	found, err := f.orch.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, found)

	records := f.orch.Outcomes()
	require.Len(t, records, 1)
	assert.Equal(t, reporting.StatusSuccess, records[0].Status)
	assert.False(t, records[0].Polled)
	assert.Equal(t, int64(2500), records[0].Amount)
	assert.Equal(t, "lock", records[0].TransactionType)
}

func TestPay_TerminalFailureAtInitiation(t *testing.T) {
	f := newFixture(t)
	f.gateway.InitialStatus = "REJECTED"
	out := newSink()

	s, err := f.orch.Pay(stdcontext.Background(), paymentRequest(), out.callbacks())
	require.NoError(t, err)

	got := out.wait(t)
	assert.False(t, got.success)
	assert.Equal(t, poller.MessageFailed, got.value)
	assert.Equal(t, poller.StatusFailed, s.State().Status)
	assert.Equal(t, 0, f.gateway.StatusCalls(s.ID))

	records := f.orch.Outcomes()
	require.Len(t, records, 1)
	assert.Equal(t, reporting.StatusFailed, records[0].Status)
}

func TestPay_InitiationFailureReportsMessage(t *testing.T) {
	f := newFixture(t)
	f.gateway.InitiateFunc = func(stdcontext.Context, adapter.InitiateRequest) (adapter.InitiateResult, error) {
		return adapter.InitiateResult{Error: "insufficient balance", HTTPStatus: 402}, nil
	}
	out := newSink()

	s, err := f.orch.Pay(stdcontext.Background(), paymentRequest(), out.callbacks())
	require.NoError(t, err)
	require.NotNil(t, s)

	got := out.wait(t)
	assert.False(t, got.success)
	assert.Equal(t, "insufficient balance", got.value)
	assert.Empty(t, s.ID)
	assert.False(t, s.Polled())
	assert.Empty(t, f.orch.Active())

	records := f.orch.Outcomes()
	require.Len(t, records, 1)
	assert.Equal(t, reporting.StatusInitiationFailed, records[0].Status)
	assert.Equal(t, "insufficient balance", records[0].Message)
}

func TestPay_PollsPendingPaymentToSuccess(t *testing.T) {
	f := newFixture(t)
	f.gateway.QueueStatuses("PENDING", "COMPLETED")
	out := newSink()

	s, err := f.orch.Pay(stdcontext.Background(), paymentRequest(), out.callbacks())
	require.NoError(t, err)
	assert.True(t, s.Polled())
	assert.Equal(t, poller.StatusPolling, s.State().Status)
	require.Len(t, f.orch.Active(), 1)

	f.tick()
	f.tick()

	got := out.wait(t)
	assert.True(t, got.success)
	assert.Equal(t, s.ID, got.value)
	f.waitOutcome(t, s)
	out.assertNone(t)

	assert.Equal(t, 2, f.gateway.StatusCalls(s.ID))
	assert.Empty(t, f.orch.Active())
	found, err := f.orch.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, poller.StatusSuccess, found.State().Status)
	assert.Equal(t, presenter.IconSuccess, found.View().Icon)

	records := f.orch.Outcomes()
	require.Len(t, records, 1)
	assert.Equal(t, reporting.StatusSuccess, records[0].Status)
	assert.True(t, records[0].Polled)
	assert.Equal(t, 2, records[0].Attempts)
	assert.Equal(t, s.ID, records[0].SessionID)
}

func TestPay_PollsPendingPaymentToFailure(t *testing.T) {
	f := newFixture(t)
	f.gateway.QueueStatuses("SUBMITTED", "FAILED")
	out := newSink()

	s, err := f.orch.Pay(stdcontext.Background(), paymentRequest(), out.callbacks())
	require.NoError(t, err)

	f.tick()
	f.tick()

	got := out.wait(t)
	assert.False(t, got.success)
	assert.Equal(t, poller.MessageFailed, got.value)
	f.waitOutcome(t, s)

	records := f.orch.Outcomes()
	require.Len(t, records, 1)
	assert.Equal(t, reporting.StatusFailed, records[0].Status)
}

func TestPay_SubscribeFollowsSession(t *testing.T) {
	f := newFixture(t)
	f.gateway.QueueStatuses("COMPLETED")

	s, err := f.orch.Pay(stdcontext.Background(), paymentRequest(), newSink().callbacks())
	require.NoError(t, err)
	views, release := s.Subscribe()
	defer release()

	f.tick()
	f.waitOutcome(t, s)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case v := <-views:
			if v.Terminal {
				assert.Equal(t, poller.StatusSuccess, v.Status)
				return
			}
		case <-deadline:
			t.Fatal("no terminal view received")
		}
	}
}

func TestPay_PolicyDenial(t *testing.T) {
	f := newFixture(t, policy.PolicyRule{
		ID:         "max_amount",
		Expression: "amount > 100000",
		Decision:   policy.PolicyDecision{Allow: false, Reason: "amount exceeds the mobile-money limit"},
	})
	out := newSink()
	req := paymentRequest()
	req.Amount = 250000

	s, err := f.orch.Pay(stdcontext.Background(), req, out.callbacks())
	require.Error(t, err)
	assert.Nil(t, s)
	assert.True(t, errors.Is(err, orchestrator.ErrPolicyDenied))
	assert.Contains(t, err.Error(), "amount exceeds the mobile-money limit")
	assert.Empty(t, f.gateway.Initiated())
	out.assertNone(t)

	records := f.orch.Outcomes()
	require.Len(t, records, 1)
	assert.Equal(t, reporting.StatusDenied, records[0].Status)
	assert.Equal(t, int64(250000), records[0].Amount)
}

func TestPay_InvalidRequestNeverReachesGateway(t *testing.T) {
	f := newFixture(t)
	out := newSink()
	tests := []struct {
		name   string
		mutate func(*orchestrator.PaymentRequest)
	}{
		{"ZeroAmount", func(r *orchestrator.PaymentRequest) { r.Amount = 0 }},
		{"ShortPhone", func(r *orchestrator.PaymentRequest) { r.PhoneNumber = "0712" }},
		{"UnknownProvider", func(r *orchestrator.PaymentRequest) { r.Provider = "PROVIDER_Z" }},
		{"MissingAuthCode", func(r *orchestrator.PaymentRequest) { r.Provider = adapter.ProviderB }},
		{"UnknownTransactionType", func(r *orchestrator.PaymentRequest) { r.TransactionType = "rent" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := paymentRequest()
			tt.mutate(&req)
			_, err := f.orch.Pay(stdcontext.Background(), req, out.callbacks())
			assert.ErrorIs(t, err, adapter.ErrInvalidRequest)
		})
	}
	assert.Empty(t, f.gateway.Initiated())
	assert.Empty(t, f.orch.Outcomes())
	out.assertNone(t)
}

func TestPay_GatewayPreconditionErrorIsReturned(t *testing.T) {
	f := newFixture(t)
	f.gateway.InitiateFunc = func(stdcontext.Context, adapter.InitiateRequest) (adapter.InitiateResult, error) {
		return adapter.InitiateResult{Error: adapter.ErrMissingToken.Error()}, adapter.ErrMissingToken
	}
	out := newSink()

	_, err := f.orch.Pay(stdcontext.Background(), paymentRequest(), out.callbacks())
	assert.ErrorIs(t, err, adapter.ErrMissingToken)
	out.assertNone(t)

	state, failures := f.breaker.GetProviderStatus(string(adapter.ProviderA))
	assert.Equal(t, circuitbreaker.StateClosed, state)
	assert.Equal(t, uint32(0), failures)
}

func TestPay_BreakerOpensAfterTransientFailures(t *testing.T) {
	f := newFixture(t)
	f.gateway.InitiateFunc = func(_ stdcontext.Context, req adapter.InitiateRequest) (adapter.InitiateResult, error) {
		if req.Provider == adapter.ProviderB {
			return adapter.InitiateResult{Success: true, SessionID: "dep-b", RawStatus: "ACCEPTED"}, nil
		}
		return adapter.InitiateResult{Error: "payment service unreachable: connection refused"}, nil
	}
	out := newSink()

	for i := 0; i < 2; i++ {
		_, err := f.orch.Pay(stdcontext.Background(), paymentRequest(), out.callbacks())
		require.NoError(t, err)
		assert.Equal(t, "payment service unreachable: connection refused", out.wait(t).value)
	}

	_, err := f.orch.Pay(stdcontext.Background(), paymentRequest(), out.callbacks())
	require.Error(t, err)
	assert.ErrorIs(t, err, orchestrator.ErrProviderUnavailable)
	assert.Len(t, f.gateway.Initiated(), 2)
	out.assertNone(t)

	// The other operator keeps working.
	req := paymentRequest()
	req.Provider = adapter.ProviderB
	req.AuthCode = "1234"
	_, err = f.orch.Pay(stdcontext.Background(), req, out.callbacks())
	require.NoError(t, err)
	assert.True(t, out.wait(t).success)
}

func TestPay_BusinessRejectionsDoNotTripBreaker(t *testing.T) {
	f := newFixture(t)
	f.gateway.InitiateFunc = func(stdcontext.Context, adapter.InitiateRequest) (adapter.InitiateResult, error) {
		return adapter.InitiateResult{Error: "insufficient balance", HTTPStatus: 402}, nil
	}
	out := newSink()

	for i := 0; i < 4; i++ {
		_, err := f.orch.Pay(stdcontext.Background(), paymentRequest(), out.callbacks())
		require.NoError(t, err)
		out.wait(t)
	}
	assert.Len(t, f.gateway.Initiated(), 4)
	assert.True(t, f.breaker.AllowRequest(string(adapter.ProviderA)))
}

func TestCancel_StopsPollingWithoutCallbacks(t *testing.T) {
	f := newFixture(t)
	out := newSink()

	s, err := f.orch.Pay(stdcontext.Background(), paymentRequest(), out.callbacks())
	require.NoError(t, err)
	f.clock.BlockUntil(1)

	require.NoError(t, f.orch.Cancel(s.ID))
	f.waitOutcome(t, s)
	out.assertNone(t)

	assert.Empty(t, f.orch.Active())
	assert.Equal(t, 0, f.gateway.StatusCalls(s.ID))
	assert.ErrorIs(t, f.orch.Cancel(s.ID), orchestrator.ErrSessionNotFound)

	found, err := f.orch.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, found)

	records := f.orch.Outcomes()
	require.Len(t, records, 1)
	assert.Equal(t, reporting.StatusCancelled, records[0].Status)
	assert.True(t, records[0].Polled)
}

func TestGet_UnknownSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.Get("dep-missing")
	assert.ErrorIs(t, err, orchestrator.ErrSessionNotFound)
	assert.ErrorIs(t, f.orch.Cancel("dep-missing"), orchestrator.ErrSessionNotFound)
}

func TestShutdown_CancelsEverySession(t *testing.T) {
	f := newFixture(t)
	out := newSink()

	first, err := f.orch.Pay(stdcontext.Background(), paymentRequest(), out.callbacks())
	require.NoError(t, err)
	second, err := f.orch.Pay(stdcontext.Background(), paymentRequest(), out.callbacks())
	require.NoError(t, err)
	require.Len(t, f.orch.Active(), 2)
	assert.NotEqual(t, first.ID, second.ID)

	f.orch.Shutdown()
	f.waitOutcome(t, first)
	f.waitOutcome(t, second)
	out.assertNone(t)

	assert.Empty(t, f.orch.Active())
	records := f.orch.Outcomes()
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, reporting.StatusCancelled, r.Status)
	}
}

func TestPay_RequestContextDoesNotStopPolling(t *testing.T) {
	f := newFixture(t)
	f.gateway.QueueStatuses("COMPLETED")
	out := newSink()

	ctx, cancel := stdcontext.WithCancel(stdcontext.Background())
	s, err := f.orch.Pay(ctx, paymentRequest(), out.callbacks())
	require.NoError(t, err)
	cancel()

	f.tick()
	assert.True(t, out.wait(t).success)
	f.waitOutcome(t, s)
}

func TestCancel_DuringDisplayDelayKeepsConfirmedOutcome(t *testing.T) {
	f := newFixtureConfig(t, poller.Config{Interval: testInterval, MaxAttempts: 5, SuccessDisplayDelay: 1500 * time.Millisecond})
	f.gateway.QueueStatuses("COMPLETED")
	out := newSink()

	s, err := f.orch.Pay(stdcontext.Background(), paymentRequest(), out.callbacks())
	require.NoError(t, err)
	f.tick()

	require.Eventually(t, func() bool {
		return s.State().Status == poller.StatusSuccess && f.clock.Pending() == 1
	}, 2*time.Second, time.Millisecond, "display delay timer not armed")

	require.NoError(t, f.orch.Cancel(s.ID))
	f.waitOutcome(t, s)
	out.assertNone(t)
	assert.Equal(t, poller.StatusSuccess, s.State().Status)

	records := f.orch.Outcomes()
	require.Len(t, records, 1)
	assert.Equal(t, reporting.StatusSuccess, records[0].Status)
	assert.Equal(t, 1, records[0].Attempts)

	report, err := reporting.NewRetrospectiveReporter().GenerateRetrospective(records)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Confirmed)
	assert.Equal(t, 0, report.Cancelled)
	assert.Equal(t, int64(2500), report.AmountByProvider["PROVIDER_A"])
}
