// Package orchestrator runs the checkout workflow for a mobile-money payment:
// policy check, initiation through the provider's circuit breaker, then
// either an immediate outcome or a polling engine for the new session.
package orchestrator

import (
	stdcontext "context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yourorg/payment-confirmation/internal/adapter"
	"github.com/yourorg/payment-confirmation/internal/circuitbreaker"
	"github.com/yourorg/payment-confirmation/internal/context"
	"github.com/yourorg/payment-confirmation/internal/logging"
	"github.com/yourorg/payment-confirmation/internal/policy"
	"github.com/yourorg/payment-confirmation/internal/poller"
	"github.com/yourorg/payment-confirmation/internal/presenter"
	"github.com/yourorg/payment-confirmation/internal/reporting"
	"github.com/yourorg/payment-confirmation/internal/status"
)

var (
	// ErrPolicyDenied is returned when a business rule rejects the payment.
	ErrPolicyDenied = errors.New("orchestrator: payment denied by policy")
	// ErrProviderUnavailable is returned when the provider's circuit is open.
	ErrProviderUnavailable = errors.New("orchestrator: provider unavailable")
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("orchestrator: session not found")
)

// PaymentRequest is what a caller submits to start a payment.
type PaymentRequest = adapter.InitiateRequest

// Callbacks receive the single outcome of a payment.
type Callbacks struct {
	OnSuccess func(sessionID string)
	OnFailure func(message string)
}

// PolicyEnforcerInterface defines the contract for evaluating pre-initiation policies.
type PolicyEnforcerInterface interface {
	Evaluate(req adapter.InitiateRequest) (policy.PolicyDecision, error)
}

// BreakerInterface defines the contract for guarding provider calls.
type BreakerInterface interface {
	Execute(provider string, fn func() error) error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock sets the clock handed to every polling engine.
func WithClock(c poller.Clock) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger sets the logger used by the orchestrator and its engines.
func WithLogger(l logging.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logging.OrDefault(l)
	}
}

// Orchestrator coordinates the gateway, the policy, the breaker and one
// polling engine per pending session.
type Orchestrator struct {
	gateway        adapter.Gateway
	policyEnforcer PolicyEnforcerInterface
	breaker        BreakerInterface
	recorder       *reporting.Recorder
	pollConfig     poller.Config
	clock          poller.Clock
	logger         logging.Logger

	sessions *registry
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(
	gw adapter.Gateway,
	pe PolicyEnforcerInterface,
	cb BreakerInterface,
	rec *reporting.Recorder,
	pollConfig poller.Config,
	opts ...Option,
) *Orchestrator {
	if gw == nil {
		panic("Gateway cannot be nil")
	}
	if pe == nil {
		panic("PolicyEnforcer cannot be nil")
	}
	if cb == nil {
		panic("Breaker cannot be nil")
	}
	if rec == nil {
		panic("Recorder cannot be nil")
	}
	o := &Orchestrator{
		gateway:        gw,
		policyEnforcer: pe,
		breaker:        cb,
		recorder:       rec,
		pollConfig:     pollConfig,
		clock:          poller.RealClock{},
		logger:         logging.Default(),
		sessions:       newRegistry(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

var errTransient = errors.New("transient initiation failure")

// transient reports whether a failed initiation says something about the
// provider's health rather than about the payment itself.
func transient(res adapter.InitiateResult) bool {
	return !res.Success && (res.HTTPStatus == 0 || res.HTTPStatus >= 500)
}

// Pay initiates a payment and drives it to an outcome.
//
// Precondition failures, policy denials and open circuits are returned as
// errors and no callback fires. Every other path reports through cb exactly
// once: initiation failures and synchronous confirmations immediately, pending
// payments when their polling engine reaches a terminal state.
func (o *Orchestrator) Pay(ctx stdcontext.Context, req PaymentRequest, cb Callbacks) (*Session, error) {
	tracer := otel.Tracer("orchestrator")
	ctx, span := tracer.Start(ctx, "Orchestrator.Pay")
	defer span.End()
	tc := context.NewTraceContext(ctx)
	ctx = tc.Context()
	span.SetAttributes(
		attribute.String("payment.provider", string(req.Provider)),
		attribute.String("payment.transaction_type", string(req.TransactionType)),
		attribute.Int64("payment.amount", req.Amount),
	)

	valid, err := req.Validate()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	decision, err := o.policyEnforcer.Evaluate(valid)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("orchestrator: policy evaluation failed: %w", err)
	}
	if !decision.Allow {
		o.logger.Printf("Orchestrator: payment of %d via %s denied by policy: %s", valid.Amount, valid.Provider, decision.Reason)
		o.record(valid, reporting.OutcomeRecord{Status: reporting.StatusDenied, Message: decision.Reason})
		span.SetStatus(codes.Error, "policy denied")
		return nil, fmt.Errorf("%w: %s", ErrPolicyDenied, decision.Reason)
	}

	var (
		res    adapter.InitiateResult
		preErr error
	)
	breakerErr := o.breaker.Execute(string(valid.Provider), func() error {
		res, preErr = o.gateway.Initiate(ctx, valid)
		if preErr == nil && transient(res) {
			return errTransient
		}
		return nil
	})
	switch {
	case errors.Is(breakerErr, circuitbreaker.ErrOpen):
		o.logger.Printf("Orchestrator: %s circuit open, rejecting initiation", valid.Provider)
		span.SetStatus(codes.Error, breakerErr.Error())
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, breakerErr)
	case preErr != nil:
		span.SetStatus(codes.Error, preErr.Error())
		return nil, preErr
	}

	if !res.Success {
		o.logger.Printf("Orchestrator: initiation via %s failed: %s", valid.Provider, res.Error)
		span.SetStatus(codes.Error, res.Error)
		s := o.resolvedSession(valid, "", poller.StatusFailed, res.Error)
		o.record(valid, reporting.OutcomeRecord{Status: reporting.StatusInitiationFailed, Message: res.Error})
		s.markDone()
		if cb.OnFailure != nil {
			cb.OnFailure(res.Error)
		}
		return s, nil
	}

	span.SetAttributes(attribute.String("payment.session_id", res.SessionID), attribute.String("payment.initial_status", res.RawStatus))

	switch status.Classify(res.RawStatus) {
	case status.AcceptedTerminalSuccess:
		// The provider confirmed synchronously; no engine or timer is created.
		o.logger.Printf("Orchestrator: session %s confirmed at initiation (%s)", res.SessionID, res.RawStatus)
		s := o.resolvedSession(valid, res.SessionID, poller.StatusSuccess, poller.MessageSuccess)
		o.finish(s, reporting.StatusSuccess)
		if cb.OnSuccess != nil {
			cb.OnSuccess(res.SessionID)
		}
		return s, nil
	case status.TerminalFailure:
		o.logger.Printf("Orchestrator: session %s failed at initiation (%s)", res.SessionID, res.RawStatus)
		s := o.resolvedSession(valid, res.SessionID, poller.StatusFailed, poller.MessageFailed)
		o.finish(s, reporting.StatusFailed)
		if cb.OnFailure != nil {
			cb.OnFailure(poller.MessageFailed)
		}
		return s, nil
	}

	return o.startPolling(ctx, valid, res.SessionID, cb)
}

func (o *Orchestrator) startPolling(ctx stdcontext.Context, req adapter.InitiateRequest, sessionID string, cb Callbacks) (*Session, error) {
	pres := presenter.New()
	s := &Session{
		ID:              sessionID,
		Amount:          req.Amount,
		Provider:        req.Provider,
		TransactionType: req.TransactionType,
		CreatedAt:       o.clock.Now(),
		presenter:       pres,
		done:            make(chan struct{}),
	}
	s.engine = poller.New(o.gateway, o.pollConfig,
		poller.WithClock(o.clock),
		poller.WithLogger(o.logger),
		poller.WithObserver(pres.Observe),
	)

	o.sessions.add(s)
	err := s.engine.Start(stdcontext.WithoutCancel(ctx), sessionID, poller.Callbacks{
		OnSuccess: func(id string) {
			o.finish(s, reporting.StatusSuccess)
			if cb.OnSuccess != nil {
				cb.OnSuccess(id)
			}
		},
		OnFailure: func(msg string) {
			o.finish(s, string(s.engine.CurrentState().Status))
			if cb.OnFailure != nil {
				cb.OnFailure(msg)
			}
		},
	})
	if err != nil {
		o.sessions.retire(s)
		return nil, fmt.Errorf("orchestrator: failed to start polling session %s: %w", sessionID, err)
	}
	o.logger.Printf("Orchestrator: polling session %s for %d via %s", sessionID, req.Amount, req.Provider)
	return s, nil
}

func (o *Orchestrator) resolvedSession(req adapter.InitiateRequest, id string, st poller.Status, msg string) *Session {
	return &Session{
		ID:              id,
		Amount:          req.Amount,
		Provider:        req.Provider,
		TransactionType: req.TransactionType,
		CreatedAt:       o.clock.Now(),
		resolved:        poller.State{SessionID: id, Status: st, Message: msg},
		done:            make(chan struct{}),
	}
}

// finish records the outcome of s once and retires it from the active set.
func (o *Orchestrator) finish(s *Session, outcome string) {
	if !s.markDone() {
		return
	}
	o.sessions.retire(s)
	st := s.State()
	now := o.clock.Now()
	o.logger.Printf("Orchestrator: session %s finished as %s in %s", s.ID, outcome, elapsed(s.CreatedAt, now))
	o.recorder.Record(reporting.OutcomeRecord{
		Timestamp:       now.UTC(),
		SessionID:       s.ID,
		Status:          outcome,
		Amount:          s.Amount,
		Provider:        string(s.Provider),
		TransactionType: string(s.TransactionType),
		Attempts:        st.Attempts,
		Polled:          s.Polled(),
		Message:         st.Message,
	})
}

func (o *Orchestrator) record(req adapter.InitiateRequest, rec reporting.OutcomeRecord) {
	rec.Timestamp = o.clock.Now().UTC()
	rec.Amount = req.Amount
	rec.Provider = string(req.Provider)
	rec.TransactionType = string(req.TransactionType)
	o.recorder.Record(rec)
}

// Get returns an active or recently finished session.
func (o *Orchestrator) Get(sessionID string) (*Session, error) {
	s, ok := o.sessions.get(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return s, nil
}

// Cancel stops polling an active session. Its callbacks never fire afterwards.
// A session the engine already resolved keeps its terminal status in the
// recorded outcome.
func (o *Orchestrator) Cancel(sessionID string) error {
	s, ok := o.sessions.getActive(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	s.engine.Cancel()
	outcome := reporting.StatusCancelled
	if st := s.engine.CurrentState(); st.Status.IsTerminal() {
		outcome = string(st.Status)
	}
	o.finish(s, outcome)
	o.logger.Printf("Orchestrator: session %s cancelled (%s)", sessionID, outcome)
	return nil
}

// Active returns the sessions still being polled, oldest first.
func (o *Orchestrator) Active() []*Session {
	return o.sessions.list()
}

// Shutdown cancels every active session.
func (o *Orchestrator) Shutdown() {
	for _, s := range o.sessions.list() {
		_ = o.Cancel(s.ID)
	}
}

// Outcomes returns the recorded outcomes, oldest first.
func (o *Orchestrator) Outcomes() []reporting.OutcomeRecord {
	return o.recorder.Records()
}

// PollConfig returns the polling configuration handed to each engine.
func (o *Orchestrator) PollConfig() poller.Config {
	return o.pollConfig
}

func elapsed(from, to time.Time) time.Duration {
	return to.Sub(from).Round(time.Millisecond)
}
