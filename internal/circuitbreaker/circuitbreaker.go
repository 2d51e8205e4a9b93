// Package circuitbreaker keeps one gobreaker per mobile-money provider so a
// failing operator stops receiving initiations while the others keep working.
package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/yourorg/payment-confirmation/internal/logging"
	"github.com/yourorg/payment-confirmation/internal/metrics"
)

// ErrOpen is returned when a provider's circuit rejects a call.
var ErrOpen = errors.New("circuitbreaker: provider unavailable")

// State re-exports the gobreaker states.
type State = gobreaker.State

const (
	StateClosed   = gobreaker.StateClosed
	StateHalfOpen = gobreaker.StateHalfOpen
	StateOpen     = gobreaker.StateOpen
)

const (
	defaultFailureThreshold    = 3
	defaultResetTimeout        = 30 * time.Second
	defaultHalfOpenMaxRequests = 1
)

// Config holds the breaker settings shared by every provider.
type Config struct {
	FailureThreshold    uint32        // consecutive failures that open the circuit
	ResetTimeout        time.Duration // time spent open before probing again
	HalfOpenMaxRequests uint32        // trial calls allowed while half-open
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = defaultFailureThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = defaultResetTimeout
	}
	if c.HalfOpenMaxRequests == 0 {
		c.HalfOpenMaxRequests = defaultHalfOpenMaxRequests
	}
	return c
}

// CircuitBreaker monitors provider health and short-circuits calls to unhealthy providers.
type CircuitBreaker struct {
	cfg    Config
	logger logging.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewCircuitBreaker creates a CircuitBreaker. Zero config fields take the defaults.
func NewCircuitBreaker(cfg Config, logger logging.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:      cfg.withDefaults(),
		logger:   logging.OrDefault(logger),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (cb *CircuitBreaker) breaker(provider string) *gobreaker.CircuitBreaker {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if b, ok := cb.breakers[provider]; ok {
		return b
	}
	threshold := cb.cfg.FailureThreshold
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        provider,
		MaxRequests: cb.cfg.HalfOpenMaxRequests,
		Timeout:     cb.cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			cb.logger.Printf("CircuitBreaker: provider %s moved from %s to %s", name, from, to)
		},
	})
	cb.breakers[provider] = b
	return b
}

// Execute runs fn through the provider's breaker. A non-nil error from fn
// counts as a failure. Rejected calls return an error wrapping ErrOpen.
func (cb *CircuitBreaker) Execute(provider string, fn func() error) error {
	_, err := cb.breaker(provider).Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.ObserveBreakerRejection(provider)
		return fmt.Errorf("%w: %s (%v)", ErrOpen, provider, err)
	}
	return err
}

// AllowRequest reports whether a call for provider would currently be let
// through. A half-open circuit allows calls only while trial calls are left.
func (cb *CircuitBreaker) AllowRequest(provider string) bool {
	b := cb.breaker(provider)
	switch b.State() {
	case StateOpen:
		return false
	case StateHalfOpen:
		return b.Counts().Requests < cb.cfg.HalfOpenMaxRequests
	}
	return true
}

// GetProviderStatus returns the state and consecutive failure count for a provider.
func (cb *CircuitBreaker) GetProviderStatus(provider string) (State, uint32) {
	b := cb.breaker(provider)
	return b.State(), b.Counts().ConsecutiveFailures
}

// ProviderHealth is a snapshot of one provider's circuit.
type ProviderHealth struct {
	State               string `json:"state"`
	ConsecutiveFailures uint32 `json:"consecutiveFailures"`
	AllowRequests       bool   `json:"allowRequests"`
}

// Providers reports the circuit of each given provider.
func (cb *CircuitBreaker) Providers(providers ...string) map[string]ProviderHealth {
	out := make(map[string]ProviderHealth, len(providers))
	for _, p := range providers {
		state, failures := cb.GetProviderStatus(p)
		out[p] = ProviderHealth{
			State:               state.String(),
			ConsecutiveFailures: failures,
			AllowRequests:       cb.AllowRequest(p),
		}
	}
	return out
}
