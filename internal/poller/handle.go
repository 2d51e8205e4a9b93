package poller

import (
	stdcontext "context"
	"time"

	"github.com/yourorg/payment-confirmation/internal/adapter"
	"github.com/yourorg/payment-confirmation/internal/logging"
)

// StartOptions configures StartPolling. Zero values take the defaults.
type StartOptions struct {
	OnSuccess func(sessionID string)
	OnFailure func(message string)

	MaxAttempts           int
	Interval              time.Duration
	MaxFailures           int
	NotFoundGraceAttempts int
	SuccessDisplayDelay   *time.Duration

	Clock    Clock
	Logger   logging.Logger
	Observer Observer
}

// Handle controls a session started with StartPolling.
type Handle struct {
	engine *Engine
}

// StartPolling creates a dedicated engine for sessionID and starts it.
func StartPolling(ctx stdcontext.Context, checker adapter.StatusChecker, sessionID string, opts StartOptions) (*Handle, error) {
	cfg := DefaultConfig()
	if opts.MaxAttempts > 0 {
		cfg.MaxAttempts = opts.MaxAttempts
	}
	if opts.Interval > 0 {
		cfg.Interval = opts.Interval
	}
	if opts.MaxFailures > 0 {
		cfg.MaxFailures = opts.MaxFailures
	}
	if opts.NotFoundGraceAttempts > 0 {
		cfg.NotFoundGraceAttempts = opts.NotFoundGraceAttempts
	}
	if opts.SuccessDisplayDelay != nil {
		cfg.SuccessDisplayDelay = *opts.SuccessDisplayDelay
	}

	engineOpts := []Option{WithClock(opts.Clock), WithObserver(opts.Observer)}
	if opts.Logger != nil {
		engineOpts = append(engineOpts, WithLogger(opts.Logger))
	}
	e := New(checker, cfg, engineOpts...)
	if err := e.Start(ctx, sessionID, Callbacks{OnSuccess: opts.OnSuccess, OnFailure: opts.OnFailure}); err != nil {
		return nil, err
	}
	return &Handle{engine: e}, nil
}

// Cancel stops polling and suppresses any pending callback.
func (h *Handle) Cancel() { h.engine.Cancel() }

// CurrentState returns a copy of the session state.
func (h *Handle) CurrentState() State { return h.engine.CurrentState() }

// Done is closed when polling has stopped.
func (h *Handle) Done() <-chan struct{} { return h.engine.Done() }
