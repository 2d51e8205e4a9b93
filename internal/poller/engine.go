package poller

import (
	stdcontext "context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/yourorg/payment-confirmation/internal/adapter"
	"github.com/yourorg/payment-confirmation/internal/logging"
	"github.com/yourorg/payment-confirmation/internal/metrics"
)

var (
	// ErrAlreadyStarted is returned by Start when the engine is not idle.
	ErrAlreadyStarted = errors.New("poller: engine already started")
	// ErrEmptySession is returned by Start for a blank session id.
	ErrEmptySession = errors.New("poller: session id is required")
)

const (
	DefaultInterval              = 3 * time.Second
	DefaultMaxAttempts           = 20
	DefaultMaxFailures           = 10
	DefaultNotFoundGraceAttempts = 5
	DefaultSuccessDisplayDelay   = 1500 * time.Millisecond
)

// Config holds the engine knobs.
type Config struct {
	Interval              time.Duration
	MaxAttempts           int
	MaxFailures           int
	NotFoundGraceAttempts int
	// SuccessDisplayDelay postpones the success callback. Zero reports at once.
	SuccessDisplayDelay time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Interval:              DefaultInterval,
		MaxAttempts:           DefaultMaxAttempts,
		MaxFailures:           DefaultMaxFailures,
		NotFoundGraceAttempts: DefaultNotFoundGraceAttempts,
		SuccessDisplayDelay:   DefaultSuccessDisplayDelay,
	}
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = DefaultMaxFailures
	}
	if c.NotFoundGraceAttempts <= 0 {
		c.NotFoundGraceAttempts = DefaultNotFoundGraceAttempts
	}
	if c.SuccessDisplayDelay < 0 {
		c.SuccessDisplayDelay = 0
	}
	return c
}

// Limits returns the thresholds used by Transition.
func (c Config) Limits() Limits {
	return Limits{
		MaxAttempts:           c.MaxAttempts,
		MaxFailures:           c.MaxFailures,
		NotFoundGraceAttempts: c.NotFoundGraceAttempts,
	}
}

// Callbacks receive the single terminal outcome of a session. They run on
// the engine goroutine with no engine lock held.
type Callbacks struct {
	OnSuccess func(sessionID string)
	OnFailure func(message string)
}

// Observer receives a copy of the state after every change. Observers run
// in transition order and must not call Start, Cancel or Reset.
type Observer func(State)

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the real clock.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) {
		e.logger = logging.OrDefault(l)
	}
}

// Engine polls one session at a time.
type Engine struct {
	checker   adapter.StatusChecker
	cfg       Config
	clock     Clock
	logger    logging.Logger
	observers []Observer

	// emitMu orders state changes with their observer notifications.
	emitMu sync.Mutex

	mu     sync.Mutex
	state  State
	gen    uint64
	cancel stdcontext.CancelFunc
	done   chan struct{}
}

// New creates an idle engine. Zero config fields take the defaults.
func New(checker adapter.StatusChecker, cfg Config, opts ...Option) *Engine {
	if checker == nil {
		panic("StatusChecker cannot be nil")
	}
	e := &Engine{
		checker: checker,
		cfg:     cfg.withDefaults(),
		clock:   RealClock{},
		logger:  logging.Default(),
		state:   IdleState(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Start begins polling sessionID. The first check runs one interval later.
// Cancelling ctx has the same effect as Cancel.
func (e *Engine) Start(ctx stdcontext.Context, sessionID string, cb Callbacks) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrEmptySession
	}
	if ctx == nil {
		ctx = stdcontext.Background()
	}

	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	e.mu.Lock()
	if e.state.Status != StatusIdle {
		st := e.state.Status
		e.mu.Unlock()
		return fmt.Errorf("%w: status is %s", ErrAlreadyStarted, st)
	}
	e.gen++
	gen := e.gen
	runCtx, cancel := stdcontext.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.state = PollingState(sessionID)
	snapshot, done := e.state, e.done
	e.mu.Unlock()

	e.notify(snapshot)
	metrics.PollStarted()
	e.logger.Printf("Poller: started session %s (interval %s, max attempts %d)", sessionID, e.cfg.Interval, e.cfg.MaxAttempts)

	go e.run(runCtx, cancel, gen, sessionID, cb, done)
	return nil
}

// Cancel stops the timer and discards any in-flight result. The state is
// left as it was; pending callbacks never fire.
func (e *Engine) Cancel() {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelLocked()
}

func (e *Engine) cancelLocked() {
	if e.cancel == nil {
		return
	}
	e.state, _ = Transition(e.state, Cancelled(), e.cfg.Limits())
	e.gen++
	e.cancel()
	e.cancel = nil
	if e.state.Status == StatusPolling {
		metrics.ObservePollTerminal("cancelled", e.state.Attempts)
		e.logger.Printf("Poller: session %s cancelled after %d attempts", e.state.SessionID, e.state.Attempts)
	}
}

// Reset cancels any activity and returns the engine to idle.
func (e *Engine) Reset() {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	e.mu.Lock()
	e.cancelLocked()
	e.state = IdleState()
	snapshot := e.state
	e.mu.Unlock()

	e.notify(snapshot)
}

// CurrentState returns a copy of the state.
func (e *Engine) CurrentState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Done is closed when the loop of the latest Start exits.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return e.done
}

func (e *Engine) run(ctx stdcontext.Context, cancel stdcontext.CancelFunc, gen uint64, sessionID string, cb Callbacks, done chan struct{}) {
	defer close(done)
	defer metrics.PollStopped()
	defer cancel()

	for {
		if !e.sleep(ctx, e.cfg.Interval) {
			return
		}

		effect, st := e.apply(gen, TickStarted())
		switch effect {
		case EffectCheckStatus:
		case EffectReportFailure:
			e.terminal(ctx, gen, st, cb)
			return
		default:
			return
		}

		effect, st = e.apply(gen, e.check(ctx, sessionID))
		switch effect {
		case EffectScheduleNext:
			continue
		case EffectReportSuccess, EffectReportFailure:
			e.terminal(ctx, gen, st, cb)
			return
		default:
			e.logger.Printf("Poller: discarded status result for session %s", sessionID)
			return
		}
	}
}

// apply runs one transition if gen is still current. Stale generations get EffectNone.
func (e *Engine) apply(gen uint64, ev Event) (Effect, State) {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	e.mu.Lock()
	if gen != e.gen {
		st := e.state
		e.mu.Unlock()
		return EffectNone, st
	}
	prev := e.state
	next, effect := Transition(prev, ev, e.cfg.Limits())
	e.state = next
	e.mu.Unlock()

	if next != prev {
		e.notify(next)
	}
	return effect, next
}

func (e *Engine) terminal(ctx stdcontext.Context, gen uint64, st State, cb Callbacks) {
	metrics.ObservePollTerminal(string(st.Status), st.Attempts)
	e.logger.Printf("Poller: session %s finished as %s after %d attempts", st.SessionID, st.Status, st.Attempts)

	if st.Status == StatusSuccess {
		if !e.sleep(ctx, e.cfg.SuccessDisplayDelay) || !e.current(gen) {
			return
		}
		if cb.OnSuccess != nil {
			cb.OnSuccess(st.SessionID)
		}
		return
	}
	if !e.current(gen) {
		return
	}
	if cb.OnFailure != nil {
		cb.OnFailure(st.Message)
	}
}

func (e *Engine) current(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return gen == e.gen
}

// sleep waits d on the engine clock. It reports false if ctx ended first.
func (e *Engine) sleep(ctx stdcontext.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := e.clock.NewTimer(d)
	select {
	case <-ctx.Done():
		t.Stop()
		return false
	case <-t.C():
		return true
	}
}

// check performs one status call. Panics and precondition errors count as
// transport failures.
func (e *Engine) check(ctx stdcontext.Context, sessionID string) (ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Printf("Poller: status check for session %s panicked: %v", sessionID, r)
			ev = GatewayFailed(fmt.Errorf("status check panicked: %v", r))
		}
	}()

	res, err := e.checker.CheckStatus(ctx, sessionID)
	if err != nil {
		e.logger.Printf("Poller: status check for session %s failed: %v", sessionID, err)
		return GatewayFailed(err)
	}
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "status check failed"
		}
		return GatewayFailed(errors.New(msg))
	}
	return GatewaySucceeded(res.RawStatus)
}

func (e *Engine) notify(st State) {
	for _, o := range e.observers {
		o(st)
	}
}
