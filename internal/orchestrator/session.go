package orchestrator

import (
	"sort"
	"sync"
	"time"

	"github.com/yourorg/payment-confirmation/internal/adapter"
	"github.com/yourorg/payment-confirmation/internal/poller"
	"github.com/yourorg/payment-confirmation/internal/presenter"
)

// Session is one initiated payment. Sessions resolved by the initiate
// response itself carry no engine.
type Session struct {
	ID              string
	Amount          int64
	Provider        adapter.Provider
	TransactionType adapter.TransactionType
	CreatedAt       time.Time

	engine    *poller.Engine
	presenter *presenter.Presenter
	resolved  poller.State

	once sync.Once
	done chan struct{}
}

// State returns a copy of the session's polling state.
func (s *Session) State() poller.State {
	if s.engine != nil {
		return s.engine.CurrentState()
	}
	return s.resolved
}

// View returns the rendered state.
func (s *Session) View() presenter.View {
	if s.presenter != nil {
		return s.presenter.Current()
	}
	return presenter.Render(s.resolved)
}

// Subscribe streams view updates. Sessions without an engine get a single view.
func (s *Session) Subscribe() (<-chan presenter.View, func()) {
	if s.presenter != nil {
		return s.presenter.Subscribe()
	}
	ch := make(chan presenter.View, 1)
	ch <- presenter.Render(s.resolved)
	close(ch)
	return ch, func() {}
}

// Polled reports whether a polling engine was started for the session.
func (s *Session) Polled() bool {
	return s.engine != nil
}

// Done is closed once the session outcome has been recorded.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) markDone() bool {
	first := false
	s.once.Do(func() {
		first = true
		close(s.done)
	})
	return first
}

const finishedCapacity = 256

// registry tracks active sessions and remembers recently finished ones so
// their final state can still be looked up.
type registry struct {
	mu            sync.RWMutex
	active        map[string]*Session
	finished      map[string]*Session
	finishedOrder []string
}

func newRegistry() *registry {
	return &registry{
		active:   make(map[string]*Session),
		finished: make(map[string]*Session),
	}
}

func (r *registry) add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[s.ID] = s
}

func (r *registry) retire(s *Session) {
	if s.ID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, s.ID)
	if _, ok := r.finished[s.ID]; ok {
		return
	}
	r.finished[s.ID] = s
	r.finishedOrder = append(r.finishedOrder, s.ID)
	if len(r.finishedOrder) > finishedCapacity {
		oldest := r.finishedOrder[0]
		r.finishedOrder = r.finishedOrder[1:]
		delete(r.finished, oldest)
	}
}

func (r *registry) get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.active[id]; ok {
		return s, true
	}
	s, ok := r.finished[id]
	return s, ok
}

func (r *registry) getActive(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.active[id]
	return s, ok
}

func (r *registry) list() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.active))
	for _, s := range r.active {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
