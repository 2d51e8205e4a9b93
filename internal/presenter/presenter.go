// Package presenter turns polling state into what a payment modal shows.
// It only reads engine state.
package presenter

import (
	"sync"

	"github.com/yourorg/payment-confirmation/internal/poller"
)

// Icon names understood by the UI layer.
const (
	IconNone    = "none"
	IconSpinner = "spinner"
	IconSuccess = "check-circle"
	IconFailure = "x-circle"
	IconTimeout = "clock"
	IconWarning = "alert-triangle"
)

// View is the rendered form of a poller.State.
type View struct {
	Status   poller.Status `json:"status"`
	Icon     string        `json:"icon"`
	Text     string        `json:"text"`
	Attempts int           `json:"attempts"`
	Terminal bool          `json:"terminal"`
}

// Render maps a state to its view.
func Render(s poller.State) View {
	v := View{
		Status:   s.Status,
		Text:     s.Message,
		Attempts: s.Attempts,
		Terminal: s.Status.IsTerminal(),
	}
	switch s.Status {
	case poller.StatusPolling:
		v.Icon = IconSpinner
	case poller.StatusSuccess:
		v.Icon = IconSuccess
	case poller.StatusFailed:
		v.Icon = IconFailure
	case poller.StatusTimeout:
		v.Icon = IconTimeout
	case poller.StatusError:
		v.Icon = IconWarning
	default:
		v.Icon = IconNone
	}
	if v.Text == "" {
		v.Text = poller.MessageIdle
	}
	return v
}

// Presenter keeps the latest view of one engine and fans it out.
type Presenter struct {
	mu          sync.RWMutex
	current     View
	subscribers []chan View
}

// New returns a Presenter showing the idle view.
func New() *Presenter {
	return &Presenter{current: Render(poller.IdleState())}
}

// Observe is a poller.Observer. Views that did not change are not re-sent.
func (p *Presenter) Observe(s poller.State) {
	v := Render(s)

	p.mu.Lock()
	defer p.mu.Unlock()
	if v == p.current {
		return
	}
	p.current = v
	for _, ch := range p.subscribers {
		// Drop the stale view so a slow reader always gets the latest one.
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}

// Current returns the latest view.
func (p *Presenter) Current() View {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Subscribe returns a channel that always holds the most recent view not yet
// read, and a function that releases it.
func (p *Presenter) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 1)

	p.mu.Lock()
	ch <- p.current
	p.subscribers = append(p.subscribers, ch)
	p.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			for i, c := range p.subscribers {
				if c == ch {
					p.subscribers = append(p.subscribers[:i], p.subscribers[i+1:]...)
					break
				}
			}
			close(ch)
		})
	}
}
