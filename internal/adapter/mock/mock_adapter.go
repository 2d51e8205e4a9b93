package mock

import (
	stdcontext "context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/yourorg/payment-confirmation/internal/adapter"
)

// MockAdapter is a scriptable in-memory adapter.Gateway.
//
// InitiateFunc and CheckStatusFunc take precedence when set. Otherwise
// Initiate returns a fresh deposit id with InitialStatus, and CheckStatus
// pops the next queued StatusResult, repeating the last one once the
// script is exhausted.
type MockAdapter struct {
	Name            string
	InitialStatus   string
	InitiateFunc    func(ctx stdcontext.Context, req adapter.InitiateRequest) (adapter.InitiateResult, error)
	CheckStatusFunc func(ctx stdcontext.Context, sessionID string) (adapter.StatusResult, error)

	mu          sync.Mutex
	script      []adapter.StatusResult
	initiated   []adapter.InitiateRequest
	statusCalls map[string]int
}

// NewMockAdapter creates a new MockAdapter.
func NewMockAdapter(name string) *MockAdapter {
	return &MockAdapter{Name: name, InitialStatus: "SUBMITTED", statusCalls: make(map[string]int)}
}

// GetName implements adapter.Gateway.
func (m *MockAdapter) GetName() string {
	return m.Name
}

// QueueStatuses appends successful status responses to the script.
func (m *MockAdapter) QueueStatuses(raw ...string) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range raw {
		m.script = append(m.script, adapter.StatusResult{Success: true, RawStatus: r})
	}
	return m
}

// QueueTransportFailures appends n unreachable responses to the script.
func (m *MockAdapter) QueueTransportFailures(n int) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		m.script = append(m.script, adapter.StatusResult{Error: "payment service unreachable: mock"})
	}
	return m
}

// Initiate implements adapter.Gateway.
func (m *MockAdapter) Initiate(ctx stdcontext.Context, req adapter.InitiateRequest) (adapter.InitiateResult, error) {
	m.mu.Lock()
	m.initiated = append(m.initiated, req)
	m.mu.Unlock()

	if m.InitiateFunc != nil {
		return m.InitiateFunc(ctx, req)
	}
	if _, err := req.Validate(); err != nil {
		return adapter.InitiateResult{Error: err.Error()}, err
	}
	return adapter.InitiateResult{
		Success:   true,
		SessionID: fmt.Sprintf("%s-%s", m.Name, uuid.NewString()),
		RawStatus: m.InitialStatus,
	}, nil
}

// CheckStatus implements adapter.Gateway.
func (m *MockAdapter) CheckStatus(ctx stdcontext.Context, sessionID string) (adapter.StatusResult, error) {
	m.mu.Lock()
	if m.statusCalls == nil {
		m.statusCalls = make(map[string]int)
	}
	m.statusCalls[sessionID]++
	m.mu.Unlock()

	if m.CheckStatusFunc != nil {
		return m.CheckStatusFunc(ctx, sessionID)
	}
	if sessionID == "" {
		return adapter.StatusResult{}, fmt.Errorf("%w: session id is required", adapter.ErrInvalidRequest)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	switch len(m.script) {
	case 0:
		return adapter.StatusResult{Success: true, RawStatus: "PENDING"}, nil
	case 1:
		return m.script[0], nil
	default:
		next := m.script[0]
		m.script = m.script[1:]
		return next, nil
	}
}

// Initiated returns the requests received so far.
func (m *MockAdapter) Initiated() []adapter.InitiateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]adapter.InitiateRequest(nil), m.initiated...)
}

// StatusCalls returns how many status checks were made for sessionID.
func (m *MockAdapter) StatusCalls(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusCalls[sessionID]
}

var _ adapter.Gateway = (*MockAdapter)(nil)
