package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/pingone-bulk-console/internal/models"
	"github.com/pingone-bulk-console/internal/pingone"
)

// PerformCall records one invocation of MockUserAPI.Perform
type PerformCall struct {
	Kind          models.OperationKind
	Record        models.Record
	EnvironmentID string
}

// MockUserAPI is a mock implementation of pingone.UserAPI. The orchestrator
// calls it from its own goroutine, so call recording is guarded.
type MockUserAPI struct {
	PerformFunc func(ctx context.Context, kind models.OperationKind, record models.Record, token pingone.Token, environmentID string) (models.OperationResult, error)

	mu    sync.Mutex
	calls []PerformCall
}

// Verify interface compliance
var _ pingone.UserAPI = (*MockUserAPI)(nil)

func NewMockUserAPI() *MockUserAPI {
	return &MockUserAPI{}
}

func (m *MockUserAPI) Perform(ctx context.Context, kind models.OperationKind, record models.Record, token pingone.Token, environmentID string) (models.OperationResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, PerformCall{Kind: kind, Record: record, EnvironmentID: environmentID})
	m.mu.Unlock()

	if m.PerformFunc != nil {
		return m.PerformFunc(ctx, kind, record, token, environmentID)
	}
	return models.OperationResult{
		Identifier: record.Identifier(),
		Status:     models.SuccessStatusFor(kind),
	}, nil
}

// Calls returns a copy of the recorded invocations
func (m *MockUserAPI) Calls() []PerformCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([]PerformCall, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// CallCount returns how many times Perform was invoked
func (m *MockUserAPI) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// MockTokenSource is a mock implementation of pingone.TokenSource
type MockTokenSource struct {
	GetTokenFunc  func(ctx context.Context, environmentID, clientID, clientSecret string) (pingone.Token, error)
	TestTokenFunc func(ctx context.Context, environmentID, clientID, clientSecret string) (pingone.Token, error)

	mu          sync.Mutex
	getCalls    int
	testCalls   int
	invalidated []string
}

// Verify interface compliance
var _ pingone.TokenSource = (*MockTokenSource)(nil)

func NewMockTokenSource() *MockTokenSource {
	return &MockTokenSource{}
}

func (m *MockTokenSource) GetToken(ctx context.Context, environmentID, clientID, clientSecret string) (pingone.Token, error) {
	m.mu.Lock()
	m.getCalls++
	m.mu.Unlock()

	if m.GetTokenFunc != nil {
		return m.GetTokenFunc(ctx, environmentID, clientID, clientSecret)
	}
	return pingone.Token{AccessToken: "mock-token", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (m *MockTokenSource) TestToken(ctx context.Context, environmentID, clientID, clientSecret string) (pingone.Token, error) {
	m.mu.Lock()
	m.testCalls++
	m.mu.Unlock()

	if m.TestTokenFunc != nil {
		return m.TestTokenFunc(ctx, environmentID, clientID, clientSecret)
	}
	return pingone.Token{AccessToken: "mock-token", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (m *MockTokenSource) Invalidate(environmentID, clientID string) {
	m.mu.Lock()
	m.invalidated = append(m.invalidated, environmentID+"/"+clientID)
	m.mu.Unlock()
}

// GetCalls returns how many times GetToken was invoked
func (m *MockTokenSource) GetCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getCalls
}

// Invalidated returns the keys dropped via Invalidate
func (m *MockTokenSource) Invalidated() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, len(m.invalidated))
	copy(keys, m.invalidated)
	return keys
}
