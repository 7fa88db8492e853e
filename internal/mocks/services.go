package mocks

import (
	"context"

	"github.com/pingone-bulk-console/internal/models"
	"github.com/pingone-bulk-console/internal/service"
)

// MockOperationService is a mock implementation of service.OperationService
type MockOperationService struct {
	StartFunc           func(kind models.OperationKind, req *models.OperationRequest) (*models.Operation, error)
	GetFunc             func(id string) (*models.Operation, bool)
	TestCredentialsFunc func(ctx context.Context, environmentID, clientID, clientSecret string) error

	Operations map[string]*models.Operation
	Cancelled  []string
	Started    []*models.OperationRequest
}

// Verify interface compliance
var _ service.OperationService = (*MockOperationService)(nil)

func NewMockOperationService() *MockOperationService {
	return &MockOperationService{
		Operations: make(map[string]*models.Operation),
	}
}

func (m *MockOperationService) Start(kind models.OperationKind, req *models.OperationRequest) (*models.Operation, error) {
	m.Started = append(m.Started, req)
	if m.StartFunc != nil {
		return m.StartFunc(kind, req)
	}
	op := &models.Operation{
		ID:     "test-operation-id",
		Kind:   kind,
		Status: models.OperationStatusPending,
	}
	m.Operations[op.ID] = op
	return op, nil
}

func (m *MockOperationService) Get(id string) (*models.Operation, bool) {
	if m.GetFunc != nil {
		return m.GetFunc(id)
	}
	op, ok := m.Operations[id]
	return op, ok
}

func (m *MockOperationService) Cancel(id string) bool {
	op, ok := m.Operations[id]
	if !ok || op.Terminal() {
		return false
	}
	m.Cancelled = append(m.Cancelled, id)
	return true
}

func (m *MockOperationService) TestCredentials(ctx context.Context, environmentID, clientID, clientSecret string) error {
	if m.TestCredentialsFunc != nil {
		return m.TestCredentialsFunc(ctx, environmentID, clientID, clientSecret)
	}
	return nil
}

// MockProgressService is a mock implementation of service.ProgressService
type MockProgressService struct {
	Events map[string][]models.ProgressEvent
}

// Verify interface compliance
var _ service.ProgressService = (*MockProgressService)(nil)

func NewMockProgressService() *MockProgressService {
	return &MockProgressService{
		Events: make(map[string][]models.ProgressEvent),
	}
}

// Subscribe replays the canned events for the operation and closes the
// channel, which is how a finished stream behaves.
func (m *MockProgressService) Subscribe(ctx context.Context, operationID string) <-chan models.ProgressEvent {
	events := m.Events[operationID]
	ch := make(chan models.ProgressEvent, len(events)+1)
	for _, event := range events {
		ch <- event
	}
	close(ch)
	return ch
}
