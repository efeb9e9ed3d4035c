package repository

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/notifyhub/notification-outbox/internal/domain"
)

// MockRequestRepository is a hand-written, in-memory implementation of
// RequestRepository used in unit tests. No mock-generation library needed.
type MockRequestRepository struct {
	mu       sync.RWMutex
	requests map[string]*domain.Request

	// Outboxes receives every outbox record written through
	// CreateWithOutbox so tests can assert on the escorting records.
	Outboxes []*domain.Outbox

	// Optional error overrides, set in tests to simulate failure paths.
	CreateErr  error
	GetByIDErr error
	SaveErr    error
}

func NewMockRequestRepository() *MockRequestRepository {
	return &MockRequestRepository{requests: make(map[string]*domain.Request)}
}

func (m *MockRequestRepository) CreateWithOutbox(_ context.Context, _ pgx.Tx, req *domain.Request, outbox *domain.Outbox) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *req
	m.requests[req.ID] = &clone
	oc := *outbox
	m.Outboxes = append(m.Outboxes, &oc)
	return nil
}

func (m *MockRequestRepository) GetByID(_ context.Context, id string) (*domain.Request, error) {
	if m.GetByIDErr != nil {
		return nil, m.GetByIDErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *req
	return &clone, nil
}

func (m *MockRequestRepository) Save(_ context.Context, req *domain.Request) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[req.ID]; !ok {
		return domain.ErrNotFound
	}
	clone := *req
	m.requests[req.ID] = &clone
	return nil
}

func (m *MockRequestRepository) List(_ context.Context, f ListFilter) ([]*domain.Request, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Request
	for _, req := range m.requests {
		if f.Status != nil && req.Status != *f.Status {
			continue
		}
		clone := *req
		out = append(out, &clone)
	}
	return out, len(out), nil
}
