package repository

import (
	"context"
	"sync"

	"github.com/notifyhub/notification-outbox/internal/domain"
)

// MockMessageRepository is a hand-written, in-memory implementation of
// MessageRepository used in unit tests.
type MockMessageRepository struct {
	mu       sync.RWMutex
	messages map[string]*domain.Message
	pairs    map[string]bool

	// Outboxes receives every outbox record written through
	// CreateWithOutbox.
	Outboxes []*domain.Outbox
	// FinalizedOutboxIDs records the outbox IDs deleted by the finalize
	// calls, in order.
	FinalizedOutboxIDs []string

	CreateErr   error
	GetByIDErr  error
	SaveErr     error
	FinalizeErr error
}

func NewMockMessageRepository() *MockMessageRepository {
	return &MockMessageRepository{
		messages: make(map[string]*domain.Message),
		pairs:    make(map[string]bool),
	}
}

func (m *MockMessageRepository) CreateWithOutbox(_ context.Context, msg *domain.Message, outbox *domain.Outbox) (bool, error) {
	if m.CreateErr != nil {
		return false, m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	pair := msg.RequestID + "|" + msg.Recipient.Key() + "|" + string(msg.Channel)
	if m.pairs[pair] {
		return false, nil
	}
	m.pairs[pair] = true
	clone := *msg
	m.messages[msg.ID] = &clone
	oc := *outbox
	m.Outboxes = append(m.Outboxes, &oc)
	return true, nil
}

func (m *MockMessageRepository) GetByID(_ context.Context, id string) (*domain.Message, error) {
	if m.GetByIDErr != nil {
		return nil, m.GetByIDErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *msg
	return &clone, nil
}

func (m *MockMessageRepository) ListByRequestID(_ context.Context, requestID string) ([]*domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Message
	for _, msg := range m.messages {
		if msg.RequestID == requestID {
			clone := *msg
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *MockMessageRepository) Save(_ context.Context, msg *domain.Message) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[msg.ID]; !ok {
		return domain.ErrNotFound
	}
	clone := *msg
	m.messages[msg.ID] = &clone
	return nil
}

func (m *MockMessageRepository) FinalizeDispatched(ctx context.Context, msg *domain.Message, outboxID string) error {
	return m.finalize(ctx, msg, outboxID)
}

func (m *MockMessageRepository) FinalizeFailed(ctx context.Context, msg *domain.Message, outboxID string) error {
	return m.finalize(ctx, msg, outboxID)
}

func (m *MockMessageRepository) finalize(_ context.Context, msg *domain.Message, outboxID string) error {
	if m.FinalizeErr != nil {
		return m.FinalizeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *msg
	m.messages[msg.ID] = &clone
	m.FinalizedOutboxIDs = append(m.FinalizedOutboxIDs, outboxID)
	return nil
}
