package repository

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/notifyhub/notification-outbox/internal/domain"
)

// MockIdempotencyRepository is a hand-written, in-memory implementation of
// IdempotencyRepository used in unit tests.
type MockIdempotencyRepository struct {
	mu      sync.RWMutex
	records map[string]*IdempotencyRecord

	GetErr    error
	InsertErr error
}

func NewMockIdempotencyRepository() *MockIdempotencyRepository {
	return &MockIdempotencyRepository{records: make(map[string]*IdempotencyRecord)}
}

func (m *MockIdempotencyRepository) Get(_ context.Context, key, operationType string) (*IdempotencyRecord, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key+"|"+operationType]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (m *MockIdempotencyRepository) Insert(_ context.Context, _ pgx.Tx, rec *IdempotencyRecord) error {
	if m.InsertErr != nil {
		return m.InsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := rec.Key + "|" + rec.OperationType
	if _, ok := m.records[k]; ok {
		return domain.ErrConflict
	}
	clone := *rec
	m.records[k] = &clone
	return nil
}
