package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/notifyhub/notification-outbox/internal/domain"
)

// MockOutboxStore is a hand-written, in-memory implementation of OutboxStore
// used in unit tests. Claim semantics mirror the conditional update of the
// real store, minus the row locking.
type MockOutboxStore struct {
	mu      sync.Mutex
	records map[string]*domain.Outbox

	ClaimErr  error
	UpdateErr error
	DeleteErr error
}

func NewMockOutboxStore() *MockOutboxStore {
	return &MockOutboxStore{records: make(map[string]*domain.Outbox)}
}

// Put seeds a record, replacing any existing one with the same ID.
func (m *MockOutboxStore) Put(o *domain.Outbox) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *o
	m.records[o.ID] = &clone
}

func (m *MockOutboxStore) ClaimDue(_ context.Context, now time.Time, limit int) ([]*domain.Outbox, error) {
	if m.ClaimErr != nil {
		return nil, m.ClaimErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*domain.Outbox
	for _, o := range m.records {
		if claimable(o, now) {
			due = append(due, o)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*domain.Outbox, 0, len(due))
	for _, o := range due {
		o.Status = domain.OutboxInProgress
		ts := now
		o.ProcessedAt = &ts
		clone := *o
		claimed = append(claimed, &clone)
	}
	return claimed, nil
}

func (m *MockOutboxStore) ClaimByID(_ context.Context, id string, now time.Time) (*domain.Outbox, error) {
	if m.ClaimErr != nil {
		return nil, m.ClaimErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.records[id]
	if !ok || !claimable(o, now) {
		return nil, domain.ErrNotFound
	}
	o.Status = domain.OutboxInProgress
	ts := now
	o.ProcessedAt = &ts
	clone := *o
	return &clone, nil
}

func (m *MockOutboxStore) GetByID(_ context.Context, id string) (*domain.Outbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *o
	return &clone, nil
}

func (m *MockOutboxStore) Update(_ context.Context, o *domain.Outbox) error {
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[o.ID]; !ok {
		return domain.ErrNotFound
	}
	clone := *o
	m.records[o.ID] = &clone
	return nil
}

func (m *MockOutboxStore) Delete(_ context.Context, id string) error {
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *MockOutboxStore) ResetStuck(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, o := range m.records {
		if o.Status == domain.OutboxInProgress && o.ProcessedAt != nil && o.ProcessedAt.Before(cutoff) {
			o.Status = domain.OutboxPending
			o.ProcessedAt = nil
			n++
		}
	}
	return n, nil
}

func (m *MockOutboxStore) ListDead(_ context.Context, limit int) ([]*domain.Outbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var dead []*domain.Outbox
	for _, o := range m.records {
		if o.Status == domain.OutboxDead {
			clone := *o
			dead = append(dead, &clone)
		}
	}
	sort.Slice(dead, func(i, j int) bool { return dead[i].CreatedAt.Before(dead[j].CreatedAt) })
	if len(dead) > limit {
		dead = dead[:limit]
	}
	return dead, nil
}

func (m *MockOutboxStore) Replay(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	if o.Status != domain.OutboxDead {
		return domain.ErrNotDead
	}
	o.Status = domain.OutboxPending
	o.RetryAttempts = 0
	o.NextRetryAt = nil
	o.ProcessedAt = nil
	return nil
}

func (m *MockOutboxStore) PendingCount(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, o := range m.records {
		if o.Status == domain.OutboxPending || o.Status == domain.OutboxFailed {
			n++
		}
	}
	return n, nil
}

func claimable(o *domain.Outbox, now time.Time) bool {
	if o.Status != domain.OutboxPending && o.Status != domain.OutboxFailed {
		return false
	}
	return o.NextRetryAt == nil || !o.NextRetryAt.After(now)
}
