package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OutboxStatus tracks the lifecycle of a durable outbox record.
type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxInProgress OutboxStatus = "in_progress"
	OutboxFailed     OutboxStatus = "failed"
	OutboxSent       OutboxStatus = "sent"
	OutboxDead       OutboxStatus = "dead"
)

// OutboxKind distinguishes the two outbox tables driven by the same engine.
type OutboxKind string

const (
	OutboxRequest OutboxKind = "request"
	OutboxMessage OutboxKind = "message"
)

// retryCreationTolerance bounds clock skew between generating a record's
// next-retry time and persisting it: nextRetryAt may precede createdAt by at
// most this much.
const retryCreationTolerance = 60 * time.Second

// Outbox is a durable "work still to do" record written in the same
// transaction as the aggregate it escorts. It is mutated only by the drain
// engine: claimed to in_progress, rescheduled to failed with backoff,
// dead-lettered after the retry budget, or deleted on success (absence
// means delivered).
type Outbox struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	Payload       json.RawMessage `json:"payload"`
	Status        OutboxStatus    `json:"status"`
	RetryAttempts int             `json:"retry_attempts"`
	NextRetryAt   *time.Time      `json:"next_retry_at,omitempty"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewOutbox creates a pending record escorting the given aggregate. The
// payload is an immutable JSON snapshot taken at creation. nextRetryAt may
// be nil (due immediately) or a future instant (scheduled delivery).
func NewOutbox(aggregateID string, payload json.RawMessage, nextRetryAt *time.Time) (*Outbox, error) {
	now := time.Now().UTC()
	if nextRetryAt != nil && nextRetryAt.Before(now.Add(-retryCreationTolerance)) {
		return nil, ErrRetryBeforeCreation
	}

	return &Outbox{
		ID:          uuid.New().String(),
		AggregateID: aggregateID,
		Payload:     payload,
		Status:      OutboxPending,
		NextRetryAt: nextRetryAt,
		CreatedAt:   now,
	}, nil
}

// MarkInProgress transitions PENDING or FAILED -> IN_PROGRESS, stamping the
// processing time. In the store this transition is performed as a single
// conditional update (the claim); this method mirrors it for in-memory use.
func (o *Outbox) MarkInProgress() error {
	if o.Status != OutboxPending && o.Status != OutboxFailed {
		return ErrInvalidTransition
	}
	o.Status = OutboxInProgress
	now := time.Now().UTC()
	o.ProcessedAt = &now
	return nil
}

// MarkFailed schedules a retry: attempts incremented, next retry stamped.
// The next retry time must be strictly in the future; a nil or past value
// is a programming error.
func (o *Outbox) MarkFailed(nextRetryAt time.Time) error {
	if o.Status != OutboxPending && o.Status != OutboxInProgress {
		return ErrInvalidTransition
	}
	if !nextRetryAt.After(time.Now()) {
		return ErrRetryNotInFuture
	}
	o.Status = OutboxFailed
	o.RetryAttempts++
	o.NextRetryAt = &nextRetryAt
	now := time.Now().UTC()
	o.ProcessedAt = &now
	return nil
}

// MarkDead transitions to the terminal DEAD state. Dead records are retained
// for operator inspection and never re-claimed.
func (o *Outbox) MarkDead() error {
	if o.Status != OutboxPending && o.Status != OutboxInProgress && o.Status != OutboxFailed {
		return ErrInvalidTransition
	}
	o.Status = OutboxDead
	now := time.Now().UTC()
	o.ProcessedAt = &now
	return nil
}

// RetriesExhausted reports whether the retry budget is spent.
func (o *Outbox) RetriesExhausted(maxRetries int) bool {
	return o.RetryAttempts >= maxRetries
}
