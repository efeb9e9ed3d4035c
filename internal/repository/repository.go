package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/notifyhub/notification-outbox/internal/domain"
)

// RequestRepository persists notification request aggregates together with
// their escorting outbox records.
type RequestRepository interface {
	// CreateWithOutbox inserts the request and its request-outbox record in
	// the caller's transaction: both succeed or fail together.
	CreateWithOutbox(ctx context.Context, tx pgx.Tx, req *domain.Request, outbox *domain.Outbox) error
	GetByID(ctx context.Context, id string) (*domain.Request, error)
	// Save persists the mutable lifecycle fields (status, failure reason,
	// processed time).
	Save(ctx context.Context, req *domain.Request) error
	List(ctx context.Context, f ListFilter) ([]*domain.Request, int, error)
}

// MessageRepository persists per-recipient-per-channel messages and their
// escorting outbox records.
type MessageRepository interface {
	// CreateWithOutbox inserts the message and its message-outbox record as
	// one atomic unit. A message for the same (request, recipient, channel)
	// that already exists is skipped (inserted=false) and no outbox record
	// is written, making composition re-entrant after a partial fan-out.
	CreateWithOutbox(ctx context.Context, msg *domain.Message, outbox *domain.Outbox) (inserted bool, err error)
	GetByID(ctx context.Context, id string) (*domain.Message, error)
	ListByRequestID(ctx context.Context, requestID string) ([]*domain.Message, error)
	Save(ctx context.Context, msg *domain.Message) error
	// FinalizeDispatched marks the message dispatched and deletes its outbox
	// record in one transaction, so a crash between the two cannot lose the
	// fact that the message was sent.
	FinalizeDispatched(ctx context.Context, msg *domain.Message, outboxID string) error
	// FinalizeFailed marks the message permanently failed and deletes its
	// outbox record in one transaction.
	FinalizeFailed(ctx context.Context, msg *domain.Message, outboxID string) error
}

// OutboxStore is the durable store behind one outbox kind. The same pgx
// implementation backs both the request and message tables.
type OutboxStore interface {
	// ClaimDue atomically flips a bounded, oldest-first batch of due
	// PENDING/FAILED records to IN_PROGRESS and returns them. The claim is a
	// single conditional update so no two workers can own the same record.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*domain.Outbox, error)
	// ClaimByID claims one specific record if it is currently eligible.
	// Returns domain.ErrNotFound when the record is absent or not claimable.
	ClaimByID(ctx context.Context, id string, now time.Time) (*domain.Outbox, error)
	GetByID(ctx context.Context, id string) (*domain.Outbox, error)
	// Update persists the mutable drain-engine fields (status, attempts,
	// next retry, processed time).
	Update(ctx context.Context, o *domain.Outbox) error
	Delete(ctx context.Context, id string) error
	// ResetStuck returns IN_PROGRESS records whose processing started before
	// the cutoff back to PENDING, leaving retry counts untouched. Reports how
	// many records were recovered.
	ResetStuck(ctx context.Context, cutoff time.Time) (int64, error)
	ListDead(ctx context.Context, limit int) ([]*domain.Outbox, error)
	// Replay resets a DEAD record to PENDING with a fresh retry budget.
	// Returns domain.ErrNotDead if the record is not dead-lettered.
	Replay(ctx context.Context, id string) error
	// PendingCount reports records currently awaiting a claim, for metrics.
	PendingCount(ctx context.Context) (int64, error)
}

// IdempotencyRecord maps (key, operation type) to the JSON result the
// operation produced the first time it ran.
type IdempotencyRecord struct {
	Key           string
	OperationType string
	Data          []byte
	CreatedAt     time.Time
}

// IdempotencyRepository stores one record per completed idempotent
// operation.
type IdempotencyRepository interface {
	Get(ctx context.Context, key, operationType string) (*IdempotencyRecord, error)
	// Insert persists the record inside the caller's transaction. Returns
	// domain.ErrConflict when a concurrent duplicate call won the race.
	Insert(ctx context.Context, tx pgx.Tx, rec *IdempotencyRecord) error
}

// ListFilter holds query parameters for paginated request listing.
type ListFilter struct {
	Status *domain.RequestStatus
	From   *time.Time
	To     *time.Time
	Page   int
	Limit  int
}
