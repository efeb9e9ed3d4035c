package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/notification-outbox/internal/domain"
)

type pgMessageRepository struct {
	pool *pgxpool.Pool
}

// NewPgMessageRepository returns a MessageRepository backed by PostgreSQL.
func NewPgMessageRepository(pool *pgxpool.Pool) MessageRepository {
	return &pgMessageRepository{pool: pool}
}

func (r *pgMessageRepository) CreateWithOutbox(ctx context.Context, msg *domain.Message, outbox *domain.Outbox) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	row, err := marshalMessageRow(msg)
	if err != nil {
		return false, err
	}

	// The unique (request_id, recipient_key, channel) index makes fan-out
	// re-entrant: a pair persisted by an earlier, partially failed
	// composition run is skipped, and no second outbox record is written.
	tag, err := tx.Exec(ctx, `
		INSERT INTO notification_messages
			(id, request_id, channel, recipient, recipient_key, content, sender,
			 status, scheduled_at, dispatched_at, failure_reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (request_id, recipient_key, channel) DO NOTHING`,
		msg.ID, msg.RequestID, msg.Channel, row.recipient, msg.Recipient.Key(),
		row.content, row.sender, msg.Status, msg.ScheduledAt, msg.DispatchedAt,
		nullableString(msg.FailureReason), msg.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO message_outbox
			(id, aggregate_id, payload, status, retry_attempts, next_retry_at, processed_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		outbox.ID, outbox.AggregateID, outbox.Payload, outbox.Status,
		outbox.RetryAttempts, outbox.NextRetryAt, outbox.ProcessedAt, outbox.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert message outbox: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit message with outbox: %w", err)
	}
	return true, nil
}

const messageColumns = `id, request_id, channel, recipient, content, sender,
       status, scheduled_at, dispatched_at, failure_reason, created_at`

func (r *pgMessageRepository) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM notification_messages WHERE id = $1`, id)

	msg, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return msg, err
}

func (r *pgMessageRepository) ListByRequestID(ctx context.Context, requestID string) ([]*domain.Message, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageColumns+`
		 FROM notification_messages WHERE request_id = $1 ORDER BY created_at ASC`, requestID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (r *pgMessageRepository) Save(ctx context.Context, msg *domain.Message) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notification_messages
		SET status = $1, dispatched_at = $2, failure_reason = $3
		WHERE id = $4`,
		msg.Status, msg.DispatchedAt, nullableString(msg.FailureReason), msg.ID)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

func (r *pgMessageRepository) FinalizeDispatched(ctx context.Context, msg *domain.Message, outboxID string) error {
	return r.finalize(ctx, msg, outboxID)
}

func (r *pgMessageRepository) FinalizeFailed(ctx context.Context, msg *domain.Message, outboxID string) error {
	return r.finalize(ctx, msg, outboxID)
}

// finalize persists the message's terminal state and removes its outbox
// record in one transaction.
func (r *pgMessageRepository) finalize(ctx context.Context, msg *domain.Message, outboxID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		UPDATE notification_messages
		SET status = $1, dispatched_at = $2, failure_reason = $3
		WHERE id = $4`,
		msg.Status, msg.DispatchedAt, nullableString(msg.FailureReason), msg.ID)
	if err != nil {
		return fmt.Errorf("finalize message: %w", err)
	}

	if _, err = tx.Exec(ctx, `DELETE FROM message_outbox WHERE id = $1`, outboxID); err != nil {
		return fmt.Errorf("delete message outbox: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit finalize: %w", err)
	}
	return nil
}

// ---- helpers ----

type messageRow struct {
	recipient []byte
	content   []byte
	sender    []byte
}

func marshalMessageRow(msg *domain.Message) (messageRow, error) {
	recipient, err := json.Marshal(msg.Recipient)
	if err != nil {
		return messageRow{}, fmt.Errorf("marshal recipient: %w", err)
	}
	content, err := json.Marshal(msg.Content)
	if err != nil {
		return messageRow{}, fmt.Errorf("marshal content: %w", err)
	}
	// Senders need their channel discriminator to round-trip, so reuse the
	// map encoding with a single entry.
	sender, err := json.Marshal(domain.SenderInfos{msg.Channel: msg.Sender})
	if err != nil {
		return messageRow{}, fmt.Errorf("marshal sender: %w", err)
	}
	return messageRow{recipient: recipient, content: content, sender: sender}, nil
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var (
		msg                        domain.Message
		recipient, content, sender []byte
		failureReason              *string
	)
	err := row.Scan(
		&msg.ID, &msg.RequestID, &msg.Channel, &recipient, &content, &sender,
		&msg.Status, &msg.ScheduledAt, &msg.DispatchedAt, &failureReason, &msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(recipient, &msg.Recipient); err != nil {
		return nil, fmt.Errorf("unmarshal recipient: %w", err)
	}
	if err := json.Unmarshal(content, &msg.Content); err != nil {
		return nil, fmt.Errorf("unmarshal content: %w", err)
	}
	var senders domain.SenderInfos
	if err := json.Unmarshal(sender, &senders); err != nil {
		return nil, fmt.Errorf("unmarshal sender: %w", err)
	}
	msg.Sender = senders[msg.Channel]
	if failureReason != nil {
		msg.FailureReason = *failureReason
	}
	return &msg, nil
}
