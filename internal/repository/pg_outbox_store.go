package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/notification-outbox/internal/domain"
)

type pgOutboxStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPgOutboxStore returns an OutboxStore over the given table. The request
// and message drains each get their own instance pointed at their own table.
func NewPgOutboxStore(pool *pgxpool.Pool, table string) OutboxStore {
	return &pgOutboxStore{pool: pool, table: table}
}

const outboxColumns = `id, aggregate_id, payload, status, retry_attempts, next_retry_at, processed_at, created_at`

func (s *pgOutboxStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*domain.Outbox, error) {
	// Single conditional update: SKIP LOCKED keeps concurrent pollers from
	// blocking on each other, and a record locked by another poller is
	// simply not part of this batch. A NULL next_retry_at means "due now".
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		UPDATE %[1]s
		SET status = $1, processed_at = $2
		WHERE id IN (
			SELECT id FROM %[1]s
			WHERE status IN ($3, $4)
			  AND (next_retry_at IS NULL OR next_retry_at <= $2)
			ORDER BY created_at ASC
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+outboxColumns, s.table),
		domain.OutboxInProgress, now, domain.OutboxPending, domain.OutboxFailed, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due outbox: %w", err)
	}
	defer rows.Close()

	var records []*domain.Outbox
	for rows.Next() {
		o, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, o)
	}
	return records, rows.Err()
}

func (s *pgOutboxStore) ClaimByID(ctx context.Context, id string, now time.Time) (*domain.Outbox, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		UPDATE %s
		SET status = $1, processed_at = $2
		WHERE id = $3
		  AND status IN ($4, $5)
		  AND (next_retry_at IS NULL OR next_retry_at <= $2)
		RETURNING `+outboxColumns, s.table),
		domain.OutboxInProgress, now, id, domain.OutboxPending, domain.OutboxFailed,
	)

	o, err := scanOutbox(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return o, err
}

func (s *pgOutboxStore) GetByID(ctx context.Context, id string) (*domain.Outbox, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, outboxColumns, s.table), id)

	o, err := scanOutbox(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return o, err
}

func (s *pgOutboxStore) Update(ctx context.Context, o *domain.Outbox) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s
		SET status = $1, retry_attempts = $2, next_retry_at = $3, processed_at = $4
		WHERE id = $5`, s.table),
		o.Status, o.RetryAttempts, o.NextRetryAt, o.ProcessedAt, o.ID)
	if err != nil {
		return fmt.Errorf("update outbox: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *pgOutboxStore) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table), id); err != nil {
		return fmt.Errorf("delete outbox: %w", err)
	}
	return nil
}

func (s *pgOutboxStore) ResetStuck(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s
		SET status = $1, processed_at = NULL
		WHERE status = $2 AND processed_at < $3`, s.table),
		domain.OutboxPending, domain.OutboxInProgress, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reset stuck outbox: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *pgOutboxStore) ListDead(ctx context.Context, limit int) ([]*domain.Outbox, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2`, outboxColumns, s.table),
		domain.OutboxDead, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead outbox: %w", err)
	}
	defer rows.Close()

	var records []*domain.Outbox
	for rows.Next() {
		o, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, o)
	}
	return records, rows.Err()
}

func (s *pgOutboxStore) Replay(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s
		SET status = $1, retry_attempts = 0, next_retry_at = NULL, processed_at = NULL
		WHERE id = $2 AND status = $3`, s.table),
		domain.OutboxPending, id, domain.OutboxDead)
	if err != nil {
		return fmt.Errorf("replay outbox: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetByID(ctx, id); err != nil {
			return err
		}
		return domain.ErrNotDead
	}
	return nil
}

func (s *pgOutboxStore) PendingCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT COUNT(*) FROM %s WHERE status IN ($1, $2)`, s.table),
		domain.OutboxPending, domain.OutboxFailed).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending outbox: %w", err)
	}
	return count, nil
}

func scanOutbox(row pgx.Row) (*domain.Outbox, error) {
	var o domain.Outbox
	err := row.Scan(
		&o.ID, &o.AggregateID, &o.Payload, &o.Status,
		&o.RetryAttempts, &o.NextRetryAt, &o.ProcessedAt, &o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}
