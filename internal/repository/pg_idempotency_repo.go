package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/notification-outbox/internal/domain"
)

type pgIdempotencyRepository struct {
	pool *pgxpool.Pool
}

// NewPgIdempotencyRepository returns an IdempotencyRepository backed by
// PostgreSQL.
func NewPgIdempotencyRepository(pool *pgxpool.Pool) IdempotencyRepository {
	return &pgIdempotencyRepository{pool: pool}
}

func (r *pgIdempotencyRepository) Get(ctx context.Context, key, operationType string) (*IdempotencyRecord, error) {
	var rec IdempotencyRecord
	err := r.pool.QueryRow(ctx, `
		SELECT idempotency_key, operation_type, data, created_at
		FROM idempotency_records
		WHERE idempotency_key = $1 AND operation_type = $2`,
		key, operationType,
	).Scan(&rec.Key, &rec.OperationType, &rec.Data, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	return &rec, nil
}

func (r *pgIdempotencyRepository) Insert(ctx context.Context, tx pgx.Tx, rec *IdempotencyRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO idempotency_records (idempotency_key, operation_type, data, created_at)
		VALUES ($1, $2, $3, $4)`,
		rec.Key, rec.OperationType, rec.Data, rec.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert idempotency record: %w", err)
	}
	return nil
}
