// Package idempotency deduplicates client-initiated operations keyed by
// (idempotency key, operation type). The first call runs the real business
// logic; every later call with the same pair gets the stored result of the
// first run back, byte for byte.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/notifyhub/notification-outbox/internal/domain"
	"github.com/notifyhub/notification-outbox/internal/repository"
)

// TxBeginner opens a transaction. *pgxpool.Pool satisfies it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Guard runs operations at most once per (key, operation type) pair.
type Guard struct {
	db     TxBeginner
	repo   repository.IdempotencyRepository
	logger *zap.Logger
}

func NewGuard(db TxBeginner, repo repository.IdempotencyRepository, logger *zap.Logger) *Guard {
	return &Guard{db: db, repo: repo, logger: logger}
}

// Do executes fn at most once for (key, operationType). The result of the
// winning execution is stored in the same transaction fn ran in, so the
// business write and the idempotency record commit or roll back together.
//
// The reused return reports whether a stored result was returned instead of
// running fn. When two calls race, both may run fn, but only one commit
// survives the unique constraint; the loser's transaction is rolled back and
// the winner's stored result is returned.
func Do[T any](ctx context.Context, g *Guard, key, operationType string, fn func(ctx context.Context, tx pgx.Tx) (T, error)) (T, bool, error) {
	var zero T

	if rec, err := g.repo.Get(ctx, key, operationType); err == nil {
		result, err := decode[T](rec.Data)
		if err != nil {
			return zero, false, err
		}
		return result, true, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return zero, false, err
	}

	tx, err := g.db.Begin(ctx)
	if err != nil {
		return zero, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	result, err := fn(ctx, tx)
	if err != nil {
		return zero, false, err
	}

	data, err := json.Marshal(result)
	if err != nil {
		return zero, false, fmt.Errorf("marshal operation result: %w", err)
	}

	err = g.repo.Insert(ctx, tx, &repository.IdempotencyRecord{
		Key:           key,
		OperationType: operationType,
		Data:          data,
		CreatedAt:     time.Now().UTC(),
	})
	if errors.Is(err, domain.ErrConflict) {
		// A concurrent duplicate won the race. Discard our work and hand
		// back the winner's result.
		_ = tx.Rollback(ctx)
		g.logger.Info("duplicate operation lost idempotency race",
			zap.String("idempotency_key", key),
			zap.String("operation_type", operationType))
		rec, err := g.repo.Get(ctx, key, operationType)
		if err != nil {
			return zero, false, err
		}
		winner, err := decode[T](rec.Data)
		if err != nil {
			return zero, false, err
		}
		return winner, true, nil
	}
	if err != nil {
		return zero, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return zero, false, fmt.Errorf("commit idempotent operation: %w", err)
	}
	return result, false, nil
}

func decode[T any](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("unmarshal stored result: %w", err)
	}
	return v, nil
}
