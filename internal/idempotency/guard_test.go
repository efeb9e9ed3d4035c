package idempotency_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/notifyhub/notification-outbox/internal/idempotency"
	"github.com/notifyhub/notification-outbox/internal/repository"
)

// fakeTx satisfies pgx.Tx by embedding the interface; only the lifecycle
// methods the guard touches are overridden.
type fakeTx struct {
	pgx.Tx
	commits   *int
	rollbacks *int
	commitErr error
}

func (t *fakeTx) Commit(context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	*t.commits++
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	*t.rollbacks++
	return nil
}

type fakeDB struct {
	commits   int
	rollbacks int
	beginErr  error
	commitErr error
}

func (db *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	if db.beginErr != nil {
		return nil, db.beginErr
	}
	return &fakeTx{commits: &db.commits, rollbacks: &db.rollbacks, commitErr: db.commitErr}, nil
}

type opResult struct {
	ID string `json:"id"`
}

func TestDo_RunsOnceAndStoresResult(t *testing.T) {
	ctx := context.Background()
	db := &fakeDB{}
	repo := repository.NewMockIdempotencyRepository()
	guard := idempotency.NewGuard(db, repo, zap.NewNop())

	calls := 0
	fn := func(context.Context, pgx.Tx) (opResult, error) {
		calls++
		return opResult{ID: "req-1"}, nil
	}

	first, reused, err := idempotency.Do(ctx, guard, "key-1", "create", fn)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if reused {
		t.Fatal("first call must not be reused")
	}
	if first.ID != "req-1" {
		t.Fatalf("unexpected result %+v", first)
	}
	if db.commits != 1 {
		t.Fatalf("expected 1 commit, got %d", db.commits)
	}

	second, reused, err := idempotency.Do(ctx, guard, "key-1", "create", fn)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if !reused {
		t.Fatal("second call must return the stored result")
	}
	if second.ID != first.ID {
		t.Fatalf("stored result mismatch: %+v vs %+v", second, first)
	}
	if calls != 1 {
		t.Fatalf("fn ran %d times, want 1", calls)
	}
}

func TestDo_DistinctOperationTypesDoNotCollide(t *testing.T) {
	ctx := context.Background()
	guard := idempotency.NewGuard(&fakeDB{}, repository.NewMockIdempotencyRepository(), zap.NewNop())

	calls := 0
	fn := func(context.Context, pgx.Tx) (opResult, error) {
		calls++
		return opResult{ID: "x"}, nil
	}

	if _, _, err := idempotency.Do(ctx, guard, "key-1", "create", fn); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, reused, err := idempotency.Do(ctx, guard, "key-1", "cancel", fn); err != nil || reused {
		t.Fatalf("cancel: reused=%t err=%v", reused, err)
	}
	if calls != 2 {
		t.Fatalf("fn ran %d times, want 2", calls)
	}
}

func TestDo_FnErrorRollsBack(t *testing.T) {
	ctx := context.Background()
	db := &fakeDB{}
	repo := repository.NewMockIdempotencyRepository()
	guard := idempotency.NewGuard(db, repo, zap.NewNop())

	boom := errors.New("invalid request")
	_, _, err := idempotency.Do(ctx, guard, "key-1", "create",
		func(context.Context, pgx.Tx) (opResult, error) {
			return opResult{}, boom
		})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if db.commits != 0 {
		t.Fatal("failed operation must not commit")
	}
	if db.rollbacks == 0 {
		t.Fatal("failed operation must roll back")
	}

	// A failed run stores nothing, so a retry executes fn again.
	got, reused, err := idempotency.Do(ctx, guard, "key-1", "create",
		func(context.Context, pgx.Tx) (opResult, error) {
			return opResult{ID: "retry"}, nil
		})
	if err != nil || reused {
		t.Fatalf("retry: reused=%t err=%v", reused, err)
	}
	if got.ID != "retry" {
		t.Fatalf("unexpected retry result %+v", got)
	}
}

func TestDo_ConflictReturnsWinner(t *testing.T) {
	ctx := context.Background()
	db := &fakeDB{}
	repo := repository.NewMockIdempotencyRepository()
	guard := idempotency.NewGuard(db, repo, zap.NewNop())

	called := false
	loserFn := func(context.Context, pgx.Tx) (opResult, error) {
		called = true
		// The winner commits while the loser is still inside fn, so the
		// loser's Insert hits the unique constraint.
		_ = repo.Insert(ctx, nil, &repository.IdempotencyRecord{
			Key:           "key-1",
			OperationType: "create",
			Data:          []byte(`{"id":"winner"}`),
			CreatedAt:     time.Now().UTC(),
		})
		return opResult{ID: "loser"}, nil
	}

	got, reused, err := idempotency.Do(ctx, guard, "key-1", "create", loserFn)
	if err != nil {
		t.Fatalf("conflict path: %v", err)
	}
	if !called {
		t.Fatal("loser fn should have run before the conflict")
	}
	if !reused {
		t.Fatal("conflict must report the stored result as reused")
	}
	if got.ID != "winner" {
		t.Fatalf("expected winner's result, got %+v", got)
	}
	if db.commits != 0 {
		t.Fatal("loser must not commit")
	}
	if db.rollbacks == 0 {
		t.Fatal("loser must roll back")
	}
}

func TestDo_GetErrorPropagates(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMockIdempotencyRepository()
	repo.GetErr = errors.New("connection reset")
	guard := idempotency.NewGuard(&fakeDB{}, repo, zap.NewNop())

	_, _, err := idempotency.Do(ctx, guard, "key-1", "create",
		func(context.Context, pgx.Tx) (opResult, error) {
			t.Fatal("fn must not run when the lookup fails")
			return opResult{}, nil
		})
	if err == nil {
		t.Fatal("expected lookup error")
	}
}
