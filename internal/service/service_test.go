package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/notifyhub/notification-outbox/internal/domain"
	"github.com/notifyhub/notification-outbox/internal/idempotency"
	"github.com/notifyhub/notification-outbox/internal/outbox"
	"github.com/notifyhub/notification-outbox/internal/repository"
	"github.com/notifyhub/notification-outbox/internal/service"
)

type fakeTx struct {
	pgx.Tx
}

func (fakeTx) Commit(context.Context) error   { return nil }
func (fakeTx) Rollback(context.Context) error { return nil }

type fakeDB struct{}

func (fakeDB) Begin(context.Context) (pgx.Tx, error) { return fakeTx{}, nil }

type fixture struct {
	requests      *repository.MockRequestRepository
	messages      *repository.MockMessageRepository
	requestOutbox *repository.MockOutboxStore
	messageOutbox *repository.MockOutboxStore
	requestNotify *outbox.Notifier
	messageNotify *outbox.Notifier
	svc           *service.Service

	accepted [][]domain.Channel
	canceled int
	replayed []domain.OutboxKind
}

func newFixture() *fixture {
	f := &fixture{
		requests:      repository.NewMockRequestRepository(),
		messages:      repository.NewMockMessageRepository(),
		requestOutbox: repository.NewMockOutboxStore(),
		messageOutbox: repository.NewMockOutboxStore(),
		requestNotify: outbox.NewNotifier(16),
		messageNotify: outbox.NewNotifier(16),
	}
	db := fakeDB{}
	guard := idempotency.NewGuard(db, repository.NewMockIdempotencyRepository(), zap.NewNop())
	f.svc = service.New(
		db,
		f.requests,
		f.messages,
		f.requestOutbox,
		f.messageOutbox,
		guard,
		f.requestNotify,
		f.messageNotify,
		zap.NewNop(),
		service.Hooks{
			OnAccepted: func(ch []domain.Channel) { f.accepted = append(f.accepted, ch) },
			OnCanceled: func() { f.canceled++ },
			OnReplayed: func(k domain.OutboxKind) { f.replayed = append(f.replayed, k) },
		},
	)
	return f
}

func validInput() service.CreateRequestInput {
	return service.CreateRequestInput{
		Requester:  domain.Requester{Type: domain.RequesterService, ID: "billing"},
		Recipients: domain.RecipientRefs{domain.UserRecipient{UserID: "u-1"}},
		Channels:   []domain.Channel{domain.ChannelEmail},
		Senders: domain.SenderInfos{
			domain.ChannelEmail: domain.EmailSender{Address: "noreply@example.com"},
		},
		Content: &domain.Content{Title: "hi", Body: "hello"},
	}
}

func drained(n *outbox.Notifier) []string {
	var ids []string
	for {
		select {
		case id := <-n.C():
			ids = append(ids, id)
		default:
			return ids
		}
	}
}

func TestCreateRequest_PersistsAndWakes(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	req, reused, err := f.svc.CreateRequest(ctx, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if reused {
		t.Fatal("fresh request must not be reused")
	}

	stored, err := f.requests.GetByID(ctx, req.ID)
	if err != nil {
		t.Fatalf("request not persisted: %v", err)
	}
	if stored.Status != domain.RequestPending {
		t.Fatalf("expected pending, got %s", stored.Status)
	}
	if len(f.requests.Outboxes) != 1 {
		t.Fatalf("expected 1 outbox record, got %d", len(f.requests.Outboxes))
	}
	if f.requests.Outboxes[0].AggregateID != req.ID {
		t.Fatal("outbox record must escort the request")
	}

	wakes := drained(f.requestNotify)
	if len(wakes) != 1 || wakes[0] != f.requests.Outboxes[0].ID {
		t.Fatalf("expected wakeup for the outbox record, got %v", wakes)
	}
	if len(f.accepted) != 1 {
		t.Fatalf("expected accepted hook once, got %d", len(f.accepted))
	}
}

func TestCreateRequest_ValidationErrorCreatesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	in := validInput()
	in.Recipients = nil
	_, _, err := f.svc.CreateRequest(ctx, in)
	if !errors.Is(err, domain.ErrNoRecipients) {
		t.Fatalf("expected ErrNoRecipients, got %v", err)
	}
	if len(f.requests.Outboxes) != 0 {
		t.Fatal("invalid input must not write outbox records")
	}
	if len(drained(f.requestNotify)) != 0 {
		t.Fatal("invalid input must not wake the engine")
	}
}

func TestCreateRequest_IdempotencyKeyDeduplicates(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	in := validInput()
	in.IdempotencyKey = "retry-safe-1"

	first, reused, err := f.svc.CreateRequest(ctx, in)
	if err != nil || reused {
		t.Fatalf("first call: reused=%t err=%v", reused, err)
	}
	second, reused, err := f.svc.CreateRequest(ctx, in)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if !reused {
		t.Fatal("duplicate key must return the stored request")
	}
	if second.ID != first.ID {
		t.Fatalf("duplicate returned a different request: %s vs %s", second.ID, first.ID)
	}
	if len(f.requests.Outboxes) != 1 {
		t.Fatalf("duplicate must not write again, got %d outbox records", len(f.requests.Outboxes))
	}
	if got := len(drained(f.requestNotify)); got != 1 {
		t.Fatalf("duplicate must not wake the engine again, got %d wakeups", got)
	}
	if len(f.accepted) != 1 {
		t.Fatalf("accepted hook must fire once, fired %d times", len(f.accepted))
	}
}

func TestCreateRequest_ScheduledRequestDoesNotWake(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	in := validInput()
	later := time.Now().UTC().Add(time.Hour)
	in.ScheduledAt = &later

	if _, _, err := f.svc.CreateRequest(ctx, in); err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(drained(f.requestNotify)) != 0 {
		t.Fatal("scheduled request must wait for the poll loop")
	}
	if f.requests.Outboxes[0].NextRetryAt == nil {
		t.Fatal("scheduled request must carry its due time on the outbox record")
	}
}

func TestCancelRequest(t *testing.T) {
	ctx := context.Background()

	t.Run("cancels a pending request", func(t *testing.T) {
		f := newFixture()
		req, _, err := f.svc.CreateRequest(ctx, validInput())
		if err != nil {
			t.Fatalf("create: %v", err)
		}

		got, err := f.svc.CancelRequest(ctx, req.ID)
		if err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if got.Status != domain.RequestCanceled {
			t.Fatalf("expected canceled, got %s", got.Status)
		}
		if f.canceled != 1 {
			t.Fatalf("expected canceled hook once, got %d", f.canceled)
		}
	})

	t.Run("second cancel conflicts", func(t *testing.T) {
		f := newFixture()
		req, _, err := f.svc.CreateRequest(ctx, validInput())
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := f.svc.CancelRequest(ctx, req.ID); err != nil {
			t.Fatalf("first cancel: %v", err)
		}
		if _, err := f.svc.CancelRequest(ctx, req.ID); !errors.Is(err, domain.ErrAlreadyCanceled) {
			t.Fatalf("expected ErrAlreadyCanceled, got %v", err)
		}
	})

	t.Run("dispatched request is not cancelable", func(t *testing.T) {
		f := newFixture()
		req, _, err := f.svc.CreateRequest(ctx, validInput())
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		stored, _ := f.requests.GetByID(ctx, req.ID)
		_ = stored.MarkProcessing()
		_ = stored.MarkDispatched()
		_ = f.requests.Save(ctx, stored)

		if _, err := f.svc.CancelRequest(ctx, req.ID); !errors.Is(err, domain.ErrNotCancelable) {
			t.Fatalf("expected ErrNotCancelable, got %v", err)
		}
	})

	t.Run("unknown request", func(t *testing.T) {
		f := newFixture()
		if _, err := f.svc.CancelRequest(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestListMessages_UnknownRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	if _, err := f.svc.ListMessages(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// deadRequestFixture seeds a failed request with a dead-lettered outbox
// record, the state left behind once the retry budget runs out.
func deadRequestFixture(t *testing.T, f *fixture) (*domain.Request, *domain.Outbox) {
	t.Helper()
	ctx := context.Background()

	req, _, err := f.svc.CreateRequest(ctx, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	drained(f.requestNotify)

	stored, _ := f.requests.GetByID(ctx, req.ID)
	_ = stored.MarkProcessing()
	_ = stored.MarkFailed("retry budget exhausted: gateway down")
	if err := f.requests.Save(ctx, stored); err != nil {
		t.Fatalf("save: %v", err)
	}

	ob := f.requests.Outboxes[0]
	ob.Status = domain.OutboxDead
	ob.RetryAttempts = 5
	f.requestOutbox.Put(ob)
	return stored, ob
}

func TestReplayDead(t *testing.T) {
	ctx := context.Background()

	t.Run("resets aggregate and replays record", func(t *testing.T) {
		f := newFixture()
		req, ob := deadRequestFixture(t, f)

		if err := f.svc.ReplayDead(ctx, domain.OutboxRequest, ob.ID); err != nil {
			t.Fatalf("replay: %v", err)
		}

		got, _ := f.requests.GetByID(ctx, req.ID)
		if got.Status != domain.RequestPending {
			t.Fatalf("aggregate must be pending again, got %s", got.Status)
		}
		if got.FailureReason != "" {
			t.Fatal("failure reason must be cleared")
		}

		rec, _ := f.requestOutbox.GetByID(ctx, ob.ID)
		if rec.Status != domain.OutboxPending || rec.RetryAttempts != 0 {
			t.Fatalf("record must be pending with a fresh budget, got %s attempts=%d",
				rec.Status, rec.RetryAttempts)
		}

		wakes := drained(f.requestNotify)
		if len(wakes) != 1 || wakes[0] != ob.ID {
			t.Fatalf("expected wakeup for replayed record, got %v", wakes)
		}
		if len(f.replayed) != 1 || f.replayed[0] != domain.OutboxRequest {
			t.Fatalf("expected replayed hook, got %v", f.replayed)
		}
	})

	t.Run("record that is not dead conflicts", func(t *testing.T) {
		f := newFixture()
		req, _, err := f.svc.CreateRequest(ctx, validInput())
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		_ = req
		ob := f.requests.Outboxes[0]
		f.requestOutbox.Put(ob)

		if err := f.svc.ReplayDead(ctx, domain.OutboxRequest, ob.ID); !errors.Is(err, domain.ErrNotDead) {
			t.Fatalf("expected ErrNotDead, got %v", err)
		}
	})

	t.Run("unknown record", func(t *testing.T) {
		f := newFixture()
		if err := f.svc.ReplayDead(ctx, domain.OutboxRequest, "nope"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("unknown kind", func(t *testing.T) {
		f := newFixture()
		if err := f.svc.ReplayDead(ctx, domain.OutboxKind("bogus"), "id"); err == nil {
			t.Fatal("expected error for unknown kind")
		}
	})
}

func TestListDead(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, ob := deadRequestFixture(t, f)

	dead, err := f.svc.ListDead(ctx, domain.OutboxRequest, 10)
	if err != nil {
		t.Fatalf("list dead: %v", err)
	}
	if len(dead) != 1 || dead[0].ID != ob.ID {
		t.Fatalf("expected the dead record, got %v", dead)
	}
}
