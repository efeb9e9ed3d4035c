package processor_test

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/notifyhub/notification-outbox/internal/dispatch"
	"github.com/notifyhub/notification-outbox/internal/domain"
	"github.com/notifyhub/notification-outbox/internal/processor"
	"github.com/notifyhub/notification-outbox/internal/repository"
)

// scriptedPublisher returns its configured error and counts calls.
type scriptedPublisher struct {
	err   error
	calls int
}

func (p *scriptedPublisher) Publish(context.Context, *domain.Message) error {
	p.calls++
	return p.err
}

type messageFixture struct {
	messages *repository.MockMessageRepository
	store    *repository.MockOutboxStore
	pub      *scriptedPublisher
	proc     *processor.MessageProcessor
}

func newMessageFixture(pubErr error) *messageFixture {
	messages := repository.NewMockMessageRepository()
	store := repository.NewMockOutboxStore()
	pub := &scriptedPublisher{err: pubErr}
	router := dispatch.NewRouter(map[domain.Channel]dispatch.Publisher{
		domain.ChannelEmail: pub,
	}, nil)
	return &messageFixture{
		messages: messages,
		store:    store,
		pub:      pub,
		proc:     processor.NewMessageProcessor(messages, store, router, zap.NewNop()),
	}
}

func (f *messageFixture) seed(t *testing.T) (*domain.Message, *domain.Outbox) {
	t.Helper()
	msg := domain.NewMessage(
		"req-1",
		domain.ChannelEmail,
		domain.Contact{UserID: "u-1", Email: "ada@example.com"},
		domain.Content{Body: "hello"},
		domain.EmailSender{Address: "noreply@example.com"},
		nil,
	)
	payload, err := msg.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ob, err := domain.NewOutbox(msg.ID, payload, nil)
	if err != nil {
		t.Fatalf("new outbox: %v", err)
	}
	inserted, err := f.messages.CreateWithOutbox(context.Background(), msg, ob)
	if err != nil || !inserted {
		t.Fatalf("seed message: inserted=%t err=%v", inserted, err)
	}
	f.store.Put(ob)
	return msg, ob
}

func TestMessageProcessor_PublishesAndFinalizes(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture(nil)
	msg, ob := f.seed(t)

	if err := f.proc.Process(ctx, ob); err != nil {
		t.Fatalf("process: %v", err)
	}

	if f.pub.calls != 1 {
		t.Fatalf("expected 1 publish, got %d", f.pub.calls)
	}
	got, _ := f.messages.GetByID(ctx, msg.ID)
	if got.Status != domain.DeliveryDispatched {
		t.Fatalf("expected dispatched, got %s", got.Status)
	}
	if len(f.messages.FinalizedOutboxIDs) != 1 || f.messages.FinalizedOutboxIDs[0] != ob.ID {
		t.Fatalf("finalize not atomic with outbox delete: %v", f.messages.FinalizedOutboxIDs)
	}
}

func TestMessageProcessor_TransientErrorPropagates(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture(errors.New("gateway 503"))
	msg, ob := f.seed(t)

	if err := f.proc.Process(ctx, ob); err == nil {
		t.Fatal("expected error to reach the engine for retry scheduling")
	}

	// The message itself stays pending; only the outbox record carries
	// retry state.
	got, _ := f.messages.GetByID(ctx, msg.ID)
	if got.Status != domain.DeliveryPending {
		t.Fatalf("expected pending, got %s", got.Status)
	}
}

func TestMessageProcessor_MissingAggregateIsMoot(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture(nil)

	ob, err := domain.NewOutbox("gone", []byte(`{}`), nil)
	if err != nil {
		t.Fatalf("new outbox: %v", err)
	}
	f.store.Put(ob)

	if err := f.proc.Process(ctx, ob); err != nil {
		t.Fatalf("process: %v", err)
	}
	if f.pub.calls != 0 {
		t.Fatal("must not publish without an aggregate")
	}
	if _, err := f.store.GetByID(ctx, ob.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("moot record should be deleted, got %v", err)
	}
}

func TestMessageProcessor_AlreadySettledIsMoot(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture(nil)
	msg, ob := f.seed(t)

	settled, _ := f.messages.GetByID(ctx, msg.ID)
	_ = settled.MarkDispatched()
	_ = f.messages.Save(ctx, settled)

	if err := f.proc.Process(ctx, ob); err != nil {
		t.Fatalf("process: %v", err)
	}
	if f.pub.calls != 0 {
		t.Fatal("settled message must not be republished")
	}
}

func TestMessageProcessor_OnPermanentFailureFinalizes(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture(nil)
	msg, ob := f.seed(t)

	cause := domain.Permanent(errors.New("gateway rejected payload: 400"))
	if err := f.proc.OnPermanentFailure(ctx, ob, cause); err != nil {
		t.Fatalf("on permanent failure: %v", err)
	}

	got, _ := f.messages.GetByID(ctx, msg.ID)
	if got.Status != domain.DeliveryFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if len(f.messages.FinalizedOutboxIDs) != 1 {
		t.Fatalf("expected atomic finalize, got %v", f.messages.FinalizedOutboxIDs)
	}
}

func TestMessageProcessor_OnDeadFailsMessage(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture(nil)
	msg, ob := f.seed(t)

	if err := f.proc.OnDead(ctx, ob, errors.New("gateway down")); err != nil {
		t.Fatalf("on dead: %v", err)
	}

	got, _ := f.messages.GetByID(ctx, msg.ID)
	if got.Status != domain.DeliveryFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.FailureReason == "" {
		t.Fatal("expected failure reason recorded")
	}
}
