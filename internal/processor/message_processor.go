package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/notification-outbox/internal/dispatch"
	"github.com/notifyhub/notification-outbox/internal/domain"
	"github.com/notifyhub/notification-outbox/internal/repository"
)

// MessageProcessor drains the message outbox: each claimed record drives
// one delivery attempt through the dispatch router.
type MessageProcessor struct {
	messages repository.MessageRepository
	store    repository.OutboxStore
	router   *dispatch.Router
	logger   *zap.Logger

	// OnPublished is an optional metric hook invoked after each accepted
	// gateway call.
	OnPublished func(channel domain.Channel, latency time.Duration)
}

func NewMessageProcessor(
	messages repository.MessageRepository,
	store repository.OutboxStore,
	router *dispatch.Router,
	logger *zap.Logger,
) *MessageProcessor {
	return &MessageProcessor{messages: messages, store: store, router: router, logger: logger}
}

func (p *MessageProcessor) Kind() domain.OutboxKind {
	return domain.OutboxMessage
}

// Process publishes the message behind the record. The dispatched state and
// the outbox deletion commit together, so a crash after the gateway call
// but before the commit re-publishes on the next claim. Gateways are
// expected to tolerate such duplicates; losing a message is the failure
// mode this system refuses.
func (p *MessageProcessor) Process(ctx context.Context, o *domain.Outbox) error {
	msg, err := p.messages.GetByID(ctx, o.AggregateID)
	if errors.Is(err, domain.ErrNotFound) {
		p.logger.Warn("message outbox record has no aggregate",
			zap.String("outbox_id", o.ID),
			zap.String("message_id", o.AggregateID))
		return p.store.Delete(ctx, o.ID)
	}
	if err != nil {
		return err
	}
	if msg.Status != domain.DeliveryPending {
		return p.store.Delete(ctx, o.ID)
	}

	start := time.Now()
	if err := p.router.Publish(ctx, msg); err != nil {
		return err
	}
	if p.OnPublished != nil {
		p.OnPublished(msg.Channel, time.Since(start))
	}

	if err := msg.MarkDispatched(); err != nil {
		return err
	}
	return p.messages.FinalizeDispatched(ctx, msg, o.ID)
}

func (p *MessageProcessor) OnPermanentFailure(ctx context.Context, o *domain.Outbox, cause error) error {
	msg, err := p.messages.GetByID(ctx, o.AggregateID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if msg.Status == domain.DeliveryFailed {
		return nil
	}
	if err := msg.MarkFailed(cause.Error()); err != nil {
		return err
	}
	return p.messages.FinalizeFailed(ctx, msg, o.ID)
}

// OnDead settles the message as failed while its outbox record stays behind
// as DEAD. A later replay resets the record; the delivery attempt then sees
// the failed message and treats the record as moot, so replays require the
// message to be reset too. Replay of a dead message record therefore flips
// the message back to pending first.
func (p *MessageProcessor) OnDead(ctx context.Context, o *domain.Outbox, cause error) error {
	msg, err := p.messages.GetByID(ctx, o.AggregateID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if msg.Status == domain.DeliveryFailed {
		return nil
	}
	if err := msg.MarkFailed(fmt.Sprintf("retry budget exhausted: %v", cause)); err != nil {
		return err
	}
	return p.messages.Save(ctx, msg)
}
