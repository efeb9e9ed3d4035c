// Package processor holds the two outbox handlers: one that composes
// accepted requests into messages, one that dispatches composed messages to
// the channel gateways.
package processor

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/notifyhub/notification-outbox/internal/composer"
	"github.com/notifyhub/notification-outbox/internal/domain"
	"github.com/notifyhub/notification-outbox/internal/repository"
)

// RequestProcessor drains the request outbox: each claimed record drives
// one composition pass over its request aggregate.
type RequestProcessor struct {
	requests repository.RequestRepository
	store    repository.OutboxStore
	comp     *composer.Composer
	logger   *zap.Logger
}

func NewRequestProcessor(
	requests repository.RequestRepository,
	store repository.OutboxStore,
	comp *composer.Composer,
	logger *zap.Logger,
) *RequestProcessor {
	return &RequestProcessor{requests: requests, store: store, comp: comp, logger: logger}
}

func (p *RequestProcessor) Kind() domain.OutboxKind {
	return domain.OutboxRequest
}

// Process composes the request behind the record. A request that is gone or
// already settled (dispatched, failed, or canceled since the record was
// written) makes the record moot: it is deleted and processing stops.
//
// Composition is safe to repeat after a crash mid-pass: already persisted
// recipient x channel pairs are skipped by the message store.
func (p *RequestProcessor) Process(ctx context.Context, o *domain.Outbox) error {
	req, err := p.requests.GetByID(ctx, o.AggregateID)
	if errors.Is(err, domain.ErrNotFound) {
		p.logger.Warn("request outbox record has no aggregate",
			zap.String("outbox_id", o.ID),
			zap.String("request_id", o.AggregateID))
		return p.store.Delete(ctx, o.ID)
	}
	if err != nil {
		return err
	}
	if req.Terminal() {
		return p.store.Delete(ctx, o.ID)
	}

	if req.Status == domain.RequestPending {
		if err := req.MarkProcessing(); err != nil {
			return err
		}
		if err := p.requests.Save(ctx, req); err != nil {
			return err
		}
	}

	if _, err := p.comp.Compose(ctx, req); err != nil {
		return err
	}

	// An empty fan-out still dispatches: there was simply no one to reach.
	if err := req.MarkDispatched(); err != nil {
		return err
	}
	if err := p.requests.Save(ctx, req); err != nil {
		return err
	}
	return p.store.Delete(ctx, o.ID)
}

func (p *RequestProcessor) OnPermanentFailure(ctx context.Context, o *domain.Outbox, cause error) error {
	return p.fail(ctx, o, cause.Error())
}

func (p *RequestProcessor) OnDead(ctx context.Context, o *domain.Outbox, cause error) error {
	return p.fail(ctx, o, fmt.Sprintf("retry budget exhausted: %v", cause))
}

func (p *RequestProcessor) fail(ctx context.Context, o *domain.Outbox, reason string) error {
	req, err := p.requests.GetByID(ctx, o.AggregateID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if req.Terminal() {
		return nil
	}
	if req.Status == domain.RequestPending {
		if err := req.MarkProcessing(); err != nil {
			return err
		}
	}
	if err := req.MarkFailed(reason); err != nil {
		return err
	}
	return p.requests.Save(ctx, req)
}
