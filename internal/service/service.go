// Package service is the application layer behind the HTTP API: request
// intake with idempotent deduplication, lifecycle queries, cancellation,
// and dead-letter inspection and replay.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/notifyhub/notification-outbox/internal/domain"
	"github.com/notifyhub/notification-outbox/internal/idempotency"
	"github.com/notifyhub/notification-outbox/internal/outbox"
	"github.com/notifyhub/notification-outbox/internal/repository"
)

// CreateRequestInput carries everything needed to accept one request.
type CreateRequestInput struct {
	IdempotencyKey string
	Requester      domain.Requester
	Recipients     domain.RecipientRefs
	Channels       []domain.Channel
	Senders        domain.SenderInfos
	Content        *domain.Content
	Template       *domain.TemplateRef
	ScheduledAt    *time.Time
	Memo           string
}

// Hooks carries the metric callback functions injected by main.
type Hooks struct {
	OnAccepted func(channels []domain.Channel)
	OnCanceled func()
	OnReplayed func(kind domain.OutboxKind)
}

// Service wires intake, queries, cancellation, and dead-letter operations
// over the repositories.
type Service struct {
	db            idempotency.TxBeginner
	requests      repository.RequestRepository
	messages      repository.MessageRepository
	requestOutbox repository.OutboxStore
	messageOutbox repository.OutboxStore
	guard         *idempotency.Guard
	requestNotify *outbox.Notifier
	messageNotify *outbox.Notifier
	logger        *zap.Logger
	hooks         Hooks
}

func New(
	db idempotency.TxBeginner,
	requests repository.RequestRepository,
	messages repository.MessageRepository,
	requestOutbox repository.OutboxStore,
	messageOutbox repository.OutboxStore,
	guard *idempotency.Guard,
	requestNotify *outbox.Notifier,
	messageNotify *outbox.Notifier,
	logger *zap.Logger,
	hooks Hooks,
) *Service {
	return &Service{
		db:            db,
		requests:      requests,
		messages:      messages,
		requestOutbox: requestOutbox,
		messageOutbox: messageOutbox,
		guard:         guard,
		requestNotify: requestNotify,
		messageNotify: messageNotify,
		logger:        logger,
		hooks:         hooks,
	}
}

const opCreateRequest = "create_notification_request"

// CreateRequest validates and persists a request with its outbox record in
// one transaction. With an idempotency key, repeated calls return the
// request the first call created; reused reports that case. Without a key
// every call creates a fresh request.
func (s *Service) CreateRequest(ctx context.Context, in CreateRequestInput) (*domain.Request, bool, error) {
	req, err := domain.NewRequest(
		in.Requester, in.Recipients, in.Channels, in.Senders,
		in.Content, in.Template, in.ScheduledAt, in.Memo,
	)
	if err != nil {
		return nil, false, err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, false, fmt.Errorf("marshal request payload: %w", err)
	}
	ob, err := domain.NewOutbox(req.ID, payload, in.ScheduledAt)
	if err != nil {
		return nil, false, err
	}

	persist := func(ctx context.Context, tx pgx.Tx) (*domain.Request, error) {
		if err := s.requests.CreateWithOutbox(ctx, tx, req, ob); err != nil {
			return nil, err
		}
		return req, nil
	}

	var (
		created *domain.Request
		reused  bool
	)
	if in.IdempotencyKey == "" {
		created, err = s.persistDirect(ctx, persist)
	} else {
		created, reused, err = idempotency.Do(ctx, s.guard, in.IdempotencyKey, opCreateRequest, persist)
	}
	if err != nil {
		return nil, false, err
	}

	if !reused {
		s.wake(ob, in.ScheduledAt)
		if s.hooks.OnAccepted != nil {
			s.hooks.OnAccepted(created.Channels)
		}
		s.logger.Info("request accepted",
			zap.String("request_id", created.ID),
			zap.Int("recipients", len(created.Recipients)),
			zap.Int("channels", len(created.Channels)))
	}
	return created, reused, nil
}

func (s *Service) persistDirect(ctx context.Context, persist func(context.Context, pgx.Tx) (*domain.Request, error)) (*domain.Request, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	req, err := persist(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit request: %w", err)
	}
	return req, nil
}

// wake nudges the request engine unless the record is scheduled for later.
func (s *Service) wake(ob *domain.Outbox, scheduledAt *time.Time) {
	if scheduledAt != nil && scheduledAt.After(time.Now().UTC()) {
		return
	}
	s.requestNotify.Notify(ob.ID)
}

func (s *Service) GetRequest(ctx context.Context, id string) (*domain.Request, error) {
	return s.requests.GetByID(ctx, id)
}

func (s *Service) ListRequests(ctx context.Context, f repository.ListFilter) ([]*domain.Request, int, error) {
	return s.requests.List(ctx, f)
}

// CancelRequest stops a request that has not finished fanning out. Messages
// already composed keep flowing; cancellation is a fan-out stop, not a
// recall.
func (s *Service) CancelRequest(ctx context.Context, id string) (*domain.Request, error) {
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := req.MarkCanceled(); err != nil {
		return nil, err
	}
	if err := s.requests.Save(ctx, req); err != nil {
		return nil, err
	}
	if s.hooks.OnCanceled != nil {
		s.hooks.OnCanceled()
	}
	s.logger.Info("request canceled", zap.String("request_id", id))
	return req, nil
}

func (s *Service) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	return s.messages.GetByID(ctx, id)
}

// ListMessages returns the messages composed from one request.
func (s *Service) ListMessages(ctx context.Context, requestID string) ([]*domain.Message, error) {
	if _, err := s.requests.GetByID(ctx, requestID); err != nil {
		return nil, err
	}
	return s.messages.ListByRequestID(ctx, requestID)
}

// ListDead returns dead-lettered records of the given kind, oldest first.
func (s *Service) ListDead(ctx context.Context, kind domain.OutboxKind, limit int) ([]*domain.Outbox, error) {
	store, err := s.storeFor(kind)
	if err != nil {
		return nil, err
	}
	return store.ListDead(ctx, limit)
}

// ReplayDead puts a dead-lettered record back in line with a fresh retry
// budget. The failed aggregate behind it is reset to pending first so the
// next claim actually reprocesses it instead of discarding the record as
// moot.
func (s *Service) ReplayDead(ctx context.Context, kind domain.OutboxKind, id string) error {
	store, err := s.storeFor(kind)
	if err != nil {
		return err
	}

	ob, err := store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if ob.Status != domain.OutboxDead {
		return domain.ErrNotDead
	}

	if err := s.resetAggregate(ctx, kind, ob.AggregateID); err != nil {
		return err
	}
	if err := store.Replay(ctx, id); err != nil {
		return err
	}

	if s.hooks.OnReplayed != nil {
		s.hooks.OnReplayed(kind)
	}
	s.logger.Info("dead-lettered record replayed",
		zap.String("outbox_kind", string(kind)),
		zap.String("outbox_id", id),
		zap.String("aggregate_id", ob.AggregateID))

	switch kind {
	case domain.OutboxRequest:
		s.requestNotify.Notify(id)
	case domain.OutboxMessage:
		s.messageNotify.Notify(id)
	}
	return nil
}

func (s *Service) resetAggregate(ctx context.Context, kind domain.OutboxKind, aggregateID string) error {
	switch kind {
	case domain.OutboxRequest:
		req, err := s.requests.GetByID(ctx, aggregateID)
		if err != nil {
			return err
		}
		if err := req.Reset(); err != nil {
			return err
		}
		return s.requests.Save(ctx, req)
	case domain.OutboxMessage:
		msg, err := s.messages.GetByID(ctx, aggregateID)
		if err != nil {
			return err
		}
		if err := msg.Reset(); err != nil {
			return err
		}
		return s.messages.Save(ctx, msg)
	default:
		return fmt.Errorf("unknown outbox kind %q", kind)
	}
}

func (s *Service) storeFor(kind domain.OutboxKind) (repository.OutboxStore, error) {
	switch kind {
	case domain.OutboxRequest:
		return s.requestOutbox, nil
	case domain.OutboxMessage:
		return s.messageOutbox, nil
	default:
		return nil, fmt.Errorf("unknown outbox kind %q", kind)
	}
}
