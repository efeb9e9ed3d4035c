// Package outbox drives the transactional outbox tables: claiming due
// records, invoking the kind-specific handler, and owning the shared
// failure path (backoff, retry accounting, dead-lettering).
package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/notifyhub/notification-outbox/internal/domain"
	"github.com/notifyhub/notification-outbox/internal/repository"
)

// Handler is the kind-specific half of the drain loop.
//
// Process does the real work for one claimed record. On success the handler
// must have finalized its aggregate and deleted the outbox record itself,
// atomically where the aggregate lives in the same database. A record whose
// aggregate turns out to be missing or already settled is not an error: the
// handler deletes the record and returns nil.
//
// An error wrapped by domain.Permanent skips the retry budget entirely.
type Handler interface {
	Kind() domain.OutboxKind
	Process(ctx context.Context, o *domain.Outbox) error
	// OnPermanentFailure settles the aggregate for a non-retryable error.
	// The engine deletes the outbox record afterwards.
	OnPermanentFailure(ctx context.Context, o *domain.Outbox, cause error) error
	// OnDead settles the aggregate once the retry budget is spent. The
	// outbox record itself stays behind as DEAD for inspection and replay.
	OnDead(ctx context.Context, o *domain.Outbox, cause error) error
}

// MetricHooks carries the metric callback functions injected by main.
type MetricHooks struct {
	OnDrained func(kind domain.OutboxKind, outcome string, latency time.Duration)
	OnDead    func(kind domain.OutboxKind)
}

// Config bounds one engine instance.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	Parallelism  int
	MaxRetries   int
	Backoff      Backoff
}

// Engine drains one outbox table. Ticks of the poll interval are the
// correctness backstop; the notifier is only a latency optimization.
type Engine struct {
	store    repository.OutboxStore
	handler  Handler
	notifier *Notifier
	cfg      Config
	logger   *zap.Logger
	hooks    MetricHooks
}

func NewEngine(
	store repository.OutboxStore,
	handler Handler,
	notifier *Notifier,
	cfg Config,
	logger *zap.Logger,
	hooks MetricHooks,
) *Engine {
	return &Engine{
		store:    store,
		handler:  handler,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With(zap.String("outbox_kind", string(handler.Kind()))),
		hooks:    hooks,
	}
}

// Run polls until ctx is cancelled. Claimed records are handed to a fixed
// pool of workers; the claim loop itself never waits on a handler, so one
// slow record cannot delay claiming of the others.
func (e *Engine) Run(ctx context.Context) {
	jobs := make(chan *domain.Outbox, e.cfg.BatchSize)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < e.cfg.Parallelism; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case o := <-jobs:
					e.process(gctx, o)
				}
			}
		})
	}

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	e.logger.Info("outbox engine started",
		zap.Duration("poll_interval", e.cfg.PollInterval),
		zap.Int("batch_size", e.cfg.BatchSize),
		zap.Int("parallelism", e.cfg.Parallelism))

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("outbox engine stopping")
			_ = g.Wait()
			return
		case <-ticker.C:
			e.claimDue(ctx, jobs)
		case id := <-e.notifier.C():
			e.claimByID(ctx, id, jobs)
		}
	}
}

// claimDue claims one batch and enqueues it for the workers. Claimed records
// are already IN_PROGRESS, so a record stuck in a full queue at shutdown is
// recovered by the sweeper.
func (e *Engine) claimDue(ctx context.Context, jobs chan<- *domain.Outbox) {
	records, err := e.store.ClaimDue(ctx, time.Now().UTC(), e.cfg.BatchSize)
	if err != nil {
		e.logger.Error("outbox claim error", zap.Error(err))
		return
	}
	for _, o := range records {
		select {
		case jobs <- o:
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) claimByID(ctx context.Context, id string, jobs chan<- *domain.Outbox) {
	o, err := e.store.ClaimByID(ctx, id, time.Now().UTC())
	if err != nil {
		// Usually already claimed by a poll tick. Nothing to do.
		return
	}
	select {
	case jobs <- o:
	case <-ctx.Done():
	}
}

// DrainOnce claims and processes one batch, returning once every record in
// it is settled. Run does not use it; it exists for tests and on-demand
// drains that need a synchronous pass.
func (e *Engine) DrainOnce(ctx context.Context) {
	records, err := e.store.ClaimDue(ctx, time.Now().UTC(), e.cfg.BatchSize)
	if err != nil {
		e.logger.Error("outbox claim error", zap.Error(err))
		return
	}
	if len(records) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Parallelism)
	for _, o := range records {
		g.Go(func() error {
			e.process(gctx, o)
			return nil
		})
	}
	_ = g.Wait()
}

// process runs the handler for one claimed record and settles the outcome.
// Success cleanup belongs to the handler; every failure path is owned here.
func (e *Engine) process(ctx context.Context, o *domain.Outbox) {
	start := time.Now()
	err := e.handler.Process(ctx, o)
	if err == nil {
		e.observe("success", start)
		return
	}

	if domain.IsPermanent(err) {
		e.settlePermanent(ctx, o, err)
		e.observe("permanent_failure", start)
		return
	}

	if o.RetriesExhausted(e.cfg.MaxRetries) {
		e.settleDead(ctx, o, err)
		e.observe("dead", start)
		return
	}

	next := e.cfg.Backoff.Next(time.Now().UTC(), o.RetryAttempts)
	if markErr := o.MarkFailed(next); markErr != nil {
		e.logger.Error("could not schedule retry",
			zap.String("outbox_id", o.ID), zap.Error(markErr))
		return
	}
	if updErr := e.store.Update(ctx, o); updErr != nil {
		e.logger.Error("could not persist retry state",
			zap.String("outbox_id", o.ID), zap.Error(updErr))
		return
	}
	e.logger.Warn("outbox record scheduled for retry",
		zap.String("outbox_id", o.ID),
		zap.String("aggregate_id", o.AggregateID),
		zap.Int("retry_attempts", o.RetryAttempts),
		zap.Time("next_retry_at", next),
		zap.Error(err))
	e.observe("retry", start)
}

func (e *Engine) settlePermanent(ctx context.Context, o *domain.Outbox, cause error) {
	if err := e.handler.OnPermanentFailure(ctx, o, cause); err != nil {
		e.logger.Error("could not settle permanent failure",
			zap.String("outbox_id", o.ID), zap.Error(err))
		return
	}
	if err := e.store.Delete(ctx, o.ID); err != nil {
		e.logger.Error("could not delete outbox after permanent failure",
			zap.String("outbox_id", o.ID), zap.Error(err))
		return
	}
	e.logger.Warn("outbox record failed permanently",
		zap.String("outbox_id", o.ID),
		zap.String("aggregate_id", o.AggregateID),
		zap.Error(cause))
}

func (e *Engine) settleDead(ctx context.Context, o *domain.Outbox, cause error) {
	if err := o.MarkDead(); err != nil {
		e.logger.Error("could not mark outbox dead",
			zap.String("outbox_id", o.ID), zap.Error(err))
		return
	}
	if err := e.store.Update(ctx, o); err != nil {
		e.logger.Error("could not persist dead outbox",
			zap.String("outbox_id", o.ID), zap.Error(err))
		return
	}
	if err := e.handler.OnDead(ctx, o, cause); err != nil {
		e.logger.Error("could not settle dead-lettered aggregate",
			zap.String("outbox_id", o.ID), zap.Error(err))
	}
	if e.hooks.OnDead != nil {
		e.hooks.OnDead(e.handler.Kind())
	}
	e.logger.Error("outbox record dead-lettered",
		zap.String("outbox_id", o.ID),
		zap.String("aggregate_id", o.AggregateID),
		zap.Int("retry_attempts", o.RetryAttempts),
		zap.Error(cause))
}

func (e *Engine) observe(outcome string, start time.Time) {
	if e.hooks.OnDrained != nil {
		e.hooks.OnDrained(e.handler.Kind(), outcome, time.Since(start))
	}
}
