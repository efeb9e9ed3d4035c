package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/notification-outbox/internal/domain"
	"github.com/notifyhub/notification-outbox/internal/repository"
)

// Sweeper recovers records stranded IN_PROGRESS by a crashed or partitioned
// worker. Anything claimed longer ago than the stuck threshold goes back to
// PENDING with its retry count untouched; handlers tolerate the occasional
// duplicate execution this implies.
type Sweeper struct {
	store      repository.OutboxStore
	kind       domain.OutboxKind
	interval   time.Duration
	stuckAfter time.Duration
	logger     *zap.Logger
	onReset    func(kind domain.OutboxKind, count int64)
}

func NewSweeper(
	store repository.OutboxStore,
	kind domain.OutboxKind,
	interval, stuckAfter time.Duration,
	logger *zap.Logger,
	onReset func(kind domain.OutboxKind, count int64),
) *Sweeper {
	return &Sweeper{
		store:      store,
		kind:       kind,
		interval:   interval,
		stuckAfter: stuckAfter,
		logger:     logger.With(zap.String("outbox_kind", string(kind))),
		onReset:    onReset,
	}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("outbox sweeper started",
		zap.Duration("interval", s.interval),
		zap.Duration("stuck_after", s.stuckAfter))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("outbox sweeper stopping")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single recovery pass.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.stuckAfter)
	n, err := s.store.ResetStuck(ctx, cutoff)
	if err != nil {
		s.logger.Error("stuck sweep error", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Warn("recovered stuck outbox records", zap.Int64("count", n))
		if s.onReset != nil {
			s.onReset(s.kind, n)
		}
	}
}
