package dispatch

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/notifyhub/notification-outbox/internal/domain"
)

// ChannelLimiters holds one token bucket limiter per channel, applied
// immediately before the gateway call. Burst equals the rate so no capacity
// is saved up beyond the configured per-second maximum.
type ChannelLimiters struct {
	limiters map[domain.Channel]*rate.Limiter
}

// NewChannelLimiters creates limiters with ratePerSec tokens per second per
// channel.
func NewChannelLimiters(ratePerSec int) *ChannelLimiters {
	r := rate.Limit(ratePerSec)
	burst := ratePerSec

	return &ChannelLimiters{
		limiters: map[domain.Channel]*rate.Limiter{
			domain.ChannelSMS:   rate.NewLimiter(r, burst),
			domain.ChannelEmail: rate.NewLimiter(r, burst),
			domain.ChannelPush:  rate.NewLimiter(r, burst),
		},
	}
}

// Wait blocks until the channel's limiter grants a token. Returns a non-nil
// error only if ctx is cancelled while waiting.
func (cl *ChannelLimiters) Wait(ctx context.Context, ch domain.Channel) error {
	l, ok := cl.limiters[ch]
	if !ok {
		return nil
	}
	return l.Wait(ctx)
}

// Router picks the publisher for a message's channel and applies the
// channel rate limit before delegating.
type Router struct {
	publishers map[domain.Channel]Publisher
	limiters   *ChannelLimiters
}

func NewRouter(publishers map[domain.Channel]Publisher, limiters *ChannelLimiters) *Router {
	return &Router{publishers: publishers, limiters: limiters}
}

// Publish routes the message to its channel's gateway. A channel with no
// registered publisher is a permanent failure: no amount of retrying makes
// an unconfigured channel deliverable.
func (r *Router) Publish(ctx context.Context, msg *domain.Message) error {
	pub, ok := r.publishers[msg.Channel]
	if !ok {
		return domain.Permanent(
			fmt.Errorf("channel %s: %w", msg.Channel, domain.ErrNoPublisher))
	}
	if r.limiters != nil {
		if err := r.limiters.Wait(ctx, msg.Channel); err != nil {
			return err
		}
	}
	return pub.Publish(ctx, msg)
}

// compile-time check that Router implements Publisher
var _ Publisher = (*Router)(nil)
