package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/notifyhub/notification-outbox/internal/domain"
	"github.com/notifyhub/notification-outbox/internal/outbox"
	"github.com/notifyhub/notification-outbox/internal/repository"
	"github.com/notifyhub/notification-outbox/internal/service"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	RequestsAccepted  *prometheus.CounterVec
	RequestsCanceled  prometheus.Counter
	MessagesPublished *prometheus.CounterVec
	PublishLatency    *prometheus.HistogramVec
	OutboxDrained     *prometheus.CounterVec
	OutboxDead        *prometheus.CounterVec
	OutboxReplayed    *prometheus.CounterVec
	OutboxStuckReset  *prometheus.CounterVec
	OutboxPending     *prometheus.GaugeVec
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_requests_accepted_total",
			Help: "Total number of accepted notification requests.",
		}, []string{"channel"}),

		RequestsCanceled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notification_requests_canceled_total",
			Help: "Total number of canceled notification requests.",
		}),

		MessagesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "messages_published_total",
			Help: "Total number of messages accepted by a channel gateway.",
		}, []string{"channel"}),

		PublishLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "message_publish_seconds",
			Help:    "Gateway call latency per channel.",
			Buckets: prometheus.DefBuckets,
		}, []string{"channel"}),

		OutboxDrained: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_drained_total",
			Help: "Outbox records processed, by kind and outcome.",
		}, []string{"kind", "outcome"}),

		OutboxDead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_dead_total",
			Help: "Outbox records dead-lettered after exhausting retries.",
		}, []string{"kind"}),

		OutboxReplayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_replayed_total",
			Help: "Dead-lettered outbox records put back in line.",
		}, []string{"kind"}),

		OutboxStuckReset: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_stuck_reset_total",
			Help: "IN_PROGRESS records recovered by the stuck sweep.",
		}, []string{"kind"}),

		OutboxPending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "outbox_pending",
			Help: "Records currently awaiting a claim, by kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.RequestsAccepted,
		m.RequestsCanceled,
		m.MessagesPublished,
		m.PublishLatency,
		m.OutboxDrained,
		m.OutboxDead,
		m.OutboxReplayed,
		m.OutboxStuckReset,
		m.OutboxPending,
	)

	return m
}

// EngineHooks returns the metric callbacks expected by outbox.MetricHooks.
func (m *Metrics) EngineHooks() outbox.MetricHooks {
	return outbox.MetricHooks{
		OnDrained: func(kind domain.OutboxKind, outcome string, latency time.Duration) {
			m.OutboxDrained.WithLabelValues(string(kind), outcome).Inc()
		},
		OnDead: func(kind domain.OutboxKind) {
			m.OutboxDead.WithLabelValues(string(kind)).Inc()
		},
	}
}

// ServiceHooks returns the metric callbacks expected by service.Hooks.
func (m *Metrics) ServiceHooks() service.Hooks {
	return service.Hooks{
		OnAccepted: func(channels []domain.Channel) {
			for _, ch := range channels {
				m.RequestsAccepted.WithLabelValues(string(ch)).Inc()
			}
		},
		OnCanceled: func() {
			m.RequestsCanceled.Inc()
		},
		OnReplayed: func(kind domain.OutboxKind) {
			m.OutboxReplayed.WithLabelValues(string(kind)).Inc()
		},
	}
}

// OnPublished is the callback wired into the message processor.
func (m *Metrics) OnPublished(ch domain.Channel, latency time.Duration) {
	m.MessagesPublished.WithLabelValues(string(ch)).Inc()
	m.PublishLatency.WithLabelValues(string(ch)).Observe(latency.Seconds())
}

// OnStuckReset is the callback wired into the sweepers.
func (m *Metrics) OnStuckReset(kind domain.OutboxKind, count int64) {
	m.OutboxStuckReset.WithLabelValues(string(kind)).Add(float64(count))
}

// ObservePending samples the pending gauges every interval until ctx is
// cancelled.
func (m *Metrics) ObservePending(ctx context.Context, interval time.Duration, stores map[domain.OutboxKind]repository.OutboxStore) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for kind, store := range stores {
				n, err := store.PendingCount(ctx)
				if err != nil {
					continue
				}
				m.OutboxPending.WithLabelValues(string(kind)).Set(float64(n))
			}
		}
	}
}
