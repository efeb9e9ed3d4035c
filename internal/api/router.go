package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/notifyhub/notification-outbox/internal/api/handler"
	apimw "github.com/notifyhub/notification-outbox/internal/api/middleware"
	"github.com/notifyhub/notification-outbox/internal/service"
)

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(
	svc *service.Service,
	db handler.Pinger,
	reg prometheus.Gatherer,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- global middleware (applied to every route) ---
	r.Use(chimw.Recoverer)          // recover panics, return 500
	r.Use(chimw.RealIP)             // trust X-Forwarded-For / X-Real-IP
	r.Use(chimw.RequestSize(1<<20)) // 1 MB max request body
	r.Use(apimw.CorrelationID)      // X-Correlation-ID inject / echo
	r.Use(apimw.RequestLogger(logger))

	// --- handler instances ---
	rh := handler.NewRequestHandler(svc, logger)
	mh := handler.NewMessageHandler(svc, logger)
	dh := handler.NewDeadLetterHandler(svc, logger)
	hh := handler.NewHealthHandler(db)

	// --- routes ---
	r.Get("/health", hh.Health)

	// Raw Prometheus scrape endpoint (for Prometheus server / Grafana)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/requests", rh.Create)
		r.Get("/requests", rh.List)
		r.Get("/requests/{id}", rh.GetByID)
		r.Delete("/requests/{id}", rh.Cancel)
		r.Get("/requests/{id}/messages", mh.ListByRequest)

		r.Get("/messages/{id}", mh.GetByID)

		r.Get("/dead-letters/{kind}", dh.List)
		r.Post("/dead-letters/{kind}/{id}/replay", dh.Replay)
	})

	return r
}
