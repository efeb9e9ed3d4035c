package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/notifyhub/notification-outbox/internal/api"
	"github.com/notifyhub/notification-outbox/internal/client"
	"github.com/notifyhub/notification-outbox/internal/composer"
	"github.com/notifyhub/notification-outbox/internal/config"
	"github.com/notifyhub/notification-outbox/internal/db"
	"github.com/notifyhub/notification-outbox/internal/dispatch"
	"github.com/notifyhub/notification-outbox/internal/domain"
	"github.com/notifyhub/notification-outbox/internal/idempotency"
	"github.com/notifyhub/notification-outbox/internal/metrics"
	"github.com/notifyhub/notification-outbox/internal/outbox"
	"github.com/notifyhub/notification-outbox/internal/processor"
	"github.com/notifyhub/notification-outbox/internal/repository"
	"github.com/notifyhub/notification-outbox/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// ---- database ----
	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("database migrations applied")

	// ---- core dependencies ----
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	requests := repository.NewPgRequestRepository(pool)
	messages := repository.NewPgMessageRepository(pool)
	requestOutbox := repository.NewPgOutboxStore(pool, "request_outbox")
	messageOutbox := repository.NewPgOutboxStore(pool, "message_outbox")
	idem := repository.NewPgIdempotencyRepository(pool)
	guard := idempotency.NewGuard(pool, idem, logger)

	requestNotify := outbox.NewNotifier(cfg.NotifyBuffer)
	messageNotify := outbox.NewNotifier(cfg.NotifyBuffer)

	profiles := client.NewProfileClient(cfg.ProfileBaseURL, cfg.ClientTimeout)
	templates := client.NewTemplateClient(cfg.TemplateBaseURL, cfg.ClientTimeout)
	comp := composer.New(messages, profiles, templates, logger, messageNotify.Notify)

	router := dispatch.NewRouter(map[domain.Channel]dispatch.Publisher{
		domain.ChannelSMS:   dispatch.NewSMSPublisher(cfg.SMSGatewayURL, cfg.GatewayTimeout),
		domain.ChannelEmail: dispatch.NewEmailPublisher(cfg.EmailGatewayURL, cfg.GatewayTimeout),
		domain.ChannelPush:  dispatch.NewPushPublisher(cfg.PushGatewayURL, cfg.GatewayTimeout),
	}, dispatch.NewChannelLimiters(cfg.RateLimit))

	svc := service.New(
		pool, requests, messages, requestOutbox, messageOutbox,
		guard, requestNotify, messageNotify, logger, m.ServiceHooks(),
	)

	// ---- outbox engines ----
	reqProc := processor.NewRequestProcessor(requests, requestOutbox, comp, logger)
	msgProc := processor.NewMessageProcessor(messages, messageOutbox, router, logger)
	msgProc.OnPublished = m.OnPublished

	requestEngine := outbox.NewEngine(requestOutbox, reqProc, requestNotify, outbox.Config{
		PollInterval: cfg.PollInterval,
		BatchSize:    cfg.BatchSize,
		Parallelism:  cfg.Parallelism,
		MaxRetries:   cfg.RequestMaxRetries,
		Backoff:      outbox.Backoff{Base: cfg.RequestBackoff, Cap: cfg.RequestBackoffCap},
	}, logger, m.EngineHooks())

	messageEngine := outbox.NewEngine(messageOutbox, msgProc, messageNotify, outbox.Config{
		PollInterval: cfg.PollInterval,
		BatchSize:    cfg.BatchSize,
		Parallelism:  cfg.Parallelism,
		MaxRetries:   cfg.MessageMaxRetries,
		Backoff:      outbox.Backoff{Base: cfg.MessageBackoff, Cap: cfg.MessageBackoffCap},
	}, logger, m.EngineHooks())

	requestSweeper := outbox.NewSweeper(requestOutbox, domain.OutboxRequest,
		cfg.SweepInterval, cfg.StuckAfter, logger, m.OnStuckReset)
	messageSweeper := outbox.NewSweeper(messageOutbox, domain.OutboxMessage,
		cfg.SweepInterval, cfg.StuckAfter, logger, m.OnStuckReset)

	// Context for all background goroutines; cancelled on shutdown signal.
	bgCtx, cancelBg := context.WithCancel(ctx)
	defer cancelBg()

	var wg sync.WaitGroup
	for _, run := range []func(context.Context){
		requestEngine.Run,
		messageEngine.Run,
		requestSweeper.Run,
		messageSweeper.Run,
		func(ctx context.Context) {
			m.ObservePending(ctx, 15*time.Second, map[domain.OutboxKind]repository.OutboxStore{
				domain.OutboxRequest: requestOutbox,
				domain.OutboxMessage: messageOutbox,
			})
		},
	} {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(bgCtx)
		}(run)
	}

	// ---- HTTP server ----
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      api.NewRouter(svc, pool, reg, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Start server in a goroutine so it does not block the shutdown listener.
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Stop the engines and sweepers; in-flight records finish first.
	cancelBg()
	wg.Wait()

	logger.Info("server stopped cleanly")
}
