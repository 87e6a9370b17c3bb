package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/clinicdesk/messaging/internal/application"
	"github.com/clinicdesk/messaging/internal/auth"
	"github.com/clinicdesk/messaging/internal/cache"
	"github.com/clinicdesk/messaging/internal/config"
	"github.com/clinicdesk/messaging/internal/delivery"
	"github.com/clinicdesk/messaging/internal/events"
	"github.com/clinicdesk/messaging/internal/kafka"
	"github.com/clinicdesk/messaging/internal/notify"
	"github.com/clinicdesk/messaging/internal/observability"
	"github.com/clinicdesk/messaging/internal/outbox"
	"github.com/clinicdesk/messaging/internal/repository/sqlstore"
	"github.com/clinicdesk/messaging/internal/transport/httpapi"
	"github.com/clinicdesk/messaging/internal/tx"
)

func main() {
	cfg := config.Load()

	// Observability
	observability.InitLogger(cfg.ServiceName)
	log := observability.Log
	defer log.Sync()

	if cfg.TracingEnabled {
		tp, err := observability.InitTracer(cfg.ServiceName, cfg.JaegerURL)
		if err != nil {
			log.Fatal("failed to initialize tracer", zap.Error(err))
		}
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				log.Error("failed to shutdown tracer provider", zap.Error(err))
			}
		}()
	}

	// Cancellable context for background workers
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	dialect, err := sqlstore.DialectFor(cfg.DatabaseDriver)
	if err != nil {
		log.Fatal("unsupported database driver", zap.Error(err))
	}
	dsn := cfg.DatabaseURL
	if dialect.Name == sqlstore.SQLite.Name {
		dsn = sqlstore.SQLiteDSN(dsn)
	}
	db, err := sqlstore.Open(ctx, dialect, dsn)
	if err != nil {
		log.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close()

	repo := &sqlstore.Repository{DB: db, Dialect: dialect}
	if dialect.Name == sqlstore.SQLite.Name {
		// Embedded databases have no separate migration step.
		if err := repo.Migrate(ctx); err != nil {
			log.Fatal("migration failed", zap.Error(err))
		}
	}

	// Redis Cache
	if cfg.RedisAddr != "" {
		cacheClient := cache.New(cfg.RedisAddr)
		defer cacheClient.Close()
		if err := cacheClient.Ping(ctx); err != nil {
			log.Warn("redis unreachable, continuing without cache", zap.Error(err))
		} else {
			repo.Cache = cacheClient
		}
	}

	txMgr := tx.NewManager(db, nil)
	app := application.New(repo, txMgr, log, application.Config{
		ConcealMembership: cfg.ConcealMembership,
		IdempotencyTTL:    cfg.IdempotencyTTL,
	})

	// Side effects: realtime push and notifications
	registry := delivery.NewRegistry()
	pusher := delivery.NewDispatcher(registry)
	notifier := &notify.Dispatcher{
		Senders: []notify.Sender{notify.AuditSender{Log: log.Named("audit")}},
		Timeout: cfg.NotifyTimeout,
	}

	var publisher outbox.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:  cfg.KafkaBrokers,
			Topic:    cfg.KafkaTopic,
			ClientID: cfg.ServiceName,
		})
		if err != nil {
			log.Fatal("kafka producer failed", zap.Error(err))
		}
		defer producer.Close(5000)
		publisher = producer

		// Notifications are shared across instances; pushes must reach every
		// instance because sessions are local.
		notifyConsumer, err := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroup, []string{cfg.KafkaTopic}, notifier)
		if err != nil {
			log.Fatal("kafka consumer failed", zap.Error(err))
		}
		defer notifyConsumer.Close()
		notifyConsumer.Start(ctx)

		instanceGroup := cfg.KafkaGroup + "-push-" + uuid.NewString()[:8]
		pushConsumer, err := kafka.NewConsumer(cfg.KafkaBrokers, instanceGroup, []string{cfg.KafkaTopic}, pusher)
		if err != nil {
			log.Fatal("kafka consumer failed", zap.Error(err))
		}
		defer pushConsumer.Close()
		pushConsumer.Start(ctx)
	} else {
		log.Info("kafka disabled, delivering events in process")
		inProcess := outbox.NewHandlerPublisher(events.Fanout{pusher, notifier}, cfg.OutboxBatchSize*4)
		go inProcess.Run(ctx)
		publisher = inProcess
	}

	// Outbox Worker
	worker := &outbox.Worker{
		Store:       repo,
		Tx:          txMgr,
		Publisher:   publisher,
		BatchSize:   cfg.OutboxBatchSize,
		PollDelay:   cfg.OutboxPollInterval,
		MaxRetries:  cfg.OutboxMaxRetries,
		ServiceName: cfg.ServiceName,
	}
	go worker.Start(ctx)

	// HTTP Server for Observability (Metrics & Health)
	mux := chi.NewRouter()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Get("/health/live", observability.HealthLiveHandler)
	mux.Get("/health/ready", observability.HealthReadyHandler(db))

	go func() {
		log.Info("HTTP observability server started", zap.String("addr", cfg.ObsHTTPAddr))
		if err := http.ListenAndServe(cfg.ObsHTTPAddr, mux); err != nil {
			log.Error("HTTP observability server failed", zap.Error(err))
		}
	}()

	// API
	authn, err := auth.New(cfg.AuthMode, cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience)
	if err != nil {
		log.Fatal("auth setup failed", zap.Error(err))
	}

	router := httpapi.NewRouter(
		httpapi.NewHandler(app),
		authn,
		delivery.NewHandler(registry, cfg.AllowedOrigins),
		httpapi.RouterConfig{
			ServiceName:       cfg.ServiceName,
			RateLimitRequests: cfg.RateLimitRequests,
			RateLimitWindow:   cfg.RateLimitWindow,
			RequestTimeout:    cfg.RequestTimeout,
		},
	)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP API server started", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP API server failed", zap.Error(err))
		}
	}()

	// Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP API shutdown failed", zap.Error(err))
	}
	registry.CloseAll()
	cancel()

	log.Info("shutdown complete")
}
