package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/pantrypilot/pantrypilot-backend/internal/inventory/consumers"
	"github.com/pantrypilot/pantrypilot-backend/internal/inventory/events"
	"github.com/pantrypilot/pantrypilot-backend/internal/inventory/handler"
	"github.com/pantrypilot/pantrypilot-backend/internal/inventory/notify"
	"github.com/pantrypilot/pantrypilot-backend/internal/inventory/repository"
	"github.com/pantrypilot/pantrypilot-backend/internal/inventory/service"
	"github.com/pantrypilot/pantrypilot-backend/pkg/clock"
	"github.com/pantrypilot/pantrypilot-backend/pkg/config"
	"github.com/pantrypilot/pantrypilot-backend/pkg/database"
	"github.com/pantrypilot/pantrypilot-backend/pkg/httputil"
	"github.com/pantrypilot/pantrypilot-backend/pkg/lock"
	"github.com/pantrypilot/pantrypilot-backend/pkg/logger"
	"github.com/pantrypilot/pantrypilot-backend/pkg/messaging"
	"github.com/pantrypilot/pantrypilot-backend/pkg/metrics"
	"github.com/pantrypilot/pantrypilot-backend/pkg/migrate"
)

const serviceName = "inventory-service"

// backend is the full persistence surface. Both the Postgres and the
// in-memory store satisfy it.
type backend interface {
	repository.Store
	repository.SignalStore
	repository.NotificationStore
	repository.UserStore
}

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(serviceName, cfg.Server.Environment)
	log.Info().Str("storage", cfg.Storage.Driver).Msg("starting Inventory Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	var (
		store    backend
		dbHealth func(context.Context) map[string]string
		closeDB  func() error
	)
	switch cfg.Storage.Driver {
	case config.StoragePostgres:
		db, err := database.New(&cfg.Database, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		if cfg.Database.AutoMigrate {
			if err := migrate.Up(ctx, db.DB.DB); err != nil {
				log.Fatal().Err(err).Msg("failed to apply migrations")
			}
		}
		store = repository.NewPostgresStore(db)
		dbHealth = db.Health
		closeDB = db.Close
	default:
		log.Warn().Msg("using in-memory storage, state is lost on restart")
		store = repository.NewMemoryStore()
		dbHealth = func(context.Context) map[string]string {
			return map[string]string{"status": "memory"}
		}
		closeDB = func() error { return nil }
	}
	defer closeDB()

	// Per-item locks
	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.Redis.Enabled() {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid redis url")
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rdb.Close()
		locker = lock.NewRedisLocker(rdb, cfg.Redis.LockTTL, cfg.Redis.LockTimeout, log)
		log.Info().Msg("using redis item locks")
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	sweepMetrics := metrics.NewSweepMetrics(reg)

	// Messaging
	var (
		rmq       *messaging.RabbitMQ
		publisher *events.InventoryEventPublisher
	)
	chat := &notify.ChatChannel{}
	if cfg.RabbitMQ.Enabled() {
		rmq, err = messaging.New(&cfg.RabbitMQ, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
		}
		defer rmq.Close()

		if err := rmq.Setup(serviceName, messaging.ExchangeInventoryEvents, messaging.ExchangeNotificationEvents); err != nil {
			log.Fatal().Err(err).Msg("failed to set up RabbitMQ topology")
		}

		publisher, err = events.NewInventoryEventPublisher(rmq, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create event publisher")
		}

		chatPublisher, err := messaging.NewPublisher(rmq, messaging.ExchangeNotificationEvents, serviceName, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create chat publisher")
		}
		chat.Publisher = chatPublisher

		userConsumer, err := consumers.NewUserEventConsumer(rmq, store, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create user event consumer")
		}
		if err := userConsumer.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start user event consumer")
		}
	} else {
		log.Warn().Msg("RabbitMQ not configured, events and chat delivery disabled")
	}

	// Services
	clk := clock.Real{}
	dispatcher := notify.NewDispatcher(map[repository.Channel]notify.Channel{
		repository.ChannelEmail: &notify.EmailChannel{Brand: cfg.Alerts.Brand},
		repository.ChannelSMS:   notify.SMSChannel{},
		repository.ChannelInApp: &notify.InAppChannel{Store: store},
		repository.ChannelChat:  chat,
	}, store, clk, sweepMetrics, log)

	ledger := service.NewCostLedger(store, locker, publisher, clk, log)
	allocator := service.NewBatchAllocator(store, locker, publisher, clk, log)
	variance := service.NewVarianceService(store, store, clk, log)
	deliveries := service.NewDeliveryService(store, clk, log)
	notifications := service.NewNotificationService(store, store, clk, log)
	engine := service.NewAlertSweepEngine(
		store, store, store, store,
		dispatcher, publisher,
		service.ThresholdsFromConfig(cfg.Alerts),
		clk, sweepMetrics, log,
	)

	var scheduler *service.AlertScheduler
	if cfg.Alerts.SchedulerEnabled {
		scheduler = service.NewAlertScheduler(engine, cfg.Alerts.SweepInterval, cfg.Alerts.DigestInterval, log)
		scheduler.Start(ctx)
	}

	// Router
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", "X-User-ID", "X-User-Role"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(httputil.GatewayUser)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]interface{}{
			"status":   "healthy",
			"service":  serviceName,
			"database": dbHealth(r.Context()),
		}
		if rmq != nil {
			status["rabbitmq"] = rmq.Health()
		}
		httputil.JSON(w, http.StatusOK, status)
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	handlers := &handler.Handlers{
		Items:   handler.NewItemHandler(ledger, log),
		Batches: handler.NewBatchHandler(allocator, log),
		Signals: handler.NewSignalHandler(variance, deliveries, log),
		Alerts:  handler.NewAlertHandler(engine, notifications, log),
	}
	handlers.Mount(r)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Stop consumers and scheduled sweeps before draining requests
	cancel()
	if scheduler != nil {
		scheduler.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
