package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmmetrics "github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	_ "github.com/go-sql-driver/mysql"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GyanXspy/restaurant-orders/internal/admin"
	"github.com/GyanXspy/restaurant-orders/internal/config"
	"github.com/GyanXspy/restaurant-orders/internal/dlq"
	"github.com/GyanXspy/restaurant-orders/internal/events"
	"github.com/GyanXspy/restaurant-orders/internal/metrics"
	"github.com/GyanXspy/restaurant-orders/internal/order"
	"github.com/GyanXspy/restaurant-orders/internal/order/eventstore"
	"github.com/GyanXspy/restaurant-orders/internal/resilience"
	"github.com/GyanXspy/restaurant-orders/internal/saga"
	"github.com/GyanXspy/restaurant-orders/internal/saga/retry"
	sagastore "github.com/GyanXspy/restaurant-orders/internal/saga/store"
	"github.com/GyanXspy/restaurant-orders/internal/saga/timeout"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	level := slog.LevelInfo
	if cfg.LogDebug {
		level = slog.LevelDebug
	}
	logger := watermill.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	var (
		db         *sql.DB
		eventStore order.EventStore
		sagaStore  saga.StateStore
		counters   retry.CounterStore
		dlqStore   dlq.RecordStore
	)
	if cfg.DatabaseDSN != "" {
		db, err = sql.Open("mysql", cfg.DatabaseDSN)
		if err != nil {
			panic(err)
		}

		orderEvents, err := eventstore.NewMySQL(db)
		if err != nil {
			panic(err)
		}
		sagas, err := sagastore.NewMySQL(db)
		if err != nil {
			panic(err)
		}
		deadLetters, err := dlq.NewMySQLStore(db)
		if err != nil {
			panic(err)
		}

		eventStore, sagaStore, counters, dlqStore = orderEvents, sagas, sagas, deadLetters
	} else {
		logger.Info("No database configured, using in-memory stores", nil)

		sagas := sagastore.NewMemory()
		eventStore, sagaStore, counters, dlqStore = eventstore.NewMemory(), sagas, sagas, dlq.NewMemoryStore()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	sagaMetrics := metrics.NewSagaMetrics(registry)

	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, logger)

	publisher, err := resilience.NewPublisher(pubSub, resilience.PublisherConfig{}, logger)
	if err != nil {
		panic(err)
	}

	bus, err := events.NewBus(publisher, logger)
	if err != nil {
		panic(err)
	}

	orderService, err := order.NewService(eventStore)
	if err != nil {
		panic(err)
	}

	scheduler := timeout.NewScheduler(logger)
	coordinator := retry.NewCoordinator(retry.Config{
		MaxAttempts:  cfg.RetryMaxAttempts,
		InitialDelay: cfg.RetryInitialDelay,
		Multiplier:   cfg.RetryMultiplier,
		MaxDelay:     cfg.RetryMaxDelay,
	}, counters, logger)

	orchestrator, err := saga.NewOrchestrator(
		saga.Config{
			CartValidationTimeout: cfg.CartValidationTimeout,
			PaymentTimeout:        cfg.PaymentTimeout,
			ConfirmationTimeout:   cfg.ConfirmationTimeout,
		},
		sagaStore,
		orderService,
		bus,
		scheduler,
		coordinator,
		sagaMetrics,
		logger,
	)
	if err != nil {
		panic(err)
	}

	capture, err := dlq.NewCapture(dlqStore, publisher, orchestrator, sagaMetrics, logger)
	if err != nil {
		panic(err)
	}

	replayService, err := dlq.NewService(dlqStore, publisher, logger)
	if err != nil {
		panic(err)
	}

	router, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		panic(err)
	}
	wmmetrics.NewPrometheusMetricsBuilder(registry, "", "").AddPrometheusRouterMetrics(router)

	router.AddMiddleware(
		middleware.CorrelationID,
		capture.Middleware,
		middleware.Retry{
			MaxRetries:      3,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     time.Second,
			Multiplier:      2,
			Logger:          logger,
		}.Middleware,
		middleware.Recoverer,
	)

	processor, err := events.NewProcessor(router, pubSub, logger)
	if err != nil {
		panic(err)
	}
	if err := events.AddHandler(processor, "order_created_handler", orchestrator.StartSaga); err != nil {
		panic(err)
	}
	if err := events.AddHandler(processor, "cart_validation_handler", orchestrator.OnCartValidationResult); err != nil {
		panic(err)
	}
	if err := events.AddHandler(processor, "payment_result_handler", orchestrator.OnPaymentResult); err != nil {
		panic(err)
	}

	adminServer, err := admin.NewServer(replayService, logger)
	if err != nil {
		panic(err)
	}

	mux := http.NewServeMux()
	mux.Handle("/admin/", adminServer.Router())
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	routerDone := make(chan error, 1)
	go func() {
		routerDone <- router.Run(ctx)
	}()

	<-router.Running()

	if err := orchestrator.Rehydrate(ctx); err != nil {
		logger.Error("Rehydration failed", err, nil)
	}

	go func() {
		ticker := time.NewTicker(cfg.StaleSweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := orchestrator.SweepTimedOut(ctx, cfg.StaleAfter); err != nil {
					logger.Error("Stale saga sweep failed", err, nil)
				}
			}
		}
	}()

	go func() {
		logger.Info("HTTP server listening", watermill.LogFields{"addr": cfg.HTTPAddr})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", err, nil)
		}
	}()

	logger.Info("Order saga service running", nil)
	<-ctx.Done()

	var shutdownErr error

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		shutdownErr = multierror.Append(shutdownErr, err)
	}

	if err := <-routerDone; err != nil {
		shutdownErr = multierror.Append(shutdownErr, err)
	}

	scheduler.Close()
	coordinator.Close()

	if db != nil {
		if err := db.Close(); err != nil {
			shutdownErr = multierror.Append(shutdownErr, err)
		}
	}

	if shutdownErr != nil {
		logger.Error("Shutdown finished with errors", shutdownErr, nil)
		os.Exit(1)
	}

	logger.Info("Shutdown complete", nil)
}
