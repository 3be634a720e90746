// Maestro Server — API и оркестрационный движок.
//
// Server:
//   - Принимает trigger surface POST /run/{id} и management API
//   - Проводит предложенные переходы через pipeline правил
//   - Публикует события runs в RabbitMQ
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shaiso/Maestro/internal/api"
	"github.com/shaiso/Maestro/internal/config"
	"github.com/shaiso/Maestro/internal/engine"
	"github.com/shaiso/Maestro/internal/mq"
	"github.com/shaiso/Maestro/internal/repo"
	"github.com/shaiso/Maestro/internal/slots"
	"github.com/shaiso/Maestro/internal/telemetry"
)

var startTime = time.Now()

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting maestro-server")

	cfg, err := config.Load("")
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Подключаемся к базе данных
	pool, err := repo.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("connected to database")

	// Создаём репозитории
	flowRepo := repo.NewFlowRepo(pool)
	runStore := repo.NewRunStore(pool)
	scheduleRepo := repo.NewScheduleRepo(pool)
	limitRepo := repo.NewLimitRepo(pool)
	cacheRepo := repo.NewCacheRepo(pool, cfg.API.CacheTTL.Std())

	// RabbitMQ (опционально)
	var publisher *mq.Publisher
	if cfg.RabbitMQ.Enabled {
		mqConn, err := mq.NewConnection(cfg.RabbitMQ.URL, logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, events will not be published", "error", err)
		} else {
			defer mqConn.Close()
			logger.Info("RabbitMQ connected")

			if err := mq.SetupTopology(ctx, mqConn); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			}
			publisher = mq.NewPublisher(mqConn, logger)
		}
	}

	// Менеджер слотов: загружаем сконфигурированные лимиты из БД
	slotMgr := slots.NewManager(logger)
	limits, err := limitRepo.List(ctx)
	if err != nil {
		logger.Error("failed to load concurrency limits", "error", err)
		os.Exit(1)
	}
	for _, l := range limits {
		slotMgr.SetLimit(l.Key, l.Slots)
	}
	logger.Info("concurrency limits loaded", "count", len(limits))

	// Оркестрационный движок
	eng := engine.New(engine.Config{
		Store:  runStore,
		Slots:  slotMgr,
		Cache:  cacheRepo,
		Logger: logger,
	})

	// API handler
	handler := api.NewHandler(api.Config{
		Flows:     flowRepo,
		Runs:      runStore,
		Schedules: scheduleRepo,
		Limits:    limitRepo,
		Engine:    eng,
		Slots:     slotMgr,
		Publisher: publisher,
		Logger:    logger,
	})

	mux := http.NewServeMux()

	// Health и metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.Handle("/metrics", promhttp.Handler())

	// Регистрируем API маршруты
	handler.RegisterRoutes(mux)

	addr := config.Addr(cfg.API.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}
