// Maestro Worker — выполняет runs.
//
// Worker:
//   - Получает готовые к запуску runs из RabbitMQ (polling fallback через БД)
//   - Проводит run через движок: claim → RUNNING → терминальное состояние
//   - Выполняет инфраструктурные submissions через настраиваемый backend
//     (локальный процесс или внешний runner-сервис по HTTP)
//
// Workers масштабируются горизонтально.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Maestro/internal/config"
	"github.com/shaiso/Maestro/internal/engine"
	"github.com/shaiso/Maestro/internal/infra"
	"github.com/shaiso/Maestro/internal/mq"
	"github.com/shaiso/Maestro/internal/repo"
	"github.com/shaiso/Maestro/internal/slots"
	"github.com/shaiso/Maestro/internal/telemetry"
	"github.com/shaiso/Maestro/internal/worker"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting maestro-worker")

	cfg, err := config.Load("")
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	runStore := repo.NewRunStore(pool)
	limitRepo := repo.NewLimitRepo(pool)
	cacheRepo := repo.NewCacheRepo(pool, cfg.API.CacheTTL.Std())

	// RabbitMQ
	var publisher *mq.Publisher
	var mqConn *mq.Connection
	if cfg.RabbitMQ.Enabled {
		mqConn, err = mq.NewConnection(cfg.RabbitMQ.URL, logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
			mqConn = nil
		} else {
			defer mqConn.Close()
			logger.Info("RabbitMQ connected")

			if err := mq.SetupTopology(ctx, mqConn); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			}
			publisher = mq.NewPublisher(mqConn, logger)
		}
	}

	// Слоты и движок — каждый worker проводит переходы сам, оптимистичная
	// конкурентность в store разрешает гонки между экземплярами.
	slotMgr := slots.NewManager(logger)
	limits, err := limitRepo.List(ctx)
	if err != nil {
		logger.Error("failed to load concurrency limits", "error", err)
		os.Exit(1)
	}
	for _, l := range limits {
		slotMgr.SetLimit(l.Key, l.Slots)
	}

	eng := engine.New(engine.Config{
		Store:  runStore,
		Slots:  slotMgr,
		Cache:  cacheRepo,
		Logger: logger,
	})

	var backend infra.Backend
	switch cfg.Worker.Backend {
	case "webhook":
		backend, err = infra.NewWebhookBackend(infra.WebhookConfig{
			BaseURL:     cfg.Worker.RunnerURL,
			ValidateSSL: true,
			Timeout:     cfg.Worker.ExecTimeout.Std(),
			Logger:      logger,
		})
		if err != nil {
			logger.Error("failed to create webhook backend", "error", err)
			os.Exit(1)
		}
	default:
		pb := infra.NewProcessBackend(logger)
		defer pb.Close()
		backend = pb
	}

	// Создаём worker
	workerCfg := worker.Config{
		Store:          runStore,
		Engine:         eng,
		Conn:           mqConn,
		Backend:        backend,
		PollInterval:   cfg.Worker.PollInterval.Std(),
		BatchSize:      cfg.Worker.BatchSize,
		ExecTimeout:    cfg.Worker.ExecTimeout.Std(),
		DefaultCommand: cfg.Worker.DefaultCommand,
		Logger:         logger,
	}
	if publisher != nil {
		workerCfg.Publisher = publisher
	}
	w := worker.New(workerCfg)

	// Запускаем worker
	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	addr := config.Addr(cfg.Worker.Port)
	go func() {
		logger.Info("listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	// Останавливаем worker с grace period на in-flight выполнение
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	w.Stop(stopCtx)

	logger.Info("maestro-worker stopped")
}
