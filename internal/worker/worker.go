package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Maestro/internal/concurrency"
	"github.com/shaiso/Maestro/internal/domain"
	"github.com/shaiso/Maestro/internal/engine"
	"github.com/shaiso/Maestro/internal/infra"
	"github.com/shaiso/Maestro/internal/mq"
	"github.com/shaiso/Maestro/internal/telemetry"
)

// Default configuration values.
const (
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 50
	defaultPrefetch     = 5

	// pollConcurrency — сколько runs из одного poll обрабатываются
	// одновременно.
	pollConcurrency = 8
)

// Store — доступ к runs, нужный worker.
type Store interface {
	GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, *domain.State, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Run, error)
}

// Proposer — вход оркестрационного движка.
type Proposer interface {
	Propose(ctx context.Context, p engine.Proposal) (*engine.Result, error)
}

// EventPublisher публикует события зафиксированных переходов.
// Production-реализация — mq.Publisher.
type EventPublisher interface {
	PublishStateChanged(ctx context.Context, payload mq.StateChangedPayload) error
}

// Worker выполняет runs.
//
// Worker — stateless компонент системы, который:
//   - Получает runs из очереди RabbitMQ (event-driven)
//   - Периодически проверяет due runs в БД (polling fallback)
//   - Проводит run через движок: SCHEDULED → PENDING → RUNNING
//   - Выполняет инфраструктурную submission как Call на dispatcher
//     внутри scope с опциональным дедлайном
//   - Фиксирует терминальный переход по итогу выполнения
//
// Workers масштабируются горизонтально — несколько экземпляров
// могут потреблять из одной очереди.
type Worker struct {
	store   Store
	engine  Proposer
	backend infra.Backend

	dispatcher *concurrency.Dispatcher

	// MQ (опционально; nil — только polling)
	conn      *mq.Connection
	publisher EventPublisher
	consumer  *mq.Consumer
	events    *mq.Consumer

	// Configuration
	pollInterval   time.Duration
	batchSize      int
	execTimeout    time.Duration
	defaultCommand []string

	// Активные scopes по run — для отмены через CANCELLING.
	scopesMu sync.Mutex
	scopes   map[uuid.UUID]*concurrency.Scope

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// Config — конфигурация Worker.
type Config struct {
	Store   Store
	Engine  Proposer
	Backend infra.Backend

	// Dispatcher (опционально; если nil — создаётся свой)
	Dispatcher *concurrency.Dispatcher

	// MQ (опционально)
	Conn      *mq.Connection
	Publisher EventPublisher

	// Polling configuration
	PollInterval time.Duration // интервал polling (default: 10s)
	BatchSize    int           // количество runs за один poll (default: 50)

	// ExecTimeout — дедлайн scope одного выполнения (0 — без дедлайна).
	ExecTimeout time.Duration

	// DefaultCommand — команда, если run не несёт свою в parameters.
	DefaultCommand []string

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dispatcher := cfg.Dispatcher
	if dispatcher == nil {
		dispatcher = concurrency.NewDispatcher(concurrency.DispatcherConfig{
			Name:   "worker",
			Logger: logger,
		})
	}

	return &Worker{
		store:          cfg.Store,
		engine:         cfg.Engine,
		backend:        cfg.Backend,
		dispatcher:     dispatcher,
		conn:           cfg.Conn,
		publisher:      cfg.Publisher,
		pollInterval:   pollInterval,
		batchSize:      batchSize,
		execTimeout:    cfg.ExecTimeout,
		defaultCommand: cfg.DefaultCommand,
		scopes:         make(map[uuid.UUID]*concurrency.Scope),
		logger:         logger,
	}
}

// Start запускает Worker.
//
// Запускает:
//   - Dispatcher (единый контекст выполнения submissions)
//   - Consumer для runs.scheduled и runs.events (если задан MQ)
//   - Polling горутину для fallback
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("starting worker",
		"poll_interval", w.pollInterval,
		"batch_size", w.batchSize,
		"backend", w.backend.Name(),
	)

	// Dispatcher живёт отдельно от loop-контекста: при остановке судьбу
	// in-flight call решает grace period в Shutdown, а не отмена ctx.
	if err := w.dispatcher.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	if w.conn != nil {
		w.consumer = mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueRunsScheduled),
			Handler:  w.handleRunScheduled,
			Prefetch: defaultPrefetch,
			Types:    []mq.MessageType{mq.MessageTypeRunScheduled},
		})
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := w.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("run consumer error", "error", err)
			}
		}()

		w.events = mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueRunEvents),
			Handler:  w.handleStateChanged,
			Prefetch: defaultPrefetch,
			Types:    []mq.MessageType{mq.MessageTypeStateChanged},
		})
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := w.events.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("event consumer error", "error", err)
			}
		}()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.pollLoop(ctx)
	}()

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker: очередь dispatcher отменяется,
// in-flight выполнение получает grace period, его терминальный
// переход фиксируется до возврата из Stop.
func (w *Worker) Stop(ctx context.Context) {
	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	if w.consumer != nil {
		w.consumer.Stop()
	}
	if w.events != nil {
		w.events.Stop()
	}

	w.dispatcher.Shutdown(ctx)
	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// pollLoop — цикл polling для fallback.
func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем runs, созданные пока
	// worker был выключен).
	w.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
			telemetry.DispatcherQueueDepth.
				WithLabelValues(w.dispatcher.Name()).
				Set(float64(w.dispatcher.QueueDepth()))
		}
	}
}

// poll выполняет один цикл polling.
func (w *Worker) poll(ctx context.Context) {
	runs, err := w.store.ListDue(ctx, time.Now(), w.batchSize)
	if err != nil {
		w.logger.Error("failed to list due runs", "error", err)
		return
	}

	if len(runs) == 0 {
		return
	}

	w.logger.Debug("poll found due runs", "count", len(runs))

	// Runs обрабатываются параллельно с ограничением: каждый проходит
	// через движок независимо, конфликты разрешает optimistic commit.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pollConcurrency)
	for i := range runs {
		runID := runs[i].ID
		g.Go(func() error {
			if err := w.ProcessRun(gctx, runID); err != nil && !errors.Is(err, ErrRunNotDue) {
				w.logger.Error("failed to process run from poll",
					"run_id", runID,
					"error", err,
				)
			}
			return nil
		})
	}
	g.Wait()
}

// trackScope запоминает scope активного выполнения.
func (w *Worker) trackScope(runID uuid.UUID, scope *concurrency.Scope) {
	w.scopesMu.Lock()
	defer w.scopesMu.Unlock()
	w.scopes[runID] = scope
}

func (w *Worker) untrackScope(runID uuid.UUID) {
	w.scopesMu.Lock()
	defer w.scopesMu.Unlock()
	delete(w.scopes, runID)
}

// CancelRun отменяет локально выполняющийся run.
// Возвращает false, если run не выполняется на этом worker.
func (w *Worker) CancelRun(runID uuid.UUID) bool {
	w.scopesMu.Lock()
	scope, ok := w.scopes[runID]
	w.scopesMu.Unlock()

	if !ok {
		return false
	}
	scope.Cancel()
	return true
}
