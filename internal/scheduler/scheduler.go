package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Maestro/internal/domain"
	"github.com/shaiso/Maestro/internal/engine"
	"github.com/shaiso/Maestro/internal/mq"
	"github.com/shaiso/Maestro/internal/repo"
)

// ScheduleStore — доступ к schedules.
type ScheduleStore interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Schedule, error)
	Update(ctx context.Context, schedule *domain.Schedule) error
}

// FlowStore — доступ к flows.
type FlowStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Flow, error)
}

// RunStore — создание runs.
type RunStore interface {
	Create(ctx context.Context, run *domain.Run, initial *domain.State) error
}

// Proposer — вход оркестрационного движка.
type Proposer interface {
	Propose(ctx context.Context, p engine.Proposal) (*engine.Result, error)
}

// Scheduler — планировщик, обрабатывающий due schedules.
type Scheduler struct {
	schedules ScheduleStore
	flows     FlowStore
	runs      RunStore
	engine    Proposer
	publisher *mq.Publisher
	logger    *slog.Logger
	batchSize int
}

// Config — конфигурация Scheduler.
type Config struct {
	Schedules ScheduleStore
	Flows     FlowStore
	Runs      RunStore
	Engine    Proposer
	Publisher *mq.Publisher
	Logger    *slog.Logger
	BatchSize int // количество schedules за один тик (default: 100)
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		schedules: cfg.Schedules,
		flows:     cfg.Flows,
		runs:      cfg.Runs,
		engine:    cfg.Engine,
		publisher: cfg.Publisher,
		logger:    logger,
		batchSize: batchSize,
	}
}

// Run запускает цикл планировщика с указанным интервалом тиков.
// Блокируется до отмены контекста.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "tick_interval", interval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.Error("scheduler tick failed", "error", err)
			}
		}
	}
}

// Tick выполняет один тик планировщика.
//
// 1. Находит due schedules (enabled=true, next_due_at <= now)
// 2. Для каждого schedule создаёт run и проводит его в SCHEDULED
// 3. Обновляет next_due_at
// 4. Публикует run.scheduled в RabbitMQ
//
// Ошибки одного schedule не блокируют обработку остальных.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := time.Now()

	schedules, err := s.schedules.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return fmt.Errorf("list due schedules: %w", err)
	}

	if len(schedules) == 0 {
		return nil
	}

	s.logger.Debug("found due schedules", "count", len(schedules))

	var processed, created int
	for i := range schedules {
		sched := &schedules[i]

		runCreated, err := s.processSchedule(ctx, sched, now)
		if err != nil {
			s.logger.Error("failed to process schedule",
				"schedule_id", sched.ID,
				"schedule_name", sched.Name,
				"error", err,
			)
			// Продолжаем обработку остальных
			continue
		}

		processed++
		if runCreated {
			created++
		}
	}

	s.logger.Info("scheduler tick completed",
		"due", len(schedules),
		"processed", processed,
		"runs_created", created,
	)

	return nil
}

// processSchedule обрабатывает один schedule.
// Возвращает true, если run был создан.
func (s *Scheduler) processSchedule(ctx context.Context, sched *domain.Schedule, now time.Time) (bool, error) {
	flow, err := s.flows.GetByID(ctx, sched.FlowID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.logger.Warn("flow not found for schedule, skipping",
				"schedule_id", sched.ID,
				"flow_id", sched.FlowID,
			)
			return false, nil
		}
		return false, fmt.Errorf("get flow: %w", err)
	}

	var runID uuid.UUID
	var runCreated bool

	if flow.IsActive {
		run := flow.NewRun(sched.Parameters)

		initial := domain.NewState(run.ID, domain.StateTypePending,
			fmt.Sprintf("run created by schedule %q", sched.Name))
		if err := s.runs.Create(ctx, run, initial); err != nil {
			return false, fmt.Errorf("create run: %w", err)
		}

		// Проводим run в SCHEDULED через движок — как и любой другой
		// переход состояния.
		result, err := s.engine.Propose(ctx, engine.Proposal{
			RunID: run.ID,
			State: domain.NewState(run.ID, domain.StateTypeScheduled, "scheduled by scheduler"),
		})
		if err != nil {
			return false, fmt.Errorf("schedule run: %w", err)
		}

		s.logger.Info("created run from schedule",
			"run_id", run.ID,
			"schedule_id", sched.ID,
			"schedule_name", sched.Name,
			"flow_id", sched.FlowID,
			"state", result.State.Type,
		)

		runID = run.ID
		runCreated = true
	} else {
		s.logger.Debug("flow inactive, skipping run creation",
			"schedule_id", sched.ID,
			"flow_id", sched.FlowID,
		)
	}

	nextDue, err := CalculateNextDue(sched, now)
	if err != nil {
		s.logger.Error("failed to calculate next due, leaving schedule as is",
			"schedule_id", sched.ID,
			"error", err,
		)
		// Schedule некорректный — лучше не трогать next_due_at
		return runCreated, nil
	}

	if runCreated {
		sched.RecordRun(runID, nextDue)
	} else {
		sched.NextDueAt = &nextDue
		sched.UpdatedAt = time.Now()
	}
	if err := s.schedules.Update(ctx, sched); err != nil {
		return runCreated, fmt.Errorf("update schedule: %w", err)
	}

	if s.publisher != nil && runCreated {
		if err := s.publisher.PublishRunScheduled(ctx, runID); err != nil {
			// Не фатальная ошибка — run уже в БД, worker
			// подхватит его через polling
			s.logger.Warn("failed to publish run.scheduled",
				"run_id", runID,
				"error", err,
			)
		}
	}

	return runCreated, nil
}
