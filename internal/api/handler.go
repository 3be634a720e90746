package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shaiso/Maestro/internal/domain"
	"github.com/shaiso/Maestro/internal/engine"
	"github.com/shaiso/Maestro/internal/mq"
	"github.com/shaiso/Maestro/internal/repo"
	"github.com/shaiso/Maestro/internal/slots"
)

// RunStore — доступ к runs, нужный API.
type RunStore interface {
	Create(ctx context.Context, run *domain.Run, initial *domain.State) error
	GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, *domain.State, error)
	UpdateRun(ctx context.Context, run *domain.Run) error
	History(ctx context.Context, runID uuid.UUID) ([]domain.State, error)
	List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error)
}

// FlowStore — доступ к flows.
type FlowStore interface {
	Create(ctx context.Context, flow *domain.Flow) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Flow, error)
	List(ctx context.Context, limit, offset int) ([]domain.Flow, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

// ScheduleStore — доступ к schedules.
type ScheduleStore interface {
	Create(ctx context.Context, schedule *domain.Schedule) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Schedule, error)
	List(ctx context.Context, filter repo.ScheduleFilter) ([]domain.Schedule, error)
	Delete(ctx context.Context, id uuid.UUID) error
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
}

// LimitStore — персистентная конфигурация лимитов.
type LimitStore interface {
	Upsert(ctx context.Context, key string, slots int) error
	List(ctx context.Context) ([]domain.ConcurrencyLimit, error)
	Delete(ctx context.Context, key string) error
}

// Proposer — вход оркестрационного движка.
type Proposer interface {
	Propose(ctx context.Context, p engine.Proposal) (*engine.Result, error)
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	flows     FlowStore
	runs      RunStore
	schedules ScheduleStore
	limits    LimitStore
	engine    Proposer
	slots     *slots.Manager
	publisher *mq.Publisher
	logger    *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Flows     FlowStore
	Runs      RunStore
	Schedules ScheduleStore
	Limits    LimitStore
	Engine    Proposer
	Slots     *slots.Manager
	Publisher *mq.Publisher
	Logger    *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		flows:     cfg.Flows,
		runs:      cfg.Runs,
		schedules: cfg.Schedules,
		limits:    cfg.Limits,
		engine:    cfg.Engine,
		slots:     cfg.Slots,
		publisher: cfg.Publisher,
		logger:    logger,
	}
}
