package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Maestro/internal/domain"
	"github.com/shaiso/Maestro/internal/rules"
	"github.com/shaiso/Maestro/internal/slots"
	"github.com/shaiso/Maestro/internal/telemetry"
)

// Store — авторитетное хранилище run-state.
//
// Реализации: repo.RunStore (Postgres) в production, memStore в тестах.
type Store interface {
	// GetRun возвращает run и его текущее состояние.
	// ErrRunNotFound, если run не существует.
	GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, *domain.State, error)

	// AppendState добавляет состояние в историю run.
	// expectedCurrentID — id состояния, которое proposer считает текущим;
	// при несовпадении store возвращает ErrConflict (оптимистичная
	// конкурентность, повторная валидация непосредственно перед коммитом).
	AppendState(ctx context.Context, runID, expectedCurrentID uuid.UUID, state *domain.State) error

	// UpdateRun сохраняет изменённые правилами поля run (attempt, paused).
	UpdateRun(ctx context.Context, run *domain.Run) error
}

// Proposal — предложение перехода состояния.
type Proposal struct {
	// RunID — run, для которого предложен переход.
	RunID uuid.UUID

	// State — предложенное состояние.
	State *domain.State

	// Force — административный override: пропускает guard
	// AlreadyTerminal. Обычные proposers его не используют.
	Force bool
}

// Status — итог обработки предложения.
type Status string

const (
	// StatusCommitted — состояние (исходное или переписанное) зафиксировано.
	StatusCommitted Status = "COMMITTED"

	// StatusWait — переход валиден, но отложен (нет слота).
	// Не ошибка: повторить через RetryAfter.
	StatusWait Status = "WAIT"

	// StatusRejected — переход отклонён правилом.
	StatusRejected Status = "REJECTED"
)

// Result — результат обработки предложения.
type Result struct {
	// Status — итог.
	Status Status

	// State — зафиксированное состояние (для COMMITTED).
	State *domain.State

	// RetryAfter — подсказка повтора (для WAIT).
	RetryAfter time.Duration

	// RuleName — правило, принявшее решение (для WAIT/REJECTED).
	RuleName string

	// Reason — причина отказа (для REJECTED).
	Reason string
}

// Engine — run-state orchestration engine.
type Engine struct {
	store  Store
	rules  []rules.Rule
	slots  *slots.Manager
	cache  rules.ResultCache
	leases *leaseTable
	logger *slog.Logger
}

// Config — конфигурация Engine.
type Config struct {
	// Store — авторитетное хранилище run-state.
	Store Store

	// Rules — pipeline правил в порядке выполнения.
	// Nil — DefaultPipeline.
	Rules []rules.Rule

	// Slots — менеджер слотов конкурентности.
	Slots *slots.Manager

	// Cache — кэш результатов для CachingRule и пост-коммитной записи.
	Cache rules.ResultCache

	// Logger — логгер.
	Logger *slog.Logger
}

// DefaultPipeline возвращает стандартный порядок правил.
//
// Порядок существенный: pause перехватывает запуск раньше всего;
// caching идёт до concurrency, чтобы cache hit не трогал слоты.
func DefaultPipeline(slotMgr *slots.Manager, cache rules.ResultCache, logger *slog.Logger) []rules.Rule {
	return []rules.Rule{
		&rules.PauseRule{},
		&rules.CachingRule{Cache: cache, Logger: logger},
		&rules.ConcurrencyLimitRule{Slots: slotMgr},
		&rules.RetryRule{},
	}
}

// New создаёт Engine. Реестр правил внедряется явно — никакого
// глобального lookup.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ruleSet := cfg.Rules
	if ruleSet == nil {
		ruleSet = DefaultPipeline(cfg.Slots, cfg.Cache, logger)
	}

	return &Engine{
		store:  cfg.Store,
		rules:  ruleSet,
		slots:  cfg.Slots,
		cache:  cfg.Cache,
		leases: newLeaseTable(),
		logger: logger,
	}
}

// Propose обрабатывает предложение перехода.
//
// Вся обработка — загрузка, pipeline, коммит — идёт под per-run lease.
// Возвращаемые ошибки: ErrRunNotFound, ErrAlreadyTerminal, ErrConflict,
// *VetoError (errors.Is ErrRuleVeto), ErrInvalidState.
func (e *Engine) Propose(ctx context.Context, p Proposal) (*Result, error) {
	if p.State == nil || !p.State.Type.Valid() {
		return nil, ErrInvalidState
	}

	release, err := e.leases.acquire(ctx, p.RunID)
	if err != nil {
		return nil, fmt.Errorf("acquire run lease: %w", err)
	}
	defer release()

	run, current, err := e.store.GetRun(ctx, p.RunID)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", p.RunID, err)
	}

	if current.IsTerminal() && !p.Force {
		return nil, fmt.Errorf("%w: run %s is %s", ErrAlreadyTerminal, run.ID, current.Type)
	}

	oc := rules.NewContext(run, current, p.State)
	result, err := e.evaluate(ctx, oc)
	if err != nil || result.Status != StatusCommitted {
		e.rollbackSlots(oc)
		return result, err
	}

	if err := e.commit(ctx, oc); err != nil {
		e.rollbackSlots(oc)
		return nil, err
	}

	result.State = oc.Committed
	return result, nil
}

// evaluate прогоняет pipeline правил над контекстом.
func (e *Engine) evaluate(ctx context.Context, oc *rules.Context) (*Result, error) {
	for _, rule := range e.rules {
		// Применимость фильтруется по актуальной паре (from, to):
		// после rewrite последующие правила видят уже новую пару.
		if !rules.Applicable(rule, oc.Current.Type, oc.Proposed.Type) {
			continue
		}

		decision := e.applyRule(ctx, rule, oc)
		switch decision.Outcome {
		case rules.OutcomeAllow:

		case rules.OutcomeRewrite:
			e.logger.Debug("rule rewrote proposed state",
				"rule", rule.Name(),
				"run_id", oc.Run.ID,
				"from", oc.Proposed.Type,
				"to", decision.Rewritten.Type,
			)
			oc.Proposed = decision.Rewritten

		case rules.OutcomeWait:
			telemetry.TransitionsWaited.Inc()
			return &Result{
				Status:     StatusWait,
				RetryAfter: decision.RetryAfter,
				RuleName:   decision.RuleName,
			}, nil

		case rules.OutcomeVeto:
			telemetry.TransitionsVetoed.Inc()
			return &Result{
					Status:   StatusRejected,
					RuleName: decision.RuleName,
					Reason:   decision.Reason,
				}, &VetoError{
					Rule:   decision.RuleName,
					Reason: decision.Reason,
				}
		}
	}

	return &Result{Status: StatusCommitted}, nil
}

// applyRule выполняет правило с перехватом паники.
// Сломанное правило не должно портить состояние run — паника
// трактуется как veto.
func (e *Engine) applyRule(ctx context.Context, rule rules.Rule, oc *rules.Context) (d rules.Decision) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("rule panicked, treating as veto",
				"rule", rule.Name(),
				"run_id", oc.Run.ID,
				"panic", r,
			)
			d = rules.Veto(rule.Name(), fmt.Sprintf("rule panicked: %v", r))
		}
	}()
	return rule.Apply(ctx, oc)
}

// commit фиксирует итоговое состояние в store.
func (e *Engine) commit(ctx context.Context, oc *rules.Context) error {
	state := oc.Proposed

	// История строго монотонна по времени коммита.
	state.Timestamp = time.Now()
	if !state.Timestamp.After(oc.Current.Timestamp) {
		state.Timestamp = oc.Current.Timestamp.Add(time.Microsecond)
	}

	if err := e.store.AppendState(ctx, oc.Run.ID, oc.Current.ID, state); err != nil {
		if errors.Is(err, ErrConflict) {
			telemetry.TransitionConflicts.Inc()
		}
		return fmt.Errorf("append state: %w", err)
	}

	if oc.RunModified {
		if err := e.store.UpdateRun(ctx, oc.Run); err != nil {
			// Состояние уже зафиксировано; потеря attempt-инкремента
			// хуже, чем шум в логе, но история важнее отката.
			e.logger.Error("failed to persist run changes after commit",
				"run_id", oc.Run.ID,
				"error", err,
			)
		}
	}

	oc.Committed = state
	telemetry.TransitionsCommitted.WithLabelValues(string(state.Type)).Inc()

	e.releaseOnLeavingRunning(oc)
	e.storeCacheResult(ctx, oc)

	e.logger.Info("state transition committed",
		"run_id", oc.Run.ID,
		"from", oc.Current.Type,
		"to", state.Type,
	)
	return nil
}

// releaseOnLeavingRunning возвращает слоты, когда run покидает Running.
func (e *Engine) releaseOnLeavingRunning(oc *rules.Context) {
	if e.slots == nil || len(oc.Run.Tags) == 0 {
		return
	}
	if oc.Current.Type == domain.StateTypeRunning && oc.Committed.Type != domain.StateTypeRunning {
		e.slots.ReleaseAll(oc.Run.Tags, oc.Run.ID)
	}
}

// rollbackSlots откатывает слоты, занятые pipeline'ом, если переход
// в Running в итоге не зафиксирован.
func (e *Engine) rollbackSlots(oc *rules.Context) {
	if e.slots == nil {
		return
	}
	acquired, _ := oc.Data["slots_acquired"].(bool)
	if acquired {
		e.slots.ReleaseAll(oc.Run.Tags, oc.Run.ID)
	}
}

// storeCacheResult сохраняет результат Completed-run в кэш.
func (e *Engine) storeCacheResult(ctx context.Context, oc *rules.Context) {
	if e.cache == nil || oc.Run.CacheKey == "" {
		return
	}
	if oc.Committed.Type != domain.StateTypeCompleted {
		return
	}
	if hit, _ := oc.Data["cache_hit"].(bool); hit {
		// Результат и так из кэша.
		return
	}
	if err := e.cache.Store(ctx, oc.Run.CacheKey, oc.Committed); err != nil {
		e.logger.Warn("failed to store cached result",
			"cache_key", oc.Run.CacheKey,
			"run_id", oc.Run.ID,
			"error", err,
		)
	}
}
