package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Maestro/internal/concurrency"
	"github.com/shaiso/Maestro/internal/domain"
	"github.com/shaiso/Maestro/internal/engine"
	"github.com/shaiso/Maestro/internal/infra"
	"github.com/shaiso/Maestro/internal/mq"
)

// handleRunScheduled обрабатывает сообщение run.scheduled из очереди.
func (w *Worker) handleRunScheduled(ctx context.Context, msg *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.RunScheduledPayload](&msg.Message)
	if err != nil {
		// Некорректный payload — повтор не поможет, в DLQ.
		return fmt.Errorf("%w: run.scheduled payload: %v", mq.ErrDiscard, err)
	}

	if err := w.ProcessRun(ctx, payload.RunID); err != nil {
		if errors.Is(err, ErrRunNotDue) || errors.Is(err, ErrRunNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// handleStateChanged обрабатывает событие перехода состояния.
// Worker реагирует только на CANCELLING: если run выполняется
// локально, отменяется его scope.
func (w *Worker) handleStateChanged(ctx context.Context, msg *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.StateChangedPayload](&msg.Message)
	if err != nil {
		return fmt.Errorf("%w: state-changed payload: %v", mq.ErrDiscard, err)
	}

	if payload.To != domain.StateTypeCancelling {
		return nil
	}

	if w.CancelRun(payload.RunID) {
		w.logger.Info("cancelled local execution", "run_id", payload.RunID)
	}
	return nil
}

// ProcessRun проводит один run через полный цикл выполнения:
// claim (PENDING) → RUNNING → выполнение → терминальное состояние.
//
// Безопасен при нескольких конкурирующих workers: claim идёт через
// движок, проигравший получает Conflict и молча выходит.
func (w *Worker) ProcessRun(ctx context.Context, runID uuid.UUID) error {
	run, current, err := w.store.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, engine.ErrRunNotFound) {
			return ErrRunNotFound
		}
		return fmt.Errorf("get run: %w", err)
	}

	if current.Type != domain.StateTypeScheduled {
		return ErrRunNotDue
	}
	if current.ScheduledFor != nil && current.ScheduledFor.After(time.Now()) {
		return ErrRunNotDue
	}

	logger := w.logger.With("run_id", run.ID, "attempt", run.Attempt)

	// Claim: SCHEDULED → PENDING. Проигрыш гонки — не ошибка.
	claim, err := w.engine.Propose(ctx, engine.Proposal{
		RunID: run.ID,
		State: domain.NewState(run.ID, domain.StateTypePending, "claimed by worker"),
	})
	if err != nil {
		if errors.Is(err, engine.ErrConflict) || errors.Is(err, engine.ErrAlreadyTerminal) {
			logger.Debug("run claimed elsewhere", "error", err)
			return nil
		}
		var veto *engine.VetoError
		if errors.As(err, &veto) {
			logger.Info("claim vetoed", "rule", veto.Rule, "reason", veto.Reason)
			return nil
		}
		return fmt.Errorf("claim run: %w", err)
	}
	if claim.Status != engine.StatusCommitted || claim.State.Type != domain.StateTypePending {
		// Правила переписали claim (например, в PAUSED) — выполнять нечего.
		w.publishStateChanged(ctx, run.ID, current.Type, claim.State)
		return nil
	}
	w.publishStateChanged(ctx, run.ID, current.Type, claim.State)

	// PENDING → RUNNING: здесь срабатывают concurrency, caching и pause.
	result, err := w.engine.Propose(ctx, engine.Proposal{
		RunID: run.ID,
		State: domain.NewState(run.ID, domain.StateTypeRunning, "started by worker"),
	})
	if err != nil {
		var veto *engine.VetoError
		if errors.As(err, &veto) {
			logger.Info("start vetoed", "rule", veto.Rule, "reason", veto.Reason)
			return nil
		}
		return fmt.Errorf("start run: %w", err)
	}

	switch result.Status {
	case engine.StatusWait:
		// Нет слота: возвращаем run в SCHEDULED с отложенным временем,
		// polling подхватит его после RetryAfter.
		return w.reschedule(ctx, run, result.RetryAfter, result.RuleName)

	case engine.StatusCommitted:
		if result.State.Type != domain.StateTypeRunning {
			// Cache hit (COMPLETED) или pause (PAUSED) — выполнение не нужно.
			logger.Info("run short-circuited", "state", result.State.Type)
			w.publishStateChanged(ctx, run.ID, domain.StateTypePending, result.State)
			return nil
		}
		w.publishStateChanged(ctx, run.ID, domain.StateTypePending, result.State)
		return w.execute(ctx, run)

	default:
		return nil
	}
}

// reschedule возвращает run в SCHEDULED с отложенным временем запуска.
func (w *Worker) reschedule(ctx context.Context, run *domain.Run, after time.Duration, rule string) error {
	if after <= 0 {
		after = w.pollInterval
	}
	at := time.Now().Add(after)

	state := domain.NewState(run.ID, domain.StateTypeScheduled,
		fmt.Sprintf("delayed by %s", rule))
	state.ScheduledFor = &at

	res, err := w.engine.Propose(ctx, engine.Proposal{RunID: run.ID, State: state})
	if err != nil {
		return fmt.Errorf("reschedule run: %w", err)
	}

	w.logger.Info("run delayed",
		"run_id", run.ID,
		"rule", rule,
		"retry_after", after,
	)
	w.publishStateChanged(ctx, run.ID, domain.StateTypePending, res.State)
	return nil
}

// execute выполняет submission run'а через dispatcher и фиксирует
// терминальный переход по итогу.
func (w *Worker) execute(ctx context.Context, run *domain.Run) error {
	var scope *concurrency.Scope
	if w.execTimeout > 0 {
		scope = concurrency.NewScopeWithTimeout(nil, w.execTimeout)
	} else {
		scope = concurrency.NewScope(nil)
	}
	scope.Enter()
	defer scope.Exit()

	w.trackScope(run.ID, scope)
	defer w.untrackScope(run.ID)

	sub := infra.Submission{
		RunID:    run.ID,
		FlowName: run.FlowID.String(),
		Command:  w.commandFor(run),
		Env:      envFor(run),
	}

	// Остановка worker'а отменяет loop-контекст, но in-flight submission
	// доживает grace period dispatcher'а. Ожидание результата и фиксация
	// терминального перехода идут на контексте, который остановка не
	// отменяет — иначе run навсегда застрял бы в RUNNING.
	waitCtx := context.WithoutCancel(ctx)

	future, err := w.dispatcher.Submit(waitCtx, scope, func(opCtx context.Context) (any, error) {
		return w.backend.Submit(opCtx, sub)
	})
	if err != nil {
		return w.finish(waitCtx, run, w.outcomeState(run, nil, err))
	}

	value, err := future.Result(waitCtx)
	return w.finish(waitCtx, run, w.outcomeState(run, value, err))
}

// outcomeState отображает итог выполнения на терминальное состояние.
//
//   - успех → COMPLETED (ResultRef из идентификатора backend'а)
//   - отмена scope → CANCELLED
//   - авария или остановка dispatcher'а → CRASHED
//   - прочие ошибки → FAILED (RetryRule может переписать в SCHEDULED)
func (w *Worker) outcomeState(run *domain.Run, value any, err error) *domain.State {
	switch {
	case err == nil:
		state := domain.NewState(run.ID, domain.StateTypeCompleted, "execution finished")
		if res, ok := value.(*infra.SubmissionResult); ok && res != nil {
			state.ResultRef = res.Identifier
		}
		return state

	case errors.Is(err, concurrency.ErrScopeCancelled):
		return domain.NewState(run.ID, domain.StateTypeCancelled, "execution cancelled")

	case errors.Is(err, concurrency.ErrDispatcherCrashed),
		errors.Is(err, concurrency.ErrDispatcherUnavailable):
		return domain.NewState(run.ID, domain.StateTypeCrashed, err.Error())

	default:
		return domain.NewState(run.ID, domain.StateTypeFailed, err.Error())
	}
}

// finish фиксирует терминальный переход через движок.
func (w *Worker) finish(ctx context.Context, run *domain.Run, state *domain.State) error {
	// Пока шло выполнение, run мог перейти в CANCELLING — событие
	// должно нести фактическое предыдущее состояние.
	prior := domain.StateTypeRunning
	if _, current, err := w.store.GetRun(ctx, run.ID); err == nil {
		prior = current.Type
	}

	res, err := w.engine.Propose(ctx, engine.Proposal{RunID: run.ID, State: state})
	if err != nil {
		if errors.Is(err, engine.ErrConflict) || errors.Is(err, engine.ErrAlreadyTerminal) {
			// Состояние изменили извне (например, отмена через API),
			// пока шло выполнение. Не наша фиксация.
			w.logger.Warn("run state moved during execution",
				"run_id", run.ID,
				"proposed", state.Type,
				"error", err,
			)
			return nil
		}
		return fmt.Errorf("finish run: %w", err)
	}

	w.logger.Info("run finished",
		"run_id", run.ID,
		"state", res.State.Type,
		"attempt", run.Attempt,
	)
	w.publishStateChanged(ctx, run.ID, prior, res.State)
	return nil
}

// publishStateChanged публикует событие перехода (если MQ настроен).
// Ошибка публикации не фатальна: переход уже в БД, polling его увидит.
func (w *Worker) publishStateChanged(ctx context.Context, runID uuid.UUID, from domain.StateType, state *domain.State) {
	if w.publisher == nil || state == nil {
		return
	}

	err := w.publisher.PublishStateChanged(ctx, mq.StateChangedPayload{
		RunID:     runID,
		From:      from,
		To:        state.Type,
		StateID:   state.ID,
		Message:   state.Message,
		Timestamp: state.Timestamp,
	})
	if err != nil {
		w.logger.Warn("failed to publish state change",
			"run_id", runID,
			"state", state.Type,
			"error", err,
		)
	}
}

// commandFor достаёт команду выполнения из параметров run'а.
func (w *Worker) commandFor(run *domain.Run) []string {
	raw, ok := run.Parameters["command"]
	if !ok {
		return w.defaultCommand
	}

	items, ok := raw.([]any)
	if !ok {
		return w.defaultCommand
	}

	cmd := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return w.defaultCommand
		}
		cmd = append(cmd, s)
	}
	if len(cmd) == 0 {
		return w.defaultCommand
	}
	return cmd
}

// envFor достаёт переменные окружения из параметров run'а.
func envFor(run *domain.Run) map[string]string {
	raw, ok := run.Parameters["env"]
	if !ok {
		return nil
	}

	items, ok := raw.(map[string]any)
	if !ok {
		return nil
	}

	env := make(map[string]string, len(items))
	for k, v := range items {
		if s, ok := v.(string); ok {
			env[k] = s
		}
	}
	return env
}
