package rules

import (
	"context"

	"github.com/shaiso/Maestro/internal/domain"
)

// PauseRule перехватывает переход в Running для run с поднятым флагом
// паузы и переписывает его в Paused.
//
// Run остаётся в Paused до внешнего resume-сигнала: resume снимает флаг
// и предлагает Paused → Running через обычный pipeline.
type PauseRule struct{}

// Name возвращает имя правила.
func (r *PauseRule) Name() string { return "pause" }

// AppliesTo — любой переход в Running.
func (r *PauseRule) AppliesTo() []Transition {
	return []Transition{{From: AnyState, To: domain.StateTypeRunning}}
}

// Apply переписывает переход в Paused при поднятом флаге.
func (r *PauseRule) Apply(ctx context.Context, oc *Context) Decision {
	if !oc.Run.Paused {
		return Allow()
	}

	// Resume (Paused → Running) предлагается уже со снятым флагом;
	// сюда попадают только runs, для которых пауза ещё запрошена.
	paused := domain.NewState(oc.Run.ID, domain.StateTypePaused, "run paused, awaiting resume")
	return Rewrite(r.Name(), paused)
}
