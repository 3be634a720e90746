package rules

import (
	"context"
	"time"

	"github.com/shaiso/Maestro/internal/domain"
	"github.com/shaiso/Maestro/internal/slots"
)

// defaultSlotRetryAfter — подсказка retry-after при исчерпании слотов.
const defaultSlotRetryAfter = 30 * time.Second

// ConcurrencyLimitRule требует слот конкурентности по каждому тегу run
// для перехода в Running.
//
// Захват неблокирующий и атомарный по всем тегам (всё-или-ничего):
// при исчерпании любого из ключей переход откладывается (Wait),
// pipeline не блокируется.
type ConcurrencyLimitRule struct {
	// Slots — менеджер слотов.
	Slots *slots.Manager

	// RetryAfter — подсказка повторной попытки (default: 30s).
	RetryAfter time.Duration
}

// Name возвращает имя правила.
func (r *ConcurrencyLimitRule) Name() string { return "concurrency-limit" }

// AppliesTo — любой переход в Running.
func (r *ConcurrencyLimitRule) AppliesTo() []Transition {
	return []Transition{{From: AnyState, To: domain.StateTypeRunning}}
}

// Apply пытается занять слоты по всем тегам run.
func (r *ConcurrencyLimitRule) Apply(ctx context.Context, oc *Context) Decision {
	if len(oc.Run.Tags) == 0 {
		return Allow()
	}

	ok, failedKey := r.Slots.AcquireAll(oc.Run.Tags, oc.Run.ID)
	if ok {
		oc.Data["slots_acquired"] = true
		return Allow()
	}

	retryAfter := r.RetryAfter
	if retryAfter <= 0 {
		retryAfter = defaultSlotRetryAfter
	}
	oc.Data["slot_exhausted_key"] = failedKey
	return Wait(r.Name(), retryAfter)
}
