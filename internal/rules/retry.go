package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/shaiso/Maestro/internal/domain"
)

// Default retry backoff values.
const (
	defaultRetryBaseDelay = 5 * time.Second
	defaultRetryMaxDelay  = 10 * time.Minute
)

// RetryRule переписывает Running → Failed в Scheduled, пока у run
// остаются попытки.
//
// Новая попытка получает инкрементированный attempt и экспоненциальный
// backoff: delay = base * 2^(attempt-1), с потолком max.
type RetryRule struct {
	// BaseDelay — задержка первой повторной попытки (default: 5s).
	BaseDelay time.Duration

	// MaxDelay — потолок backoff (default: 10m).
	MaxDelay time.Duration
}

// Name возвращает имя правила.
func (r *RetryRule) Name() string { return "retry" }

// AppliesTo — только Running → Failed.
func (r *RetryRule) AppliesTo() []Transition {
	return []Transition{{From: domain.StateTypeRunning, To: domain.StateTypeFailed}}
}

// Apply переписывает отказ в новую запланированную попытку.
func (r *RetryRule) Apply(ctx context.Context, oc *Context) Decision {
	if !oc.Run.AttemptsLeft() {
		return Allow()
	}

	base := r.BaseDelay
	if base <= 0 {
		base = defaultRetryBaseDelay
	}
	maxDelay := r.MaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultRetryMaxDelay
	}

	delay := base << (oc.Run.Attempt - 1)
	if delay <= 0 || delay > maxDelay {
		delay = maxDelay
	}

	oc.Run.Attempt++
	oc.RunModified = true

	scheduledFor := time.Now().Add(delay)
	retry := domain.NewState(oc.Run.ID, domain.StateTypeScheduled,
		fmt.Sprintf("retrying after failure: %s (attempt %d of %d)",
			oc.Proposed.Message, oc.Run.Attempt, oc.Run.MaxAttempts),
	)
	retry.ScheduledFor = &scheduledFor
	retry.WithData("retry_delay", delay.String())
	retry.WithData("attempt", oc.Run.Attempt)

	return Rewrite(r.Name(), retry)
}
