package domain

import (
	"time"

	"github.com/google/uuid"
)

// Flow — определение рабочего процесса.
//
// Flow — это "шаблон" автоматизации. Каждый запуск (Run) выполняет flow
// с конкретными параметрами, провалидированными по ParameterSchema.
type Flow struct {
	// ID — уникальный идентификатор flow.
	ID uuid.UUID `json:"id"`

	// Name — уникальное имя flow (например, "sync-orders", "daily-report").
	Name string `json:"name"`

	// ParameterSchema — JSON Schema входных параметров.
	// Trigger surface валидирует payload по этой схеме (400 при ошибке).
	// Пустая схема — параметры не проверяются.
	ParameterSchema map[string]any `json:"parameter_schema,omitempty"`

	// Tags — теги по умолчанию для создаваемых runs.
	Tags []string `json:"tags,omitempty"`

	// MaxAttempts — лимит попыток по умолчанию для RetryRule.
	MaxAttempts int `json:"max_attempts"`

	// IsActive — флаг активности. Неактивные flows не запускаются по расписанию.
	IsActive bool `json:"is_active"`

	// CreatedAt — время создания flow.
	CreatedAt time.Time `json:"created_at"`
}

// NewRun создаёт run данного flow с параметрами.
func (f *Flow) NewRun(params map[string]any) *Run {
	maxAttempts := f.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Run{
		ID:          uuid.New(),
		FlowID:      f.ID,
		Kind:        RunKindFlow,
		Tags:        append([]string(nil), f.Tags...),
		Parameters:  params,
		Attempt:     1,
		MaxAttempts: maxAttempts,
		CreatedAt:   time.Now(),
	}
}
