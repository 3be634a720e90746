package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunKind — вид run.
type RunKind string

const (
	// RunKindFlow — выполнение flow целиком.
	RunKindFlow RunKind = "FLOW"

	// RunKindTask — выполнение отдельной task внутри flow.
	RunKindTask RunKind = "TASK"
)

// Run — один запуск flow или task.
//
// Run создаётся когда:
//   - Пользователь запускает flow через API/CLI (trigger surface)
//   - Scheduler создаёт run по расписанию
//   - Flow запускает task как дочерний run
//
// Статус run — это его текущее State; полная история переходов
// хранится как append-only список состояний.
type Run struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// FlowID — ссылка на flow, который выполняется.
	FlowID uuid.UUID `json:"flow_id"`

	// Kind — flow run или task run.
	Kind RunKind `json:"kind"`

	// ParentID — родительский run (для task runs). Nil у корневых.
	ParentID *uuid.UUID `json:"parent_id,omitempty"`

	// Tags — теги run; по ним считаются лимиты конкурентности.
	Tags []string `json:"tags,omitempty"`

	// Parameters — входные параметры, переданные при запуске.
	Parameters map[string]any `json:"parameters,omitempty"`

	// Attempt — номер текущей попытки (1 при первом запуске).
	Attempt int `json:"attempt"`

	// MaxAttempts — сколько всего попыток разрешено RetryRule.
	MaxAttempts int `json:"max_attempts"`

	// CacheKey — ключ кэширования результата. Пустой — кэш выключен.
	CacheKey string `json:"cache_key,omitempty"`

	// Paused — флаг запроса паузы; PauseRule переводит run в PAUSED.
	Paused bool `json:"paused"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`
}

// HasTag проверяет наличие тега.
func (r *Run) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AttemptsLeft возвращает true, если остались попытки для retry.
func (r *Run) AttemptsLeft() bool {
	return r.Attempt < r.MaxAttempts
}
