package domain

import (
	"time"

	"github.com/google/uuid"
)

// StateType — тип состояния run.
//
// Жизненный цикл:
//
//	SCHEDULED → PENDING → RUNNING → COMPLETED
//	                              ↘ FAILED → (retry) → SCHEDULED
//	                              ↘ CRASHED
//	          PAUSED ⇄ RUNNING (pause/resume)
//	          CANCELLING → CANCELLED (из любого нетерминального)
type StateType string

const (
	// StateTypeScheduled — run запланирован, ждёт наступления start_time.
	StateTypeScheduled StateType = "SCHEDULED"

	// StateTypePending — run готов к выполнению, ждёт worker.
	StateTypePending StateType = "PENDING"

	// StateTypeRunning — run выполняется.
	StateTypeRunning StateType = "RUNNING"

	// StateTypeCompleted — run успешно завершён.
	StateTypeCompleted StateType = "COMPLETED"

	// StateTypeFailed — run завершился с ошибкой.
	StateTypeFailed StateType = "FAILED"

	// StateTypeCrashed — run упал по вине инфраструктуры (не кода пользователя).
	StateTypeCrashed StateType = "CRASHED"

	// StateTypeCancelled — run отменён.
	StateTypeCancelled StateType = "CANCELLED"

	// StateTypeCancelling — отмена запрошена, инфраструктура ещё сворачивается.
	StateTypeCancelling StateType = "CANCELLING"

	// StateTypePaused — run приостановлен, ждёт внешнего resume.
	StateTypePaused StateType = "PAUSED"

	// StateTypeRetrying — run готовится к повторной попытке.
	StateTypeRetrying StateType = "RETRYING"
)

// IsTerminal возвращает true, если тип финальный (run завершён).
func (t StateType) IsTerminal() bool {
	switch t {
	case StateTypeCompleted, StateTypeFailed, StateTypeCrashed, StateTypeCancelled:
		return true
	default:
		return false
	}
}

// Valid возвращает true для известного типа состояния.
func (t StateType) Valid() bool {
	switch t {
	case StateTypeScheduled, StateTypePending, StateTypeRunning,
		StateTypeCompleted, StateTypeFailed, StateTypeCrashed,
		StateTypeCancelled, StateTypeCancelling, StateTypePaused,
		StateTypeRetrying:
		return true
	default:
		return false
	}
}

// State — типизированный снимок статуса run в определённый момент.
//
// State append-only: история состояний run никогда не переписывается,
// каждый принятый переход добавляет новую запись. Ровно одно состояние
// является текущим (последнее по Timestamp).
type State struct {
	// ID — уникальный идентификатор состояния.
	ID uuid.UUID `json:"id"`

	// RunID — run, которому принадлежит состояние.
	RunID uuid.UUID `json:"run_id"`

	// Type — тип состояния.
	Type StateType `json:"type"`

	// Timestamp — момент фиксации состояния.
	Timestamp time.Time `json:"timestamp"`

	// Message — человекочитаемое пояснение (причина отказа, текст ошибки).
	Message string `json:"message,omitempty"`

	// Data — произвольные данные состояния (ключ кэша, задержка retry).
	Data map[string]any `json:"data,omitempty"`

	// ResultRef — ссылка на результат выполнения (если есть).
	ResultRef string `json:"result_ref,omitempty"`

	// ScheduledFor — для SCHEDULED/RETRYING: не запускать раньше этого времени.
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
}

// NewState создаёт состояние указанного типа с текущим временем.
func NewState(runID uuid.UUID, t StateType, message string) *State {
	return &State{
		ID:        uuid.New(),
		RunID:     runID,
		Type:      t,
		Timestamp: time.Now(),
		Message:   message,
	}
}

// IsTerminal возвращает true, если состояние финальное.
func (s *State) IsTerminal() bool {
	return s.Type.IsTerminal()
}

// WithData возвращает состояние с добавленным ключом данных.
func (s *State) WithData(key string, value any) *State {
	if s.Data == nil {
		s.Data = make(map[string]any)
	}
	s.Data[key] = value
	return s
}
