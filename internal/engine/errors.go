package engine

import (
	"errors"
	"fmt"
)

// Ошибки engine.
var (
	// ErrRunNotFound — run не найден в store.
	ErrRunNotFound = errors.New("run not found")

	// ErrConflict — оптимистичный коммит проиграл гонку: текущее
	// состояние изменилось после загрузки. Безопасно повторить после
	// reload.
	ErrConflict = errors.New("state conflict, reload and retry")

	// ErrAlreadyTerminal — переход предложен для завершённого run.
	ErrAlreadyTerminal = errors.New("run is already in a terminal state")

	// ErrRuleVeto — именованное правило отклонило переход.
	ErrRuleVeto = errors.New("transition vetoed by rule")

	// ErrInvalidState — предложен неизвестный тип состояния.
	ErrInvalidState = errors.New("invalid state type")
)

// VetoError — отказ конкретного правила с причиной.
type VetoError struct {
	Rule   string
	Reason string
}

// Error возвращает текст ошибки.
func (e *VetoError) Error() string {
	return fmt.Sprintf("rule %q vetoed transition: %s", e.Rule, e.Reason)
}

// Unwrap позволяет errors.Is(err, ErrRuleVeto).
func (e *VetoError) Unwrap() error {
	return ErrRuleVeto
}
