package concurrency

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Scope — вложенная граница отмены и таймаута.
//
// Scopes образуют дерево: отмена родителя распространяется на всех
// потомков и на каждый Call, зарегистрированный в любом из них.
// Отмена перманентна — отменённый scope нельзя "оживить", а регистрация
// в отменённом scope сразу возвращает ErrScopeCancelled (сбежать нельзя).
//
// Использование с таймаутом:
//
//	scope := concurrency.NewScopeWithTimeout(parent, 50*time.Millisecond)
//	scope.Enter()
//	defer scope.Exit()
type Scope struct {
	// ID — уникальный идентификатор scope.
	ID uuid.UUID

	parent  *Scope
	timeout time.Duration

	mu        sync.Mutex
	cancelled bool
	entered   bool
	exited    bool
	children  []*Scope
	calls     []*Call
	timer     *time.Timer
	done      chan struct{}
}

// NewScope создаёт дочерний scope. parent может быть nil (корневой scope).
// Если родитель уже отменён, новый scope рождается отменённым.
func NewScope(parent *Scope) *Scope {
	return NewScopeWithTimeout(parent, 0)
}

// NewScopeWithTimeout создаёт scope с дедлайном.
// Таймер запускается в Enter и гасится в Exit, чтобы не утекал.
func NewScopeWithTimeout(parent *Scope, timeout time.Duration) *Scope {
	s := &Scope{
		ID:      uuid.New(),
		parent:  parent,
		timeout: timeout,
		done:    make(chan struct{}),
	}

	if parent != nil {
		parent.mu.Lock()
		parentCancelled := parent.cancelled
		if !parentCancelled {
			parent.children = append(parent.children, s)
		}
		parent.mu.Unlock()

		// Родитель отменён — потомок не имеет права пережить его.
		if parentCancelled {
			s.Cancel()
		}
	}

	return s
}

// Enter помечает scope активным и запускает таймер дедлайна (если есть).
// Возвращает сам scope для удобной записи s := NewScope(p).Enter().
func (s *Scope) Enter() *Scope {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entered || s.cancelled {
		return s
	}
	s.entered = true

	if s.timeout > 0 {
		s.timer = time.AfterFunc(s.timeout, s.Cancel)
	}
	return s
}

// Exit помечает scope завершённым и гасит таймер дедлайна.
// Сам scope НЕ отменяется: уже запущенные Calls доработают.
func (s *Scope) Exit() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.exited = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Cancel отменяет scope, всех потомков и все зарегистрированные Calls.
// Идемпотентен: повторный вызов ничего не меняет. Никогда не блокируется
// на ожидании завершения Calls — отмена кооперативная.
func (s *Scope) Cancel() {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	children := s.children
	calls := s.calls
	s.children = nil
	s.calls = nil
	close(s.done)
	s.mu.Unlock()

	// Каскад вне мьютекса: потомки и calls берут свои собственные локи.
	for _, child := range children {
		child.Cancel()
	}
	for _, call := range calls {
		call.requestCancel()
	}
}

// Cancelled возвращает true, если scope отменён.
func (s *Scope) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// Done возвращает канал, закрываемый при отмене scope.
func (s *Scope) Done() <-chan struct{} {
	return s.done
}

// register привязывает Call к scope.
// Возвращает ErrScopeCancelled, если scope уже отменён.
func (s *Scope) register(c *Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelled {
		return ErrScopeCancelled
	}
	s.calls = append(s.calls, c)
	return nil
}
