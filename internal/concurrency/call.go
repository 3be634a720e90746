package concurrency

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Operation — единица работы, выполняемая Call'ом.
// Отмена кооперативная: операция обязана уважать ctx.
type Operation func(ctx context.Context) (any, error)

// CallState — состояние Call.
type CallState int32

// Состояния Call. Переходы однонаправленные:
// pending → running → {finished | cancelled}, pending → cancelled.
const (
	CallPending CallState = iota
	CallRunning
	CallCancelled
	CallFinished
)

// String возвращает строковое представление состояния.
func (s CallState) String() string {
	switch s {
	case CallPending:
		return "pending"
	case CallRunning:
		return "running"
	case CallCancelled:
		return "cancelled"
	case CallFinished:
		return "finished"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Call — отложенная отменяемая единица работы.
//
// Call регистрируется в Scope при создании и выполняется контекстом-
// владельцем (обычно Dispatcher). Результат — значение или ошибка —
// фиксируется ровно один раз; отмена никогда не перетирает уже
// зафиксированный терминальный результат (первый результат побеждает).
type Call struct {
	// ID — уникальный идентификатор call.
	ID uuid.UUID

	op    Operation
	scope *Scope

	// owner — dispatcher, которому принадлежит call.
	// Nil для calls, выполняемых напрямую.
	owner *Dispatcher

	mu              sync.Mutex
	state           CallState
	value           any
	err             error
	cancelRequested bool
	cancelRun       context.CancelFunc

	// done закрывается при достижении терминального состояния.
	// Все Waiters мультикастом наблюдают один и тот же результат.
	done chan struct{}
}

// NewCall создаёт pending Call, зарегистрированный в scope.
// Возвращает ErrScopeCancelled, если scope уже отменён.
func NewCall(scope *Scope, op Operation) (*Call, error) {
	c := &Call{
		ID:    uuid.New(),
		op:    op,
		scope: scope,
		done:  make(chan struct{}),
	}
	if err := scope.register(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Run выполняет call в вызывающем контексте.
//
// Повторный Run — no-op: переходы однонаправленные, терминальный call
// не возобновляется. Если scope отменяется во время выполнения, операции
// отменяют контекст; кооперативно прервавшаяся операция разрешается
// в cancelled. Паника операции НЕ перехватывается — для Dispatcher это
// авария execution-контекста (см. dispatcher.go).
func (c *Call) Run(ctx context.Context) {
	c.mu.Lock()
	if c.state != CallPending {
		c.mu.Unlock()
		return
	}
	c.state = CallRunning

	opCtx, cancel := context.WithCancel(ctx)
	c.cancelRun = cancel
	if c.cancelRequested {
		cancel()
	}
	c.mu.Unlock()

	defer cancel()
	value, err := c.op(opCtx)
	c.resolve(value, err)
}

// resolve фиксирует терминальный результат. Первый результат побеждает.
func (c *Call) resolve(value any, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == CallCancelled || c.state == CallFinished {
		return
	}

	switch {
	case err != nil && errors.Is(err, context.Canceled):
		// Операция кооперативно прервалась по отмене.
		c.state = CallCancelled
		c.err = ErrScopeCancelled
	case err != nil:
		c.state = CallFinished
		c.err = err
	default:
		c.state = CallFinished
		c.value = value
	}
	close(c.done)
}

// requestCancel запрашивает кооперативную отмену.
//
// Pending call отменяется сразу; running call получает отмену контекста
// и разрешится в cancelled, когда операция её заметит. Терминальный
// call не трогается (первый результат побеждает).
func (c *Call) requestCancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case CallPending:
		c.state = CallCancelled
		c.err = ErrScopeCancelled
		close(c.done)
	case CallRunning:
		c.cancelRequested = true
		if c.cancelRun != nil {
			c.cancelRun()
		}
	}
}

// resolveCrash разрешает незавершённый call ошибкой аварии
// execution-контекста. Терминальный результат не перетирается.
func (c *Call) resolveCrash(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == CallCancelled || c.state == CallFinished {
		return
	}
	c.state = CallFinished
	c.err = err
	close(c.done)
}

// State возвращает текущее состояние call.
func (c *Call) State() CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done возвращает канал, закрываемый при терминальном состоянии.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Result возвращает зафиксированный результат.
// Корректен только после закрытия Done().
func (c *Call) Result() (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.err
}

// Scope возвращает scope, которому принадлежит call.
func (c *Call) Scope() *Scope {
	return c.scope
}
