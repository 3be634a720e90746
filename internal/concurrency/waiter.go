package concurrency

import (
	"context"
	"time"
)

// Waiter — примитив ожидания терминального результата Call.
//
// Два режима:
//   - Вызывающий контекст отличается от владельца Call: блокируемся до
//     терминального состояния или таймаута. Таймаут возвращает
//     ErrWaitTimeout и НЕ отменяет сам Call.
//   - Вызывающий контекст И ЕСТЬ владелец Call (проверка identity по
//     маркеру в ctx): Call выполняется синхронно inline — единственный
//     контекст, ждущий сам себя, иначе задедлочился бы.
//
// Несколько Waiters на один Call наблюдают один и тот же результат.
type Waiter struct {
	call    *Call
	timeout time.Duration
}

// NewWaiter создаёт Waiter без таймаута.
func NewWaiter(call *Call) *Waiter {
	return &Waiter{call: call}
}

// WithTimeout возвращает Waiter с таймаутом ожидания.
func (w *Waiter) WithTimeout(d time.Duration) *Waiter {
	return &Waiter{call: w.call, timeout: d}
}

// Wait блокируется до терминального состояния call, таймаута или отмены ctx.
func (w *Waiter) Wait(ctx context.Context) (any, error) {
	// Reentrant fast path: мы и есть контекст-владелец.
	if d := w.call.owner; d != nil && d.isOwnerContext(ctx) {
		w.call.Run(ctx)
		return w.call.Result()
	}

	var timeoutCh <-chan time.Time
	if w.timeout > 0 {
		t := time.NewTimer(w.timeout)
		defer t.Stop()
		timeoutCh = t.C
	}

	select {
	case <-w.call.Done():
		return w.call.Result()
	case <-timeoutCh:
		return nil, ErrWaitTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Future — handle результата Call, возвращаемый Dispatcher.Submit.
type Future struct {
	call *Call
}

// Call возвращает underlying Call.
func (f *Future) Call() *Call {
	return f.call
}

// Result ждёт результат без таймаута.
func (f *Future) Result(ctx context.Context) (any, error) {
	return NewWaiter(f.call).Wait(ctx)
}

// ResultTimeout ждёт результат не дольше d.
func (f *Future) ResultTimeout(ctx context.Context, d time.Duration) (any, error) {
	return NewWaiter(f.call).WithTimeout(d).Wait(ctx)
}
