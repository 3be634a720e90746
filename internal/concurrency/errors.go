package concurrency

import "errors"

// Ошибки пакета concurrency.
var (
	// ErrScopeCancelled — операция прервана отменой scope.
	ErrScopeCancelled = errors.New("scope cancelled")

	// ErrScopeExited — scope уже завершён, регистрация невозможна.
	ErrScopeExited = errors.New("scope exited")

	// ErrWaitTimeout — ожидание превысило таймаут.
	// Сам Call при этом НЕ отменяется и может ещё выполняться.
	ErrWaitTimeout = errors.New("wait timed out")

	// ErrDispatcherUnavailable — фоновый контекст упал или остановлен,
	// новые submissions не принимаются.
	ErrDispatcherUnavailable = errors.New("dispatcher unavailable")

	// ErrDispatcherCrashed — execution-контекст dispatcher'а аварийно
	// завершился; все queued и in-flight calls получают эту ошибку.
	ErrDispatcherCrashed = errors.New("dispatcher context crashed")

	// ErrCallNotPending — Call уже запущен или завершён.
	ErrCallNotPending = errors.New("call is not pending")
)
