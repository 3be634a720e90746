package worker

import "errors"

// Ошибки worker.
var (
	// ErrRunNotDue — run не в SCHEDULED или его время ещё не подошло.
	ErrRunNotDue = errors.New("run not due")

	// ErrRunNotFound — run не существует.
	ErrRunNotFound = errors.New("run not found")
)
