package infra

import "errors"

// Ошибки инфраструктурного слоя.
var (
	// ErrSubmissionNotFound — backend не знает такой submission.
	ErrSubmissionNotFound = errors.New("submission not found")

	// ErrCommandFailed — внешняя команда завершилась с ненулевым кодом.
	ErrCommandFailed = errors.New("command failed")

	// ErrBackendClosed — backend остановлен и не принимает submissions.
	ErrBackendClosed = errors.New("backend closed")
)
