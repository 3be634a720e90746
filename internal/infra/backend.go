package infra

import (
	"context"

	"github.com/google/uuid"
)

// Submission — запрос на запуск инфраструктуры для run.
type Submission struct {
	// RunID — run, для которого поднимается инфраструктура.
	RunID uuid.UUID

	// FlowName — имя flow (для именования процесса/контейнера).
	FlowName string

	// Command — команда запуска.
	Command []string

	// Env — дополнительные переменные окружения.
	Env map[string]string
}

// SubmissionResult — результат принятой submission.
type SubmissionResult struct {
	// Identifier — идентификатор поднятой инфраструктуры
	// (pid, container id и т.п.), используется для Cancel.
	Identifier string
}

// Backend — интерфейс инфраструктурного провижионера.
//
// Worker не знает, где именно выполняется run: локальный процесс,
// контейнер или внешний сервис. Submit поднимает инфраструктуру и
// блокируется до её завершения; Cancel прерывает по идентификатору.
type Backend interface {
	// Submit запускает инфраструктуру и ждёт завершения.
	// Ошибка выполнения самой работы — через error.
	Submit(ctx context.Context, sub Submission) (*SubmissionResult, error)

	// Cancel прерывает ранее поднятую инфраструктуру.
	Cancel(ctx context.Context, identifier string) error

	// Name возвращает имя backend для логов.
	Name() string
}
