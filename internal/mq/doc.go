// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений в очереди
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - run.scheduled      — run готов к выполнению
//   - run.state-changed  — зафиксирован переход состояния
//
// Exchanges:
//   - maestro.runs    — runs для workers
//   - maestro.events  — события переходов
//   - maestro.dlq     — dead letter queue
//
// Политика повторов: ошибка обработчика даёт сообщению один requeue;
// повторная ошибка или ErrDiscard отправляют его в DLQ.
package mq
