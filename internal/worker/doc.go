// Package worker реализует исполнителя runs.
//
// Worker получает готовые к запуску runs двумя путями:
//
//   - Event-driven: consumer очереди runs.scheduled (RabbitMQ)
//   - Polling fallback: периодический опрос БД по due runs
//
// Жизненный цикл одного run на worker:
//
//	SCHEDULED → PENDING (claim) → RUNNING → COMPLETED/FAILED/CRASHED/CANCELLED
//
// Все переходы идут через оркестрационный движок — worker никогда не
// пишет состояние напрямую. Conflict при claim означает, что run
// забрал другой worker; это штатная ситуация при горизонтальном
// масштабировании.
//
// Выполнение submission оборачивается в Call на dispatcher внутри
// scope: отмена run'а (CANCELLING) отменяет scope, и выполнение
// завершается состоянием CANCELLED.
package worker
