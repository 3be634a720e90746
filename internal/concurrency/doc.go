// Package concurrency предоставляет примитивы для безопасного моста между
// блокирующим кодом вызывающей стороны и выделенным execution-контекстом.
//
// Структура:
//   - call.go       — Call: отложенная отменяемая единица работы
//   - scope.go      — Scope: вложенная граница отмены/таймаута (дерево)
//   - waiter.go     — Waiter/Future: ожидание терминального результата Call
//   - dispatcher.go — Dispatcher: единственный фоновый execution-контекст
//   - inspection.go — диагностические снимки стеков (только для отладки)
//
// Ключевые гарантии:
//   - Переходы Call однонаправленные: pending → running → {finished|cancelled}.
//     Первый терминальный результат побеждает, отмена не перетирает результат.
//   - Отмена Scope перманентна и распространяется на все дочерние scopes
//     и на каждый зарегистрированный Call, включая зарегистрированные после
//     отмены (сбежать нельзя).
//   - Ожидание из контекста-владельца Call выполняет его inline вместо
//     блокировки — один контекст не может задедлочить сам себя.
package concurrency
