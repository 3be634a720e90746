// Package rules содержит подключаемые политики переходов состояний.
//
// Каждое правило декларирует пары (from, to), которые оно регулирует,
// и для применимого перехода возвращает одно из решений:
//   - Allow   — переход разрешён без изменений
//   - Rewrite — предложенное состояние переписано (retry, cache hit, pause)
//   - Veto    — переход отклонён, run остаётся в текущем состоянии
//   - Wait    — переход валиден, но не сейчас (нет слота); подсказка retry-after
//
// Правила выполняются engine'ом в фиксированном порядке; неприменимые
// правила — no-op. После Rewrite последующие правила фильтруются уже
// по новой паре (from, to): так cache hit (Running → Completed)
// естественно обходит ConcurrencyLimitRule.
package rules
