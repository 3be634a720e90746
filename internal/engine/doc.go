// Package engine реализует run-state orchestration engine.
//
// Engine принимает предложения переходов состояний от многих
// конкурентных proposers (workers, clients, HTTP-слой) и для каждого:
//
//  1. Берёт per-run lease (единственный сквозной лок оркестрационного пути)
//  2. Загружает run и текущее состояние из store
//  3. Прогоняет pipeline правил в фиксированном порядке
//  4. Коммитит итоговое состояние (исходное, переписанное) или отказывает
//
// Lease удерживается от загрузки до коммита, поэтому конкурентные
// proposers никогда не действуют по устаревшему текущему состоянию.
// Store авторитетен и обновляется оптимистично: append проверяет
// ожидаемый id текущего состояния и возвращает Conflict при проигрыше
// гонки — после reload предложение всегда безопасно повторить.
//
// Паника внутри правила перехватывается per-rule, логируется и
// трактуется как veto: сломанное правило не может испортить состояние.
package engine
