// Package slots управляет слотами конкурентности по логическим ключам.
//
// Каждый ключ (тег run или имя пула) имеет фиксированное количество
// слотов. Acquire неблокирующий: при исчерпании возвращает false, и
// вызывающая сторона откладывает переход (WAIT) вместо блокировки
// всего pipeline.
//
// Мультиключевой захват атомарный (всё-или-ничего): ключи берутся в
// отсортированном порядке с откатом частичных захватов при первом
// отказе — это исключает дедлоки упорядочивания и частичные удержания.
package slots
