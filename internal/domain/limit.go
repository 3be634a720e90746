package domain

import "github.com/google/uuid"

// ConcurrencyLimit — лимит одновременного выполнения по ключу (тег/пул).
//
// Лимит ограничивает количество runs, одновременно держащих слот
// по данному ключу. Holders — идентификаторы runs, занявших слоты.
type ConcurrencyLimit struct {
	// Key — логический ключ лимита (тег run или имя пула).
	Key string `json:"key"`

	// Slots — общее количество слотов.
	Slots int `json:"slots"`

	// Holders — runs, занимающие слоты в данный момент.
	// Инвариант: len(Holders) <= Slots.
	Holders []uuid.UUID `json:"holders,omitempty"`
}

// Held возвращает количество занятых слотов.
func (l *ConcurrencyLimit) Held() int {
	return len(l.Holders)
}

// Available возвращает количество свободных слотов.
func (l *ConcurrencyLimit) Available() int {
	return l.Slots - len(l.Holders)
}
