package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// leaseTable — per-run взаимное исключение.
//
// Lease сериализует обработку предложений по одному run id: в каждый
// момент не более одного OrchestrationContext коммитит для данного run.
// Записи создаются по требованию и удаляются, когда никто не ждёт.
type leaseTable struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*leaseEntry
}

type leaseEntry struct {
	// ch ёмкостью 1: отправка — захват, приём — освобождение.
	// Канал вместо мьютекса, чтобы ожидание уважало ctx.
	ch   chan struct{}
	refs int
}

func newLeaseTable() *leaseTable {
	return &leaseTable{entries: make(map[uuid.UUID]*leaseEntry)}
}

// acquire берёт lease для run id; блокируется, пока lease занят
// другим proposer'ом. Возвращает функцию освобождения.
func (t *leaseTable) acquire(ctx context.Context, runID uuid.UUID) (func(), error) {
	t.mu.Lock()
	entry, ok := t.entries[runID]
	if !ok {
		entry = &leaseEntry{ch: make(chan struct{}, 1)}
		t.entries[runID] = entry
	}
	entry.refs++
	t.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		t.unref(runID, entry)
		return nil, ctx.Err()
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			<-entry.ch
			t.unref(runID, entry)
		})
	}
	return release, nil
}

func (t *leaseTable) unref(runID uuid.UUID, entry *leaseEntry) {
	t.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(t.entries, runID)
	}
	t.mu.Unlock()
}
