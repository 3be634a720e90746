package slots

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
)

func TestManager_AcquireRespectsLimit(t *testing.T) {
	m := NewManager(nil)
	m.SetLimit("db", 2)

	r1, r2, r3 := uuid.New(), uuid.New(), uuid.New()

	if !m.Acquire("db", r1) {
		t.Fatal("first acquire should succeed")
	}
	if !m.Acquire("db", r2) {
		t.Fatal("second acquire should succeed")
	}
	if m.Acquire("db", r3) {
		t.Fatal("third acquire should fail, limit is 2")
	}

	m.Release("db", r1)
	if !m.Acquire("db", r3) {
		t.Fatal("acquire after release should succeed")
	}
}

func TestManager_AcquireIsIdempotentPerHolder(t *testing.T) {
	m := NewManager(nil)
	m.SetLimit("db", 1)

	r1 := uuid.New()
	if !m.Acquire("db", r1) {
		t.Fatal("acquire should succeed")
	}
	if !m.Acquire("db", r1) {
		t.Fatal("re-acquire by the same holder should succeed")
	}
	if m.Held("db") != 1 {
		t.Errorf("held = %d, want 1", m.Held("db"))
	}
}

func TestManager_UnlimitedKeyAlwaysAcquires(t *testing.T) {
	m := NewManager(nil)
	for i := 0; i < 100; i++ {
		if !m.Acquire("no-limit", uuid.New()) {
			t.Fatal("key without a limit should always acquire")
		}
	}
}

func TestManager_SpuriousReleaseSelfHeals(t *testing.T) {
	m := NewManager(nil)
	m.SetLimit("db", 1)

	r1, r2 := uuid.New(), uuid.New()
	if !m.Acquire("db", r1) {
		t.Fatal("acquire should succeed")
	}

	// Release без acquire: логируется, счётчик не задваивается.
	m.Release("db", r2)
	if m.Held("db") != 1 {
		t.Errorf("held = %d, want 1 after spurious release", m.Held("db"))
	}

	m.Release("db", r1)
	if m.Held("db") != 0 {
		t.Errorf("held = %d, want 0", m.Held("db"))
	}
}

func TestManager_AcquireAllIsAllOrNothing(t *testing.T) {
	m := NewManager(nil)
	m.SetLimit("a", 1)
	m.SetLimit("b", 1)
	m.SetLimit("c", 1)

	blocker := uuid.New()
	if !m.Acquire("c", blocker) {
		t.Fatal("setup acquire should succeed")
	}

	// "c" занят — мультиключевой захват должен откатить "a" и "b".
	r := uuid.New()
	ok, failedKey := m.AcquireAll([]string{"b", "c", "a"}, r)
	if ok {
		t.Fatal("AcquireAll should fail while c is held")
	}
	if failedKey != "c" {
		t.Errorf("failed key = %q, want c", failedKey)
	}
	if m.Held("a") != 0 || m.Held("b") != 0 {
		t.Error("partial acquisitions should be rolled back")
	}

	m.Release("c", blocker)
	ok, _ = m.AcquireAll([]string{"b", "c", "a"}, r)
	if !ok {
		t.Fatal("AcquireAll should succeed once c is free")
	}
	if m.Held("a") != 1 || m.Held("b") != 1 || m.Held("c") != 1 {
		t.Error("all keys should be held after successful AcquireAll")
	}
}

func TestManager_AcquireAllDuplicateKeysCountOnce(t *testing.T) {
	var buf bytes.Buffer
	m := NewManager(slog.New(slog.NewTextHandler(&buf, nil)))
	m.SetLimit("db", 2)
	m.SetLimit("gpu", 1)

	blocker := uuid.New()
	if !m.Acquire("gpu", blocker) {
		t.Fatal("setup acquire should succeed")
	}

	// Дубликат "db" занимает один слот; откат после отказа на "gpu"
	// освобождает его тоже один раз, без ложных release.
	r := uuid.New()
	ok, failedKey := m.AcquireAll([]string{"db", "gpu", "db"}, r)
	if ok {
		t.Fatal("AcquireAll should fail while gpu is held")
	}
	if failedKey != "gpu" {
		t.Errorf("failed key = %q, want gpu", failedKey)
	}
	if m.Held("db") != 0 {
		t.Errorf("db held = %d after rollback, want 0", m.Held("db"))
	}
	if strings.Contains(buf.String(), "spurious") {
		t.Errorf("rollback of duplicate keys logged a spurious release:\n%s", buf.String())
	}

	ok, _ = m.AcquireAll([]string{"db", "db"}, r)
	if !ok {
		t.Fatal("AcquireAll with duplicates should succeed")
	}
	if m.Held("db") != 1 {
		t.Errorf("db held = %d, want 1 slot for duplicate key", m.Held("db"))
	}

	m.ReleaseAll([]string{"db", "db"}, r)
	if m.Held("db") != 0 {
		t.Errorf("db held = %d after release, want 0", m.Held("db"))
	}
	if strings.Contains(buf.String(), "spurious") {
		t.Errorf("duplicate release logged a spurious release:\n%s", buf.String())
	}
}

func TestManager_HeldStaysInBoundsUnderConcurrency(t *testing.T) {
	const slotCount = 4
	m := NewManager(nil)
	m.SetLimit("pool", slotCount)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := uuid.New()
			for j := 0; j < 100; j++ {
				if m.Acquire("pool", id) {
					held := m.Held("pool")
					if held < 0 || held > slotCount {
						t.Errorf("held = %d, out of [0, %d]", held, slotCount)
					}
					m.Release("pool", id)
				}
			}
		}()
	}
	wg.Wait()

	if m.Held("pool") != 0 {
		t.Errorf("held = %d, want 0 after all releases", m.Held("pool"))
	}
}
