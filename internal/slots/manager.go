package slots

import (
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shaiso/Maestro/internal/domain"
)

// Manager — потокобезопасный менеджер слотов конкурентности.
//
// Инварианты:
//   - held(key) никогда не превышает slots(key);
//   - каждый release соответствует более раннему acquire того же run;
//     ложный release логируется и считается уже выполненным (self-heal),
//     счётчик не уходит в минус и не задваивается.
type Manager struct {
	mu     sync.Mutex
	limits map[string]*limit
	logger *slog.Logger
}

type limit struct {
	slots   int
	holders map[uuid.UUID]struct{}
}

// NewManager создаёт Manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		limits: make(map[string]*limit),
		logger: logger,
	}
}

// SetLimit задаёт количество слотов для ключа.
// Ключ без лимита считается неограниченным.
func (m *Manager) SetLimit(key string, slots int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.limits[key]
	if !ok {
		m.limits[key] = &limit{slots: slots, holders: make(map[uuid.UUID]struct{})}
		return
	}
	// Уже занятые слоты сохраняются; новый потолок применяется к acquire.
	l.slots = slots
}

// RemoveLimit снимает лимит: ключ вновь считается неограниченным.
func (m *Manager) RemoveLimit(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.limits, key)
}

// Acquire — неблокирующая попытка занять слот по одному ключу.
// Возвращает false при исчерпании. Повторный acquire тем же run
// по тому же ключу идемпотентен.
func (m *Manager) Acquire(key string, runID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquireLocked(key, runID)
}

// AcquireAll — атомарный захват слотов по всем ключам (всё-или-ничего).
//
// Ключи берутся в отсортированном порядке без дубликатов (повторный
// ключ занимает один слот); при первом отказе все уже взятые
// откатываются. Возвращает false и ключ, на котором не хватило слотов.
func (m *Manager) AcquireAll(keys []string, runID uuid.UUID) (bool, string) {
	if len(keys) == 0 {
		return true, ""
	}

	ordered := dedupSorted(keys)

	m.mu.Lock()
	defer m.mu.Unlock()

	for i, key := range ordered {
		if m.acquireLocked(key, runID) {
			continue
		}
		// Откат частичных захватов.
		for _, taken := range ordered[:i] {
			m.releaseLocked(taken, runID)
		}
		return false, key
	}
	return true, ""
}

// Release возвращает слот по одному ключу.
func (m *Manager) Release(key string, runID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseLocked(key, runID)
}

// ReleaseAll возвращает слоты по всем ключам (дубликаты — один слот).
func (m *Manager) ReleaseAll(keys []string, runID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range dedupSorted(keys) {
		m.releaseLocked(key, runID)
	}
}

// dedupSorted возвращает отсортированную копию keys без дубликатов.
func dedupSorted(keys []string) []string {
	ordered := append([]string(nil), keys...)
	sort.Strings(ordered)
	return slices.Compact(ordered)
}

func (m *Manager) acquireLocked(key string, runID uuid.UUID) bool {
	l, ok := m.limits[key]
	if !ok {
		// Без лимита — без учёта.
		return true
	}
	if _, held := l.holders[runID]; held {
		return true
	}
	if len(l.holders) >= l.slots {
		return false
	}
	l.holders[runID] = struct{}{}
	return true
}

func (m *Manager) releaseLocked(key string, runID uuid.UUID) {
	l, ok := m.limits[key]
	if !ok {
		return
	}
	if _, held := l.holders[runID]; !held {
		// Нарушение инварианта: release без acquire.
		// Громко логируем и считаем уже выполненным — не роняем процесс.
		m.logger.Warn("spurious slot release, treating as already satisfied",
			"key", key,
			"run_id", runID,
		)
		return
	}
	delete(l.holders, runID)
}

// Held возвращает количество занятых слотов по ключу.
func (m *Manager) Held(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.limits[key]
	if !ok {
		return 0
	}
	return len(l.holders)
}

// Limits возвращает снимок всех лимитов (для API и метрик).
func (m *Manager) Limits() []domain.ConcurrencyLimit {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.ConcurrencyLimit, 0, len(m.limits))
	for key, l := range m.limits {
		holders := make([]uuid.UUID, 0, len(l.holders))
		for id := range l.holders {
			holders = append(holders, id)
		}
		out = append(out, domain.ConcurrencyLimit{
			Key:     key,
			Slots:   l.slots,
			Holders: holders,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
