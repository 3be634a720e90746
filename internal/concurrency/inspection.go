package concurrency

import (
	"os"
	"runtime"
	"sync"

	"github.com/google/uuid"
)

// Диагностика execution-контекстов.
//
// Снимки read-only и никогда не влияют на планирование или отмену.
// Полные дампы горутин собираются только при MAESTRO_DEBUG=1.

var (
	inspectMu   sync.Mutex
	dispatchers = make(map[*Dispatcher]struct{})

	debugOnce sync.Once
	debugOn   bool
)

// DebugEnabled возвращает true, если включён режим отладки (MAESTRO_DEBUG=1).
func DebugEnabled() bool {
	debugOnce.Do(func() {
		debugOn = os.Getenv("MAESTRO_DEBUG") == "1"
	})
	return debugOn
}

// ContextSnapshot — снимок одного execution-контекста.
type ContextSnapshot struct {
	// Name — имя dispatcher'а.
	Name string `json:"name"`

	// CurrentCallID — выполняемый сейчас call (Nil, если контекст простаивает).
	CurrentCallID uuid.UUID `json:"current_call_id"`

	// QueueDepth — количество calls в очереди.
	QueueDepth int `json:"queue_depth"`

	// Crashed — контекст аварийно завершился.
	Crashed bool `json:"crashed"`

	// Goroutines — полный дамп стеков всех горутин.
	// Заполняется только при DebugEnabled.
	Goroutines string `json:"goroutines,omitempty"`
}

// Snapshot возвращает снимки всех зарегистрированных execution-контекстов.
func Snapshot() []ContextSnapshot {
	inspectMu.Lock()
	registered := make([]*Dispatcher, 0, len(dispatchers))
	for d := range dispatchers {
		registered = append(registered, d)
	}
	inspectMu.Unlock()

	var goroutines string
	if DebugEnabled() {
		goroutines = dumpGoroutines()
	}

	snapshots := make([]ContextSnapshot, 0, len(registered))
	for _, d := range registered {
		d.mu.Lock()
		snap := ContextSnapshot{
			Name:       d.name,
			QueueDepth: len(d.queue),
			Crashed:    d.state == dispatcherCrashed,
			Goroutines: goroutines,
		}
		if d.current != nil {
			snap.CurrentCallID = d.current.ID
		}
		d.mu.Unlock()
		snapshots = append(snapshots, snap)
	}
	return snapshots
}

// dumpGoroutines собирает стеки всех горутин.
func dumpGoroutines() string {
	buf := make([]byte, 1<<16)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			return string(buf[:n])
		}
		buf = make([]byte, len(buf)*2)
	}
}

func registerDispatcher(d *Dispatcher) {
	inspectMu.Lock()
	defer inspectMu.Unlock()
	dispatchers[d] = struct{}{}
}

func unregisterDispatcher(d *Dispatcher) {
	inspectMu.Lock()
	defer inspectMu.Unlock()
	delete(dispatchers, d)
}
