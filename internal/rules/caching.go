package rules

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shaiso/Maestro/internal/domain"
)

// ResultCache — хранилище закэшированных результатов по ключу.
//
// Реализуется репозиторием (Postgres) в production и in-memory фейком
// в тестах.
type ResultCache interface {
	// Lookup возвращает закэшированное Completed-состояние по ключу.
	Lookup(ctx context.Context, key string) (*domain.State, bool, error)

	// Store сохраняет Completed-состояние под ключом.
	Store(ctx context.Context, key string, state *domain.State) error
}

// CachingRule замыкает Pending → Running сразу в Completed при
// попадании в кэш по cache key.
//
// Выполнение полностью пропускается, как и ConcurrencyLimitRule:
// после переписывания в Completed переход (Pending → Completed) больше
// не попадает под декларацию (* → Running), так что слоты для cache hit
// вообще не учитываются. Это зафиксированный контракт.
type CachingRule struct {
	// Cache — хранилище результатов.
	Cache ResultCache

	// Logger — логгер для ошибок lookup (не фатальны, кэш обходится).
	Logger *slog.Logger
}

// Name возвращает имя правила.
func (r *CachingRule) Name() string { return "caching" }

// AppliesTo — только Pending → Running.
func (r *CachingRule) AppliesTo() []Transition {
	return []Transition{{From: domain.StateTypePending, To: domain.StateTypeRunning}}
}

// Apply ищет результат в кэше и при попадании переписывает переход.
func (r *CachingRule) Apply(ctx context.Context, oc *Context) Decision {
	if oc.Run.CacheKey == "" || r.Cache == nil {
		return Allow()
	}

	cached, hit, err := r.Cache.Lookup(ctx, oc.Run.CacheKey)
	if err != nil {
		// Кэш недоступен — выполняем как обычно.
		if r.Logger != nil {
			r.Logger.Warn("cache lookup failed, proceeding without cache",
				"cache_key", oc.Run.CacheKey,
				"run_id", oc.Run.ID,
				"error", err,
			)
		}
		return Allow()
	}
	if !hit {
		return Allow()
	}

	completed := domain.NewState(oc.Run.ID, domain.StateTypeCompleted,
		fmt.Sprintf("cached result for key %q", oc.Run.CacheKey),
	)
	completed.ResultRef = cached.ResultRef
	completed.WithData("cache_hit", true)
	completed.WithData("cache_key", oc.Run.CacheKey)

	oc.Data["cache_hit"] = true
	return Rewrite(r.Name(), completed)
}
