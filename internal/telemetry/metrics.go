package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики оркестрационного пути.
var (
	// TransitionsCommitted — зафиксированные переходы по типу итогового состояния.
	TransitionsCommitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "maestro_transitions_committed_total",
		Help: "State transitions committed, by resulting state type.",
	}, []string{"state"})

	// TransitionsVetoed — переходы, отклонённые правилами.
	TransitionsVetoed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "maestro_transitions_vetoed_total",
		Help: "State transitions vetoed by an orchestration rule.",
	})

	// TransitionsWaited — переходы, отложенные из-за исчерпания слотов.
	TransitionsWaited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "maestro_transitions_waited_total",
		Help: "State transitions deferred with WAIT (slot exhaustion).",
	})

	// TransitionConflicts — проигранные оптимистичные коммиты.
	TransitionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "maestro_transition_conflicts_total",
		Help: "Optimistic state commits lost to a concurrent proposer.",
	})

	// SlotsHeld — занятые слоты конкурентности по ключу.
	SlotsHeld = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "maestro_concurrency_slots_held",
		Help: "Concurrency slots currently held, by limit key.",
	}, []string{"key"})

	// DispatcherQueueDepth — глубина очереди dispatcher'а.
	DispatcherQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "maestro_dispatcher_queue_depth",
		Help: "Calls queued for the dispatcher's execution context.",
	}, []string{"dispatcher"})

	// HTTPRequests — обработанные HTTP запросы по маршруту и статусу.
	// Метка route — шаблон маршрута, не сырой путь (кардинальность).
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "maestro_http_requests_total",
		Help: "HTTP requests handled, by method, route pattern and status.",
	}, []string{"method", "route", "status"})

	// HTTPDuration — длительность обработки HTTP запросов.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "maestro_http_request_duration_seconds",
		Help:    "HTTP request duration, by method and route pattern.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)
