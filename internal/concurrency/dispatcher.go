package concurrency

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Default configuration values.
const (
	defaultQueueSize   = 64
	defaultGracePeriod = 5 * time.Second
)

// dispatcherState — состояние жизненного цикла Dispatcher.
type dispatcherState int32

const (
	dispatcherCreated dispatcherState = iota
	dispatcherRunning
	dispatcherStopped
	dispatcherCrashed
)

// ownerKeyType — ключ маркера контекста-владельца в context.Context.
type ownerKeyType struct{}

var ownerKey ownerKeyType

// Dispatcher — мост из произвольных вызывающих контекстов в один
// выделенный execution-контекст.
//
// Ровно одна фоновая горутина (контекст-владелец) последовательно
// выполняет calls из очереди. Submit из самого контекста-владельца
// выполняет call inline (reentrant fast path, проверка identity по
// маркеру в ctx) — иначе владелец задедлочил бы сам себя.
//
// Авария фоновой горутины (паника операции) разрешает все queued и
// in-flight calls ошибкой ErrDispatcherCrashed, после чего Dispatcher
// отказывает новым submissions.
type Dispatcher struct {
	name   string
	queue  chan *Call
	grace  time.Duration
	logger *slog.Logger

	mu       sync.Mutex
	state    dispatcherState
	current  *Call
	crashErr error

	loopCtx    context.Context
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	stopCh     chan struct{}
}

// DispatcherConfig — конфигурация Dispatcher.
type DispatcherConfig struct {
	// Name — имя для логов и диагностики.
	Name string

	// QueueSize — ёмкость очереди calls (default: 64).
	QueueSize int

	// GracePeriod — сколько ждать in-flight call при Shutdown
	// перед принудительной отменой (default: 5s).
	GracePeriod time.Duration

	// Logger — логгер.
	Logger *slog.Logger
}

// NewDispatcher создаёт новый Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	grace := cfg.GracePeriod
	if grace <= 0 {
		grace = defaultGracePeriod
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	name := cfg.Name
	if name == "" {
		name = "dispatcher"
	}

	return &Dispatcher{
		name:     name,
		queue:    make(chan *Call, queueSize),
		grace:    grace,
		logger:   logger,
		loopDone: make(chan struct{}),
		stopCh:   make(chan struct{}),
	}
}

// Start запускает фоновый execution-контекст.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.state != dispatcherCreated {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher %s already started", d.name)
	}
	d.state = dispatcherRunning

	// Маркер владельца: Submit/Wait сравнивают значение из ctx с self.
	loopCtx := context.WithValue(ctx, ownerKey, d)
	d.loopCtx, d.loopCancel = context.WithCancel(loopCtx)
	d.mu.Unlock()

	registerDispatcher(d)
	go d.loop()

	d.logger.Debug("dispatcher started", "dispatcher", d.name)
	return nil
}

// Submit отправляет операцию на выполнение в контексте-владельце.
//
// Если вызывающий контекст — сам владелец, call выполняется inline
// и Future возвращается уже разрешённым. Иначе call становится в
// очередь. Возвращает ErrScopeCancelled для отменённого scope и
// ErrDispatcherUnavailable после Shutdown или аварии.
func (d *Dispatcher) Submit(ctx context.Context, scope *Scope, op Operation) (*Future, error) {
	d.mu.Lock()
	if d.state != dispatcherRunning {
		d.mu.Unlock()
		return nil, ErrDispatcherUnavailable
	}
	d.mu.Unlock()

	call, err := NewCall(scope, op)
	if err != nil {
		return nil, err
	}
	call.owner = d

	// Reentrant fast path.
	if d.isOwnerContext(ctx) {
		call.Run(ctx)
		return &Future{call: call}, nil
	}

	select {
	case d.queue <- call:
	case <-d.stopCh:
		call.requestCancel()
		return nil, ErrDispatcherUnavailable
	case <-scope.Done():
		return nil, ErrScopeCancelled
	case <-ctx.Done():
		call.requestCancel()
		return nil, ctx.Err()
	}

	// Send мог проскочить одновременно с остановкой; дренаж очереди
	// тогда этот call уже не увидит.
	d.mu.Lock()
	state := d.state
	crashErr := d.crashErr
	d.mu.Unlock()
	switch state {
	case dispatcherStopped:
		call.requestCancel()
		return nil, ErrDispatcherUnavailable
	case dispatcherCrashed:
		call.resolveCrash(crashErr)
		return nil, ErrDispatcherUnavailable
	}

	return &Future{call: call}, nil
}

// isOwnerContext проверяет, является ли ctx контекстом-владельцем.
func (d *Dispatcher) isOwnerContext(ctx context.Context) bool {
	owner, _ := ctx.Value(ownerKey).(*Dispatcher)
	return owner == d
}

// loop — фоновый execution-контекст.
func (d *Dispatcher) loop() {
	defer close(d.loopDone)
	defer func() {
		if r := recover(); r != nil {
			d.crash(fmt.Errorf("%w: %v", ErrDispatcherCrashed, r))
		}
	}()

	for {
		select {
		case <-d.stopCh:
			d.drainCancel()
			return
		case <-d.loopCtx.Done():
			d.drainCancel()
			return
		case call := <-d.queue:
			d.setCurrent(call)
			call.Run(d.loopCtx)
			d.setCurrent(nil)
		}
	}
}

// Shutdown останавливает Dispatcher.
//
// Queued-но-незапущенные calls отменяются. In-flight call получает
// grace period на завершение, затем принудительную отмену контекста.
func (d *Dispatcher) Shutdown(ctx context.Context) {
	d.mu.Lock()
	if d.state != dispatcherRunning {
		d.mu.Unlock()
		return
	}
	d.state = dispatcherStopped
	d.mu.Unlock()

	d.logger.Debug("dispatcher stopping", "dispatcher", d.name, "queued", len(d.queue))
	close(d.stopCh)

	select {
	case <-d.loopDone:
	case <-time.After(d.grace):
		d.logger.Warn("dispatcher grace period expired, forcing cancellation",
			"dispatcher", d.name,
		)
		d.loopCancel()
		<-d.loopDone
	case <-ctx.Done():
		d.loopCancel()
		<-d.loopDone
	}

	d.loopCancel()
	unregisterDispatcher(d)
	d.logger.Debug("dispatcher stopped", "dispatcher", d.name)
}

// drainCancel отменяет все оставшиеся в очереди calls.
func (d *Dispatcher) drainCancel() {
	for {
		select {
		case call := <-d.queue:
			call.requestCancel()
		default:
			return
		}
	}
}

// crash переводит Dispatcher в аварийное состояние: in-flight и queued
// calls разрешаются crash-ошибкой, новые submissions отклоняются.
func (d *Dispatcher) crash(err error) {
	d.mu.Lock()
	d.state = dispatcherCrashed
	d.crashErr = err
	current := d.current
	d.current = nil
	d.mu.Unlock()

	if current != nil {
		current.resolveCrash(err)
	}
	for {
		select {
		case call := <-d.queue:
			call.resolveCrash(err)
		default:
			d.logger.Error("dispatcher context crashed",
				"dispatcher", d.name,
				"error", err,
			)
			return
		}
	}
}

// setCurrent фиксирует выполняемый сейчас call (для диагностики).
func (d *Dispatcher) setCurrent(call *Call) {
	d.mu.Lock()
	d.current = call
	d.mu.Unlock()
}

// Name возвращает имя Dispatcher.
func (d *Dispatcher) Name() string {
	return d.name
}

// QueueDepth возвращает текущую глубину очереди (для метрик).
func (d *Dispatcher) QueueDepth() int {
	return len(d.queue)
}

// Crashed возвращает true после аварии execution-контекста.
func (d *Dispatcher) Crashed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == dispatcherCrashed
}
