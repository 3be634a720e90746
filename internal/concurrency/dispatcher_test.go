package concurrency

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	d := NewDispatcher(DispatcherConfig{
		Name:        "test",
		GracePeriod: 200 * time.Millisecond,
	})
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start dispatcher: %v", err)
	}
	return d
}

func TestDispatcher_SubmitAndWait(t *testing.T) {
	d := newTestDispatcher(t)
	defer d.Shutdown(context.Background())

	scope := NewScope(nil)
	future, err := d.Submit(context.Background(), scope, func(ctx context.Context) (any, error) {
		return "hello", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	value, err := future.Result(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "hello" {
		t.Errorf("expected hello, got %v", value)
	}
}

func TestDispatcher_SubmitToCancelledScopeFails(t *testing.T) {
	d := newTestDispatcher(t)
	defer d.Shutdown(context.Background())

	scope := NewScope(nil)
	scope.Cancel()

	_, err := d.Submit(context.Background(), scope, sleepOp(time.Second))
	if !errors.Is(err, ErrScopeCancelled) {
		t.Fatalf("expected ErrScopeCancelled, got %v", err)
	}
}

func TestDispatcher_InlineFastPathNeverDeadlocks(t *testing.T) {
	// Операция, выполняемая контекстом-владельцем, сабмитит новый call
	// и сразу его ждёт. Без inline fast path это дедлок одной горутины.
	d := newTestDispatcher(t)
	defer d.Shutdown(context.Background())

	scope := NewScope(nil)
	outer, err := d.Submit(context.Background(), scope, func(ctx context.Context) (any, error) {
		inner, err := d.Submit(ctx, scope, func(ctx context.Context) (any, error) {
			return "inner", nil
		})
		if err != nil {
			return nil, err
		}
		return inner.Result(ctx)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	value, err := outer.ResultTimeout(context.Background(), 2*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "inner" {
		t.Errorf("expected inner, got %v", value)
	}
}

func TestDispatcher_ShutdownCancelsQueued(t *testing.T) {
	d := newTestDispatcher(t)
	scope := NewScope(nil)

	// Первый call занимает контекст-владелец, остальные копятся в очереди.
	blocker := make(chan struct{})
	first, err := d.Submit(context.Background(), scope, func(ctx context.Context) (any, error) {
		select {
		case <-blocker:
			return "ok", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var queued []*Future
	for i := 0; i < 3; i++ {
		f, err := d.Submit(context.Background(), scope, sleepOp(time.Hour))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		queued = append(queued, f)
	}

	close(blocker)
	d.Shutdown(context.Background())

	if value, err := first.Result(context.Background()); err != nil || value != "ok" {
		t.Errorf("in-flight call should finish within grace period, got %v / %v", value, err)
	}
	for i, f := range queued {
		if _, err := f.Result(context.Background()); !errors.Is(err, ErrScopeCancelled) {
			t.Errorf("queued call %d should be cancelled, got %v", i, err)
		}
	}

	if _, err := d.Submit(context.Background(), scope, sleepOp(time.Second)); !errors.Is(err, ErrDispatcherUnavailable) {
		t.Errorf("stopped dispatcher should refuse submissions, got %v", err)
	}
}

func TestDispatcher_ShutdownForcesCancelAfterGrace(t *testing.T) {
	d := newTestDispatcher(t)
	scope := NewScope(nil)

	future, err := d.Submit(context.Background(), scope, sleepOp(time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	start := time.Now()
	d.Shutdown(context.Background())
	elapsed := time.Since(start)

	if _, err := future.Result(context.Background()); !errors.Is(err, ErrScopeCancelled) {
		t.Errorf("in-flight call should be force-cancelled, got %v", err)
	}
	if elapsed > 2*time.Second {
		t.Errorf("shutdown took %v, grace period is 200ms", elapsed)
	}
}

func TestDispatcher_CrashResolvesEverything(t *testing.T) {
	d := newTestDispatcher(t)
	scope := NewScope(nil)

	// Паника операции — авария execution-контекста.
	crashing, err := d.Submit(context.Background(), scope, func(ctx context.Context) (any, error) {
		panic("op exploded")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := crashing.ResultTimeout(context.Background(), 2*time.Second); !errors.Is(err, ErrDispatcherCrashed) {
		t.Fatalf("crashing call should resolve with crash error, got %v", err)
	}
	if !d.Crashed() {
		t.Error("dispatcher should report crashed")
	}

	if _, err := d.Submit(context.Background(), scope, sleepOp(time.Second)); !errors.Is(err, ErrDispatcherUnavailable) {
		t.Errorf("crashed dispatcher should refuse submissions, got %v", err)
	}
}

func TestSnapshot_ReportsRegisteredContexts(t *testing.T) {
	d := newTestDispatcher(t)
	defer d.Shutdown(context.Background())

	found := false
	for _, snap := range Snapshot() {
		if snap.Name == "test" {
			found = true
		}
	}
	if !found {
		t.Error("snapshot should include the running dispatcher")
	}
}
