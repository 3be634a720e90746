package concurrency

import (
	"context"
	"errors"
	"testing"
	"time"
)

func sleepOp(d time.Duration) Operation {
	return func(ctx context.Context) (any, error) {
		select {
		case <-time.After(d):
			return "done", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func TestScope_CancelIsIdempotent(t *testing.T) {
	scope := NewScope(nil)

	scope.Cancel()
	if !scope.Cancelled() {
		t.Fatal("scope should be cancelled")
	}

	// Повторная отмена наблюдаемо идентична первой.
	scope.Cancel()
	if !scope.Cancelled() {
		t.Fatal("scope should stay cancelled")
	}

	select {
	case <-scope.Done():
	default:
		t.Error("Done channel should be closed")
	}
}

func TestScope_CancelPropagatesToDescendants(t *testing.T) {
	root := NewScope(nil)
	child := NewScope(root)
	grandchild := NewScope(child)

	call, err := NewCall(grandchild, sleepOp(time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	root.Cancel()

	if !child.Cancelled() {
		t.Error("child should be cancelled")
	}
	if !grandchild.Cancelled() {
		t.Error("grandchild should be cancelled")
	}
	if call.State() != CallCancelled {
		t.Errorf("call should be cancelled, got %s", call.State())
	}
}

func TestScope_RegisterAfterCancelFails(t *testing.T) {
	scope := NewScope(nil)
	scope.Cancel()

	_, err := NewCall(scope, sleepOp(time.Second))
	if !errors.Is(err, ErrScopeCancelled) {
		t.Fatalf("expected ErrScopeCancelled, got %v", err)
	}
}

func TestScope_ChildOfCancelledParentIsCancelled(t *testing.T) {
	parent := NewScope(nil)
	parent.Cancel()

	// Потомок, созданный после отмены родителя, не сбегает.
	child := NewScope(parent)
	if !child.Cancelled() {
		t.Fatal("child of cancelled parent should be born cancelled")
	}
}

func TestScope_DeadlineCancelsAtDeadline(t *testing.T) {
	// Scope с дедлайном 50ms вокруг операции на 500ms:
	// ожидание должно вернуть cancelled примерно через 50ms, не 500ms.
	scope := NewScopeWithTimeout(nil, 50*time.Millisecond)
	scope.Enter()
	defer scope.Exit()

	call, err := NewCall(scope, sleepOp(500*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	go call.Run(context.Background())

	start := time.Now()
	_, err = NewWaiter(call).Wait(context.Background())
	elapsed := time.Since(start)

	if !errors.Is(err, ErrScopeCancelled) {
		t.Fatalf("expected ErrScopeCancelled, got %v", err)
	}
	if elapsed > 300*time.Millisecond {
		t.Errorf("wait took %v, deadline should have fired around 50ms", elapsed)
	}
}

func TestScope_ExitStopsDeadlineTimer(t *testing.T) {
	scope := NewScopeWithTimeout(nil, 20*time.Millisecond)
	scope.Enter()
	scope.Exit()

	time.Sleep(60 * time.Millisecond)

	if scope.Cancelled() {
		t.Fatal("exited scope should not be cancelled by its stopped timer")
	}
}

func TestScope_FinishedCallKeepsResultAfterCancel(t *testing.T) {
	scope := NewScope(nil)

	call, err := NewCall(scope, func(ctx context.Context) (any, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	call.Run(context.Background())

	// Отмена не перетирает уже зафиксированный результат.
	scope.Cancel()

	if call.State() != CallFinished {
		t.Fatalf("call should stay finished, got %s", call.State())
	}
	value, err := call.Result()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != 42 {
		t.Errorf("expected 42, got %v", value)
	}
}
