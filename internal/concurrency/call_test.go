package concurrency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCall_RunCapturesValue(t *testing.T) {
	scope := NewScope(nil)
	call, err := NewCall(scope, func(ctx context.Context) (any, error) {
		return "result", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if call.State() != CallPending {
		t.Fatalf("new call should be pending, got %s", call.State())
	}

	call.Run(context.Background())

	if call.State() != CallFinished {
		t.Fatalf("call should be finished, got %s", call.State())
	}
	value, err := call.Result()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "result" {
		t.Errorf("expected result, got %v", value)
	}
}

func TestCall_RunCapturesError(t *testing.T) {
	scope := NewScope(nil)
	opErr := errors.New("boom")
	call, _ := NewCall(scope, func(ctx context.Context) (any, error) {
		return nil, opErr
	})

	call.Run(context.Background())

	if call.State() != CallFinished {
		t.Fatalf("call should be finished, got %s", call.State())
	}
	if _, err := call.Result(); !errors.Is(err, opErr) {
		t.Errorf("expected op error, got %v", err)
	}
}

func TestCall_RunIsOneShot(t *testing.T) {
	scope := NewScope(nil)
	runs := 0
	call, _ := NewCall(scope, func(ctx context.Context) (any, error) {
		runs++
		return runs, nil
	})

	call.Run(context.Background())
	call.Run(context.Background())

	if runs != 1 {
		t.Errorf("call ran %d times, want 1", runs)
	}
}

func TestCall_CancelPendingResolvesImmediately(t *testing.T) {
	scope := NewScope(nil)
	call, _ := NewCall(scope, sleepOp(time.Hour))

	scope.Cancel()

	if call.State() != CallCancelled {
		t.Fatalf("pending call should be cancelled, got %s", call.State())
	}
	if _, err := call.Result(); !errors.Is(err, ErrScopeCancelled) {
		t.Errorf("expected ErrScopeCancelled, got %v", err)
	}

	// Run после отмены — no-op.
	call.Run(context.Background())
	if call.State() != CallCancelled {
		t.Error("cancelled call must not be resumed")
	}
}

func TestCall_CancelMidRunResolvesCancelled(t *testing.T) {
	scope := NewScope(nil)
	started := make(chan struct{})
	call, _ := NewCall(scope, func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	go call.Run(context.Background())
	<-started
	scope.Cancel()

	_, err := NewWaiter(call).Wait(context.Background())
	if !errors.Is(err, ErrScopeCancelled) {
		t.Fatalf("expected ErrScopeCancelled, got %v", err)
	}
	if call.State() != CallCancelled {
		t.Errorf("call should be cancelled, got %s", call.State())
	}
}

func TestCall_MultipleWaitersObserveSameResult(t *testing.T) {
	scope := NewScope(nil)
	call, _ := NewCall(scope, func(ctx context.Context) (any, error) {
		time.Sleep(10 * time.Millisecond)
		return "shared", nil
	})

	const waiters = 5
	results := make([]any, waiters)
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			value, err := NewWaiter(call).Wait(context.Background())
			if err != nil {
				t.Errorf("waiter %d: unexpected error: %v", i, err)
				return
			}
			results[i] = value
		}(i)
	}

	call.Run(context.Background())
	wg.Wait()

	for i, value := range results {
		if value != "shared" {
			t.Errorf("waiter %d observed %v, want shared", i, value)
		}
	}
}

func TestWaiter_TimeoutDoesNotCancelCall(t *testing.T) {
	scope := NewScope(nil)
	call, _ := NewCall(scope, sleepOp(100*time.Millisecond))

	go call.Run(context.Background())

	_, err := NewWaiter(call).WithTimeout(10 * time.Millisecond).Wait(context.Background())
	if !errors.Is(err, ErrWaitTimeout) {
		t.Fatalf("expected ErrWaitTimeout, got %v", err)
	}

	// Call продолжает выполняться и нормально завершается.
	value, err := NewWaiter(call).Wait(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "done" {
		t.Errorf("expected done, got %v", value)
	}
}

func TestWaiter_CancelledScopeReturnsImmediately(t *testing.T) {
	scope := NewScope(nil)
	call, _ := NewCall(scope, sleepOp(time.Hour))
	scope.Cancel()

	start := time.Now()
	_, err := NewWaiter(call).Wait(context.Background())
	if !errors.Is(err, ErrScopeCancelled) {
		t.Fatalf("expected ErrScopeCancelled, got %v", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("wait on a cancelled scope's call should return immediately")
	}
}
