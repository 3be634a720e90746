package infra

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
)

// ProcessBackend — Backend, выполняющий runs как локальные процессы.
//
// Submit блокируется до завершения процесса; Cancel убивает процесс
// по его pid. Используется воркером по умолчанию в локальной установке.
type ProcessBackend struct {
	logger *slog.Logger

	mu      sync.Mutex
	running map[string]*exec.Cmd
	closed  bool
}

// NewProcessBackend создаёт ProcessBackend.
func NewProcessBackend(logger *slog.Logger) *ProcessBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessBackend{
		logger:  logger,
		running: make(map[string]*exec.Cmd),
	}
}

// Name возвращает имя backend.
func (b *ProcessBackend) Name() string { return "process" }

// Submit запускает процесс и ждёт его завершения.
func (b *ProcessBackend) Submit(ctx context.Context, sub Submission) (*SubmissionResult, error) {
	if len(sub.Command) == 0 {
		return nil, fmt.Errorf("%w: empty command for run %s", ErrCommandFailed, sub.RunID)
	}

	cmd := exec.CommandContext(ctx, sub.Command[0], sub.Command[1:]...)
	cmd.Env = os.Environ()
	for k, v := range sub.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBackendClosed
	}
	if err := cmd.Start(); err != nil {
		b.mu.Unlock()
		return nil, fmt.Errorf("start process: %w", err)
	}
	identifier := strconv.Itoa(cmd.Process.Pid)
	b.running[identifier] = cmd
	b.mu.Unlock()

	b.logger.Info("process started",
		"run_id", sub.RunID,
		"flow", sub.FlowName,
		"pid", identifier,
	)

	err := cmd.Wait()

	b.mu.Lock()
	delete(b.running, identifier)
	b.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("%w: run %s: %s", ErrCommandFailed, sub.RunID, err)
	}
	return &SubmissionResult{Identifier: identifier}, nil
}

// Cancel убивает процесс по идентификатору.
func (b *ProcessBackend) Cancel(ctx context.Context, identifier string) error {
	b.mu.Lock()
	cmd, ok := b.running[identifier]
	b.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSubmissionNotFound, identifier)
	}
	if err := cmd.Process.Kill(); err != nil {
		return fmt.Errorf("kill process %s: %w", identifier, err)
	}
	b.logger.Info("process cancelled", "pid", identifier)
	return nil
}

// Close останавливает приём submissions и убивает активные процессы.
func (b *ProcessBackend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for id, cmd := range b.running {
		if err := cmd.Process.Kill(); err != nil {
			b.logger.Warn("failed to kill process on close", "pid", id, "error", err)
		}
	}
}
