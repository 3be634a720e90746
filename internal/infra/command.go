package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Command — один шаг shell-провижионирования.
type Command struct {
	// Args — команда и аргументы.
	Args []string

	// SuccessMessage логируется при успехе.
	SuccessMessage string

	// FailureMessage включается в ошибку при неудаче.
	FailureMessage string

	// IgnoreIfExists — ненулевой выход с "already exists" в выводе
	// считается успехом (идемпотентное создание ресурсов).
	IgnoreIfExists bool

	// ReturnJSON — распарсить stdout как JSON.
	ReturnJSON bool
}

// Runner выполняет одну внешнюю команду и возвращает её вывод.
// Отдельный интерфейс, чтобы подменять exec в тестах.
type Runner interface {
	Run(ctx context.Context, args []string) (output []byte, err error)
}

// ExecRunner — Runner поверх os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	return cmd.CombinedOutput()
}

// CommandRunner выполняет последовательности shell-команд провижионирования.
type CommandRunner struct {
	runner Runner
	logger *slog.Logger
}

// NewCommandRunner создаёт CommandRunner. runner == nil — os/exec.
func NewCommandRunner(runner Runner, logger *slog.Logger) *CommandRunner {
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandRunner{runner: runner, logger: logger}
}

// RunCommand выполняет одну команду провижионирования.
// При ReturnJSON возвращает распарсенный stdout, иначе nil.
func (c *CommandRunner) RunCommand(ctx context.Context, cmd Command) (any, error) {
	if len(cmd.Args) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrCommandFailed)
	}

	output, err := c.runner.Run(ctx, cmd.Args)
	if err != nil {
		if cmd.IgnoreIfExists && strings.Contains(string(output), "already exists") {
			c.logger.Debug("resource already exists, ignoring", "command", cmd.Args[0])
			return nil, nil
		}

		failure := cmd.FailureMessage
		if failure == "" {
			failure = "command execution failed"
		}
		return nil, fmt.Errorf("%w: %s: %s (%s)",
			ErrCommandFailed, failure, err, strings.TrimSpace(string(output)))
	}

	if cmd.SuccessMessage != "" {
		c.logger.Info(cmd.SuccessMessage, "command", cmd.Args[0])
	}

	if cmd.ReturnJSON {
		var parsed any
		if err := json.Unmarshal(output, &parsed); err != nil {
			return nil, fmt.Errorf("parse command output: %w", err)
		}
		return parsed, nil
	}
	return nil, nil
}

// RunAll выполняет команды последовательно, останавливаясь на первой ошибке.
func (c *CommandRunner) RunAll(ctx context.Context, cmds []Command) error {
	for _, cmd := range cmds {
		if _, err := c.RunCommand(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}
