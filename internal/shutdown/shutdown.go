// Package shutdown invokes the host's emergency power-off path.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

const defaultTimeout = 10 * time.Second

// ExecAction runs the configured host shutdown command. The command's exit
// status is logged but otherwise not consulted; once it has been issued the
// host is expected to go down.
type ExecAction struct {
	command []string
	timeout time.Duration
	logger  *slog.Logger
}

// NewExecAction builds an ExecAction for the given command and arguments,
// e.g. ["/sbin/shutdown", "now"].
func NewExecAction(command []string, logger *slog.Logger) *ExecAction {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ExecAction{
		command: append([]string(nil), command...),
		timeout: defaultTimeout,
		logger:  logger,
	}
}

// Trigger executes the shutdown command.
func (a *ExecAction) Trigger(ctx context.Context) error {
	if len(a.command) == 0 {
		return errors.New("no shutdown command configured")
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	a.logger.Warn("invoking host shutdown", "command", strings.Join(a.command, " "))

	cmd := exec.CommandContext(ctx, a.command[0], a.command[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("run shutdown command: %w", err)
	}
	if len(out) > 0 {
		a.logger.Debug("shutdown command output", "output", strings.TrimSpace(string(out)))
	}
	return nil
}

// LogAction records that a shutdown would have happened without powering the
// host off. Wired in debug mode.
type LogAction struct {
	logger *slog.Logger
}

// NewLogAction builds a LogAction.
func NewLogAction(logger *slog.Logger) *LogAction {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &LogAction{logger: logger}
}

// Trigger logs the suppressed shutdown and returns nil.
func (a *LogAction) Trigger(_ context.Context) error {
	a.logger.Warn("debug mode: host shutdown suppressed")
	return nil
}
