package disc

import (
	"context"
	"os/exec"
)

// Executor abstracts command execution for the classifier and ejector.
type Executor interface {
	Run(ctx context.Context, binary string, args []string) ([]byte, error)
}

// commandExecutor executes commands using os/exec.
type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	return cmd.Output()
}
