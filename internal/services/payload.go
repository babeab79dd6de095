package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/fractalworks/jobsentry/internal/config"
	"github.com/fractalworks/jobsentry/pkg/logger"
)

// Payload is the external job being scheduled. Implementations must
// honor ctx cancellation; the executor enforces the deadline and treats
// ctx expiry as TIMEOUT rather than FAILURE.
type Payload interface {
	Run(ctx context.Context, params map[string]string) error
}

// CommandPayload shells out to the configured signal-generation script,
// passing params through the environment (JOB_PARAM_SYMBOL etc).
type CommandPayload struct {
	command string
	args    []string
}

func NewCommandPayload(cfg *config.JobConfig) *CommandPayload {
	return &CommandPayload{command: cfg.Command, args: cfg.Args}
}

func (p *CommandPayload) Run(ctx context.Context, params map[string]string) error {
	cmd := exec.CommandContext(ctx, p.command, p.args...)
	cmd.Env = os.Environ()
	for k, v := range params {
		cmd.Env = append(cmd.Env, fmt.Sprintf("JOB_PARAM_%s=%s", k, v))
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		// Deadline expiry surfaces as the context error so the executor
		// can tell a hung payload apart from a failed one.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		snippet := string(out)
		if len(snippet) > 500 {
			snippet = snippet[:500]
		}
		logger.Warn().Str("command", p.command).Str("output", snippet).Msg("payload failed")
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("payload exited with code %d", exitErr.ExitCode())
		}
		return fmt.Errorf("payload: %w", err)
	}
	return nil
}
